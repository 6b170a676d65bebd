package cursor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cursor activity. A nil *Metrics records nothing.
type Metrics struct {
	// FetchSteps counts access-method steps by outcome.
	FetchSteps *prometheus.CounterVec
	// Suspends counts steps and mutation stages stopped by a lock.
	Suspends prometheus.Counter
	// PostFilterRejects counts rows dropped because they failed the
	// untruncated form of a constraint.
	PostFilterRejects prometheus.Counter
	// Estimates counts calls into the estimator.
	Estimates prometheus.Counter
	// ReverseAdoptions counts estimates adopted with a reversed order.
	ReverseAdoptions *prometheus.CounterVec
	// Mutations counts finished update and delete calls by result.
	Mutations *prometheus.CounterVec
}

// NewMetrics registers the cursor metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cranecursor_fetch_steps_total",
				Help: "Total number of access-method steps by outcome",
			},
			[]string{"outcome"},
		),
		Suspends: f.NewCounter(prometheus.CounterOpts{
			Name: "cranecursor_suspends_total",
			Help: "Total number of operations suspended on a lock",
		}),
		PostFilterRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "cranecursor_postfilter_rejects_total",
			Help: "Total number of fetched rows rejected by post-filtering",
		}),
		Estimates: f.NewCounter(prometheus.CounterOpts{
			Name: "cranecursor_estimates_total",
			Help: "Total number of cost estimates requested",
		}),
		ReverseAdoptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cranecursor_reverse_adoptions_total",
				Help: "Total number of estimates adopted with a reversed order",
			},
			[]string{"mode"},
		),
		Mutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cranecursor_mutations_total",
				Help: "Total number of finished mutations by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

func (m *Metrics) step(outcome string) {
	if m != nil {
		m.FetchSteps.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) suspend() {
	if m != nil {
		m.Suspends.Inc()
	}
}

func (m *Metrics) reject() {
	if m != nil {
		m.PostFilterRejects.Inc()
	}
}

func (m *Metrics) estimate() {
	if m != nil {
		m.Estimates.Inc()
	}
}

func (m *Metrics) reverse(mode ReverseMode) {
	if m != nil {
		m.ReverseAdoptions.WithLabelValues(mode.String()).Inc()
	}
}

func (m *Metrics) mutation(kind string, res MutationResult) {
	if m != nil {
		m.Mutations.WithLabelValues(kind, res.String()).Inc()
	}
}
