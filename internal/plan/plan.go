package plan

import (
	"context"

	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/types"
)

// RowsKind qualifies an estimated row count.
type RowsKind uint8

const (
	RowsUnknown RowsKind = iota
	RowsApprox
	RowsExact
)

func (k RowsKind) String() string {
	switch k {
	case RowsApprox:
		return "approximate"
	case RowsExact:
		return "exact"
	}
	return "unknown"
}

// Hint pins the access path. A nil Key with FullScan walks the clustering
// key, or the tuple references when there is none.
type Hint struct {
	FullScan bool
	Key      *metadata.Key
	Reverse  bool
}

// Request is everything an estimator may consult.
type Request struct {
	Relation     *metadata.Relation
	Constraints  *query.List
	OrderBy      *query.OrderBy
	Projection   []int
	Hint         Hint
	OptimizeRows int64
}

// Estimate is the predicted cost of walking one candidate key.
type Estimate struct {
	// Key is nil for a walk in tuple reference order.
	Key      *metadata.Key
	Rows     int64
	RowsKind RowsKind
	// C0 is the fixed start-up delay and C1 the delay for the whole result,
	// both in microseconds.
	C0, C1     float64
	Solved     int
	Unique     bool
	NullsFirst bool
	Reverse    bool
	// ShapeGen is the constraint shape the estimate was computed for.
	ShapeGen uint64

	stats *metadata.StatInfo
}

// Distinct estimates how many distinct combinations of cols the result
// holds.
func (e *Estimate) Distinct(cols []int) int64 {
	if e.Rows <= 0 {
		return 0
	}
	if e.stats == nil {
		return e.Rows
	}
	n := int64(1)
	for _, c := range cols {
		if c == query.RefColumn {
			return e.Rows
		}
		n *= e.stats.DistinctValues(c)
		if n >= e.Rows {
			return e.Rows
		}
	}
	return n
}

// Plan is the physical walk derived from an estimate. It references the
// constraint objects it was built from, so literal changes are seen without
// a rebuild; Refresh re-derives Consistent after such a change.
type Plan struct {
	Estimate *Estimate
	Key      *metadata.Key
	// Eq holds one equality per leading key part.
	Eq []*query.Constraint
	// Filters are all constraints the access method evaluates itself.
	Filters []*query.Constraint
	Vector  *query.Vector
	// Consistent is false when no row can qualify.
	Consistent bool
	// ObjectGen is the constraint object generation the plan was built for.
	ObjectGen uint64

	all *query.List
}

// EqValues returns the current equality prefix.
func (p *Plan) EqValues() []types.Value {
	vals := make([]types.Value, len(p.Eq))
	for i, c := range p.Eq {
		if c.Op == query.OpIsNull {
			vals[i] = types.Null()
		} else {
			vals[i] = c.Value
		}
	}
	return vals
}

// MarkInconsistent records that no row can qualify.
func (p *Plan) MarkInconsistent() {
	p.Consistent = false
}

// Refresh recomputes Consistent from the current constraint values.
func (p *Plan) Refresh() {
	p.Consistent = consistent(p.all)
}

// Estimator predicts the cost of a request.
type Estimator interface {
	Estimate(ctx context.Context, req *Request) (*Estimate, error)
}

// Builder turns an estimate into a plan over the given constraints.
type Builder interface {
	Build(est *Estimate, cons *query.List) (*Plan, error)
}

// consistent reports whether the constraints on each column can hold at
// the same time. It only looks at bound, untruncated values.
func consistent(cons *query.List) bool {
	if cons == nil {
		return true
	}
	type colState struct {
		eq            *types.Value
		lo, hi        *types.Value
		loIncl, hiInc bool
		null, notNull bool
	}
	cols := make(map[int]*colState)
	for _, c := range cons.Items() {
		if c.AlwaysFalse {
			return false
		}
		st := cols[c.Column]
		if st == nil {
			st = &colState{}
			cols[c.Column] = st
		}
		switch c.OrigOp {
		case query.OpIsNull:
			st.null = true
			continue
		case query.OpIsNotNull:
			st.notNull = true
			continue
		case query.OpNotEqual, query.OpLike:
			st.notNull = true
			continue
		}
		st.notNull = true
		v := c.OrigValue
		if v.IsUnknown() {
			continue
		}
		if v.IsNull() {
			return false
		}
		switch c.OrigOp {
		case query.OpEqual:
			if st.eq != nil && types.Compare(*st.eq, v) != 0 {
				return false
			}
			st.eq = &v
		case query.OpGreater, query.OpGreaterEqual:
			incl := c.OrigOp == query.OpGreaterEqual
			if st.lo == nil || types.Compare(v, *st.lo) > 0 || (types.Compare(v, *st.lo) == 0 && !incl) {
				st.lo, st.loIncl = &v, incl
			}
		case query.OpLess, query.OpLessEqual:
			incl := c.OrigOp == query.OpLessEqual
			if st.hi == nil || types.Compare(v, *st.hi) < 0 || (types.Compare(v, *st.hi) == 0 && !incl) {
				st.hi, st.hiInc = &v, incl
			}
		}
	}
	for _, st := range cols {
		if st.null && st.notNull {
			return false
		}
		if st.eq != nil {
			if st.lo != nil && !above(*st.eq, *st.lo, st.loIncl) {
				return false
			}
			if st.hi != nil && !above(*st.hi, *st.eq, st.hiInc) {
				return false
			}
		}
		if st.lo != nil && st.hi != nil && !above(*st.hi, *st.lo, st.loIncl && st.hiInc) {
			return false
		}
	}
	return true
}

// above reports whether a > b, or a >= b when inclusive.
func above(a, b types.Value, inclusive bool) bool {
	cmp := types.Compare(a, b)
	return cmp > 0 || (inclusive && cmp == 0)
}
