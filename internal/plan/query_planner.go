package plan

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/query"
)

var (
	_ Estimator = (*CostEstimator)(nil)
)

// Selectivity defaults for predicates the statistics say nothing about.
const (
	rangeSelectivity  = 1.0 / 3
	likeSelectivity   = 1.0 / 4
	isNullSelectivity = 1.0 / 10
)

// CostEstimator picks the cheapest key for a request by comparing the rows
// each candidate has to visit.
type CostEstimator struct {
	// SeekCost is the start-up delay of positioning a key, in microseconds.
	SeekCost float64
	// RowCost is the delay of visiting one row, in microseconds.
	RowCost float64
}

func NewCostEstimator() *CostEstimator {
	return &CostEstimator{SeekCost: 40, RowCost: 1.5}
}

type candidate struct {
	est     *Estimate
	visited float64
}

func (e *CostEstimator) Estimate(ctx context.Context, req *Request) (*Estimate, error) {
	rel := req.Relation
	if rel == nil {
		return nil, errors.AssertionFailedf("estimate without relation")
	}

	var keys []*metadata.Key
	switch {
	case req.Hint.Key != nil:
		keys = []*metadata.Key{req.Hint.Key}
	case req.Hint.FullScan:
		keys = []*metadata.Key{rel.ClusteringKey()}
	default:
		if rel.ClusteringKey() == nil {
			keys = append(keys, nil)
		}
		keys = append(keys, rel.Keys...)
	}

	var best *candidate
	for _, k := range keys {
		c := e.cost(req, k)
		if best == nil || better(c, best, req) {
			best = c
		}
	}
	best.est.Reverse = req.Hint.Reverse
	if req.Constraints != nil {
		best.est.ShapeGen = req.Constraints.ShapeGen()
	}
	logging.FromContext(ctx).Debug("estimate chosen",
		"key", keyName(best.est.Key), "rows", best.est.Rows, "solved", best.est.Solved)
	return best.est, nil
}

func better(a, b *candidate, req *Request) bool {
	av, bv := a.visited, b.visited
	if req.OptimizeRows > 0 && req.OrderBy != nil && req.OrderBy.Len() > 0 {
		// A plan delivering the requested order can stop after the first rows.
		limit := float64(req.OptimizeRows)
		if a.est.Solved == req.OrderBy.Len() {
			av = math.Min(av, limit)
		}
		if b.est.Solved == req.OrderBy.Len() {
			bv = math.Min(bv, limit)
		}
	}
	if av != bv {
		return av < bv
	}
	if a.est.Solved != b.est.Solved {
		return a.est.Solved > b.est.Solved
	}
	return a.est.Key != nil && a.est.Key.Clustering && (b.est.Key == nil || !b.est.Key.Clustering)
}

func (e *CostEstimator) cost(req *Request, key *metadata.Key) *candidate {
	rel := req.Relation
	stats := rel.Stats
	est := &Estimate{Key: key, NullsFirst: true, stats: stats, RowsKind: RowsApprox}
	if stats == nil {
		est.RowsKind = RowsUnknown
		est.Rows = 1000
	} else {
		est.Rows = stats.RecordsOutput()
	}
	total := float64(est.Rows)

	exact := make(map[int]bool)
	if req.Constraints != nil {
		for _, c := range req.Constraints.Items() {
			if c.OrigOp == query.OpEqual || c.OrigOp == query.OpIsNull {
				exact[c.Column] = true
			}
		}
	}

	// Rows visited: narrowed by the equality prefix and one range part.
	visited := total
	eqParts := 0
	if key != nil {
		for _, p := range key.Parts {
			if !exact[p.Column] {
				break
			}
			visited /= float64(distinct(stats, p.Column, est.Rows))
			eqParts++
		}
		if eqParts < len(key.Parts) {
			next := key.Parts[eqParts].Column
			if hasRange(req.Constraints, next) || leadsVector(req.Constraints, key, eqParts) {
				visited *= rangeSelectivity
			}
		}
	}

	// Rows output: every constraint applies.
	out := total
	filtered := false
	if req.Constraints != nil {
		for _, c := range req.Constraints.Items() {
			out *= selectivity(stats, c, est.Rows)
			filtered = true
		}
		if req.Constraints.Vector() != nil {
			out *= rangeSelectivity
			filtered = true
		}
	}
	if out > visited {
		out = visited
	}

	est.Unique = key != nil && key.Unique && eqParts == len(key.Parts)
	switch {
	case est.Unique:
		est.Rows = int64(math.Min(1, total))
		est.RowsKind = RowsExact
	case !filtered && est.RowsKind != RowsUnknown:
		est.RowsKind = RowsExact
	default:
		est.Rows = int64(math.Ceil(out))
	}

	est.C0 = e.SeekCost
	est.C1 = e.SeekCost + e.RowCost*visited
	est.Solved = orderingMatch(req.OrderBy, key, exact, est.Unique)
	return &candidate{est: est, visited: visited}
}

// orderingMatch counts how many leading order-by items a forward walk of key
// delivers. Columns fixed by an equality are satisfied wherever they appear.
func orderingMatch(order *query.OrderBy, key *metadata.Key, exact map[int]bool, unique bool) int {
	if order == nil {
		return 0
	}
	var existing []metadata.KeyPart
	if key != nil {
		for _, p := range key.Parts {
			if !exact[p.Column] {
				existing = append(existing, p)
			}
		}
	}
	// Entries with equal key parts are kept in tuple reference order.
	existing = append(existing, metadata.KeyPart{Column: query.RefColumn})
	unique = unique || (key != nil && key.Unique)

	pos := 0
	for i, item := range order.Items() {
		if pos < len(existing) {
			p := existing[pos]
			if p.Column == item.Column && p.Descending != item.Ascending {
				pos++
				continue
			}
		}
		// Every key part matched and no two rows share them: any further
		// refinement is already satisfied.
		if pos == len(existing) || (unique && pos == len(existing)-1) {
			return order.Len()
		}
		if !exact[item.Column] {
			return i
		}
	}
	return order.Len()
}

func distinct(stats *metadata.StatInfo, col int, rows int64) int64 {
	if col == query.RefColumn {
		return max(rows, 1)
	}
	if stats == nil {
		return 10
	}
	d := stats.DistinctValues(col)
	if d < 1 {
		return 1
	}
	return d
}

func selectivity(stats *metadata.StatInfo, c *query.Constraint, rows int64) float64 {
	if c.AlwaysFalse {
		return 0
	}
	switch c.OrigOp {
	case query.OpEqual:
		return 1 / float64(distinct(stats, c.Column, rows))
	case query.OpNotEqual, query.OpIsNotNull:
		return 1
	case query.OpLike:
		return likeSelectivity
	case query.OpIsNull:
		return isNullSelectivity
	}
	return rangeSelectivity
}

func hasRange(cons *query.List, col int) bool {
	if cons == nil {
		return false
	}
	for _, c := range cons.OnColumn(col) {
		if c.OrigOp.IsRange() {
			return true
		}
	}
	return false
}

func leadsVector(cons *query.List, key *metadata.Key, from int) bool {
	if cons == nil || cons.Vector() == nil {
		return false
	}
	return cons.Vector().Leads(key.Columns()[from:])
}

func keyName(k *metadata.Key) string {
	if k == nil {
		return "<tuple order>"
	}
	return k.Name
}
