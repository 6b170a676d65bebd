package cursor

import (
	"context"
	"math"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/plan"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
)

func (c *Cursor) request(order *query.OrderBy) *plan.Request {
	rows := c.optimizeRows
	if !c.optimizeSet {
		rows = c.settings().OptimizeRowCount
	}
	req := &plan.Request{
		Relation:     c.rel,
		Constraints:  c.cons,
		OrderBy:      order,
		Projection:   c.projection,
		OptimizeRows: rows,
	}
	if c.hintSet {
		req.Hint = c.hint
	}
	return req
}

// callEstimator asks the estimator for one estimate. Arithmetic faults
// inside the estimator come back as a fatal ErrEstimateOverflow.
func (c *Cursor) callEstimator(ctx context.Context, req *plan.Request) (est *plan.Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(runtime.Error)
			if !ok {
				panic(r)
			}
			est, err = nil, fatal(errors.Wrapf(ErrEstimateOverflow, "%v", re))
		}
	}()
	c.env.Metrics.estimate()
	est, err = c.env.Estimator.Estimate(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "estimating access cost")
	}
	if est == nil {
		return nil, errors.AssertionFailedf("estimator returned no estimate")
	}
	for _, f := range []float64{est.C0, est.C1} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fatal(errors.Wrapf(ErrEstimateOverflow, "delay %v", f))
		}
	}
	return est, nil
}

// ensureEstimate returns the cached estimate, computing it when the
// constraint shape changed since it was made.
//
// Without an index hint, a wholly unsatisfied order may be delivered by
// walking a key backwards. Under a vector constraint the reversed request is
// tried whenever the order is not fully satisfied; otherwise only when every
// item is descending. The reversed estimate is adopted when it satisfies
// strictly more order items.
func (c *Cursor) ensureEstimate(ctx context.Context) (*plan.Estimate, error) {
	if c.est != nil && c.est.ShapeGen == c.cons.ShapeGen() {
		return c.est, nil
	}
	c.dropEstimate()
	c.reverse = ReverseNone

	order := c.order
	if c.hintSet && c.hint.Reverse {
		order = c.order.Reversed()
	}
	est, err := c.callEstimator(ctx, c.request(order))
	if err != nil {
		return nil, err
	}
	if c.hintSet && c.hint.Reverse {
		est.Reverse = true
		c.reverse = ReverseHint
	}

	if !c.hintSet && est.Solved < c.order.Len() && c.env.Access.CanReverse() {
		mode := ReverseNone
		switch {
		case c.vec != nil:
			mode = ReverseVector
		case c.order.AllDescending():
			mode = ReverseNormal
		}
		if mode != ReverseNone {
			alt, err := c.callEstimator(ctx, c.request(c.order.Reversed()))
			if err != nil {
				return nil, err
			}
			if alt.Solved > est.Solved {
				alt.Reverse = true
				est = alt
				c.reverse = mode
				c.env.Metrics.reverse(mode)
				logging.FromContext(ctx).Debug("reverse scan adopted",
					"mode", mode.String(), "solved", alt.Solved)
			}
		}
	}

	c.order.MarkSolved(est.Solved)
	c.est = est
	return est, nil
}

// ensurePlan returns the plan for the current estimate. A plan built for
// the same constraint objects is refreshed when only values changed.
func (c *Cursor) ensurePlan(ctx context.Context) (*plan.Plan, error) {
	est, err := c.ensureEstimate(ctx)
	if err != nil {
		return nil, err
	}
	if c.plan != nil && c.plan.ObjectGen == c.cons.ObjectGen() {
		if c.planValue != c.cons.ValueGen() {
			c.plan.Refresh()
			c.planValue = c.cons.ValueGen()
		}
		return c.plan, nil
	}
	c.dropPlan()
	p, err := c.env.Builder.Build(est, c.cons)
	if err != nil {
		return nil, errors.Wrap(err, "building access plan")
	}
	c.plan, c.planValue = p, c.cons.ValueGen()
	logging.FromContext(ctx).Debug("plan built",
		"key", keyName(p), "eq", len(p.Eq), "consistent", p.Consistent, "reverse", c.reverse.String())
	return p, nil
}

func keyName(p *plan.Plan) string {
	if p.Key == nil {
		return "<tuple order>"
	}
	return p.Key.Name
}

// estimation settles any pending constraint pass and returns the estimate.
func (c *Cursor) estimation(ctx context.Context) (*plan.Estimate, error) {
	ctx = c.annotate(ctx)
	if err := c.finish(ctx); err != nil {
		return nil, err
	}
	est, err := c.ensureEstimate(ctx)
	if err != nil {
		return nil, c.fail(err)
	}
	return est, nil
}

// EstimateRowCount predicts how many rows the cursor returns.
func (c *Cursor) EstimateRowCount(ctx context.Context) (int64, plan.RowsKind, error) {
	est, err := c.estimation(ctx)
	if err != nil {
		return 0, plan.RowsUnknown, err
	}
	return est.Rows, est.RowsKind, nil
}

// EstimateDelay returns the start-up delay and the delay for the whole
// result, in microseconds.
func (c *Cursor) EstimateDelay(ctx context.Context) (c0, c1 float64, err error) {
	est, err := c.estimation(ctx)
	if err != nil {
		return 0, 0, err
	}
	return est.C0, est.C1, nil
}

// EstimateDistinct predicts the number of distinct combinations of cols in
// the result. Pseudo columns count as the physical columns they derive from.
func (c *Cursor) EstimateDistinct(ctx context.Context, cols []int) (int64, error) {
	est, err := c.estimation(ctx)
	if err != nil {
		return 0, err
	}
	phys := make([]int, 0, len(cols))
	for _, col := range cols {
		if !c.rel.Schema.Valid(col) {
			return 0, errors.Newf("column %d does not exist in %s", col, c.rel.Name)
		}
		column := c.rel.Schema.Column(col)
		switch {
		case column.Pseudo == record.PseudoRowID:
			phys = append(phys, query.RefColumn)
		case column.IsPseudo() && column.Source >= 0:
			phys = append(phys, column.Source)
		case !column.IsPseudo():
			phys = append(phys, col)
		}
	}
	return est.Distinct(phys), nil
}

// Ordered reports how many leading order items the plan delivers and
// whether NULLs sort first.
func (c *Cursor) Ordered(ctx context.Context) (solved int, nullsFirst bool, err error) {
	est, err := c.estimation(ctx)
	if err != nil {
		return 0, false, err
	}
	nullsFirst = est.NullsFirst
	if est.Reverse {
		nullsFirst = !nullsFirst
	}
	return c.order.SolvedCount(), nullsFirst, nil
}

// IsUnique reports whether the constraints select at most one row.
func (c *Cursor) IsUnique(ctx context.Context) (bool, error) {
	est, err := c.estimation(ctx)
	if err != nil {
		return false, err
	}
	return est.Unique, nil
}

// ReverseMode reports why the current estimate walks its key backwards.
func (c *Cursor) ReverseMode() ReverseMode {
	return c.reverse
}

// CanReverse reports whether the access method can walk a key backwards.
func (c *Cursor) CanReverse() bool {
	return c.env.Access.CanReverse()
}
