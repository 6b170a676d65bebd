package cursor

import (
	"context"

	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/types"
)

// AggFunc names an aggregate function the caller wants computed.
type AggFunc uint8

const (
	AggCountStar AggFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggOther
)

// TryCountAggregate accepts the aggregate list when it is a bare COUNT(*)
// with no grouping and no DISTINCT. The cursor then returns a single row
// holding the count in column 0.
func (c *Cursor) TryCountAggregate(groupBy []int, funcs []AggFunc, args []int, distinct []bool) bool {
	if len(groupBy) != 0 || len(funcs) != 1 || funcs[0] != AggCountStar {
		return false
	}
	if len(distinct) > 0 && distinct[0] {
		return false
	}
	if len(args) > 1 {
		return false
	}
	c.aggregateOnly = true
	return true
}

// CountAll tallies the rows of the result without materializing them.
// Like Next, it takes one access-method step per call and reports Continue
// until the end is reached.
func (c *Cursor) CountAll(ctx context.Context) (int64, Outcome, error) {
	ctx = c.annotate(ctx)
	switch c.state {
	case StateClosed:
		return 0, Failed, ErrNotOpen
	case StateError:
		return 0, Failed, c.err
	case StateEmpty:
		c.countDone = true
		return 0, Done, nil
	case StateSAUpdate, StateSADelete:
		return 0, Failed, ErrMutationMode
	}
	if c.countDone {
		return c.count, Done, nil
	}
	if c.state != StateCount || c.reopen || c.round.active {
		if err := c.rewind(ctx, false); err != nil {
			return 0, Failed, err
		}
		if c.state == StateEmpty {
			c.countDone = true
			return 0, Done, nil
		}
		c.state = StateCount
	}
	if err := c.check(); err != nil {
		c.state = StateError
		return 0, Failed, c.fail(err)
	}

	status, t, err := c.handle.Step(ctx, scan.Forward, c.waiting)
	c.waiting = status == scan.Suspend
	c.env.Metrics.step(status.String())
	switch status {
	case scan.Found:
		ok, err := c.postFilter(t)
		if err != nil {
			c.state = StateError
			return 0, Failed, c.fail(err)
		}
		if ok {
			c.count++
		} else {
			c.env.Metrics.reject()
		}
		return c.count, Continue, nil
	case scan.NotFound:
		return c.count, Continue, nil
	case scan.Suspend:
		c.env.Metrics.suspend()
		return c.count, Continue, nil
	case scan.End:
		c.countDone = true
		c.state = StateEnd
		logging.FromContext(ctx).Debug("count finished", "rows", c.count)
		return c.count, Done, nil
	}
	c.state = StateError
	return 0, Failed, c.fail(storageErr(err))
}

// fetchAggregate serves Next and Prev on a count-only cursor: the count row
// is produced once the tally completes.
func (c *Cursor) fetchAggregate(ctx context.Context, dir scan.Direction) (*Row, Outcome, error) {
	if dir == scan.Backward {
		return nil, Failed, ErrAggregateOnly
	}
	if c.aggEmitted {
		c.state, c.row = StateEnd, nil
		return nil, Done, nil
	}
	n, out, err := c.CountAll(ctx)
	if out != Done {
		return nil, out, err
	}
	row := newRow(nil, []bool{true})
	row.values[0] = types.NewInt(n)
	c.row, c.state, c.aggEmitted = row, StateRow, true
	return row, Done, nil
}
