package cursor

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/types"
)

// transition maps one access-method step to the next fetch state.
func transition(dir scan.Direction, status scan.Status) (FetchState, Outcome) {
	switch status {
	case scan.Found:
		return StateRow, Done
	case scan.NotFound, scan.Suspend:
		return StateNoRow, Continue
	case scan.End:
		if dir == scan.Forward {
			return StateEnd, Done
		}
		return StateStart, Done
	}
	return StateError, Failed
}

// Open positions the cursor before its first row.
func (c *Cursor) Open(ctx context.Context) error {
	ctx = c.annotate(ctx)
	if c.state == StateClosed {
		c.state = StateStart
	}
	return c.rewind(ctx, false)
}

// Begin repositions before the first row.
func (c *Cursor) Begin(ctx context.Context) error {
	if c.state == StateClosed {
		return ErrNotOpen
	}
	return c.rewind(c.annotate(ctx), false)
}

// End repositions after the last row.
func (c *Cursor) End(ctx context.Context) error {
	if c.state == StateClosed {
		return ErrNotOpen
	}
	return c.rewind(c.annotate(ctx), true)
}

// rewind settles the plan, opens the access method when needed and puts the
// cursor at one end of its result.
func (c *Cursor) rewind(ctx context.Context, toEnd bool) error {
	c.abortMutation()
	c.row, c.waiting = nil, false
	c.count, c.countDone, c.aggEmitted = 0, false, false

	if err := c.finish(ctx); err != nil {
		c.state = StateError
		return err
	}
	if c.cons.HasUnbound() {
		c.state = StateError
		return c.fail(errors.Wrapf(ErrUnboundValue, "%s", c.cons))
	}
	p, err := c.ensurePlan(ctx)
	if err != nil {
		c.state = StateError
		return c.fail(err)
	}
	c.reopen = false
	if !p.Consistent {
		c.closeHandle()
		c.state = StateEmpty
		logging.FromContext(ctx).Debug("plan is empty", "constraints", c.cons.String())
		return nil
	}
	if err := c.check(); err != nil {
		c.state = StateError
		return c.fail(err)
	}
	if c.handle == nil {
		h, err := c.env.Access.Open(ctx, c.tx, c.rel, p, c.intent.mode(), p.Estimate.Reverse)
		if err != nil {
			c.state = StateError
			return c.fail(storageErr(err))
		}
		c.handle = h
	}
	c.handle.Rewind(toEnd)
	c.state = StateStart
	if toEnd {
		c.state = StateEnd
	}
	return nil
}

// Next moves to the next row. A nil row with Done means the end was
// reached; Continue means the call has to be repeated.
func (c *Cursor) Next(ctx context.Context) (*Row, Outcome, error) {
	return c.fetch(c.annotate(ctx), scan.Forward)
}

// Prev moves to the previous row.
func (c *Cursor) Prev(ctx context.Context) (*Row, Outcome, error) {
	return c.fetch(c.annotate(ctx), scan.Backward)
}

func (c *Cursor) fetch(ctx context.Context, dir scan.Direction) (*Row, Outcome, error) {
	switch c.state {
	case StateClosed:
		return nil, Failed, ErrNotOpen
	case StateError:
		return nil, Failed, c.err
	case StateSAUpdate, StateSADelete:
		return nil, Failed, errors.Wrap(ErrMutationMode, "a by-reference mutation is in progress")
	}
	if c.aggregateOnly {
		return c.fetchAggregate(ctx, dir)
	}
	if c.state == StateEmpty {
		return nil, Done, nil
	}
	if c.round.active || c.reopen || c.handle == nil || c.state == StateCount {
		if err := c.rewind(ctx, c.state == StateEnd); err != nil {
			return nil, Failed, err
		}
		if c.state == StateEmpty {
			return nil, Done, nil
		}
	}
	if (dir == scan.Forward && c.state == StateEnd) || (dir == scan.Backward && c.state == StateStart) {
		return nil, Done, nil
	}
	c.abortMutation()

	if err := c.check(); err != nil {
		c.state = StateError
		return nil, Failed, c.fail(err)
	}
	status, t, err := c.handle.Step(ctx, dir, c.waiting)
	c.waiting = status == scan.Suspend
	c.env.Metrics.step(status.String())

	state, out := transition(dir, status)
	c.state, c.row = state, nil
	switch status {
	case scan.Found:
		row := c.materialize(t)
		ok, err := c.postFilter(t)
		if err != nil {
			c.state = StateError
			return nil, Failed, c.fail(err)
		}
		if !ok {
			c.state = StateNoRow
			c.env.Metrics.reject()
			return nil, Continue, nil
		}
		c.row = row
		return row, Done, nil
	case scan.Suspend:
		c.env.Metrics.suspend()
		logging.FromContext(ctx).Debug("fetch suspended on lock")
	case scan.Fatal:
		return nil, Failed, c.fail(storageErr(err))
	}
	return nil, out, nil
}

// materialize wraps a fetched tuple and synthesizes its projected pseudo
// columns.
func (c *Cursor) materialize(t *record.Tuple) *Row {
	row := newRow(t, c.mask)
	for _, s := range c.synth {
		row.values[s.col] = s.fn(t)
	}
	return row
}

// postFilter checks t against the untruncated constraints when some of them
// were weakened or left to the cursor. Blobs are compared on a prefix of
// the access method's blob comparison length.
func (c *Cursor) postFilter(t *record.Tuple) (bool, error) {
	if !c.cons.NeedsFilter() {
		return true, nil
	}
	blobLen := c.env.Access.MaxBlobCmpLen()
	if n := c.settings().MaxBlobCompare; n > 0 && n < blobLen {
		blobLen = n
	}
	var loadErr error
	get := func(col int) types.Value {
		if col == query.RefColumn {
			return types.NewBytes(t.Ref().Bytes())
		}
		v := t.Value(col)
		if v.Kind() != types.KindBlob {
			return v
		}
		b := v.AsBlob()
		data, err := b.Prefix(min(blobLen, b.Size()))
		if err != nil {
			loadErr = err
			return types.Null()
		}
		return types.NewBytes(data)
	}
	ok := c.cons.Satisfied(get)
	if loadErr != nil {
		return false, storageErr(loadErr)
	}
	return ok, nil
}

// Current returns the row the cursor is positioned on, or nil.
func (c *Cursor) Current() *Row {
	if c.state != StateRow {
		return nil
	}
	return c.row
}

// Value returns column col of the current row.
func (c *Cursor) Value(col int) (types.Value, error) {
	if c.state != StateRow || c.row == nil {
		return types.Value{}, ErrNoCurrentRow
	}
	return c.row.Value(col)
}

// SetPosition positions the cursor on the tuple ref. It reports false when
// ref does not exist or does not satisfy the constraints.
func (c *Cursor) SetPosition(ctx context.Context, ref record.TupleRef) (bool, Outcome, error) {
	ctx = c.annotate(ctx)
	switch c.state {
	case StateClosed:
		return false, Failed, ErrNotOpen
	case StateError:
		return false, Failed, c.err
	case StateSAUpdate, StateSADelete:
		return false, Failed, errors.Wrap(ErrMutationMode, "a by-reference mutation is in progress")
	}
	if c.aggregateOnly {
		return false, Failed, ErrAggregateOnly
	}
	if c.round.active || c.reopen || c.handle == nil {
		if err := c.rewind(ctx, false); err != nil {
			return false, Failed, err
		}
		if c.state == StateEmpty {
			return false, Done, nil
		}
	}
	c.abortMutation()
	if err := c.check(); err != nil {
		c.state = StateError
		return false, Failed, c.fail(err)
	}

	status, t, err := c.handle.Seek(ctx, ref, c.waiting)
	c.waiting = status == scan.Suspend
	c.env.Metrics.step(status.String())
	c.row = nil
	switch status {
	case scan.Found:
		ok, err := c.postFilter(t)
		if err != nil {
			c.state = StateError
			return false, Failed, c.fail(err)
		}
		if !ok {
			c.state = StateNoRow
			c.env.Metrics.reject()
			return false, Done, nil
		}
		c.row, c.state = c.materialize(t), StateRow
		return true, Done, nil
	case scan.Suspend:
		c.state = StateNoRow
		c.env.Metrics.suspend()
		return false, Continue, nil
	case scan.Fatal:
		c.state = StateError
		return false, Failed, c.fail(storageErr(err))
	}
	c.state = StateNoRow
	return false, Done, nil
}
