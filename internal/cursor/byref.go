package cursor

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/session"
	"github.com/yashagw/cranecursor/internal/transaction"
)

// byRefState is the progress of a by-reference mutation. phase is START
// until the tuple is locked and read, ROW until it is written and END once
// the write succeeded.
type byRefState struct {
	handle scan.Handle
	tx     *transaction.Transaction
	ref    record.TupleRef
	phase  FetchState
	old    *record.Tuple
	saved  FetchState
}

// endByRef closes a by-reference mutation and restores the fetch state it
// interrupted.
func (c *Cursor) endByRef() {
	b := &c.byRef
	if b.handle != nil {
		b.handle.Close()
	}
	if c.state == StateSAUpdate || c.state == StateSADelete {
		c.state = b.saved
	}
	*b = byRefState{}
}

// UpdateByRef rewrites the tuple ref directly, possibly in a transaction
// other than the cursor's. It bypasses triggers, history capture and
// referential actions.
func (c *Cursor) UpdateByRef(ctx context.Context, tx *transaction.Transaction, ref record.TupleRef, req *UpdateRequest) (MutationResult, error) {
	if req == nil {
		return MutationError, errors.AssertionFailedf("update without request")
	}
	return c.mutateByRef(c.annotate(ctx), metadata.EventUpdate, tx, ref, req)
}

// DeleteByRef removes the tuple ref directly.
func (c *Cursor) DeleteByRef(ctx context.Context, tx *transaction.Transaction, ref record.TupleRef) (MutationResult, error) {
	return c.mutateByRef(c.annotate(ctx), metadata.EventDelete, tx, ref, nil)
}

func (c *Cursor) mutateByRef(ctx context.Context, kind metadata.Event, tx *transaction.Transaction, ref record.TupleRef, req *UpdateRequest) (MutationResult, error) {
	res, err := c.stepByRef(ctx, kind, tx, ref, req)
	switch res {
	case MutationContinue:
		c.env.Metrics.suspend()
		return res, nil
	case MutationSuccess:
		logging.FromContext(ctx).Debug("by-reference mutation finished", "kind", kind.String(), "ref", ref.String())
	default:
		logging.FromContext(ctx).Warn("by-reference mutation failed", "kind", kind.String(), "ref", ref.String(), "error", err)
	}
	c.endByRef()
	c.env.Metrics.mutation(kind.String(), res)
	return res, err
}

func (c *Cursor) stepByRef(ctx context.Context, kind metadata.Event, tx *transaction.Transaction, ref record.TupleRef, req *UpdateRequest) (MutationResult, error) {
	target := StateSAUpdate
	if kind == metadata.EventDelete {
		target = StateSADelete
	}
	b := &c.byRef
	if c.state == target && b.ref != ref {
		c.endByRef()
	}
	if c.state != target {
		if c.state == StateSAUpdate || c.state == StateSADelete {
			c.endByRef()
		}
		if c.subquery {
			return MutationError, errors.Wrap(ErrMutationMode, "subquery cursors are read-only")
		}
		if tx == nil {
			tx = c.tx
		}
		if !tx.Active() {
			return MutationError, errors.Wrapf(ErrTxNotActive, "transaction %d", tx.ID())
		}
		priv := session.PrivUpdate
		if kind == metadata.EventDelete {
			priv = session.PrivDelete
		}
		if err := c.authorize(priv, nil); err != nil {
			return MutationError, err
		}
		mode := scan.ModeUpdate
		if kind == metadata.EventDelete {
			mode = scan.ModeDelete
		}
		h, err := c.env.Access.Open(ctx, tx, c.rel, nil, mode, false)
		if err != nil {
			return MutationError, storageErr(err)
		}
		c.abortMutation()
		*b = byRefState{handle: h, tx: tx, ref: ref, phase: StateStart, saved: c.state}
		c.state = target
		c.waiting = false
	}
	if c.rel.Invalidated() {
		return MutationError, fatal(errors.Wrapf(ErrRelationInvalidated, "%s", c.rel.Name))
	}

	if b.phase == StateStart {
		status, t, err := b.handle.Seek(ctx, ref, c.waiting)
		c.waiting = status == scan.Suspend
		switch status {
		case scan.Suspend:
			return MutationContinue, nil
		case scan.NotFound:
			return MutationError, errors.Wrapf(ErrNoCurrentRow, "tuple %s does not exist", ref)
		case scan.Fatal:
			return MutationError, storageErr(err)
		}
		b.old, b.phase = t, StateRow
	}

	if b.phase == StateRow {
		var status scan.Status
		var err error
		if kind == metadata.EventDelete {
			status, err = c.env.Access.Delete(ctx, b.tx, c.rel, ref)
		} else {
			vals, selected, cerr := c.candidate(b.old, req)
			if cerr != nil {
				return MutationError, cerr
			}
			changed := make([]bool, len(selected))
			for col, sel := range selected {
				changed[col] = sel && !b.old.Value(col).Equal(vals[col])
			}
			status, err = c.env.Access.Update(ctx, b.tx, c.rel, ref, vals, changed)
		}
		switch status {
		case scan.Suspend:
			return MutationContinue, nil
		case scan.NotFound:
			return MutationError, errors.Wrapf(ErrNoCurrentRow, "tuple %s does not exist", ref)
		case scan.Found:
			b.phase = StateEnd
		default:
			return MutationError, storageErr(err)
		}
	}
	return MutationSuccess, nil
}
