package cursor

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/action"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/session"
	"github.com/yashagw/cranecursor/internal/types"
)

// MutationResult is the outcome of Update and Delete.
type MutationResult uint8

const (
	MutationSuccess MutationResult = iota
	// MutationConstraintViolated means a NOT NULL or check constraint
	// rejected the new row; the returned error names it.
	MutationConstraintViolated
	// MutationContinue means a stage stopped on a lock; the call has to be
	// repeated with the same arguments.
	MutationContinue
	MutationError
)

func (r MutationResult) String() string {
	switch r {
	case MutationSuccess:
		return "success"
	case MutationConstraintViolated:
		return "constraint-violated"
	case MutationContinue:
		return "continue"
	}
	return "error"
}

// UpdateRequest describes the new values of the current row. All slices are
// indexed by column position.
type UpdateRequest struct {
	Values []types.Value
	// Update selects the columns to assign.
	Update []bool
	// Increment marks selected columns whose value is added to the old one.
	Increment []bool
	// Checks are evaluated against the new row before it is written.
	Checks []*query.Constraint
}

func (r *UpdateRequest) selected(col int) bool {
	return col < len(r.Update) && r.Update[col]
}

func (r *UpdateRequest) incremented(col int) bool {
	return col < len(r.Increment) && r.Increment[col]
}

type mutState uint8

const (
	mutInit mutState = iota
	mutSyncHistory
	mutBeforeTrigger
	mutCheck
	mutExec
	mutCascade
	mutStmtCommit
	mutAfterTrigger
	mutFree
)

func (s mutState) String() string {
	switch s {
	case mutInit:
		return "INIT"
	case mutSyncHistory:
		return "SYNCHISTORY"
	case mutBeforeTrigger:
		return "BEFORETRIGGER"
	case mutCheck:
		return "CHECK"
	case mutExec:
		return "EXEC"
	case mutCascade:
		return "CASCADE"
	case mutStmtCommit:
		return "STMTCOMMIT"
	case mutAfterTrigger:
		return "AFTERTRIGGER"
	}
	return "FREE"
}

// mutPlan fixes which optional stages one mutation goes through.
type mutPlan struct {
	kind    metadata.Event
	history bool
	before  bool
	after   bool
}

// grouped reports whether the mutation runs in its own statement.
func (p mutPlan) grouped() bool {
	return p.history || p.before || p.after
}

// advance returns the stage following s.
func advance(s mutState, p mutPlan) mutState {
	afterBefore := mutCheck
	if p.kind == metadata.EventDelete {
		afterBefore = mutExec
	}
	switch s {
	case mutInit:
		if p.history {
			return mutSyncHistory
		}
		fallthrough
	case mutSyncHistory:
		if p.before {
			return mutBeforeTrigger
		}
		return afterBefore
	case mutBeforeTrigger:
		return afterBefore
	case mutCheck:
		return mutExec
	case mutExec:
		return mutCascade
	case mutCascade:
		if p.grouped() {
			return mutStmtCommit
		}
		return mutFree
	case mutStmtCommit:
		if p.after {
			return mutAfterTrigger
		}
		return mutFree
	case mutAfterTrigger:
		return mutFree
	}
	return mutInit
}

// mutation is the workspace of the update or delete in progress.
type mutation struct {
	state mutState
	plan  mutPlan
	req   *UpdateRequest

	old  *record.Tuple
	cand *record.Tuple
	// selected flags the physical columns assigned by the request, changed
	// those whose value actually differs.
	selected []bool
	changed  []bool

	history  action.HistoryState
	cascades []action.CascadeState
	pass     int
	next     int
	stmtOpen bool
}

// abortMutation drops a mutation in progress. Stages already applied stay
// applied; the transaction is the unit of rollback.
func (c *Cursor) abortMutation() {
	if c.mut.stmtOpen {
		c.tx.CommitStatement()
	}
	c.mut = mutation{}
}

// Update assigns new values to the current row.
func (c *Cursor) Update(ctx context.Context, req *UpdateRequest) (MutationResult, error) {
	return c.mutate(c.annotate(ctx), metadata.EventUpdate, req)
}

// Delete removes the current row.
func (c *Cursor) Delete(ctx context.Context) (MutationResult, error) {
	return c.mutate(c.annotate(ctx), metadata.EventDelete, nil)
}

func (c *Cursor) mutate(ctx context.Context, kind metadata.Event, req *UpdateRequest) (MutationResult, error) {
	if c.mut.state != mutInit && c.mut.plan.kind != kind {
		c.abortMutation()
	}
	if c.mut.state == mutInit {
		if err := c.startMutation(ctx, kind, req); err != nil {
			c.abortMutation()
			c.env.Metrics.mutation(kind.String(), MutationError)
			return MutationError, err
		}
	}
	res, err := c.drive(ctx)
	switch res {
	case MutationContinue:
		c.env.Metrics.suspend()
		logging.FromContext(ctx).Debug("mutation suspended", "kind", kind.String(), "stage", c.mut.state.String())
		return res, nil
	case MutationSuccess:
	default:
		logging.FromContext(ctx).Warn("mutation failed",
			"kind", kind.String(), "stage", c.mut.state.String(), "error", err)
		c.abortMutation()
	}
	c.env.Metrics.mutation(kind.String(), res)
	return res, err
}

// startMutation is the INIT stage: it checks the cursor may mutate its
// current row and prepares the workspace.
func (c *Cursor) startMutation(ctx context.Context, kind metadata.Event, req *UpdateRequest) error {
	if c.err != nil && IsFatal(c.err) {
		return c.err
	}
	if c.state != StateRow || c.row == nil {
		return ErrNoCurrentRow
	}
	if c.aggregateOnly {
		return ErrAggregateOnly
	}
	if err := c.check(); err != nil {
		return err
	}
	mode := c.handle.Mode()
	if (kind == metadata.EventUpdate && mode != scan.ModeUpdate) ||
		(kind == metadata.EventDelete && mode == scan.ModeRead) {
		return errors.Wrapf(ErrMutationMode, "%s on a cursor opened for %s", kind, mode)
	}

	m := mutation{old: c.row.Tuple(), req: req}
	m.plan = mutPlan{kind: kind}
	if kind == metadata.EventUpdate {
		if req == nil {
			return errors.AssertionFailedf("update without request")
		}
		vals, selected, err := c.candidate(m.old, req)
		if err != nil {
			return err
		}
		if err := c.authorize(session.PrivUpdate, selectedColumns(selected)); err != nil {
			return err
		}
		m.cand = record.NewTuple(m.old.Ref(), vals, m.old.Flags())
		m.selected = selected
	} else if err := c.authorize(session.PrivDelete, nil); err != nil {
		return err
	}

	before, after := metadata.BeforeUpdate, metadata.AfterUpdate
	if kind == metadata.EventDelete {
		before, after = metadata.BeforeDelete, metadata.AfterDelete
	}
	m.plan.history = c.rel.HistoryTracked && c.env.Session.TracksHistory() && c.env.History != nil
	m.plan.before = c.rel.Triggers.Has(before) && c.env.Triggers != nil
	m.plan.after = c.rel.Triggers.Has(after) && c.env.Triggers != nil
	if m.plan.grouped() {
		c.tx.BeginStatement()
		m.stmtOpen = true
	}
	m.state = advance(mutInit, m.plan)
	c.mut = m
	logging.FromContext(ctx).Debug("mutation started",
		"kind", kind.String(), "ref", m.old.Ref().String(), "stage", m.state.String())
	return nil
}

// candidate computes the new physical values of old under req and flags the
// columns it assigns. Pseudo columns cannot be assigned.
func (c *Cursor) candidate(old *record.Tuple, req *UpdateRequest) ([]types.Value, []bool, error) {
	schema := c.rel.Schema
	vals := old.Values()
	for len(vals) < schema.Len() {
		vals = append(vals, types.Null())
	}
	selected := make([]bool, schema.Len())
	for col := range req.Update {
		if !req.selected(col) {
			continue
		}
		if !schema.Valid(col) {
			return nil, nil, errors.Newf("updated column %d does not exist in %s", col, c.rel.Name)
		}
		column := schema.Column(col)
		if column.IsPseudo() {
			return nil, nil, errors.Wrapf(ErrPseudoColumnOp, "cannot assign %s", column.Name)
		}
		var nv types.Value
		if col < len(req.Values) {
			nv = req.Values[col]
		}
		var err error
		if req.incremented(col) {
			nv, err = types.Add(vals[col], nv)
			if err == nil {
				nv, err = types.Convert(nv, column.Kind)
			}
		} else {
			nv, err = types.Convert(nv, column.Kind)
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "column %s", column.Name)
		}
		vals[col] = types.Clone(nv)
		selected[col] = true
	}
	return vals, selected, nil
}

func selectedColumns(flags []bool) []int {
	var cols []int
	for i, f := range flags {
		if f {
			cols = append(cols, i)
		}
	}
	return cols
}

// drive runs stages until the mutation completes, fails or stops on a lock.
func (c *Cursor) drive(ctx context.Context) (MutationResult, error) {
	m := &c.mut
	for {
		var res action.Result
		var err error
		switch m.state {
		case mutSyncHistory:
			res, err = c.env.History.Capture(ctx, c.tx, c.rel, m.old, &m.history)
			if err != nil {
				err = errors.Wrap(err, "capturing history")
			}
		case mutBeforeTrigger, mutAfterTrigger:
			res, err = c.fireTrigger(ctx, m)
		case mutCheck:
			if err := c.checkCandidate(m); err != nil {
				return MutationConstraintViolated, err
			}
		case mutExec:
			res, err = c.exec(ctx, m)
		case mutCascade:
			res, err = c.cascade(ctx, m)
		case mutStmtCommit:
			c.tx.CommitStatement()
			m.stmtOpen = false
		case mutFree:
			logging.FromContext(ctx).Debug("mutation finished",
				"kind", m.plan.kind.String(), "ref", m.old.Ref().String())
			c.mut = mutation{}
			c.state, c.row = StateNoRow, nil
			return MutationSuccess, nil
		default:
			return MutationError, errors.AssertionFailedf("mutation in state %s", m.state)
		}
		switch res {
		case action.Continue:
			return MutationContinue, nil
		case action.Fail:
			if err == nil {
				err = errors.Newf("%s stage refused", m.state)
			}
			return MutationError, err
		}
		m.state = advance(m.state, m.plan)
	}
}

func (c *Cursor) fireTrigger(ctx context.Context, m *mutation) (action.Result, error) {
	kind := metadata.BeforeUpdate
	switch {
	case m.state == mutBeforeTrigger && m.plan.kind == metadata.EventDelete:
		kind = metadata.BeforeDelete
	case m.state == mutAfterTrigger && m.plan.kind == metadata.EventDelete:
		kind = metadata.AfterDelete
	case m.state == mutAfterTrigger:
		kind = metadata.AfterUpdate
	}
	res, err := c.env.Triggers.Fire(ctx, c.tx, c.rel, kind, m.old, m.cand)
	if res == action.Fail {
		if err == nil {
			err = errors.Newf("%s trigger on %s refused the row", kind, c.rel.Name)
		}
		return res, errors.Mark(err, ErrTriggerFailed)
	}
	return res, err
}

// checkCandidate is the CHECK stage: assigned NOT NULL columns must not be
// NULL, except where the value is an increment, and every extra check must
// hold on the new row.
func (c *Cursor) checkCandidate(m *mutation) error {
	schema := c.rel.Schema
	for col, sel := range m.selected {
		if !sel || m.req.incremented(col) {
			continue
		}
		column := schema.Column(col)
		if column.NotNull && m.cand.Value(col).IsNull() {
			return errors.WithHint(errors.Wrapf(ErrNotNull, "column %s", column.Name),
				"assign a value or leave the column unchanged")
		}
	}
	for _, chk := range m.req.Checks {
		if !chk.Matches(m.cand.Value(chk.Column)) {
			return errors.Wrapf(ErrCheckViolation, "%s", chk)
		}
	}
	return nil
}

// exec is the EXEC stage. An update writes only when some assigned column
// really changed.
func (c *Cursor) exec(ctx context.Context, m *mutation) (action.Result, error) {
	ref := m.old.Ref()
	var status scan.Status
	var err error
	if m.plan.kind == metadata.EventDelete {
		status, err = c.env.Access.Delete(ctx, c.tx, c.rel, ref)
	} else {
		m.changed = make([]bool, len(m.selected))
		for col, sel := range m.selected {
			m.changed[col] = sel && !m.old.Value(col).Equal(m.cand.Value(col))
		}
		if !slices.Contains(m.changed, true) {
			return action.Done, nil
		}
		status, err = c.env.Access.Update(ctx, c.tx, c.rel, ref, m.cand.Values(), m.changed)
	}
	switch status {
	case scan.Found:
		return action.Done, nil
	case scan.Suspend:
		return action.Continue, nil
	case scan.NotFound:
		return action.Fail, storageErr(errors.Newf("tuple %s vanished", ref))
	}
	return action.Fail, storageErr(err)
}
