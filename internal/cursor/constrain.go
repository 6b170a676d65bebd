package cursor

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/session"
	"github.com/yashagw/cranecursor/internal/types"
)

// givenConstraint is one constraint as the caller supplied it, with the physical
// constraints it was translated into.
type givenConstraint struct {
	col     int
	op      query.Operator
	kind    types.Kind
	escape  rune
	derived []*query.Constraint
}

func (s *givenConstraint) sameShape(col int, op query.Operator, kind types.Kind, escape rune) bool {
	return s.col == col && s.op == op && s.kind == kind && s.escape == escape
}

// roundState tracks one pass of constraint supply, from the first
// Constrain call up to EndOfConstraints. Constraints are matched by
// position against the previous pass.
//
// A pass that only changes literal values is clean: the estimate and plan
// are kept and the plan is refreshed. A value that switches a constraint
// between its exact and weakened form is internal: the plan is rebuilt.
// Any other difference is external: the list is rebuilt and the estimate
// recomputed.
type roundState struct {
	active   bool
	next     int
	vecSeen  bool
	external bool
	internal bool
}

func (c *Cursor) beginRound() {
	if !c.round.active {
		c.round = roundState{active: true}
	}
}

// Constrain restricts column col. Values longer than the access method
// compares are accepted; the access method then sees a weakened form and
// every row is checked against the full value before it is returned.
func (c *Cursor) Constrain(col int, op query.Operator, v types.Value, escape rune) error {
	if c.err != nil && IsFatal(c.err) {
		return c.err
	}
	if !c.rel.Schema.Valid(col) {
		return c.fail(errors.Newf("constrained column %d does not exist in %s", col, c.rel.Name))
	}
	if escape != types.NoEscape && op != query.OpLike {
		return c.fail(errors.Newf("escape character given for %s", op))
	}
	c.beginRound()

	fresh, err := c.derive(col, op, v, escape)
	if err != nil {
		return c.fail(err)
	}
	i := c.round.next
	c.round.next++
	if i < len(c.given) && c.given[i].sameShape(col, op, v.Kind(), escape) {
		c.rebind(c.given[i], fresh)
		return nil
	}
	c.round.external = true
	c.given = append(c.given[:min(i, len(c.given))], &givenConstraint{col: col, op: op, kind: v.Kind(), escape: escape, derived: fresh})
	return nil
}

// rebind moves the values of fresh into the existing constraint objects of
// s, keeping the objects the plan points at.
func (c *Cursor) rebind(s *givenConstraint, fresh []*query.Constraint) {
	if len(fresh) != len(s.derived) {
		s.derived = fresh
		c.round.external = true
		return
	}
	for i, d := range s.derived {
		f := fresh[i]
		if d.Column != f.Column || d.OrigOp != f.OrigOp {
			s.derived = fresh
			c.round.external = true
			return
		}
	}
	maxLen := c.env.Access.MaxCmpLen()
	for i, d := range s.derived {
		f := fresh[i]
		weak, pushed := d.Weakened, d.Pushdown
		d.SetValue(f.OrigValue)
		d.AlwaysFalse = f.AlwaysFalse
		d.Weaken(maxLen)
		if d.Weakened != weak || d.Pushdown != pushed {
			c.round.internal = true
		}
	}
}

func (c *Cursor) derive(col int, op query.Operator, v types.Value, escape rune) ([]*query.Constraint, error) {
	column := c.rel.Schema.Column(col)
	if column.IsPseudo() {
		return c.derivePseudo(col, op, v)
	}
	if op.Unary() {
		return []*query.Constraint{query.NewConstraint(col, op, types.Null(), escape, false)}, nil
	}
	operand := v
	var convErr error
	if op != query.OpLike {
		operand, convErr = types.Convert(v, column.Kind)
	}
	if convErr != nil {
		cons := query.NewConstraint(col, op, v, escape, false)
		cons.AlwaysFalse = true
		return []*query.Constraint{cons}, nil
	}
	cons := query.NewConstraint(col, op, operand, escape, false)
	cons.Weaken(c.env.Access.MaxCmpLen())
	return []*query.Constraint{cons}, nil
}

// ConstrainVector sets a lexicographic inequality over several physical
// columns. It reports false when the vector cannot be used, in which case
// the caller evaluates it itself.
func (c *Cursor) ConstrainVector(cols []int, op query.Operator, vals []types.Value) bool {
	if c.err != nil && IsFatal(c.err) {
		return false
	}
	c.beginRound()
	if c.round.vecSeen || len(cols) != len(vals) {
		return false
	}
	maxLen := c.env.Access.MaxCmpLen()
	converted := make([]types.Value, len(vals))
	for i, col := range cols {
		if !c.rel.Schema.Valid(col) || c.rel.Schema.Column(col).IsPseudo() {
			return false
		}
		v, err := types.Convert(vals[i], c.rel.Schema.Column(col).Kind)
		if err != nil {
			return false
		}
		if !v.IsUnknown() && query.Truncatable(v) && v.CmpLen() > maxLen {
			c.fail(fatal(errors.Wrapf(ErrValueTooLong, "vector operand %d is %d bytes, limit %d", i, v.CmpLen(), maxLen)))
			return false
		}
		converted[i] = v
	}
	vec, err := query.NewVector(cols, op, converted)
	if err != nil {
		return false
	}
	c.round.vecSeen = true
	if c.vec != nil && c.vec.Op == vec.Op && slices.Equal(c.vec.Columns, vec.Columns) {
		copy(c.vec.Values, vec.Values)
		return true
	}
	c.vec = vec
	c.round.external = true
	return true
}

// EndOfConstraints closes the constraint pass, checks read privileges and
// settles the plan.
func (c *Cursor) EndOfConstraints(ctx context.Context) bool {
	ctx = c.annotate(ctx)
	if err := c.finish(ctx); err != nil {
		return false
	}
	if _, err := c.ensurePlan(ctx); err != nil {
		c.fail(err)
		return false
	}
	return true
}

// finish applies the pending constraint pass to the physical list and runs
// the privilege check.
func (c *Cursor) finish(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if c.round.active {
		r := c.round
		c.round = roundState{}
		if r.next < len(c.given) {
			c.given = c.given[:r.next]
			r.external = true
		}
		if !r.vecSeen && c.vec != nil {
			c.vec = nil
			r.external = true
		}
		switch {
		case r.external:
			if err := c.rebuildList(); err != nil {
				return c.fail(err)
			}
			c.dropEstimate()
		case r.internal:
			c.cons.BumpObject()
			c.dropPlan()
		default:
			c.cons.BumpValue()
		}
		c.cons.SetNeedsFilter(c.needsFilter())
		if c.state != StateClosed {
			c.reopen = true
		}
		logging.FromContext(ctx).Debug("constraints applied",
			"external", r.external, "internal", r.internal, "constraints", c.cons.Len())
	}
	if err := c.authorize(session.PrivSelect, c.readColumns()); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *Cursor) rebuildList() error {
	c.cons.Clear()
	for _, s := range c.given {
		for _, d := range s.derived {
			if err := c.cons.Add(d); err != nil {
				return err
			}
		}
	}
	if c.vec != nil {
		return c.cons.SetVector(c.vec)
	}
	return nil
}

func (c *Cursor) needsFilter() bool {
	for _, d := range c.cons.Items() {
		if d.Weakened || !d.Pushdown {
			return true
		}
	}
	return false
}

// readColumns lists the columns a read touches: the projection and every
// constrained column.
func (c *Cursor) readColumns() []int {
	cols := slices.Clone(c.projection)
	for _, s := range c.given {
		cols = append(cols, s.col)
	}
	if c.vec != nil {
		cols = append(cols, c.vec.Columns...)
	}
	slices.Sort(cols)
	return slices.Compact(cols)
}

// authorize passes when the session holds priv on the relation, or on each
// of cols. Grants are looked up on every call.
func (c *Cursor) authorize(priv session.Privilege, cols []int) error {
	s := c.env.Session
	p := s.Privileges()
	if p.Table(s.User(), c.rel, priv) {
		return nil
	}
	if len(cols) == 0 {
		return errors.Wrapf(ErrPrivilege, "%s on %s for %s", priv, c.rel.Name, s.User())
	}
	for _, col := range cols {
		if !p.Column(s.User(), c.rel, col, priv) {
			return errors.Wrapf(ErrPrivilege, "%s on %s.%s for %s",
				priv, c.rel.Name, c.rel.Schema.Column(col).Name, s.User())
		}
	}
	return nil
}
