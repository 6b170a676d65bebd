package query

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/types"
)

// RefColumn addresses the tuple reference of a row instead of a stored
// column. It is used for row identity on relations without a clustering key.
const RefColumn = -2

// DefaultMaxConstraints bounds the length of a constraint list when the
// caller does not configure one.
const DefaultMaxConstraints = 256

var (
	ErrTooManyConstraints = errors.New("too many constraints")
	ErrVectorConstraint   = errors.New("vector constraint rejected")
)

// Getter returns the full value of a column of the row under evaluation.
type Getter func(col int) types.Value

// List is the conjunction of constraints applied to one relation scan.
//
// Two counters track how far a change reaches. Shape changes (constraints
// added, removed or reordered) bump ShapeGen and invalidate the estimate.
// Object changes (an existing constraint switching between its pushed and
// original form) bump ObjectGen and invalidate the plan only. Value-only
// changes bump ValueGen, which asks for a cheap plan refresh.
type List struct {
	items  []*Constraint
	vector *Vector
	limit  int

	shapeGen  uint64
	objectGen uint64
	valueGen  uint64

	filter bool
}

func NewList(limit int) *List {
	if limit <= 0 {
		limit = DefaultMaxConstraints
	}
	return &List{limit: limit}
}

// Add appends c. The list refuses to grow past its bound.
func (l *List) Add(c *Constraint) error {
	if len(l.items) >= l.limit {
		return errors.Wrapf(ErrTooManyConstraints, "limit %d", l.limit)
	}
	l.items = append(l.items, c)
	if c.Weakened || !c.Pushdown {
		l.filter = true
	}
	l.BumpShape()
	return nil
}

// Truncate drops every constraint from position n on.
func (l *List) Truncate(n int) {
	if n >= len(l.items) {
		return
	}
	l.items = l.items[:n]
	l.recomputeFilter()
	l.BumpShape()
}

// SetVector installs the vector constraint. Only one may be active.
func (l *List) SetVector(v *Vector) error {
	if l.vector != nil {
		return errors.Wrap(ErrVectorConstraint, "a vector constraint is already set")
	}
	l.vector = v
	l.BumpShape()
	return nil
}

// Clear removes every constraint and the vector constraint.
func (l *List) Clear() {
	l.items = l.items[:0]
	l.vector = nil
	l.filter = false
	l.BumpShape()
}

func (l *List) Len() int { return len(l.items) }
func (l *List) At(i int) *Constraint { return l.items[i] }
func (l *List) Items() []*Constraint { return l.items }
func (l *List) Vector() *Vector { return l.vector }
func (l *List) Limit() int { return l.limit }
func (l *List) ShapeGen() uint64 { return l.shapeGen }
func (l *List) ObjectGen() uint64 { return l.objectGen }
func (l *List) ValueGen() uint64 { return l.valueGen }
func (l *List) NeedsFilter() bool { return l.filter }
func (l *List) SetNeedsFilter(on bool) { l.filter = on }

func (l *List) BumpShape() {
	l.shapeGen++
	l.objectGen++
	l.valueGen++
}

func (l *List) BumpObject() {
	l.objectGen++
	l.valueGen++
}

func (l *List) BumpValue() {
	l.valueGen++
}

func (l *List) recomputeFilter() {
	l.filter = false
	for _, c := range l.items {
		if c.Weakened || !c.Pushdown {
			l.filter = true
		}
	}
}

// HasUnbound reports whether any constraint still carries an
// estimation-only value.
func (l *List) HasUnbound() bool {
	for _, c := range l.items {
		if !c.OrigOp.Unary() && c.OrigValue.IsUnknown() {
			return true
		}
	}
	if l.vector != nil {
		for _, v := range l.vector.Values {
			if v.IsUnknown() {
				return true
			}
		}
	}
	return false
}

// AlwaysFalse reports whether some constraint can never be satisfied.
func (l *List) AlwaysFalse() bool {
	for _, c := range l.items {
		if c.AlwaysFalse {
			return true
		}
	}
	return false
}

// Satisfied evaluates every constraint in its original, untruncated form.
func (l *List) Satisfied(get Getter) bool {
	for _, c := range l.items {
		if !c.Matches(get(c.Column)) {
			return false
		}
	}
	if l.vector != nil && !l.vector.Matches(get) {
		return false
	}
	return true
}

// OnColumn returns the constraints restricting col.
func (l *List) OnColumn(col int) []*Constraint {
	var out []*Constraint
	for _, c := range l.items {
		if c.Column == col {
			out = append(out, c)
		}
	}
	return out
}

func (l *List) String() string {
	parts := make([]string, 0, len(l.items)+1)
	for _, c := range l.items {
		parts = append(parts, c.String())
	}
	if l.vector != nil {
		parts = append(parts, l.vector.String())
	}
	return strings.Join(parts, " AND ")
}
