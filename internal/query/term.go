package query

import (
	"fmt"

	"github.com/yashagw/cranecursor/internal/types"
)

// Operator is a relational comparison operator.
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual
	OpLike
	OpIsNull
	OpIsNotNull
	// OpPrefix matches values whose comparable bytes start with the operand.
	// It only appears as the access-method form of a truncated equality.
	OpPrefix
)

func (op Operator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpLess:
		return "<"
	case OpGreater:
		return ">"
	case OpLessEqual:
		return "<="
	case OpGreaterEqual:
		return ">="
	case OpLike:
		return "LIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpPrefix:
		return "PREFIX"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// IsRange reports whether op is one of <, >, <=, >=.
func (op Operator) IsRange() bool {
	return op >= OpLess && op <= OpGreaterEqual
}

// Unary reports whether op takes no operand.
func (op Operator) Unary() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// Constraint restricts one physical column to values satisfying Op against
// Value. When the literal had to be weakened for the access method (see
// Weaken), Orig keeps the caller's exact form for post-filtering.
type Constraint struct {
	Column int
	Op     Operator
	Value  types.Value
	Escape rune

	// Aliased is set when Value shares storage with the caller.
	Aliased bool
	// AlwaysFalse marks a constraint no row can satisfy.
	AlwaysFalse bool
	// Pushdown is false when the access method cannot evaluate the
	// constraint and it is applied by post-filtering only.
	Pushdown bool
	// Weakened is set when Op/Value were relaxed into a superset of Orig.
	Weakened bool
	// Source is the caller-level column when the constraint was derived
	// from a pseudo column, else -1.
	Source int

	OrigOp    Operator
	OrigValue types.Value
}

// NewConstraint creates a constraint on col. Unless aliased, the value is
// copied.
func NewConstraint(col int, op Operator, val types.Value, escape rune, aliased bool) *Constraint {
	if !aliased {
		val = types.Clone(val)
	}
	return &Constraint{
		Column:    col,
		Op:        op,
		Value:     val,
		Escape:    escape,
		Aliased:   aliased,
		Pushdown:  true,
		Source:    -1,
		OrigOp:    op,
		OrigValue: val,
	}
}

// SetValue replaces the literal without changing the constraint's shape.
func (c *Constraint) SetValue(val types.Value) {
	if !c.Aliased {
		val = types.Clone(val)
	}
	c.Value = val
	c.OrigValue = val
	c.Op = c.OrigOp
	c.Weakened = false
	c.Pushdown = true
	c.AlwaysFalse = false
}

// SameShape reports whether the constraint restricts the same column with the same
// operator and value kind.
func (c *Constraint) SameShape(col int, op Operator, kind types.Kind) bool {
	return c.Column == col && c.OrigOp == op && c.OrigValue.Kind() == kind
}

// Weaken rewrites the constraint so that an access method comparing at most
// maxLen bytes returns a superset of the matching rows. It reports whether
// the value had to be truncated.
func (c *Constraint) Weaken(maxLen int) bool {
	if c.OrigOp.Unary() || c.OrigValue.IsUnknown() || !Truncatable(c.OrigValue) || c.OrigValue.CmpLen() <= maxLen {
		return false
	}
	trunc, _ := types.Truncate(c.OrigValue, maxLen)
	c.Weakened = true
	switch c.OrigOp {
	case OpEqual:
		c.Op, c.Value = OpPrefix, trunc
	case OpLess, OpLessEqual:
		c.Op, c.Value = OpLessEqual, types.PadMax(trunc, maxLen)
	case OpGreater, OpGreaterEqual:
		c.Op, c.Value = OpGreaterEqual, trunc
	default:
		// LIKE and <> cannot be narrowed safely on a prefix.
		c.Pushdown = false
	}
	return true
}

// Truncatable reports whether v is compared on a byte prefix by an access
// method. Numbers are always compared in full.
func Truncatable(v types.Value) bool {
	switch v.Kind() {
	case types.KindString, types.KindBytes, types.KindBlob:
		return true
	}
	return false
}

// Matches evaluates the caller's original constraint against a full column
// value. NULL satisfies only IS NULL.
func (c *Constraint) Matches(v types.Value) bool {
	if c.AlwaysFalse {
		return false
	}
	return eval(c.OrigOp, v, c.OrigValue, c.Escape)
}

// MatchesPushed evaluates the access-method form of the constraint. A
// weakened constraint looks at no more than maxLen comparable bytes of the
// value and so may accept rows the original form rejects.
func (c *Constraint) MatchesPushed(v types.Value, maxLen int) bool {
	if c.AlwaysFalse {
		return false
	}
	if !c.Pushdown {
		return true
	}
	if !c.Weakened {
		return eval(c.Op, v, c.Value, c.Escape)
	}
	switch c.Op {
	case OpPrefix:
		return types.HasPrefix(v, c.Value)
	case OpIsNull, OpIsNotNull, OpLike:
		return eval(c.Op, v, c.Value, c.Escape)
	}
	if v.IsNull() {
		return false
	}
	return cmpResult(c.Op, types.ComparePrefix(v, c.Value, maxLen))
}

func (c *Constraint) String() string {
	if c.OrigOp.Unary() {
		return fmt.Sprintf("#%d %s", c.Column, c.OrigOp)
	}
	return fmt.Sprintf("#%d %s %s", c.Column, c.OrigOp, c.OrigValue)
}

func eval(op Operator, v, operand types.Value, escape rune) bool {
	switch op {
	case OpIsNull:
		return v.IsNull()
	case OpIsNotNull:
		return !v.IsNull()
	}
	if v.IsNull() || operand.IsNull() {
		return false
	}
	switch op {
	case OpLike:
		return types.Like(string(v.CmpBytes()), string(operand.CmpBytes()), escape)
	case OpPrefix:
		return types.HasPrefix(v, operand)
	}
	return cmpResult(op, types.Compare(v, operand))
}

func cmpResult(op Operator, cmp int) bool {
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpLess:
		return cmp < 0
	case OpGreater:
		return cmp > 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}
