package query

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/types"
)

// Vector is a lexicographic inequality over several columns, such as
// (a, b) > (1, 'x').
type Vector struct {
	Columns []int
	Op      Operator
	Values  []types.Value
}

// NewVector validates the operand arrays. Only <, >, <= and >= form a
// lexicographic bound.
func NewVector(cols []int, op Operator, vals []types.Value) (*Vector, error) {
	if len(cols) == 0 || len(cols) != len(vals) {
		return nil, errors.Wrapf(ErrVectorConstraint, "%d columns, %d values", len(cols), len(vals))
	}
	if !op.IsRange() {
		return nil, errors.Wrapf(ErrVectorConstraint, "operator %s", op)
	}
	v := &Vector{
		Columns: append([]int(nil), cols...),
		Op:      op,
		Values:  make([]types.Value, len(vals)),
	}
	for i, val := range vals {
		v.Values[i] = types.Clone(val)
	}
	return v, nil
}

// Compare orders the row's column values against the operand tuple. The
// second result is false when a NULL makes the comparison unknown.
func (v *Vector) Compare(get Getter) (int, bool) {
	for i, col := range v.Columns {
		x := get(col)
		if x.IsNull() || v.Values[i].IsNull() {
			return 0, false
		}
		if cmp := types.Compare(x, v.Values[i]); cmp != 0 {
			return cmp, true
		}
	}
	return 0, true
}

// Matches reports whether the row satisfies the inequality.
func (v *Vector) Matches(get Getter) bool {
	cmp, ok := v.Compare(get)
	return ok && cmpResult(v.Op, cmp)
}

// Leads reports whether the vector columns are a prefix of cols.
func (v *Vector) Leads(cols []int) bool {
	if len(cols) < len(v.Columns) {
		return false
	}
	for i, c := range v.Columns {
		if cols[i] != c {
			return false
		}
	}
	return true
}

func (v *Vector) String() string {
	cols := make([]string, len(v.Columns))
	vals := make([]string, len(v.Values))
	for i := range v.Columns {
		cols[i] = fmt.Sprintf("#%d", v.Columns[i])
		vals[i] = v.Values[i].String()
	}
	return fmt.Sprintf("(%s) %s (%s)", strings.Join(cols, ", "), v.Op, strings.Join(vals, ", "))
}
