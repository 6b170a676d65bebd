package query

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/types"
)

func row(vals ...types.Value) Getter {
	return func(col int) types.Value {
		if col < 0 || col >= len(vals) {
			return types.Null()
		}
		return vals[col]
	}
}

func TestConstraintMatches(t *testing.T) {
	eq := NewConstraint(0, OpEqual, types.NewInt(5), types.NoEscape, false)
	assert.True(t, eq.Matches(types.NewInt(5)))
	assert.False(t, eq.Matches(types.NewInt(6)))
	assert.False(t, eq.Matches(types.Null()))

	isNull := NewConstraint(0, OpIsNull, types.Null(), types.NoEscape, false)
	assert.True(t, isNull.Matches(types.Null()))
	assert.False(t, isNull.Matches(types.NewInt(1)))

	like := NewConstraint(0, OpLike, types.NewString("ab%"), types.NoEscape, false)
	assert.True(t, like.Matches(types.NewString("abc")))
	assert.False(t, like.Matches(types.NewString("xab")))

	ne := NewConstraint(0, OpNotEqual, types.NewString("a"), types.NoEscape, false)
	assert.True(t, ne.Matches(types.NewString("b")))
	assert.False(t, ne.Matches(types.Null()))

	eq.AlwaysFalse = true
	assert.False(t, eq.Matches(types.NewInt(5)))
}

func TestConstraintWeaken(t *testing.T) {
	long := types.NewString("abcdefgh")

	eq := NewConstraint(0, OpEqual, long, types.NoEscape, false)
	require.True(t, eq.Weaken(4))
	assert.Equal(t, OpPrefix, eq.Op)
	assert.Equal(t, "abcd", eq.Value.AsString())
	assert.True(t, eq.MatchesPushed(types.NewString("abcdzzzz"), 4))
	assert.False(t, eq.MatchesPushed(types.NewString("abcz"), 4))
	assert.False(t, eq.Matches(types.NewString("abcdzzzz")))
	assert.True(t, eq.Matches(long))

	lt := NewConstraint(0, OpLess, long, types.NoEscape, false)
	require.True(t, lt.Weaken(4))
	assert.Equal(t, OpLessEqual, lt.Op)
	assert.True(t, lt.MatchesPushed(types.NewString("abcdzz"), 4))
	assert.False(t, lt.Matches(types.NewString("abcdzz")))

	gt := NewConstraint(0, OpGreater, long, types.NoEscape, false)
	require.True(t, gt.Weaken(4))
	assert.Equal(t, OpGreaterEqual, gt.Op)
	assert.True(t, gt.MatchesPushed(types.NewString("abcd"), 4))
	assert.False(t, gt.Matches(types.NewString("abcd")))

	like := NewConstraint(0, OpLike, types.NewString("abcdefg%"), types.NoEscape, false)
	require.True(t, like.Weaken(4))
	assert.False(t, like.Pushdown)
	assert.True(t, like.MatchesPushed(types.NewString("zzz"), 4))

	short := NewConstraint(0, OpEqual, types.NewString("ab"), types.NoEscape, false)
	assert.False(t, short.Weaken(4))
	assert.Equal(t, OpEqual, short.Op)

	short.SetValue(long)
	assert.Equal(t, OpEqual, short.Op)
	assert.False(t, short.Weakened)

	num := NewConstraint(0, OpLess, types.NewInt(1<<40), types.NoEscape, false)
	assert.False(t, num.Weaken(4))
	assert.Equal(t, OpLess, num.Op)
}

func TestConstraintCopiesValue(t *testing.T) {
	buf := []byte("abc")
	owned := NewConstraint(0, OpEqual, types.NewBytes(buf), types.NoEscape, false)
	aliased := NewConstraint(0, OpEqual, types.NewBytes(buf), types.NoEscape, true)
	buf[0] = 'x'
	assert.Equal(t, []byte("abc"), owned.Value.AsBytes())
	assert.Equal(t, []byte("xbc"), aliased.Value.AsBytes())
}

func TestList(t *testing.T) {
	l := NewList(2)
	shape := l.ShapeGen()
	require.NoError(t, l.Add(NewConstraint(0, OpGreater, types.NewInt(1), types.NoEscape, false)))
	assert.Greater(t, l.ShapeGen(), shape)
	require.NoError(t, l.Add(NewConstraint(1, OpEqual, types.NewString("a"), types.NoEscape, false)))
	err := l.Add(NewConstraint(1, OpEqual, types.NewString("b"), types.NoEscape, false))
	assert.True(t, errors.Is(err, ErrTooManyConstraints))

	assert.True(t, l.Satisfied(row(types.NewInt(2), types.NewString("a"))))
	assert.False(t, l.Satisfied(row(types.NewInt(1), types.NewString("a"))))
	assert.Len(t, l.OnColumn(1), 1)
	assert.False(t, l.NeedsFilter())

	shape, obj, val := l.ShapeGen(), l.ObjectGen(), l.ValueGen()
	l.BumpValue()
	assert.Equal(t, shape, l.ShapeGen())
	assert.Equal(t, obj, l.ObjectGen())
	assert.Greater(t, l.ValueGen(), val)
	l.BumpObject()
	assert.Equal(t, shape, l.ShapeGen())
	assert.Greater(t, l.ObjectGen(), obj)

	l.Truncate(1)
	assert.Equal(t, 1, l.Len())
	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestListUnboundAndFilter(t *testing.T) {
	l := NewList(0)
	assert.Equal(t, DefaultMaxConstraints, l.Limit())
	require.NoError(t, l.Add(NewConstraint(0, OpEqual, types.Unknown(types.KindInt), types.NoEscape, false)))
	assert.True(t, l.HasUnbound())

	c := NewConstraint(1, OpEqual, types.NewString("abcdefgh"), types.NoEscape, false)
	c.Weaken(4)
	require.NoError(t, l.Add(c))
	assert.True(t, l.NeedsFilter())
	l.Truncate(1)
	assert.False(t, l.NeedsFilter())
}

func TestVector(t *testing.T) {
	v, err := NewVector([]int{0, 1}, OpGreater, []types.Value{types.NewInt(1), types.NewString("m")})
	require.NoError(t, err)
	assert.True(t, v.Matches(row(types.NewInt(2), types.NewString("a"))))
	assert.True(t, v.Matches(row(types.NewInt(1), types.NewString("z"))))
	assert.False(t, v.Matches(row(types.NewInt(1), types.NewString("m"))))
	assert.False(t, v.Matches(row(types.NewInt(0), types.NewString("z"))))
	assert.False(t, v.Matches(row(types.Null(), types.NewString("z"))))
	assert.True(t, v.Leads([]int{0, 1, 2}))
	assert.False(t, v.Leads([]int{1, 0}))

	_, err = NewVector([]int{0}, OpEqual, []types.Value{types.NewInt(1)})
	assert.True(t, errors.Is(err, ErrVectorConstraint))
	_, err = NewVector([]int{0, 1}, OpLess, []types.Value{types.NewInt(1)})
	assert.Error(t, err)

	l := NewList(0)
	require.NoError(t, l.SetVector(v))
	assert.Error(t, l.SetVector(v))
	assert.False(t, l.Satisfied(row(types.NewInt(0), types.NewString("z"))))
}

func TestOrderBy(t *testing.T) {
	o := NewOrderBy()
	o.Add(0, false)
	o.Add(1, false)
	assert.True(t, o.AllDescending())
	r := o.Reversed()
	assert.False(t, r.AllDescending())
	assert.True(t, r.At(0).Ascending)
	assert.False(t, o.At(0).Ascending)

	o.MarkSolved(1)
	assert.Equal(t, 1, o.SolvedCount())
	o.MarkSolved(5)
	assert.Equal(t, 2, o.SolvedCount())
	assert.Equal(t, "#0 DESC, #1 DESC", o.String())

	assert.False(t, NewOrderBy().AllDescending())
}
