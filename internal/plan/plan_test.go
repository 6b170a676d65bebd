package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/types"
)

// items(id PK clustering, cat, name) with an ascending secondary key on cat.
func itemsRelation(t *testing.T, rows int64) *metadata.Relation {
	b := metadata.NewRelationBuilder("items")
	id := b.Column(record.Column{Name: "id", Kind: types.KindInt, NotNull: true})
	cat := b.Column(record.Column{Name: "cat", Kind: types.KindInt})
	b.Column(record.Column{Name: "name", Kind: types.KindString, Length: 32})
	b.Key(&metadata.Key{Name: "pk", Parts: []metadata.KeyPart{{Column: id}}, Unique: true, Clustering: true, Primary: true})
	b.Key(&metadata.Key{Name: "by_cat", Parts: []metadata.KeyPart{{Column: cat}}})
	rel, err := b.Build()
	require.NoError(t, err)
	rel.Stats.AddRecords(rows)
	rel.Stats.SetDistinct(cat, 10)
	return rel
}

func eq(col int, v types.Value) *query.Constraint {
	return query.NewConstraint(col, query.OpEqual, v, types.NoEscape, false)
}

func TestCostEstimatorPicksEqualityKey(t *testing.T) {
	rel := itemsRelation(t, 1000)
	cons := query.NewList(0)
	require.NoError(t, cons.Add(eq(1, types.NewInt(3))))

	est, err := NewCostEstimator().Estimate(context.Background(), &Request{Relation: rel, Constraints: cons})
	require.NoError(t, err)
	assert.Equal(t, "by_cat", est.Key.Name)
	assert.Equal(t, int64(100), est.Rows)
	assert.Equal(t, RowsApprox, est.RowsKind)
	assert.Equal(t, cons.ShapeGen(), est.ShapeGen)
	assert.False(t, est.Unique)
}

func TestCostEstimatorUniqueAndExact(t *testing.T) {
	rel := itemsRelation(t, 1000)
	cons := query.NewList(0)
	require.NoError(t, cons.Add(eq(0, types.NewInt(7))))
	est, err := NewCostEstimator().Estimate(context.Background(), &Request{Relation: rel, Constraints: cons})
	require.NoError(t, err)
	assert.Equal(t, "pk", est.Key.Name)
	assert.True(t, est.Unique)
	assert.Equal(t, int64(1), est.Rows)
	assert.Equal(t, RowsExact, est.RowsKind)

	est, err = NewCostEstimator().Estimate(context.Background(), &Request{Relation: rel, Constraints: query.NewList(0)})
	require.NoError(t, err)
	assert.Equal(t, RowsExact, est.RowsKind)
	assert.Equal(t, int64(1000), est.Rows)
	assert.Less(t, est.C0, est.C1)
}

func TestCostEstimatorOrdering(t *testing.T) {
	rel := itemsRelation(t, 1000)
	est := NewCostEstimator()

	order := query.NewOrderBy()
	order.Add(1, true)
	order.Add(0, true)
	e, err := est.Estimate(context.Background(), &Request{Relation: rel, Constraints: query.NewList(0), OrderBy: order})
	require.NoError(t, err)
	assert.Equal(t, "by_cat", e.Key.Name)
	// by_cat entries tie-break on tuple order, not on id.
	assert.Equal(t, 1, e.Solved)

	desc := query.NewOrderBy()
	desc.Add(1, false)
	e, err = est.Estimate(context.Background(), &Request{Relation: rel, Constraints: query.NewList(0), OrderBy: desc})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Solved)

	// With cat fixed by an equality, the pk walk delivers (cat, id).
	cons := query.NewList(0)
	require.NoError(t, cons.Add(eq(1, types.NewInt(2))))
	e, err = est.Estimate(context.Background(), &Request{Relation: rel, Constraints: cons, OrderBy: order, Hint: Hint{Key: rel.KeyByName("pk")}})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Solved)
}

func TestOrderingMatchUniqueKey(t *testing.T) {
	key := &metadata.Key{Parts: []metadata.KeyPart{{Column: 0}}, Unique: true}
	order := query.NewOrderBy()
	order.Add(0, true)
	order.Add(2, false)
	assert.Equal(t, 2, orderingMatch(order, key, map[int]bool{}, false))

	nonUnique := &metadata.Key{Parts: []metadata.KeyPart{{Column: 0}}}
	assert.Equal(t, 1, orderingMatch(order, nonUnique, map[int]bool{}, false))

	refOrder := query.NewOrderBy()
	refOrder.Add(query.RefColumn, true)
	assert.Equal(t, 1, orderingMatch(refOrder, nil, map[int]bool{}, false))
}

func TestEstimateDistinct(t *testing.T) {
	rel := itemsRelation(t, 1000)
	e, err := NewCostEstimator().Estimate(context.Background(), &Request{Relation: rel, Constraints: query.NewList(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Distinct([]int{1}))
	assert.Equal(t, int64(1000), e.Distinct([]int{query.RefColumn}))
	assert.Equal(t, int64(1000), e.Distinct([]int{1, 0}))
}

func TestRangeBuilderAndRefresh(t *testing.T) {
	rel := itemsRelation(t, 100)
	cons := query.NewList(0)
	c := eq(1, types.NewInt(3))
	require.NoError(t, cons.Add(c))
	require.NoError(t, cons.Add(query.NewConstraint(0, query.OpGreater, types.NewInt(10), types.NoEscape, false)))

	e, err := NewCostEstimator().Estimate(context.Background(), &Request{Relation: rel, Constraints: cons})
	require.NoError(t, err)
	p, err := RangeBuilder{}.Build(e, cons)
	require.NoError(t, err)
	assert.True(t, p.Consistent)
	assert.Len(t, p.Filters, 2)
	assert.Equal(t, cons.ObjectGen(), p.ObjectGen)
	if p.Key.Name == "by_cat" {
		require.Len(t, p.Eq, 1)
		assert.Equal(t, int64(3), p.EqValues()[0].AsInt())
	}

	require.NoError(t, cons.Add(query.NewConstraint(0, query.OpLess, types.NewInt(5), types.NoEscape, false)))
	p.Refresh()
	assert.False(t, p.Consistent)
}

func TestConsistent(t *testing.T) {
	build := func(cs ...*query.Constraint) *query.List {
		l := query.NewList(0)
		for _, c := range cs {
			require.NoError(t, l.Add(c))
		}
		return l
	}
	cons := func(col int, op query.Operator, v types.Value) *query.Constraint {
		return query.NewConstraint(col, op, v, types.NoEscape, false)
	}

	assert.True(t, consistent(build(cons(0, query.OpGreaterEqual, types.NewInt(1)), cons(0, query.OpLessEqual, types.NewInt(1)))))
	assert.False(t, consistent(build(cons(0, query.OpGreater, types.NewInt(1)), cons(0, query.OpLessEqual, types.NewInt(1)))))
	assert.False(t, consistent(build(eq(0, types.NewInt(1)), eq(0, types.NewInt(2)))))
	assert.False(t, consistent(build(eq(0, types.NewInt(5)), cons(0, query.OpLess, types.NewInt(5)))))
	assert.False(t, consistent(build(cons(0, query.OpIsNull, types.Null()), eq(0, types.NewInt(1)))))
	assert.True(t, consistent(build(eq(0, types.Unknown(types.KindInt)), eq(0, types.NewInt(2)))))

	af := eq(1, types.NewInt(1))
	af.AlwaysFalse = true
	l := build(af)
	assert.False(t, consistent(l))
	p := &Plan{all: l, Consistent: true}
	p.Refresh()
	assert.False(t, p.Consistent)
}
