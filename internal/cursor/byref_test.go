package cursor

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

func TestUpdateByRef(t *testing.T) {
	f := newFixture(t)
	refs := f.seed(t, 3)
	ctx := context.Background()

	c := f.cursor(t, f.tx(), IntentRead)
	require.NoError(t, c.Open(ctx))
	require.NotNil(t, next(t, c))

	other := f.tx()
	res, err := c.UpdateByRef(ctx, other, refs[1], assign(f.items, map[int]types.Value{colName: types.NewString("byref")}))
	require.NoError(t, err)
	assert.Equal(t, MutationSuccess, res)
	// The interrupted fetch position is restored.
	assert.Equal(t, StateRow, c.State())
	require.NoError(t, other.Commit())

	row := next(t, c)
	require.NotNil(t, row)
	assert.Equal(t, int64(2), value(t, row, colID).AsInt())
	assert.Equal(t, "byref", value(t, row, colName).AsString())
}

func TestDeleteByRef(t *testing.T) {
	f := newFixture(t)
	refs := f.seed(t, 3)
	ctx := context.Background()

	tx := f.tx()
	c := f.cursor(t, tx, IntentRead)
	res, err := c.DeleteByRef(ctx, nil, refs[2])
	require.NoError(t, err)
	assert.Equal(t, MutationSuccess, res)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 2, f.store.Len(f.items))

	res, err = c.DeleteByRef(ctx, nil, record.NewTupleRef(999))
	assert.Equal(t, MutationError, res)
	assert.True(t, errors.Is(err, ErrNoCurrentRow))
	assert.Equal(t, StateClosed, c.State())
	require.NoError(t, tx.Commit())

	res, err = c.DeleteByRef(ctx, nil, refs[0])
	assert.Equal(t, MutationError, res)
	assert.True(t, errors.Is(err, ErrTxNotActive))
}

func TestByRefSuspendsOnLock(t *testing.T) {
	f := newFixture(t)
	refs := f.seed(t, 2)
	ctx := context.Background()

	holder := f.tx()
	require.True(t, holder.TryXLock(transaction.Resource{Rel: f.items.ID, Ref: refs[0]}))

	c := f.cursor(t, f.tx(), IntentRead)
	res, err := c.DeleteByRef(ctx, nil, refs[0])
	require.NoError(t, err)
	assert.Equal(t, MutationContinue, res)
	assert.Equal(t, StateSADelete, c.State())

	_, out, err := c.Next(ctx)
	assert.Equal(t, Failed, out)
	assert.True(t, errors.Is(err, ErrMutationMode))

	require.NoError(t, holder.Commit())
	res, err = c.DeleteByRef(ctx, nil, refs[0])
	require.NoError(t, err)
	assert.Equal(t, MutationSuccess, res)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, f.store.Len(f.items))
}

func TestByRefOnSubqueryCursor(t *testing.T) {
	f := newFixture(t)
	refs := f.seed(t, 1)
	ctx := context.Background()

	c, err := New(ctx, f.env, f.items, f.tx(), IntentUpdate, true)
	require.NoError(t, err)
	res, err := c.DeleteByRef(ctx, nil, refs[0])
	assert.Equal(t, MutationError, res)
	assert.True(t, errors.Is(err, ErrMutationMode))
	assert.Equal(t, 1, f.store.Len(f.items))
}
