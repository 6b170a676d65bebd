package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/record"
)

func TestTransaction_UniqueNumbers(t *testing.T) {
	lockTable := NewLockTable()
	tx1 := NewTransaction(lockTable)
	tx2 := NewTransaction(lockTable)
	assert.NotEqual(t, tx1.ID(), tx2.ID())
	assert.Greater(t, tx1.ID(), int64(0))
	assert.True(t, tx1.Active())
}

func TestTransaction_RollbackRunsUndoInReverse(t *testing.T) {
	tx := NewTransaction(NewLockTable())
	var order []int
	tx.AddUndo(func() { order = append(order, 1) })
	tx.AddUndo(func() { order = append(order, 2) })
	require.NoError(t, tx.Rollback())
	assert.Equal(t, []int{2, 1}, order)
	assert.False(t, tx.Active())
	assert.ErrorIs(t, tx.Rollback(), ErrNotActive)
	assert.ErrorIs(t, tx.Commit(), ErrNotActive)
}

func TestTransaction_Statements(t *testing.T) {
	tx := NewTransaction(NewLockTable())
	var undone []string
	tx.AddUndo(func() { undone = append(undone, "outer") })

	tx.BeginStatement()
	tx.AddUndo(func() { undone = append(undone, "inner") })
	assert.Equal(t, 1, tx.StatementDepth())
	tx.RollbackStatement()
	assert.Equal(t, []string{"inner"}, undone)
	assert.Equal(t, 0, tx.StatementDepth())

	tx.BeginStatement()
	tx.AddUndo(func() { undone = append(undone, "kept") })
	tx.CommitStatement()
	require.NoError(t, tx.Rollback())
	assert.Equal(t, []string{"inner", "kept", "outer"}, undone)
}

func TestTransaction_CommitReleasesLocks(t *testing.T) {
	lockTable := NewLockTable()
	tx1 := NewTransaction(lockTable)
	tx2 := NewTransaction(lockTable)
	r := Resource{Rel: 1, Ref: record.NewTupleRef(4)}

	require.True(t, tx1.TryXLock(r))
	assert.True(t, tx1.HoldsXLock(r))
	assert.False(t, tx2.TrySLock(r))
	wait := lockTable.Wait(r)

	require.NoError(t, tx1.Commit())
	<-wait
	assert.True(t, tx2.TryXLock(r))
}

func TestTransaction_WaitBlocked(t *testing.T) {
	lockTable := NewLockTable()
	holder := NewTransaction(lockTable)
	tx := NewTransaction(lockTable)
	r := Resource{Rel: 1, Ref: record.NewTupleRef(7)}

	_, blocked := tx.Blocked()
	assert.False(t, blocked)
	<-tx.WaitBlocked()

	require.True(t, holder.TryXLock(r))
	require.False(t, tx.TrySLock(r))
	got, blocked := tx.Blocked()
	require.True(t, blocked)
	assert.Equal(t, r, got)

	wait := tx.WaitBlocked()
	select {
	case <-wait:
		t.Fatal("wait closed while the lock is held")
	default:
	}
	require.NoError(t, holder.Commit())
	<-wait

	require.True(t, tx.TrySLock(r))
	_, blocked = tx.Blocked()
	assert.False(t, blocked)
}
