package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/record"
)

func TestConcurrencyManager_LockingAndUpgrade(t *testing.T) {
	lockTable := NewLockTable()
	cm1 := NewConcurrencyManager(lockTable)
	cm2 := NewConcurrencyManager(lockTable)
	r := Resource{Rel: 3, Ref: record.NewTupleRef(9)}

	// Shared locks are idempotent and compatible
	assert.True(t, cm1.trySLock(r))
	assert.True(t, cm1.trySLock(r))
	assert.True(t, cm2.trySLock(r))

	// Neither can upgrade while the other shares
	assert.False(t, cm2.tryXLock(r))
	assert.Equal(t, "S", cm2.holds(r))

	require.NoError(t, cm1.release())
	assert.True(t, cm2.tryXLock(r))
	assert.Equal(t, "X", cm2.holds(r))
	assert.False(t, cm1.trySLock(r))

	require.NoError(t, cm2.release())
	assert.True(t, cm1.tryXLock(r))
	assert.Empty(t, cm2.holds(r))
}
