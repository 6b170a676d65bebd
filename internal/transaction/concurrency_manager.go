package transaction

import (
	"sync"
)

// Each Transaction has a ConcurrencyManager
// All Concurrency Managers share a single LockTable
type ConcurrencyManager struct {
	lockTable *LockTable
	locks     map[Resource]string // "S" for shared, "X" for exclusive
	mu        sync.Mutex
}

func NewConcurrencyManager(lockTable *LockTable) *ConcurrencyManager {
	return &ConcurrencyManager{
		lockTable: lockTable,
		locks:     make(map[Resource]string),
	}
}

func (cm *ConcurrencyManager) trySLock(r Resource) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// We already have a lock on this tuple, nothing to do
	if _, exists := cm.locks[r]; exists {
		return true
	}
	if !cm.lockTable.trySLock(r) {
		return false
	}
	cm.locks[r] = "S"
	return true
}

func (cm *ConcurrencyManager) tryXLock(r Resource) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if lockType, exists := cm.locks[r]; exists {
		if lockType == "X" {
			return true
		}
		// Upgrade only while we are the sole shared holder.
		if !cm.lockTable.tryUpgrade(r) {
			return false
		}
		cm.locks[r] = "X"
		return true
	}

	if !cm.lockTable.tryXLock(r) {
		return false
	}
	cm.locks[r] = "X"
	return true
}

func (cm *ConcurrencyManager) holds(r Resource) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.locks[r]
}

func (cm *ConcurrencyManager) release() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for r := range cm.locks {
		if err := cm.lockTable.unlock(r); err != nil {
			return err
		}
	}
	cm.locks = make(map[Resource]string)
	return nil
}
