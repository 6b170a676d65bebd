package transaction

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/record"
)

var ErrLockDoNotExist = errors.New("lock does not exist")

// Resource names one lockable tuple.
type Resource struct {
	Rel int
	Ref record.TupleRef
}

func (r Resource) String() string {
	return fmt.Sprintf("rel%d/%s", r.Rel, r.Ref)
}

// LockTable grants shared and exclusive tuple locks without ever blocking.
// A refused request is reported to the caller, which suspends and waits on
// the channel returned by Wait before retrying.
type LockTable struct {
	locks   map[Resource]int // -1 exclusive, >0 number of shared holders
	mu      sync.Mutex
	waiters map[Resource]chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{
		locks:   make(map[Resource]int),
		waiters: make(map[Resource]chan struct{}),
	}
}

func (lt *LockTable) trySLock(r Resource) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.locks[r] == -1 {
		logging.Get().Debug("shared lock refused", "resource", r.String())
		return false
	}
	lt.locks[r]++
	return true
}

func (lt *LockTable) tryXLock(r Resource) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.locks[r] != 0 {
		logging.Get().Debug("exclusive lock refused", "resource", r.String(), "holders", lt.locks[r])
		return false
	}
	lt.locks[r] = -1
	return true
}

// tryUpgrade turns the caller's shared lock into an exclusive one if no one
// else shares it.
func (lt *LockTable) tryUpgrade(r Resource) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.locks[r] != 1 {
		return false
	}
	lt.locks[r] = -1
	return true
}

func (lt *LockTable) unlock(r Resource) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	val, exists := lt.locks[r]
	if !exists {
		return ErrLockDoNotExist
	}
	switch {
	case val == -1:
		delete(lt.locks, r)
	case val > 0:
		lt.locks[r]--
		if lt.locks[r] > 0 {
			return nil
		}
		delete(lt.locks, r)
	default:
		return ErrLockDoNotExist
	}

	// Wake everyone waiting on this tuple.
	if waiter, exists := lt.waiters[r]; exists {
		close(waiter)
		delete(lt.waiters, r)
	}
	return nil
}

// Wait returns a channel closed the next time r is fully released.
func (lt *LockTable) Wait(r Resource) <-chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.locks[r] == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if lt.waiters[r] == nil {
		lt.waiters[r] = make(chan struct{})
	}
	return lt.waiters[r]
}

// HasXLock returns true if the tuple has an exclusive lock
func (lt *LockTable) HasXLock(r Resource) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.locks[r] == -1
}

// HasSLock returns true if the tuple has one or more shared locks
func (lt *LockTable) HasSLock(r Resource) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.locks[r] > 0
}
