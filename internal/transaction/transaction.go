package transaction

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/logging"
)

var (
	txNumMutex sync.Mutex
	nextTxNum  int64 = 1
)

// getNextTxNum returns a unique transaction number using a global mutex
func getNextTxNum() int64 {
	txNumMutex.Lock()
	defer txNumMutex.Unlock()
	txNum := nextTxNum
	nextTxNum++
	return txNum
}

var ErrNotActive = errors.New("transaction is not active")

// Transaction groups changes that commit or roll back together. Changes are
// applied in place and undone from an in-memory undo log. Statements nest
// inside the transaction: a statement marks the undo log so that its own
// changes can be discarded without touching the rest.
type Transaction struct {
	concurrencyManager *ConcurrencyManager
	lockTable          *LockTable

	txNum int64

	mu      sync.Mutex
	active  bool
	undo    []func()
	marks   []int
	blocked *Resource
}

// NewTransaction creates a new transaction
func NewTransaction(lockTable *LockTable) *Transaction {
	return &Transaction{
		concurrencyManager: NewConcurrencyManager(lockTable),
		lockTable:          lockTable,
		txNum:              getNextTxNum(),
		active:             true,
	}
}

func (t *Transaction) ID() int64 {
	return t.txNum
}

func (t *Transaction) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// AddUndo records how to revert a change just made.
func (t *Transaction) AddUndo(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

func (t *Transaction) Commit() error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return ErrNotActive
	}
	t.active = false
	t.undo = nil
	t.marks = nil
	t.mu.Unlock()

	logging.WithTx(t.txNum).Debug("transaction committed")
	return t.concurrencyManager.release()
}

func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return ErrNotActive
	}
	t.active = false
	undo := t.undo
	t.undo = nil
	t.marks = nil
	t.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	logging.WithTx(t.txNum).Debug("transaction rolled back", "undone", len(undo))
	return t.concurrencyManager.release()
}

// BeginStatement opens a nested statement.
func (t *Transaction) BeginStatement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks = append(t.marks, len(t.undo))
}

// CommitStatement closes the innermost statement, keeping its changes in
// the enclosing transaction.
func (t *Transaction) CommitStatement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.marks) > 0 {
		t.marks = t.marks[:len(t.marks)-1]
	}
}

// RollbackStatement undoes the changes of the innermost statement.
func (t *Transaction) RollbackStatement() {
	t.mu.Lock()
	if len(t.marks) == 0 {
		t.mu.Unlock()
		return
	}
	mark := t.marks[len(t.marks)-1]
	t.marks = t.marks[:len(t.marks)-1]
	undo := append([]func(){}, t.undo[mark:]...)
	t.undo = t.undo[:mark]
	t.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// StatementDepth is the number of open statements.
func (t *Transaction) StatementDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks)
}

// TrySLock takes a shared lock on r, reporting false on conflict.
func (t *Transaction) TrySLock(r Resource) bool {
	return t.noteRefusal(r, t.concurrencyManager.trySLock(r))
}

// TryXLock takes or upgrades to an exclusive lock on r, reporting false on
// conflict.
func (t *Transaction) TryXLock(r Resource) bool {
	return t.noteRefusal(r, t.concurrencyManager.tryXLock(r))
}

func (t *Transaction) noteRefusal(r Resource, granted bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if granted {
		t.blocked = nil
	} else {
		t.blocked = &r
	}
	return granted
}

// Blocked returns the resource refused by the latest lock request, if that
// request failed.
func (t *Transaction) Blocked() (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blocked == nil {
		return Resource{}, false
	}
	return *t.blocked, true
}

// WaitBlocked returns a channel closed once the resource refused by the
// latest lock request is released. Without a refusal it is already closed.
func (t *Transaction) WaitBlocked() <-chan struct{} {
	r, ok := t.Blocked()
	if !ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.lockTable.Wait(r)
}

// HoldsXLock reports whether this transaction holds r exclusively.
func (t *Transaction) HoldsXLock(r Resource) bool {
	return t.concurrencyManager.holds(r) == "X"
}
