package action

import (
	"context"

	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/transaction"
)

// Result is the outcome of one resumable sub-operation.
type Result uint8

const (
	// Done means the sub-operation completed.
	Done Result = iota
	// Continue means it stopped on a lock and must be invoked again with the
	// same arguments and state.
	Continue
	// Fail means it refused; the accompanying error says why.
	Fail
)

func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case Continue:
		return "continue"
	}
	return "fail"
}

// Triggers runs row-level trigger bodies. newRow is nil for deletes.
type Triggers interface {
	Fire(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, kind metadata.TriggerKind, old, newRow *record.Tuple) (Result, error)
}

// CascadeState is the progress of one referential action. The driver keeps
// one per referencing key and hands it back unchanged on every retry.
type CascadeState struct {
	Started bool
	// Pending holds dependent tuples still to be acted on.
	Pending []record.TupleRef
	// Done counts dependent tuples already handled.
	Done int
}

// Cascader checks or propagates a mutation through one referencing key.
// newRow is nil for deletes.
type Cascader interface {
	Apply(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, key *metadata.ReferencingKey, ev metadata.Event, old, newRow *record.Tuple, state *CascadeState) (Result, error)
}

// HistoryState is the progress of one history capture.
type HistoryState struct {
	Captured bool
	Version  uint64
}

// History records the pre-image of a row before it is changed.
type History interface {
	Capture(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, old *record.Tuple, state *HistoryState) (Result, error)
}

// TriggerFunc is a single trigger body.
type TriggerFunc func(ctx context.Context, tx *transaction.Transaction, old, newRow *record.Tuple) (Result, error)

// TriggerTable dispatches to trigger bodies registered per relation name and
// trigger slot. Slots without a body succeed.
type TriggerTable map[string]map[metadata.TriggerKind]TriggerFunc

var _ Triggers = TriggerTable(nil)

// Register adds the body for rel's kind slot.
func (t TriggerTable) Register(rel string, kind metadata.TriggerKind, fn TriggerFunc) {
	if t[rel] == nil {
		t[rel] = make(map[metadata.TriggerKind]TriggerFunc)
	}
	t[rel][kind] = fn
}

func (t TriggerTable) Fire(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, kind metadata.TriggerKind, old, newRow *record.Tuple) (Result, error) {
	fn := t[rel.Name][kind]
	if fn == nil {
		return Done, nil
	}
	return fn(ctx, tx, old, newRow)
}
