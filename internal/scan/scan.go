package scan

import (
	"context"

	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/plan"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

// Status is the outcome of one access-method step.
type Status uint8

const (
	// Found means a qualifying tuple was produced.
	Found Status = iota
	// NotFound means the step made progress without producing a tuple.
	NotFound
	// Suspend means a lock held by another transaction stopped the step.
	// Repeating the step with relock set retries the same tuple.
	Suspend
	// End means the scan ran off the end in the stepping direction.
	End
	// Fatal means the access method failed; the error says why.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case Suspend:
		return "suspend"
	case End:
		return "end"
	case Fatal:
		return "fatal"
	}
	return "status?"
}

// Direction is the stepping direction of a handle.
type Direction int8

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Mode is the locking intent a handle is opened with.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeUpdate
	ModeDelete
)

func (m Mode) String() string {
	switch m {
	case ModeUpdate:
		return "update"
	case ModeDelete:
		return "delete"
	}
	return "read"
}

// AccessMethod is the storage and locking layer a cursor walks. Any call may
// report Suspend instead of blocking on a lock.
type AccessMethod interface {
	// MaxCmpLen is the number of leading bytes of a string or binary value
	// the access method compares.
	MaxCmpLen() int
	// MaxBlobCmpLen is how many bytes of a blob are loaded for comparisons.
	MaxBlobCmpLen() int
	// CanReverse reports whether handles can step backwards.
	CanReverse() bool

	// Open starts walking rel along p. A nil plan walks every tuple in
	// reference order. A reverse handle swaps the meaning of its directions.
	Open(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, p *plan.Plan, mode Mode, reverse bool) (Handle, error)

	// Update replaces the values of the tuple ref. changed flags the
	// physical columns that differ from the stored tuple.
	Update(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, ref record.TupleRef, values []types.Value, changed []bool) (Status, error)
	// Delete removes the tuple ref.
	Delete(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, ref record.TupleRef) (Status, error)
}

// Handle is a positioned walk over one plan.
type Handle interface {
	// Step moves one position in dir. relock asks to re-acquire the lock a
	// previous Suspend gave up on before moving.
	Step(ctx context.Context, dir Direction, relock bool) (Status, *record.Tuple, error)
	// Rewind positions before the first tuple, or after the last one when
	// toEnd is set.
	Rewind(toEnd bool)
	// Seek positions on ref.
	Seek(ctx context.Context, ref record.TupleRef, relock bool) (Status, *record.Tuple, error)
	Mode() Mode
	Close()
}
