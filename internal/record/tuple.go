package record

import (
	"strings"

	"github.com/yashagw/cranecursor/internal/types"
)

// RowFlags are transient per-row flags reported by the access method.
type RowFlags uint32

const (
	// FlagInsertedByTx marks a tuple inserted by the reading transaction.
	FlagInsertedByTx RowFlags = 1 << iota
	// FlagUpdatedByTx marks a tuple updated by the reading transaction.
	FlagUpdatedByTx
	// FlagLocked marks a tuple the reading transaction holds a lock on.
	FlagLocked
	// FlagHistoryDeleted marks a history image of a deleted tuple.
	FlagHistoryDeleted
)

// Tuple is a materialized physical row. Values are indexed by column
// position; pseudo column slots hold NULL.
type Tuple struct {
	ref    TupleRef
	values []types.Value
	flags  RowFlags
}

func NewTuple(ref TupleRef, values []types.Value, flags RowFlags) *Tuple {
	return &Tuple{ref: ref, values: values, flags: flags}
}

func (t *Tuple) Ref() TupleRef {
	return t.ref
}

func (t *Tuple) Flags() RowFlags {
	return t.flags
}

// Value returns the stored value of column col.
func (t *Tuple) Value(col int) types.Value {
	if col < 0 || col >= len(t.values) {
		return types.Null()
	}
	return t.values[col]
}

// Values returns a copy of all stored values.
func (t *Tuple) Values() []types.Value {
	out := make([]types.Value, len(t.values))
	copy(out, t.values)
	return out
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return t.ref.String() + "(" + strings.Join(parts, ", ") + ")"
}
