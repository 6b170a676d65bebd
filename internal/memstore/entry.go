package memstore

import (
	"github.com/google/btree"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/types"
)

// Pivot bounds sort before or after every entry sharing their parts.
const (
	lowBound  int8 = -1
	highBound int8 = 1
)

// entry is one btree item: the key part values of a row and its reference.
// Pivots used for positioning carry a bound and possibly fewer parts.
type entry struct {
	vals  []types.Value
	ref   record.TupleRef
	bound int8
}

func keyEntry(k *metadata.Key, r *row) entry {
	vals := make([]types.Value, len(k.Parts))
	for i, p := range k.Parts {
		vals[i] = r.values[p.Column]
	}
	return entry{vals: vals, ref: r.ref}
}

func compareParts(k *metadata.Key, a, b []types.Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		c := types.Compare(a[i], b[i])
		if k.Parts[i].Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareEntries(k *metadata.Key, a, b entry) int {
	if k != nil {
		if c := compareParts(k, a.vals, b.vals); c != 0 {
			return c
		}
	}
	if a.bound != b.bound {
		return int(a.bound) - int(b.bound)
	}
	switch {
	case a.ref.ID() < b.ref.ID():
		return -1
	case a.ref.ID() > b.ref.ID():
		return 1
	}
	return 0
}

func entryLess(k *metadata.Key) btree.LessFunc[entry] {
	return func(a, b entry) bool {
		return compareEntries(k, a, b) < 0
	}
}
