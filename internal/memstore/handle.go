package memstore

import (
	"context"

	"github.com/google/btree"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/plan"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

var _ scan.Handle = (*handle)(nil)

// handle walks one btree between the bounds of the plan's equality prefix,
// evaluating the plan's filters on every entry it passes.
type handle struct {
	store   *Store
	tx      *transaction.Transaction
	t       *table
	key     *metadata.Key
	tree    *btree.BTreeG[entry]
	plan    *plan.Plan
	mode    scan.Mode
	reverse bool

	pos   *entry
	atEnd bool
	// pending is the entry whose lock was refused by the last step.
	pending *entry
	// seen keeps rows already returned by a mutating walk so that a row
	// moved ahead by its own update is not visited twice.
	seen map[record.TupleRef]bool
}

func (h *handle) Mode() scan.Mode { return h.mode }

func (h *handle) Close() {
	h.pos, h.pending, h.seen = nil, nil, nil
}

// Rewind takes toEnd in the caller's direction; atEnd is kept in key order.
func (h *handle) Rewind(toEnd bool) {
	h.pos, h.pending, h.seen = nil, nil, nil
	h.atEnd = toEnd != h.reverse
}

func (h *handle) Step(ctx context.Context, dir scan.Direction, relock bool) (scan.Status, *record.Tuple, error) {
	if err := ctx.Err(); err != nil {
		return scan.Fatal, nil, err
	}
	if h.reverse {
		dir = -dir
	}

	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	if h.pending != nil {
		e := *h.pending
		r := h.t.rows[e.ref]
		if r == nil || !h.matches(r) {
			h.pending, h.pos = nil, &e
			return scan.NotFound, nil, nil
		}
		if !h.lock(r.ref) {
			return scan.Suspend, nil, nil
		}
		h.pending, h.pos = nil, &e
		return scan.Found, h.produce(r), nil
	}

	if h.pos == nil && h.atEnd == (dir == scan.Forward) {
		return scan.End, nil, nil
	}

	budget := h.store.stepBudget
	status := scan.End
	var found *row
	var last *entry
	visit := func(e entry) bool {
		if h.pos != nil && compareEntries(h.key, e, *h.pos) == 0 {
			return true
		}
		if h.outOfRange(e, dir) {
			return false
		}
		last = &e
		if r := h.t.rows[e.ref]; r != nil && !h.seen[r.ref] && h.matches(r) {
			found = r
			return false
		}
		budget--
		if budget <= 0 {
			status = scan.NotFound
			return false
		}
		return true
	}

	lo, hi, bounded := h.bounds()
	switch {
	case dir == scan.Forward && h.pos != nil:
		h.tree.AscendGreaterOrEqual(*h.pos, visit)
	case dir == scan.Forward && bounded:
		h.tree.AscendGreaterOrEqual(lo, visit)
	case dir == scan.Forward:
		h.tree.Ascend(visit)
	case h.pos != nil:
		h.tree.DescendLessOrEqual(*h.pos, visit)
	case bounded:
		h.tree.DescendLessOrEqual(hi, visit)
	default:
		h.tree.Descend(visit)
	}

	switch {
	case found != nil:
		if !h.lock(found.ref) {
			h.pending = last
			return scan.Suspend, nil, nil
		}
		h.pos = last
		return scan.Found, h.produce(found), nil
	case status == scan.NotFound:
		h.pos = last
		return scan.NotFound, nil, nil
	}
	h.pos = nil
	h.atEnd = dir == scan.Forward
	return scan.End, nil, nil
}

func (h *handle) Seek(ctx context.Context, ref record.TupleRef, relock bool) (scan.Status, *record.Tuple, error) {
	if err := ctx.Err(); err != nil {
		return scan.Fatal, nil, err
	}
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	r := h.t.rows[ref]
	if r == nil || !h.matches(r) {
		return scan.NotFound, nil, nil
	}
	if !h.lock(ref) {
		return scan.Suspend, nil, nil
	}
	e := entry{ref: ref}
	if h.key != nil {
		e = keyEntry(h.key, r)
	}
	h.pos, h.pending = &e, nil
	return scan.Found, h.tuple(r), nil
}

// bounds returns the pivots enclosing the plan's equality prefix.
func (h *handle) bounds() (lo, hi entry, ok bool) {
	if h.plan == nil || len(h.plan.Eq) == 0 || h.key == nil {
		return entry{}, entry{}, false
	}
	vals := h.plan.EqValues()
	return entry{vals: vals, bound: lowBound}, entry{vals: vals, bound: highBound}, true
}

func (h *handle) outOfRange(e entry, dir scan.Direction) bool {
	lo, hi, ok := h.bounds()
	if !ok {
		return false
	}
	if dir == scan.Forward {
		return compareEntries(h.key, e, hi) > 0
	}
	return compareEntries(h.key, e, lo) < 0
}

func (h *handle) matches(r *row) bool {
	if h.plan == nil {
		return true
	}
	get := func(col int) types.Value {
		if col == query.RefColumn {
			return types.NewBytes(r.ref.Bytes())
		}
		if col < 0 || col >= len(r.values) {
			return types.Null()
		}
		return r.values[col]
	}
	for _, f := range h.plan.Filters {
		if !f.MatchesPushed(get(f.Column), h.store.maxCmpLen) {
			return false
		}
	}
	if h.plan.Vector != nil && !h.plan.Vector.Matches(get) {
		return false
	}
	return true
}

func (h *handle) lock(ref record.TupleRef) bool {
	res := transaction.Resource{Rel: h.t.rel.ID, Ref: ref}
	if h.mode == scan.ModeRead {
		return h.tx.TrySLock(res)
	}
	return h.tx.TryXLock(res)
}

func (h *handle) produce(r *row) *record.Tuple {
	if h.mode != scan.ModeRead {
		if h.seen == nil {
			h.seen = make(map[record.TupleRef]bool)
		}
		h.seen[r.ref] = true
	}
	return h.tuple(r)
}

func (h *handle) tuple(r *row) *record.Tuple {
	var flags record.RowFlags
	if r.insertedBy == h.tx.ID() {
		flags |= record.FlagInsertedByTx
	}
	if r.updatedBy == h.tx.ID() {
		flags |= record.FlagUpdatedByTx
	}
	if h.tx.HoldsXLock(transaction.Resource{Rel: h.t.rel.ID, Ref: r.ref}) {
		flags |= record.FlagLocked
	}
	return record.NewTuple(r.ref, r.values, flags)
}
