package memstore

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/action"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

var (
	ErrRestricted = errors.New("referenced row still has dependents")
	ErrNoParent   = errors.New("referenced row does not exist")
)

var (
	_ action.Cascader = (*Cascader)(nil)
	_ action.History  = (*History)(nil)
)

// Cascader applies referential actions between relations of one store.
// Dependent rows are acted on one at a time so that a lock conflict on any
// of them resumes where it stopped.
type Cascader struct {
	store *Store
}

func NewCascader(s *Store) *Cascader {
	return &Cascader{store: s}
}

func (c *Cascader) Apply(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, key *metadata.ReferencingKey, ev metadata.Event, old, newRow *record.Tuple, state *action.CascadeState) (action.Result, error) {
	target, err := c.store.catalog.GetRelation(key.Target)
	if err != nil {
		return action.Fail, err
	}
	if key.Kind == metadata.RefForeign {
		return c.checkParent(target, key, ev, newRow)
	}

	if !state.Started {
		state.Pending = c.store.matching(target, key.TargetColumns, project(old, key.Columns))
		state.Started = true
	}

	act := key.OnUpdate
	if ev == metadata.EventDelete {
		act = key.OnDelete
	}
	if act == metadata.ActionRestrict {
		if len(state.Pending) > 0 {
			return action.Fail, errors.Wrapf(ErrRestricted, "%d rows of %s reference %s through %s",
				len(state.Pending), target.Name, rel.Name, key.Name)
		}
		return action.Done, nil
	}

	for state.Done < len(state.Pending) {
		ref := state.Pending[state.Done]
		var status scan.Status
		var err error
		switch {
		case act == metadata.ActionCascade && ev == metadata.EventDelete:
			status, err = c.store.Delete(ctx, tx, target, ref)
		case act == metadata.ActionCascade:
			status, err = c.setColumns(ctx, tx, target, ref, key.TargetColumns, project(newRow, key.Columns))
		default:
			status, err = c.setColumns(ctx, tx, target, ref, key.TargetColumns, make([]types.Value, len(key.TargetColumns)))
		}
		switch status {
		case scan.Suspend:
			return action.Continue, nil
		case scan.Fatal:
			return action.Fail, err
		}
		state.Done++
	}
	return action.Done, nil
}

func (c *Cascader) checkParent(target *metadata.Relation, key *metadata.ReferencingKey, ev metadata.Event, newRow *record.Tuple) (action.Result, error) {
	if ev == metadata.EventDelete || newRow == nil {
		return action.Done, nil
	}
	vals := project(newRow, key.Columns)
	for _, v := range vals {
		if v.IsNull() {
			return action.Done, nil
		}
	}
	if len(c.store.matching(target, key.TargetColumns, vals)) == 0 {
		return action.Fail, errors.Wrapf(ErrNoParent, "%s references a missing row of %s", key.Name, target.Name)
	}
	return action.Done, nil
}

func (c *Cascader) setColumns(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, ref record.TupleRef, cols []int, vals []types.Value) (scan.Status, error) {
	c.store.mu.RLock()
	t, err := c.store.table(rel)
	var r *row
	if err == nil {
		r = t.rows[ref]
	}
	c.store.mu.RUnlock()
	if err != nil {
		return scan.Fatal, err
	}
	if r == nil {
		return scan.NotFound, nil
	}
	next := slices.Clone(r.values)
	changed := make([]bool, len(next))
	for i, col := range cols {
		next[col] = vals[i]
		changed[col] = true
	}
	return c.store.Update(ctx, tx, rel, ref, next, changed)
}

// matching returns, in reference order, the rows of rel whose cols equal
// vals. NULL never matches.
func (s *Store) matching(rel *metadata.Relation, cols []int, vals []types.Value) []record.TupleRef {
	for _, v := range vals {
		if v.IsNull() {
			return nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[rel.ID]
	if t == nil {
		return nil
	}
	var refs []record.TupleRef
	t.byRef.Ascend(func(e entry) bool {
		r := t.rows[e.ref]
		for i, col := range cols {
			if types.Compare(r.values[col], vals[i]) != 0 {
				return true
			}
		}
		refs = append(refs, r.ref)
		return true
	})
	return refs
}

func project(t *record.Tuple, cols []int) []types.Value {
	out := make([]types.Value, len(cols))
	if t == nil {
		return out
	}
	for i, col := range cols {
		out[i] = t.Value(col)
	}
	return out
}

// HistorySuffix names the relation receiving pre-images of tracked rows.
const HistorySuffix = "_history"

// History stores the pre-image of every changed row of a tracked relation
// in its companion history relation, when one exists, and bumps the
// relation's history version.
type History struct {
	store *Store
}

func NewHistory(s *Store) *History {
	return &History{store: s}
}

func (h *History) Capture(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, old *record.Tuple, state *action.HistoryState) (action.Result, error) {
	if state.Captured {
		return action.Done, nil
	}
	// The pre-image must be stable: take the row lock first.
	if !tx.TryXLock(transaction.Resource{Rel: rel.ID, Ref: old.Ref()}) {
		return action.Continue, nil
	}
	if shadow, err := h.store.catalog.GetRelation(rel.Name + HistorySuffix); err == nil {
		if _, err := h.store.Insert(ctx, tx, shadow, old.Values()); err != nil {
			return action.Fail, err
		}
	}

	h.store.mu.Lock()
	t, err := h.store.table(rel)
	if err == nil {
		t.historyVersion++
		state.Version = t.historyVersion
	}
	h.store.mu.Unlock()
	if err != nil {
		return action.Fail, err
	}
	state.Captured = true
	return action.Done, nil
}

// HistoryVersion returns the number of pre-images captured for rel.
func (s *Store) HistoryVersion(rel *metadata.Relation) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.tables[rel.ID]; t != nil {
		return t.historyVersion
	}
	return 0
}
