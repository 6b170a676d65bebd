package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/plan"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

var (
	ErrNoTable      = errors.New("relation has no storage")
	ErrDuplicateKey = errors.New("duplicate key value")
	ErrNotNull      = errors.New("null value in NOT NULL column")
)

var _ scan.AccessMethod = (*Store)(nil)

const (
	defaultMaxCmpLen     = 64
	defaultMaxBlobCmpLen = 1024
	defaultStepBudget    = 64
	btreeDegree          = 16
)

type Option func(*Store)

// WithMaxCmpLen sets how many leading bytes of a value the store compares.
func WithMaxCmpLen(n int) Option {
	return func(s *Store) { s.maxCmpLen = n }
}

func WithMaxBlobCmpLen(n int) Option {
	return func(s *Store) { s.maxBlobCmpLen = n }
}

// WithStepBudget bounds how many entries one Step examines before it gives
// control back with NotFound.
func WithStepBudget(n int) Option {
	return func(s *Store) { s.stepBudget = n }
}

// Store is an in-memory access method. Every relation keeps its rows in a
// map and one btree per key, plus one in tuple reference order.
type Store struct {
	mu      sync.RWMutex
	catalog *metadata.Manager
	tables  map[int]*table
	nextRef atomic.Uint64

	maxCmpLen     int
	maxBlobCmpLen int
	stepBudget    int
}

type row struct {
	ref        record.TupleRef
	values     []types.Value
	insertedBy int64
	updatedBy  int64
}

type table struct {
	rel   *metadata.Relation
	rows  map[record.TupleRef]*row
	byRef *btree.BTreeG[entry]
	keys  []*btree.BTreeG[entry]

	historyVersion uint64
}

func New(catalog *metadata.Manager, opts ...Option) *Store {
	s := &Store{
		catalog:       catalog,
		tables:        make(map[int]*table),
		maxCmpLen:     defaultMaxCmpLen,
		maxBlobCmpLen: defaultMaxBlobCmpLen,
		stepBudget:    defaultStepBudget,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) MaxCmpLen() int { return s.maxCmpLen }
func (s *Store) MaxBlobCmpLen() int { return s.maxBlobCmpLen }
func (s *Store) CanReverse() bool { return true }

// Catalog returns the relation catalog the store serves.
func (s *Store) Catalog() *metadata.Manager {
	return s.catalog
}

// CreateTable registers rel in the catalog and allocates its storage.
func (s *Store) CreateTable(rel *metadata.Relation) error {
	if err := s.catalog.CreateTable(rel); err != nil {
		return err
	}
	t := &table{
		rel:   rel,
		rows:  make(map[record.TupleRef]*row),
		byRef: btree.NewG(btreeDegree, entryLess(nil)),
	}
	for _, k := range rel.Keys {
		t.keys = append(t.keys, btree.NewG(btreeDegree, entryLess(k)))
	}
	s.mu.Lock()
	s.tables[rel.ID] = t
	s.mu.Unlock()
	logging.WithTable(rel.Name).Debug("storage allocated", "keys", len(rel.Keys))
	return nil
}

func (s *Store) table(rel *metadata.Relation) (*table, error) {
	t := s.tables[rel.ID]
	if t == nil {
		return nil, errors.Wrapf(ErrNoTable, "%s", rel.Name)
	}
	return t, nil
}

func (t *table) tree(k *metadata.Key) *btree.BTreeG[entry] {
	if k == nil {
		return t.byRef
	}
	return t.keys[k.ID]
}

func (t *table) index(r *row) {
	t.byRef.ReplaceOrInsert(entry{ref: r.ref})
	for i, k := range t.rel.Keys {
		t.keys[i].ReplaceOrInsert(keyEntry(k, r))
	}
}

func (t *table) unindex(r *row) {
	t.byRef.Delete(entry{ref: r.ref})
	for i, k := range t.rel.Keys {
		t.keys[i].Delete(keyEntry(k, r))
	}
}

// checkUnique reports a conflict of r with another row on a unique key.
func (t *table) checkUnique(r *row) error {
	for i, k := range t.rel.Keys {
		if !k.Unique {
			continue
		}
		e := keyEntry(k, r)
		nullPart := false
		for _, v := range e.vals {
			if v.IsNull() {
				nullPart = true
			}
		}
		if nullPart {
			continue
		}
		conflict := false
		t.keys[i].AscendGreaterOrEqual(entry{vals: e.vals, bound: lowBound}, func(other entry) bool {
			if compareParts(k, other.vals, e.vals) != 0 {
				return false
			}
			if other.ref != r.ref {
				conflict = true
				return false
			}
			return true
		})
		if conflict {
			return errors.Wrapf(ErrDuplicateKey, "%s on %s", k.Name, t.rel.Name)
		}
	}
	return nil
}

func (t *table) checkNotNull(values []types.Value) error {
	for i, col := range t.rel.Schema.Columns() {
		if col.IsPseudo() || !col.NotNull {
			continue
		}
		if i >= len(values) || values[i].IsNull() {
			return errors.Wrapf(ErrNotNull, "%s.%s", t.rel.Name, col.Name)
		}
	}
	return nil
}

// Insert stores a new row. values are indexed by schema position; pseudo
// positions are ignored.
func (s *Store) Insert(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, values []types.Value) (record.TupleRef, error) {
	if !tx.Active() {
		return record.TupleRef{}, transaction.ErrNotActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(rel)
	if err != nil {
		return record.TupleRef{}, err
	}
	vals, err := physical(rel, values)
	if err != nil {
		return record.TupleRef{}, err
	}
	if err := t.checkNotNull(vals); err != nil {
		return record.TupleRef{}, err
	}

	r := &row{ref: record.NewTupleRef(s.nextRef.Add(1)), values: vals, insertedBy: tx.ID()}
	if err := t.checkUnique(r); err != nil {
		return record.TupleRef{}, err
	}
	tx.TryXLock(transaction.Resource{Rel: rel.ID, Ref: r.ref})
	t.rows[r.ref] = r
	t.index(r)
	rel.Stats.AddRecords(1)

	tx.AddUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.unindex(r)
		delete(t.rows, r.ref)
		rel.Stats.AddRecords(-1)
	})
	logging.FromContext(ctx).Debug("row inserted", "table", rel.Name, "ref", r.ref.String())
	return r.ref, nil
}

func (s *Store) Update(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, ref record.TupleRef, values []types.Value, changed []bool) (scan.Status, error) {
	if !tx.Active() {
		return scan.Fatal, transaction.ErrNotActive
	}
	if !tx.TryXLock(transaction.Resource{Rel: rel.ID, Ref: ref}) {
		return scan.Suspend, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(rel)
	if err != nil {
		return scan.Fatal, err
	}
	r := t.rows[ref]
	if r == nil {
		return scan.NotFound, nil
	}
	vals, err := physical(rel, values)
	if err != nil {
		return scan.Fatal, err
	}
	if err := t.checkNotNull(vals); err != nil {
		return scan.Fatal, err
	}

	oldVals, oldUpdatedBy := r.values, r.updatedBy
	t.unindex(r)
	r.values = vals
	r.updatedBy = tx.ID()
	if err := t.checkUnique(r); err != nil {
		r.values, r.updatedBy = oldVals, oldUpdatedBy
		t.index(r)
		return scan.Fatal, err
	}
	t.index(r)

	tx.AddUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.unindex(r)
		r.values, r.updatedBy = oldVals, oldUpdatedBy
		t.index(r)
	})
	logging.FromContext(ctx).Debug("row updated", "table", rel.Name, "ref", ref.String(), "changed", countTrue(changed))
	return scan.Found, nil
}

func (s *Store) Delete(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, ref record.TupleRef) (scan.Status, error) {
	if !tx.Active() {
		return scan.Fatal, transaction.ErrNotActive
	}
	if !tx.TryXLock(transaction.Resource{Rel: rel.ID, Ref: ref}) {
		return scan.Suspend, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(rel)
	if err != nil {
		return scan.Fatal, err
	}
	r := t.rows[ref]
	if r == nil {
		return scan.NotFound, nil
	}
	t.unindex(r)
	delete(t.rows, ref)
	rel.Stats.AddRecords(-1)

	tx.AddUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.rows[r.ref] = r
		t.index(r)
		rel.Stats.AddRecords(1)
	})
	logging.FromContext(ctx).Debug("row deleted", "table", rel.Name, "ref", ref.String())
	return scan.Found, nil
}

func (s *Store) Open(ctx context.Context, tx *transaction.Transaction, rel *metadata.Relation, p *plan.Plan, mode scan.Mode, reverse bool) (scan.Handle, error) {
	if !tx.Active() {
		return nil, transaction.ErrNotActive
	}
	s.mu.RLock()
	t, err := s.table(rel)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	h := &handle{store: s, tx: tx, t: t, plan: p, mode: mode, reverse: reverse}
	var key *metadata.Key
	if p != nil {
		key = p.Key
	}
	h.key = key
	h.tree = t.tree(key)
	h.Rewind(false)
	return h, nil
}

// Len returns the number of stored rows of rel.
func (s *Store) Len(rel *metadata.Relation) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.tables[rel.ID]; t != nil {
		return len(t.rows)
	}
	return 0
}

// physical copies values into a slice holding only the stored columns,
// converted to their declared kinds.
func physical(rel *metadata.Relation, values []types.Value) ([]types.Value, error) {
	cols := rel.Schema.Columns()
	out := make([]types.Value, len(cols))
	for i, col := range cols {
		if col.IsPseudo() || i >= len(values) {
			continue
		}
		v, err := types.Convert(values[i], col.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", col.Name)
		}
		out[i] = types.Clone(v)
	}
	return out, nil
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
