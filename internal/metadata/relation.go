package metadata

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/record"
)

// TriggerKind names a row-level trigger slot.
type TriggerKind uint8

const (
	BeforeUpdate TriggerKind = iota
	AfterUpdate
	BeforeDelete
	AfterDelete
)

func (k TriggerKind) String() string {
	switch k {
	case BeforeUpdate:
		return "BEFORE UPDATE"
	case AfterUpdate:
		return "AFTER UPDATE"
	case BeforeDelete:
		return "BEFORE DELETE"
	case AfterDelete:
		return "AFTER DELETE"
	}
	return "TRIGGER?"
}

// TriggerSet records which trigger slots are defined.
type TriggerSet uint8

func (s TriggerSet) Has(k TriggerKind) bool {
	return s&(1<<k) != 0
}

func (s TriggerSet) With(k TriggerKind) TriggerSet {
	return s | 1<<k
}

// Relation is the shared, read-only definition of a base table. Cursors
// hold it by pointer and never modify it; the only mutable part is the
// invalidation flag set by concurrent DDL.
type Relation struct {
	Name           string
	ID             int
	Schema         *record.Schema
	Keys           []*Key
	Refs           []*ReferencingKey
	Triggers       TriggerSet
	HistoryTracked bool
	Stats          *StatInfo

	invalidated atomic.Bool
}

// Invalidate marks the relation as dropped or altered. Cursors observe it at
// their next fetch step.
func (r *Relation) Invalidate() {
	r.invalidated.Store(true)
}

func (r *Relation) Invalidated() bool {
	return r.invalidated.Load()
}

// ClusteringKey returns the key defining physical order, or nil.
func (r *Relation) ClusteringKey() *Key {
	for _, k := range r.Keys {
		if k.Clustering {
			return k
		}
	}
	return nil
}

// PrimaryKey returns the declared primary key, or nil.
func (r *Relation) PrimaryKey() *Key {
	for _, k := range r.Keys {
		if k.Primary {
			return k
		}
	}
	return nil
}

// KeyByName looks up a key by name.
func (r *Relation) KeyByName(name string) *Key {
	for _, k := range r.Keys {
		if k.Name == name {
			return k
		}
	}
	return nil
}

// RelationBuilder assembles a Relation.
type RelationBuilder struct {
	rel *Relation
	err error
}

func NewRelationBuilder(name string) *RelationBuilder {
	return &RelationBuilder{rel: &Relation{
		Name:   name,
		Schema: record.NewSchema(),
		Stats:  NewStatInfo(0),
	}}
}

// Column adds a physical column and returns its index.
func (b *RelationBuilder) Column(col record.Column) int {
	return b.rel.Schema.AddColumn(col)
}

// Pseudo adds a pseudo column.
func (b *RelationBuilder) Pseudo(name string, kind record.PseudoKind, source int) int {
	return b.rel.Schema.AddPseudo(name, kind, source)
}

// Key adds a key. The first clustering key wins.
func (b *RelationBuilder) Key(k *Key) *RelationBuilder {
	for _, p := range k.Parts {
		if !b.rel.Schema.Valid(p.Column) || b.rel.Schema.Column(p.Column).IsPseudo() {
			b.err = errors.Newf("key %s: part column %d is not a physical column", k.Name, p.Column)
		}
	}
	k.ID = len(b.rel.Keys)
	b.rel.Keys = append(b.rel.Keys, k)
	return b
}

func (b *RelationBuilder) Reference(r *ReferencingKey) *RelationBuilder {
	b.rel.Refs = append(b.rel.Refs, r)
	return b
}

func (b *RelationBuilder) Trigger(k TriggerKind) *RelationBuilder {
	b.rel.Triggers = b.rel.Triggers.With(k)
	return b
}

func (b *RelationBuilder) History() *RelationBuilder {
	b.rel.HistoryTracked = true
	return b
}

// Build finishes the relation. Relations without a clustering key are
// stored in tuple reference order.
func (b *RelationBuilder) Build() (*Relation, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.rel, nil
}
