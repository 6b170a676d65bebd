package metadata

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrRelationNotFound is returned for an unknown relation name.
var ErrRelationNotFound = errors.New("relation not found")

// Manager is the relation catalog shared by all sessions. Relations are
// immutable once registered; replacing one invalidates the old definition.
type Manager struct {
	mu        sync.RWMutex
	relations map[string]*Relation
	nextID    int
}

func NewManager() *Manager {
	return &Manager{
		relations: make(map[string]*Relation),
		nextID:    1,
	}
}

// CreateTable registers rel under its name.
func (m *Manager) CreateTable(rel *Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.relations[rel.Name]; exists {
		return errors.Newf("relation %q already exists", rel.Name)
	}
	rel.ID = m.nextID
	m.nextID++
	m.relations[rel.Name] = rel
	return nil
}

// Replace swaps the definition of an existing relation and invalidates the
// previous one so that open cursors fail at their next step.
func (m *Manager) Replace(rel *Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, exists := m.relations[rel.Name]
	if !exists {
		return errors.Wrapf(ErrRelationNotFound, "%q", rel.Name)
	}
	rel.ID = old.ID
	m.relations[rel.Name] = rel
	old.Invalidate()
	return nil
}

// DropTable removes and invalidates a relation.
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, exists := m.relations[name]
	if !exists {
		return errors.Wrapf(ErrRelationNotFound, "%q", name)
	}
	delete(m.relations, name)
	rel.Invalidate()
	return nil
}

// GetRelation returns the current definition of name.
func (m *Manager) GetRelation(name string) (*Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, exists := m.relations[name]
	if !exists {
		return nil, errors.Wrapf(ErrRelationNotFound, "%q", name)
	}
	return rel, nil
}

// Relations returns the registered relation names.
func (m *Manager) Relations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.relations))
	for name := range m.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
