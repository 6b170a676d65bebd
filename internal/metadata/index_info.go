package metadata

import "strings"

// KeyPart is one column of a key.
type KeyPart struct {
	Column     int
	Descending bool
}

// Key is an ordered list of columns used for physical access.
type Key struct {
	Name       string
	ID         int
	Parts      []KeyPart
	Unique     bool
	Clustering bool
	Primary    bool
}

// Columns returns the column index of every part.
func (k *Key) Columns() []int {
	cols := make([]int, len(k.Parts))
	for i, p := range k.Parts {
		cols[i] = p.Column
	}
	return cols
}

// PartOf returns the part position of col in the key, or -1.
func (k *Key) PartOf(col int) int {
	for i, p := range k.Parts {
		if p.Column == col {
			return i
		}
	}
	return -1
}

func (k *Key) String() string {
	var b strings.Builder
	b.WriteString(k.Name)
	if k.Clustering {
		b.WriteString(" (clustering)")
	}
	return b.String()
}

// RefKind says on which side of a reference a relation stands.
type RefKind uint8

const (
	// RefPrimary is a key other relations reference; mutations must check
	// or act on the referencing rows.
	RefPrimary RefKind = iota
	// RefForeign is a key referencing another relation; updates must check
	// the referenced row exists.
	RefForeign
)

// RefAction is the declared referential action of a key.
type RefAction uint8

const (
	ActionRestrict RefAction = iota
	ActionCascade
	ActionSetNull
)

// Event is the kind of mutation being applied to a row.
type Event uint8

const (
	EventUpdate Event = iota
	EventDelete
)

func (e Event) String() string {
	if e == EventDelete {
		return "delete"
	}
	return "update"
}

// ReferencingKey is a declared referential constraint touching a relation.
type ReferencingKey struct {
	Name          string
	Kind          RefKind
	Columns       []int
	Target        string
	TargetColumns []int
	OnDelete      RefAction
	OnUpdate      RefAction
}

// Cascades reports whether the key propagates ev to dependent rows rather
// than only checking them.
func (r *ReferencingKey) Cascades(ev Event) bool {
	if r.Kind != RefPrimary {
		return false
	}
	if ev == EventDelete {
		return r.OnDelete == ActionCascade
	}
	return r.OnUpdate == ActionCascade
}

// Touches reports whether any of the key columns is set in changed.
func (r *ReferencingKey) Touches(changed []bool) bool {
	for _, c := range r.Columns {
		if c < len(changed) && changed[c] {
			return true
		}
	}
	return false
}
