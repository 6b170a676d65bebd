package record

import "github.com/yashagw/cranecursor/internal/types"

// PseudoKind tags a column that is synthesized from tuple metadata instead
// of being stored verbatim.
type PseudoKind uint8

const (
	NotPseudo PseudoKind = iota
	PseudoRowID
	PseudoRowVersion
	PseudoRowFlags
	PseudoSyncTupleVersion
	PseudoSyncIsPublished
)

func (k PseudoKind) String() string {
	switch k {
	case NotPseudo:
		return "physical"
	case PseudoRowID:
		return "ROWID"
	case PseudoRowVersion:
		return "ROWVER"
	case PseudoRowFlags:
		return "ROWFLAGS"
	case PseudoSyncTupleVersion:
		return "SYNC_TUPLE_VERSION"
	case PseudoSyncIsPublished:
		return "SYNC_ISPUBL"
	}
	return "pseudo?"
}

// Column describes one column of a relation.
type Column struct {
	Name    string
	Kind    types.Kind
	Length  int
	NotNull bool
	// Pseudo is NotPseudo for physical columns.
	Pseudo PseudoKind
	// Source is the physical column a pseudo column reads, or -1.
	Source int
}

// IsPseudo reports whether the column is synthesized.
func (c Column) IsPseudo() bool {
	return c.Pseudo != NotPseudo
}

// Schema is the ordered column list of a relation. Column indexes are
// positions in this list.
type Schema struct {
	columns []Column
	byName  map[string]int
}

// NewSchema creates a new schema
func NewSchema() *Schema {
	return &Schema{
		columns: make([]Column, 0),
		byName:  make(map[string]int),
	}
}

// AddColumn appends a column and returns its index. Re-adding a name
// replaces the earlier definition in place.
func (s *Schema) AddColumn(col Column) int {
	if col.Pseudo == NotPseudo {
		col.Source = -1
	}
	if idx, exists := s.byName[col.Name]; exists {
		s.columns[idx] = col
		return idx
	}
	s.columns = append(s.columns, col)
	s.byName[col.Name] = len(s.columns) - 1
	return len(s.columns) - 1
}

func (s *Schema) AddIntField(name string, notNull bool) int {
	return s.AddColumn(Column{Name: name, Kind: types.KindInt, Length: 8, NotNull: notNull})
}

func (s *Schema) AddStringField(name string, length int, notNull bool) int {
	return s.AddColumn(Column{Name: name, Kind: types.KindString, Length: length, NotNull: notNull})
}

// AddPseudo adds a synthesized column reading the given physical source
// column (-1 for none).
func (s *Schema) AddPseudo(name string, kind PseudoKind, source int) int {
	valueKind := types.KindBytes
	if kind == PseudoRowFlags || kind == PseudoSyncIsPublished {
		valueKind = types.KindInt
	}
	return s.AddColumn(Column{Name: name, Kind: valueKind, Pseudo: kind, Source: source})
}

// Len returns the number of columns, pseudo columns included.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Column returns the column at idx.
func (s *Schema) Column(idx int) Column {
	return s.columns[idx]
}

// Columns returns a copy of the column slice
func (s *Schema) Columns() []Column {
	cols := make([]Column, len(s.columns))
	copy(cols, s.columns)
	return cols
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	idx, ok := s.byName[name]
	return idx, ok
}

// Valid reports whether idx addresses a column.
func (s *Schema) Valid(idx int) bool {
	return idx >= 0 && idx < len(s.columns)
}

// PseudoColumn returns the index of the first pseudo column of the given
// kind, or -1.
func (s *Schema) PseudoColumn(kind PseudoKind) int {
	for i, c := range s.columns {
		if c.Pseudo == kind {
			return i
		}
	}
	return -1
}
