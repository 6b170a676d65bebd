package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/types"
)

func TestSchema(t *testing.T) {
	// Create new schema
	schema := NewSchema()
	require.NotNil(t, schema)
	assert.Empty(t, schema.columns)

	// Add int field
	id := schema.AddIntField("id", true)
	assert.Equal(t, 0, id)
	assert.Len(t, schema.columns, 1)
	assert.Equal(t, types.KindInt, schema.Column(id).Kind)
	assert.True(t, schema.Column(id).NotNull)
	assert.Equal(t, -1, schema.Column(id).Source)

	// Add string field
	name := schema.AddStringField("name", 50, false)
	assert.Equal(t, 1, name)
	assert.Equal(t, 50, schema.Column(name).Length)

	// Re-adding replaces in place
	again := schema.AddStringField("name", 80, true)
	assert.Equal(t, name, again)
	assert.Equal(t, 80, schema.Column(name).Length)
	assert.Equal(t, 2, schema.Len())

	rowid := schema.AddPseudo("ROWID", PseudoRowID, -1)
	ver := schema.AddPseudo("ROWVER", PseudoRowVersion, id)
	flags := schema.AddPseudo("ROWFLAGS", PseudoRowFlags, -1)
	assert.True(t, schema.Column(rowid).IsPseudo())
	assert.Equal(t, id, schema.Column(ver).Source)
	assert.Equal(t, types.KindInt, schema.Column(flags).Kind)
	assert.Equal(t, rowid, schema.PseudoColumn(PseudoRowID))
	assert.Equal(t, -1, schema.PseudoColumn(PseudoSyncIsPublished))

	idx, ok := schema.Index("name")
	assert.True(t, ok)
	assert.Equal(t, name, idx)
	_, ok = schema.Index("missing")
	assert.False(t, ok)
	assert.True(t, schema.Valid(flags))
	assert.False(t, schema.Valid(flags+1))

	cols := schema.Columns()
	cols[0].Name = "mutated"
	assert.Equal(t, "id", schema.Column(0).Name)
}

func TestTuple(t *testing.T) {
	ref := NewTupleRef(7)
	tup := NewTuple(ref, []types.Value{types.NewInt(1), types.NewString("a")}, FlagLocked)
	assert.Equal(t, ref, tup.Ref())
	assert.Equal(t, FlagLocked, tup.Flags())
	assert.Equal(t, "a", tup.Value(1).AsString())
	assert.True(t, tup.Value(5).IsNull())
	assert.Equal(t, "tid:7(1, a)", tup.String())
	assert.Len(t, ref.Bytes(), 8)
	assert.False(t, ref.IsZero())
}
