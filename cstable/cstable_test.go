package cstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	return schema.MustNew("events",
		schema.Field{ID: 1, Name: "time", Type: schema.TypeUInt64},
		schema.Field{ID: 2, Name: "country", Type: schema.TypeString, Optional: true},
		schema.Field{ID: 3, Name: "tags", Type: schema.TypeString, Repeated: true},
		schema.Field{ID: 4, Name: "price", Type: schema.TypeFloat64, Optional: true},
	)
}

func TestBuilder_ShredAndRead(t *testing.T) {
	s := testSchema()
	c, err := compressors.New("snappy")
	require.NoError(t, err)
	b := NewBuilder(s, c)

	require.NoError(t, b.AddRecord(schema.Record{
		{FieldID: 1, Value: schema.UInt64(10)},
		{FieldID: 2, Value: schema.String("de")},
		{FieldID: 3, Value: schema.String("a")},
		{FieldID: 3, Value: schema.String("b")},
	}))
	require.NoError(t, b.AddRecord(schema.Record{
		{FieldID: 1, Value: schema.UInt64(11)},
		{FieldID: 4, Value: schema.Float64(1.5)},
	}))
	assert.Equal(t, uint64(2), b.NumRows())

	path := filepath.Join(t.TempDir(), "chunk.cst")
	require.NoError(t, b.Commit(path))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.NumRows())
	require.Len(t, r.Columns(), 4)
	assert.Equal(t, ColumnInfo{Name: "tags", Type: schema.TypeString, MaxRep: 1, MaxDef: 1, NumValues: 3}, r.Columns()[2])

	times, err := r.ReadColumn("time")
	require.NoError(t, err)
	assert.Equal(t, []Triple{
		{Rep: 0, Def: 0, Value: schema.UInt64(10)},
		{Rep: 0, Def: 0, Value: schema.UInt64(11)},
	}, times)

	tags, err := r.ReadColumn("tags")
	require.NoError(t, err)
	assert.Equal(t, []Triple{
		{Rep: 0, Def: 1, Value: schema.String("a")},
		{Rep: 1, Def: 1, Value: schema.String("b")},
		{Rep: 0, Def: 0},
	}, tags)
	assert.True(t, tags[2].Null())

	country, err := r.ReadColumn("country")
	require.NoError(t, err)
	require.Len(t, country, 2)
	assert.Equal(t, "de", country[0].Value.Str)
	assert.True(t, country[1].Null())

	_, err = r.ReadColumn("nope")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestBuilder_RejectsMissingRequired(t *testing.T) {
	b := NewBuilder(testSchema(), nil)
	err := b.AddRecord(schema.Record{{FieldID: 2, Value: schema.String("x")}})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestColumnWriter_LevelChecks(t *testing.T) {
	b := NewBuilder(testSchema(), nil)
	cw, ok := b.Column(1)
	require.True(t, ok)

	require.ErrorIs(t, cw.WriteString(0, 0, "x"), core.ErrInvalidArgument)
	require.ErrorIs(t, cw.WriteUInt64(1, 0, 1), core.ErrInvalidArgument)
	require.ErrorIs(t, cw.WriteNull(0, 0), core.ErrInvalidArgument)
	require.NoError(t, cw.WriteUInt64(0, 0, 1))
	assert.Equal(t, uint64(1), cw.Info().NumValues)
}

func TestOpen_DetectsCorruption(t *testing.T) {
	b := NewBuilder(testSchema(), nil)
	require.NoError(t, b.AddRecord(schema.Record{{FieldID: 1, Value: schema.UInt64(1)}}))
	path := filepath.Join(t.TempDir(), "chunk.cst")
	require.NoError(t, b.Commit(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Open(path)
	require.ErrorIs(t, err, core.ErrCorrupted)
}
