package summary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	timeField  = schema.Field{ID: 1, Name: "time", Type: schema.TypeUInt64}
	priceField = schema.Field{ID: 2, Name: "price", Type: schema.TypeFloat64, Optional: true}
	nameField  = schema.Field{ID: 3, Name: "name", Type: schema.TypeString}
)

func TestBuilders_CommitAndDecode(t *testing.T) {
	minmax, err := MinMaxFactory(priceField)
	require.NoError(t, err)
	quant, err := QuantileFactory(timeField, 0)
	require.NoError(t, err)

	builders := []Builder{NewCountBuilder(), minmax(), quant()}
	for i := 1; i <= 1000; i++ {
		rec := schema.Record{{FieldID: 1, Value: schema.UInt64(uint64(i))}}
		if i%10 == 0 {
			rec.Append(2, schema.Float64(float64(i)/2))
		}
		for _, b := range builders {
			b.AddRecord(rec)
		}
	}

	w := NewWriter()
	for _, b := range builders {
		require.NoError(t, b.Commit(w))
	}
	path := filepath.Join(t.TempDir(), "chunk.smr")
	require.NoError(t, w.Commit(path))

	f, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "minmax.price", "quantiles.time"}, f.Sections())

	p, ok := f.Get(CountSection)
	require.True(t, ok)
	n, err := DecodeCount(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), n)

	p, ok = f.Get(MinMaxSection("price"))
	require.True(t, ok)
	mm, err := DecodeMinMax(p)
	require.NoError(t, err)
	assert.Equal(t, MinMax{Count: 100, Min: 5, Max: 500}, mm)

	p, ok = f.Get(QuantilesSection("time"))
	require.True(t, ok)
	td, err := DecodeQuantiles(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), td.Count())
	assert.InDelta(t, 500, td.Quantile(0.5), 25)
}

func TestFactories_RejectNonNumeric(t *testing.T) {
	_, err := MinMaxFactory(nameField)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = QuantileFactory(nameField, 50)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestOpen_ChecksumMismatch(t *testing.T) {
	w := NewWriter()
	w.Put("a", []byte("payload"))
	w.Put("a", []byte("replaced"))
	path := filepath.Join(t.TempDir(), "chunk.smr")
	require.NoError(t, w.Commit(path))

	f, err := Open(path)
	require.NoError(t, err)
	p, _ := f.Get("a")
	assert.Equal(t, "replaced", string(p))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = Open(path)
	require.ErrorIs(t, err, core.ErrCorrupted)
}
