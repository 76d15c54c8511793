package summary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	tdigest "github.com/caio/go-tdigest/v4"
)

// Builder observes every record of a chunk and contributes sections to its
// summary file.
type Builder interface {
	AddRecord(rec schema.Record)
	Commit(w *Writer) error
}

// Factory creates a fresh builder per chunk.
type Factory func() Builder

const CountSection = "count"

func MinMaxSection(field string) string    { return "minmax." + field }
func QuantilesSection(field string) string { return "quantiles." + field }

// CountBuilder records the number of records in the chunk.
type CountBuilder struct {
	n uint64
}

func NewCountBuilder() Builder { return &CountBuilder{} }

func (b *CountBuilder) AddRecord(schema.Record) { b.n++ }

func (b *CountBuilder) Commit(w *Writer) error {
	w.Put(CountSection, binary.LittleEndian.AppendUint64(nil, b.n))
	return nil
}

func DecodeCount(p []byte) (uint64, error) {
	if len(p) != 8 {
		return 0, fmt.Errorf("count section: %w", core.ErrCorrupted)
	}
	return binary.LittleEndian.Uint64(p), nil
}

// MinMax is the decoded min/max section of a numeric field.
type MinMax struct {
	Count uint64
	Min   float64
	Max   float64
}

type minMaxBuilder struct {
	field schema.Field
	mm    MinMax
}

// MinMaxFactory tracks min and max of a numeric field.
func MinMaxFactory(field schema.Field) (Factory, error) {
	if !field.Type.Numeric() {
		return nil, fmt.Errorf("min/max summary on %s field %q: %w", field.Type, field.Name, core.ErrInvalidArgument)
	}
	return func() Builder {
		return &minMaxBuilder{field: field, mm: MinMax{Min: math.Inf(1), Max: math.Inf(-1)}}
	}, nil
}

func (b *minMaxBuilder) AddRecord(rec schema.Record) {
	for _, v := range rec.Values(b.field.ID) {
		f, ok := v.AsFloat()
		if !ok {
			continue
		}
		b.mm.Count++
		b.mm.Min = math.Min(b.mm.Min, f)
		b.mm.Max = math.Max(b.mm.Max, f)
	}
}

func (b *minMaxBuilder) Commit(w *Writer) error {
	var p []byte
	p = binary.LittleEndian.AppendUint64(p, b.mm.Count)
	p = binary.LittleEndian.AppendUint64(p, math.Float64bits(b.mm.Min))
	p = binary.LittleEndian.AppendUint64(p, math.Float64bits(b.mm.Max))
	w.Put(MinMaxSection(b.field.Name), p)
	return nil
}

func DecodeMinMax(p []byte) (MinMax, error) {
	if len(p) != 24 {
		return MinMax{}, fmt.Errorf("min/max section: %w", core.ErrCorrupted)
	}
	return MinMax{
		Count: binary.LittleEndian.Uint64(p[0:]),
		Min:   math.Float64frombits(binary.LittleEndian.Uint64(p[8:])),
		Max:   math.Float64frombits(binary.LittleEndian.Uint64(p[16:])),
	}, nil
}

type quantileBuilder struct {
	field schema.Field
	td    *tdigest.TDigest
	err   error
}

// DefaultQuantileCompression is the t-digest compression used when none is given.
const DefaultQuantileCompression = 100

// QuantileFactory keeps a t-digest of a numeric field.
func QuantileFactory(field schema.Field, compression float64) (Factory, error) {
	if !field.Type.Numeric() {
		return nil, fmt.Errorf("quantile summary on %s field %q: %w", field.Type, field.Name, core.ErrInvalidArgument)
	}
	if compression <= 0 {
		compression = DefaultQuantileCompression
	}
	return func() Builder {
		td, err := tdigest.New(tdigest.Compression(compression))
		return &quantileBuilder{field: field, td: td, err: err}
	}, nil
}

func (b *quantileBuilder) AddRecord(rec schema.Record) {
	if b.err != nil {
		return
	}
	for _, v := range rec.Values(b.field.ID) {
		f, ok := v.AsFloat()
		if !ok {
			continue
		}
		if err := b.td.AddWeighted(f, 1); err != nil {
			b.err = fmt.Errorf("tdigest AddWeighted failed: %w", err)
			return
		}
	}
}

func (b *quantileBuilder) Commit(w *Writer) error {
	if b.err != nil {
		return b.err
	}
	p, err := b.td.AsBytes()
	if err != nil {
		return fmt.Errorf("tdigest serialize failed: %w", err)
	}
	w.Put(QuantilesSection(b.field.Name), p)
	return nil
}

func DecodeQuantiles(p []byte) (*tdigest.TDigest, error) {
	td, err := tdigest.FromBytes(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("quantiles section: %w: %w", core.ErrCorrupted, err)
	}
	return td, nil
}
