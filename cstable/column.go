// Package cstable implements the column-store file of a chunk. Every schema
// field becomes one column of (repetition level, definition level, value)
// triples; a value is only stored when its definition level is the column's
// maximum.
package cstable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
)

// Triple is one decoded column entry.
type Triple struct {
	Rep   uint8
	Def   uint8
	Value schema.Value // zero when Def < MaxDef
}

// Null reports whether the triple carries no value.
func (t Triple) Null() bool { return t.Value.Type == 0 }

// ColumnInfo describes one column in a file.
type ColumnInfo struct {
	Name      string
	Type      schema.FieldType
	MaxRep    uint8
	MaxDef    uint8
	NumValues uint64
}

// ColumnWriter buffers the encoded triples of one column.
type ColumnWriter struct {
	info ColumnInfo
	buf  []byte
}

func newColumnWriter(f schema.Field) *ColumnWriter {
	var maxRep uint8
	if f.Repeated {
		maxRep = 1
	}
	return &ColumnWriter{info: ColumnInfo{
		Name:   f.Name,
		Type:   f.Type,
		MaxRep: maxRep,
		MaxDef: f.MaxDefinitionLevel(),
	}}
}

func (w *ColumnWriter) Info() ColumnInfo { return w.info }

func (w *ColumnWriter) levels(rep, def uint8) error {
	if rep > w.info.MaxRep || def > w.info.MaxDef {
		return fmt.Errorf("column %s: levels (%d,%d) exceed (%d,%d): %w",
			w.info.Name, rep, def, w.info.MaxRep, w.info.MaxDef, core.ErrInvalidArgument)
	}
	w.buf = append(w.buf, rep, def)
	w.info.NumValues++
	return nil
}

func (w *ColumnWriter) expect(t schema.FieldType, def uint8) error {
	if w.info.Type != t {
		return fmt.Errorf("column %s: write %s into %s column: %w", w.info.Name, t, w.info.Type, core.ErrInvalidArgument)
	}
	if def != w.info.MaxDef {
		return fmt.Errorf("column %s: value with def %d below max %d: %w", w.info.Name, def, w.info.MaxDef, core.ErrInvalidArgument)
	}
	return nil
}

func (w *ColumnWriter) WriteUInt64(rep, def uint8, v uint64) error {
	if err := w.expect(schema.TypeUInt64, def); err != nil {
		return err
	}
	if err := w.levels(rep, def); err != nil {
		return err
	}
	w.buf = binary.AppendUvarint(w.buf, v)
	return nil
}

func (w *ColumnWriter) WriteInt64(rep, def uint8, v int64) error {
	if err := w.expect(schema.TypeInt64, def); err != nil {
		return err
	}
	if err := w.levels(rep, def); err != nil {
		return err
	}
	w.buf = binary.AppendVarint(w.buf, v)
	return nil
}

func (w *ColumnWriter) WriteFloat64(rep, def uint8, v float64) error {
	if err := w.expect(schema.TypeFloat64, def); err != nil {
		return err
	}
	if err := w.levels(rep, def); err != nil {
		return err
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
	return nil
}

func (w *ColumnWriter) WriteString(rep, def uint8, v string) error {
	if err := w.expect(schema.TypeString, def); err != nil {
		return err
	}
	if err := w.levels(rep, def); err != nil {
		return err
	}
	w.buf = binary.AppendUvarint(w.buf, uint64(len(v)))
	w.buf = append(w.buf, v...)
	return nil
}

func (w *ColumnWriter) WriteBool(rep, def uint8, v bool) error {
	if err := w.expect(schema.TypeBool, def); err != nil {
		return err
	}
	if err := w.levels(rep, def); err != nil {
		return err
	}
	b := byte(0)
	if v {
		b = 1
	}
	w.buf = append(w.buf, b)
	return nil
}

// WriteNull records an absent value. def must be below the column's max.
func (w *ColumnWriter) WriteNull(rep, def uint8) error {
	if def >= w.info.MaxDef {
		return fmt.Errorf("column %s: null with def %d, max %d: %w", w.info.Name, def, w.info.MaxDef, core.ErrInvalidArgument)
	}
	return w.levels(rep, def)
}

// WriteValue dispatches on the value type.
func (w *ColumnWriter) WriteValue(rep, def uint8, v schema.Value) error {
	switch v.Type {
	case schema.TypeUInt64:
		return w.WriteUInt64(rep, def, v.Uint)
	case schema.TypeInt64:
		return w.WriteInt64(rep, def, v.Int)
	case schema.TypeFloat64:
		return w.WriteFloat64(rep, def, v.Flt)
	case schema.TypeString:
		return w.WriteString(rep, def, v.Str)
	case schema.TypeBool:
		return w.WriteBool(rep, def, v.AsBool())
	}
	return fmt.Errorf("column %s: invalid value type %d: %w", w.info.Name, v.Type, core.ErrInvalidArgument)
}

// decodeColumn parses the triples of a column page.
func decodeColumn(info ColumnInfo, data []byte) ([]Triple, error) {
	out := make([]Triple, 0, info.NumValues)
	pos := 0
	bad := func(what string) error {
		return fmt.Errorf("column %s: bad %s at %d: %w", info.Name, what, pos, core.ErrCorrupted)
	}
	for i := uint64(0); i < info.NumValues; i++ {
		if len(data)-pos < 2 {
			return nil, bad("levels")
		}
		t := Triple{Rep: data[pos], Def: data[pos+1]}
		pos += 2
		if t.Def == info.MaxDef {
			t.Value.Type = info.Type
			switch info.Type {
			case schema.TypeBool:
				if pos >= len(data) {
					return nil, bad("bool")
				}
				t.Value.Uint = uint64(data[pos])
				pos++
			case schema.TypeUInt64:
				v, n := binary.Uvarint(data[pos:])
				if n <= 0 {
					return nil, bad("uint64")
				}
				t.Value.Uint = v
				pos += n
			case schema.TypeInt64:
				v, n := binary.Varint(data[pos:])
				if n <= 0 {
					return nil, bad("int64")
				}
				t.Value.Int = v
				pos += n
			case schema.TypeFloat64:
				if len(data)-pos < 8 {
					return nil, bad("float64")
				}
				t.Value.Flt = math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
				pos += 8
			case schema.TypeString:
				l, n := binary.Uvarint(data[pos:])
				if n <= 0 || uint64(len(data)-pos-n) < l {
					return nil, bad("string")
				}
				pos += n
				t.Value.Str = string(data[pos : pos+int(l)])
				pos += int(l)
			}
		}
		out = append(out, t)
	}
	if pos != len(data) {
		return nil, bad("trailing bytes")
	}
	return out, nil
}
