package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/nexustable/core"
)

// Encode serializes rec. The layout is a uvarint field count followed by,
// per field, a uvarint field id and a payload whose shape is given by the
// schema type of that field.
func Encode(s *Schema, rec Record) ([]byte, error) {
	return AppendEncode(nil, s, rec)
}

// AppendEncode appends the encoding of rec to dst.
func AppendEncode(dst []byte, s *Schema, rec Record) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(rec)))
	for _, fv := range rec {
		f, ok := s.Field(fv.FieldID)
		if !ok {
			return nil, fmt.Errorf("encode: unknown field id %d: %w", fv.FieldID, core.ErrInvalidArgument)
		}
		if fv.Value.Type != f.Type {
			return nil, fmt.Errorf("encode: field %q: got %s, want %s: %w", f.Name, fv.Value.Type, f.Type, core.ErrInvalidArgument)
		}
		dst = binary.AppendUvarint(dst, uint64(f.ID))
		switch f.Type {
		case TypeUInt64:
			dst = binary.AppendUvarint(dst, fv.Value.Uint)
		case TypeInt64:
			dst = binary.AppendVarint(dst, fv.Value.Int)
		case TypeFloat64:
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(fv.Value.Flt))
		case TypeString:
			dst = binary.AppendUvarint(dst, uint64(len(fv.Value.Str)))
			dst = append(dst, fv.Value.Str...)
		case TypeBool:
			b := byte(0)
			if fv.Value.AsBool() {
				b = 1
			}
			dst = append(dst, b)
		}
	}
	return dst, nil
}

// Decode parses one record from the front of buf and returns it together
// with the number of bytes consumed, so concatenated records can be split.
func Decode(s *Schema, buf []byte) (Record, int, error) {
	d := decoder{buf: buf}
	n := d.uvarint()
	if d.err != nil {
		return nil, 0, d.err
	}
	if n > uint64(len(buf)) {
		return nil, 0, fmt.Errorf("decode: field count %d exceeds input: %w", n, core.ErrCorrupted)
	}
	rec := make(Record, 0, n)
	for i := uint64(0); i < n; i++ {
		id := d.uvarint()
		if d.err != nil {
			return nil, 0, d.err
		}
		f, ok := s.Field(uint32(id))
		if !ok {
			return nil, 0, fmt.Errorf("decode: unknown field id %d: %w", id, core.ErrCorrupted)
		}
		v := Value{Type: f.Type}
		switch f.Type {
		case TypeUInt64:
			v.Uint = d.uvarint()
		case TypeInt64:
			v.Int = d.varint()
		case TypeFloat64:
			v.Flt = math.Float64frombits(binary.LittleEndian.Uint64(d.bytes(8)))
		case TypeString:
			l := d.uvarint()
			v.Str = string(d.bytes(l))
		case TypeBool:
			v.Uint = uint64(d.bytes(1)[0])
		}
		if d.err != nil {
			return nil, 0, d.err
		}
		rec = append(rec, FieldValue{FieldID: f.ID, Value: v})
	}
	return rec, d.pos, nil
}

// DecodeAll splits a buffer of concatenated encoded records.
func DecodeAll(s *Schema, buf []byte) ([]Record, error) {
	var out []Record
	for len(buf) > 0 {
		rec, n, err := Decode(s, buf)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		buf = buf[n:]
	}
	return out, nil
}

type decoder struct {
	buf []byte
	pos int
	err error
}

var zero8 [8]byte

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		d.err = fmt.Errorf("decode: bad uvarint at offset %d: %w", d.pos, core.ErrCorrupted)
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		d.err = fmt.Errorf("decode: bad varint at offset %d: %w", d.pos, core.ErrCorrupted)
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return zero8[:]
	}
	if n > uint64(len(d.buf)-d.pos) {
		d.err = fmt.Errorf("decode: need %d bytes at offset %d, have %d: %w", n, d.pos, len(d.buf)-d.pos, core.ErrCorrupted)
		return zero8[:]
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b
}
