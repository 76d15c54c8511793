package cstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sys"
)

// Builder shreds records into one ColumnWriter per schema field.
type Builder struct {
	schema     *schema.Schema
	compressor core.Compressor
	columns    []*ColumnWriter
	byID       map[uint32]*ColumnWriter
	rows       uint64
}

// NewBuilder creates a builder with a column for every field of s.
func NewBuilder(s *schema.Schema, c core.Compressor) *Builder {
	if c == nil {
		c = &compressors.NoCompressionCompressor{}
	}
	b := &Builder{schema: s, compressor: c, byID: make(map[uint32]*ColumnWriter, len(s.Fields))}
	for _, f := range s.Fields {
		cw := newColumnWriter(f)
		b.columns = append(b.columns, cw)
		b.byID[f.ID] = cw
	}
	return b
}

// Column returns the writer of a field, for callers that shred by hand.
func (b *Builder) Column(id uint32) (*ColumnWriter, bool) {
	cw, ok := b.byID[id]
	return cw, ok
}

// AddRecord shreds rec into the columns and ends the row. The first value of
// a field gets repetition level 0, later values of a repeated field level 1.
// An absent field is written as a null with definition level 0.
func (b *Builder) AddRecord(rec schema.Record) error {
	for _, f := range b.schema.Fields {
		cw := b.byID[f.ID]
		values := rec.Values(f.ID)
		if len(values) == 0 {
			if cw.info.MaxDef == 0 {
				return fmt.Errorf("missing required field %q: %w", f.Name, core.ErrInvalidArgument)
			}
			if err := cw.WriteNull(0, 0); err != nil {
				return err
			}
			continue
		}
		for i, v := range values {
			var rep uint8
			if i > 0 {
				rep = 1
			}
			if err := cw.WriteValue(rep, cw.info.MaxDef, v); err != nil {
				return err
			}
		}
	}
	b.AddRow()
	return nil
}

// AddRow ends the current row.
func (b *Builder) AddRow() { b.rows++ }

func (b *Builder) NumRows() uint64 { return b.rows }

// Commit writes the file to path and fsyncs it.
func (b *Builder) Commit(path string) (err error) {
	f, err := sys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create cstable file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close cstable file %s: %w", path, cerr)
		}
	}()

	header := core.NewFileHeader(core.CSTableMagicNumber, b.compressor.Type())
	if _, err := f.Write(header.AppendBinary(nil)); err != nil {
		return fmt.Errorf("failed to write cstable header: %w", err)
	}

	out := core.BufferPool.Get()
	defer core.BufferPool.Put(out)
	out.Write(binary.LittleEndian.AppendUint64(nil, b.rows))
	out.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(b.columns))))

	page := core.BufferPool.Get()
	defer core.BufferPool.Put(page)
	for _, cw := range b.columns {
		if err := b.compressor.CompressTo(page, cw.buf); err != nil {
			return fmt.Errorf("failed to compress column %s: %w", cw.info.Name, err)
		}
		var meta []byte
		meta = binary.LittleEndian.AppendUint16(meta, uint16(len(cw.info.Name)))
		meta = append(meta, cw.info.Name...)
		meta = append(meta, byte(cw.info.Type), cw.info.MaxRep, cw.info.MaxDef)
		meta = binary.LittleEndian.AppendUint64(meta, cw.info.NumValues)
		meta = binary.LittleEndian.AppendUint32(meta, uint32(page.Len()))
		meta = binary.LittleEndian.AppendUint32(meta, crc32.ChecksumIEEE(page.Bytes()))
		out.Write(meta)
		out.Write(page.Bytes())
	}

	if _, err := f.Write(out.Bytes()); err != nil {
		return fmt.Errorf("failed to write cstable body: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync cstable file: %w", err)
	}
	return nil
}
