package cstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sys"
)

// Reader gives access to the columns of a committed file. Pages stay
// compressed in memory until a column is read.
type Reader struct {
	path        string
	compression core.CompressionType
	rows        uint64
	columns     []ColumnInfo
	pages       map[string][]byte
}

// Open reads the whole file and verifies every column page checksum.
func Open(path string) (*Reader, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cstable file %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cstable file %s: %w", path, err)
	}

	hsize := core.FileHeaderSize
	if len(data) < hsize+12 {
		return nil, fmt.Errorf("cstable %s too short: %w", path, core.ErrCorrupted)
	}
	header, err := core.DecodeFileHeader(data, core.CSTableMagicNumber)
	if err != nil {
		return nil, fmt.Errorf("cstable %s: %w", path, err)
	}

	r := &Reader{path: path, compression: header.CompressorType, pages: make(map[string][]byte)}
	pos := hsize
	r.rows = binary.LittleEndian.Uint64(data[pos:])
	ncols := binary.LittleEndian.Uint32(data[pos+8:])
	pos += 12

	for i := uint32(0); i < ncols; i++ {
		if len(data)-pos < 2 {
			return nil, fmt.Errorf("cstable %s: truncated column %d: %w", path, i, core.ErrCorrupted)
		}
		nameLen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if len(data)-pos < nameLen+3+8+4+4 {
			return nil, fmt.Errorf("cstable %s: truncated column %d: %w", path, i, core.ErrCorrupted)
		}
		info := ColumnInfo{Name: string(data[pos : pos+nameLen])}
		pos += nameLen
		info.Type = schema.FieldType(data[pos])
		info.MaxRep = data[pos+1]
		info.MaxDef = data[pos+2]
		pos += 3
		info.NumValues = binary.LittleEndian.Uint64(data[pos:])
		pageLen := int(binary.LittleEndian.Uint32(data[pos+8:]))
		checksum := binary.LittleEndian.Uint32(data[pos+12:])
		pos += 16
		if len(data)-pos < pageLen {
			return nil, fmt.Errorf("cstable %s: truncated page of %s: %w", path, info.Name, core.ErrCorrupted)
		}
		page := data[pos : pos+pageLen]
		pos += pageLen
		if crc32.ChecksumIEEE(page) != checksum {
			return nil, fmt.Errorf("cstable %s: checksum mismatch in %s: %w", path, info.Name, core.ErrCorrupted)
		}
		r.columns = append(r.columns, info)
		r.pages[info.Name] = page
	}
	return r, nil
}

func (r *Reader) NumRows() uint64 { return r.rows }

func (r *Reader) Columns() []ColumnInfo { return r.columns }

// ReadColumn decodes every triple of the named column.
func (r *Reader) ReadColumn(name string) ([]Triple, error) {
	page, ok := r.pages[name]
	if !ok {
		return nil, fmt.Errorf("cstable %s: no column %q: %w", r.path, name, core.ErrInvalidArgument)
	}
	var info ColumnInfo
	for _, c := range r.columns {
		if c.Name == name {
			info = c
			break
		}
	}
	data, err := compressors.Decode(r.compression, page)
	if err != nil {
		return nil, fmt.Errorf("cstable %s: column %s: %w", r.path, name, err)
	}
	return decodeColumn(info, data)
}
