// Package summary holds per-chunk summaries: named, checksummed sections
// produced by pluggable builders while a chunk is written.
package summary

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
)

// Writer collects sections and writes them as one .smr file.
type Writer struct {
	names    []string
	sections map[string][]byte
}

func NewWriter() *Writer {
	return &Writer{sections: make(map[string][]byte)}
}

// Put stores a section, replacing an earlier one of the same name.
func (w *Writer) Put(name string, payload []byte) {
	if _, ok := w.sections[name]; !ok {
		w.names = append(w.names, name)
	}
	w.sections[name] = payload
}

// Commit writes every section to path and fsyncs it.
func (w *Writer) Commit(path string) (err error) {
	f, err := sys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create summary file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	header := core.NewFileHeader(core.SummaryMagicNumber, core.CompressionNone)
	buf.Write(header.AppendBinary(nil))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(w.names))))
	for _, name := range w.names {
		payload := w.sections[name]
		var meta []byte
		meta = binary.LittleEndian.AppendUint16(meta, uint16(len(name)))
		meta = append(meta, name...)
		meta = binary.LittleEndian.AppendUint32(meta, uint32(len(payload)))
		meta = binary.LittleEndian.AppendUint32(meta, crc32.ChecksumIEEE(payload))
		buf.Write(meta)
		buf.Write(payload)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write summary file %s: %w", path, err)
	}
	return f.Sync()
}

// File is a decoded .smr file.
type File struct {
	sections map[string][]byte
}

// Open reads and verifies a summary file.
func Open(path string) (*File, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary file %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	hsize := core.FileHeaderSize
	if len(data) < hsize+4 {
		return nil, fmt.Errorf("summary %s too short: %w", path, core.ErrCorrupted)
	}
	if _, err := core.DecodeFileHeader(data, core.SummaryMagicNumber); err != nil {
		return nil, fmt.Errorf("summary %s: %w", path, err)
	}

	pos := hsize
	n := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	out := &File{sections: make(map[string][]byte, n)}
	for i := uint32(0); i < n; i++ {
		if len(data)-pos < 2 {
			return nil, fmt.Errorf("summary %s: truncated section %d: %w", path, i, core.ErrCorrupted)
		}
		nameLen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if len(data)-pos < nameLen+8 {
			return nil, fmt.Errorf("summary %s: truncated section %d: %w", path, i, core.ErrCorrupted)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		size := int(binary.LittleEndian.Uint32(data[pos:]))
		checksum := binary.LittleEndian.Uint32(data[pos+4:])
		pos += 8
		if len(data)-pos < size {
			return nil, fmt.Errorf("summary %s: truncated section %q: %w", path, name, core.ErrCorrupted)
		}
		payload := data[pos : pos+size]
		pos += size
		if crc32.ChecksumIEEE(payload) != checksum {
			return nil, fmt.Errorf("summary %s: checksum mismatch in %q: %w", path, name, core.ErrCorrupted)
		}
		out.sections[name] = payload
	}
	return out, nil
}

// Sections returns the section names in sorted order.
func (f *File) Sections() []string {
	names := make([]string, 0, len(f.sections))
	for name := range f.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *File) Get(name string) ([]byte, bool) {
	p, ok := f.sections[name]
	return p, ok
}
