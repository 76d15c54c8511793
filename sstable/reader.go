package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/INLOpen/nexustable/cache"
	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
)

// Table is an open row-store file.
type Table struct {
	file      sys.FileHandle
	path      string
	header    core.FileHeader
	size      int64
	finalized bool

	rows     uint64
	bodySize uint64
	firstKey uint64
	lastKey  uint64
	index    []indexEntry
	blocks   *cache.LRUCache[[]byte]

	closed atomic.Bool
}

// BlockCacheKey is the key under which block i of the file at path is
// cached.
func BlockCacheKey(path string, i int) string {
	return path + "#" + strconv.Itoa(i)
}

// SetBlockCache makes the table look up decompressed blocks in c before
// reading them from disk. Cached blocks must be treated as read-only.
func (t *Table) SetBlockCache(c *cache.LRUCache[[]byte]) { t.blocks = c }

// Open opens a row-store file. A file that was never finalized opens
// successfully and reports IsFinalized() == false.
func Open(path string) (t *Table, err error) {
	file, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sstable file %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	t = &Table{file: file, path: path}
	headerBytes := make([]byte, core.FileHeaderSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read sstable header from %s: %w", path, core.ErrCorrupted)
	}
	if t.header, err = core.DecodeFileHeader(headerBytes, core.SSTableMagicNumber); err != nil {
		return nil, fmt.Errorf("sstable %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat sstable file %s: %w", path, err)
	}
	t.size = stat.Size()
	if t.size < int64(len(headerBytes)+FooterSize) {
		return t, nil
	}

	var footer [FooterSize]byte
	if _, err := file.ReadAt(footer[:], t.size-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("failed to read sstable footer: %w", err)
	}
	if string(footer[footerFixedSize:]) != MagicString {
		return t, nil
	}

	t.rows = binary.LittleEndian.Uint64(footer[0:8])
	t.bodySize = binary.LittleEndian.Uint64(footer[8:16])
	t.firstKey = binary.LittleEndian.Uint64(footer[16:24])
	t.lastKey = binary.LittleEndian.Uint64(footer[24:32])
	indexOffset := int64(binary.LittleEndian.Uint64(footer[32:40]))
	indexLen := binary.LittleEndian.Uint32(footer[40:44])
	indexCRC := binary.LittleEndian.Uint32(footer[44:48])

	if indexOffset < int64(len(headerBytes)) || indexOffset+int64(indexLen) > t.size-int64(FooterSize) || indexLen%indexEntrySize != 0 {
		return nil, fmt.Errorf("sstable %s: index out of bounds: %w", path, core.ErrCorrupted)
	}
	raw := make([]byte, indexLen)
	if _, err := file.ReadAt(raw, indexOffset); err != nil {
		return nil, fmt.Errorf("failed to read sstable index: %w", err)
	}
	if crc32.ChecksumIEEE(raw) != indexCRC {
		return nil, fmt.Errorf("sstable %s: index checksum mismatch: %w", path, core.ErrCorrupted)
	}
	t.index = make([]indexEntry, 0, indexLen/indexEntrySize)
	for off := 0; off < len(raw); off += indexEntrySize {
		t.index = append(t.index, indexEntry{
			firstKey: binary.LittleEndian.Uint64(raw[off:]),
			offset:   binary.LittleEndian.Uint64(raw[off+8:]),
			length:   binary.LittleEndian.Uint32(raw[off+16:]),
		})
	}
	t.finalized = true
	return t, nil
}

func (t *Table) IsFinalized() bool { return t.finalized }

// BodySize is the number of bytes occupied by data blocks.
func (t *Table) BodySize() uint64 { return t.bodySize }

func (t *Table) RowCount() uint64 { return t.rows }

// FirstKey and LastKey are only meaningful when RowCount() > 0.
func (t *Table) FirstKey() uint64 { return t.firstKey }
func (t *Table) LastKey() uint64  { return t.lastKey }

// Size is the file size on disk.
func (t *Table) Size() int64 { return t.size }

func (t *Table) Path() string { return t.path }

func (t *Table) Compression() core.CompressionType { return t.header.CompressorType }

func (t *Table) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.file.Close()
}

// readBlock reads, verifies and decompresses block i.
func (t *Table) readBlock(i int) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	var key string
	if t.blocks != nil {
		key = BlockCacheKey(t.path, i)
		if data, ok := t.blocks.Get(key); ok {
			return data, nil
		}
	}
	e := t.index[i]
	if e.length < BlockHeaderSize {
		return nil, fmt.Errorf("sstable %s: block %d too short: %w", t.path, i, core.ErrCorrupted)
	}
	raw := make([]byte, e.length)
	if _, err := t.file.ReadAt(raw, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("failed to read block %d of %s: %w", i, t.path, err)
	}
	ct := core.CompressionType(raw[0])
	checksum := binary.LittleEndian.Uint32(raw[1:5])
	n := binary.LittleEndian.Uint32(raw[5:9])
	data := raw[BlockHeaderSize:]
	if uint32(len(data)) != n {
		return nil, fmt.Errorf("sstable %s: block %d length mismatch: %w", t.path, i, core.ErrCorrupted)
	}
	if crc32.ChecksumIEEE(data) != checksum {
		return nil, fmt.Errorf("sstable %s: block %d checksum mismatch: %w", t.path, i, core.ErrCorrupted)
	}
	out, err := compressors.Decode(ct, data)
	if err != nil {
		return nil, err
	}
	if t.blocks != nil {
		t.blocks.Put(key, out)
	}
	return out, nil
}

// NewCursor returns a cursor positioned at the first row.
func (t *Table) NewCursor() (*Cursor, error) {
	return t.Seek(0)
}

// Seek returns a cursor positioned at the first row with key >= key.
func (t *Table) Seek(key uint64) (*Cursor, error) {
	if !t.finalized {
		return nil, fmt.Errorf("sstable %s: %w", t.path, core.ErrUnfinishedChunk)
	}
	c := &Cursor{t: t, block: -1}
	// last block whose first key <= key
	i := sort.Search(len(t.index), func(i int) bool { return t.index[i].firstKey > key }) - 1
	if i < 0 {
		i = 0
	}
	c.block = i - 1
	c.nextBlock()
	for c.Valid() && c.key < key {
		c.Next()
	}
	return c, c.err
}
