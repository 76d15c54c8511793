// Package sstable implements the row-store file of a chunk: an append-only,
// block compressed log of (sequence, record) rows.
//
// Layout:
//
//	header | block* | index | footer
//
// Every block starts with a compression flag, a crc32 of the stored bytes and
// the stored length. The footer carries the row count, the body size and the
// index position, and ends with MagicString. A file without a valid footer
// has not been finalized.
package sstable

import (
	"errors"

	"github.com/INLOpen/nexustable/core"
)

// MagicString is placed at the very end of a finalized file.
const MagicString = core.SSTableMagicString

const MagicStringLen = len(MagicString)

const (
	// BlockHeaderSize is compression flag + crc32 + stored length.
	BlockHeaderSize = 1 + core.ChecksumSize + 4

	// indexEntrySize is firstKey + offset + stored length.
	indexEntrySize = 8 + 8 + 4

	// footerFixedSize is rowCount, bodySize, firstKey, lastKey, indexOffset,
	// indexLen and indexChecksum.
	footerFixedSize = 8 + 8 + 8 + 8 + 8 + 4 + 4
	FooterSize      = footerFixedSize + MagicStringLen
)

// DefaultBlockSize is the uncompressed size at which a block is cut.
const DefaultBlockSize = 64 * 1024

var (
	ErrKeyOrder = errors.New("sstable keys must be strictly increasing")
	ErrClosed   = errors.New("sstable is closed")
)
