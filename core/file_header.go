package core

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FileHeader opens every chunk file (.sst, .cst, .smr). The encoded layout
// is fixed and little endian:
//
//	magic u32 | version u8 | created_at i64 (unix nanos) | compression u8
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64
	CompressorType CompressionType
}

// FileHeaderSize is the encoded size of a FileHeader.
const FileHeaderSize = 4 + 1 + 8 + 1

func (h *FileHeader) Size() int { return FileHeaderSize }

// NewFileHeader stamps a header for a chunk file of the given kind.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

// Created is the time the file was started.
func (h FileHeader) Created() time.Time { return time.Unix(0, h.CreatedAt) }

// AppendBinary appends the encoded header to b.
func (h FileHeader) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = append(b, h.Version)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.CreatedAt))
	return append(b, byte(h.CompressorType))
}

// DecodeFileHeader parses the header at the start of data and checks that
// it carries the wanted magic number and a supported version.
func DecodeFileHeader(data []byte, magic uint32) (FileHeader, error) {
	var h FileHeader
	if len(data) < FileHeaderSize {
		return h, fmt.Errorf("file header truncated at %d bytes: %w", len(data), ErrCorrupted)
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	h.Version = data[4]
	h.CreatedAt = int64(binary.LittleEndian.Uint64(data[5:13]))
	h.CompressorType = CompressionType(data[13])
	if h.Magic != magic {
		return h, fmt.Errorf("bad magic %x, want %x: %w", h.Magic, magic, ErrCorrupted)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported format version %d: %w", h.Version, ErrCorrupted)
	}
	return h, nil
}
