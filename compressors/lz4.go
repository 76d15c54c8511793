package compressors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/nexustable/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements the Compressor interface using LZ4 blocks.
// The lz4 block format does not record the decompressed size, so every
// compressed block is prefixed with it as a uvarint.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("lz4 decompress: bad size prefix: %w", core.ErrCorrupted)
	}
	if size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	dst := make([]byte, size)
	m, err := lz4.UncompressBlock(data[n:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(m) != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d: %w", m, size, core.ErrCorrupted)
	}
	return io.NopCloser(bytes.NewReader(dst)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

// CompressTo compresses src into dst. CompressBlock reports 0 for
// incompressible input; that case is written as a literal-only block.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var prefix [binary.MaxVarintLen64]byte
	dst.Write(prefix[:binary.PutUvarint(prefix[:], uint64(len(src)))])
	if len(src) == 0 {
		return nil
	}

	tmp := make([]byte, lz4.CompressBlockBound(len(src)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(src, tmp, ht[:])
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 {
		// incompressible: emit a literal-only block
		n = writeLiteralBlock(tmp, src)
	}
	dst.Write(tmp[:n])
	return nil
}

// writeLiteralBlock encodes src as a single lz4 sequence of literals.
func writeLiteralBlock(dst, src []byte) int {
	l := len(src)
	i := 0
	if l < 15 {
		dst[i] = byte(l << 4)
		i++
	} else {
		dst[i] = 0xF0
		i++
		rest := l - 15
		for rest >= 255 {
			dst[i] = 255
			i++
			rest -= 255
		}
		dst[i] = byte(rest)
		i++
	}
	i += copy(dst[i:], src)
	return i
}
