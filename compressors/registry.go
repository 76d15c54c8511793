package compressors

import (
	"fmt"

	"github.com/INLOpen/nexustable/core"
)

var sharedZstd = NewZstdCompressor()

// Get returns the Compressor for a type read from a file header.
func Get(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return &SnappyCompressor{}, nil
	case core.CompressionLZ4:
		return &LZ4Compressor{}, nil
	case core.CompressionZSTD:
		return sharedZstd, nil
	default:
		return nil, fmt.Errorf("unknown compression type %d: %w", ct, core.ErrCorrupted)
	}
}

// New resolves a configured compression name.
func New(name string) (core.Compressor, error) {
	ct, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return Get(ct)
}

// Decode decompresses a whole block with the compressor for ct.
func Decode(ct core.CompressionType, data []byte) ([]byte, error) {
	c, err := Get(ct)
	if err != nil {
		return nil, err
	}
	rc, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read decompressed %s block: %w", ct, err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
