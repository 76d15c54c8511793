package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedBlock bounds the memory a single decoded block may claim.
const maxDecodedBlock = 256 << 20

// ZstdCompressor implements the Compressor interface using zstd frames.
// Encoders and decoders are created once and shared; EncodeAll and
// DecodeAll are safe for concurrent use.
type ZstdCompressor struct {
	once    sync.Once
	initErr error
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

func (c *ZstdCompressor) init() error {
	c.once.Do(func() {
		c.enc, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if c.initErr != nil {
			return
		}
		c.dec, c.initErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(maxDecodedBlock))
	})
	return c.initErr
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo compresses src into dst, reusing dst's capacity.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	if err := c.init(); err != nil {
		return fmt.Errorf("zstd init: %w", err)
	}
	dst.Reset()
	out := c.enc.EncodeAll(src, dst.AvailableBuffer())
	dst.Write(out)
	return nil
}
