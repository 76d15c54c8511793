package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	Path       string
	Compressor core.Compressor
	BlockSize  int
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Writer appends rows with strictly increasing keys and finalizes the file.
// The writer writes to Path as given; publishing under a final name is the
// caller's business.
type Writer struct {
	path       string
	file       sys.FileHandle
	offset     int64
	compressor core.Compressor
	blockSize  int
	tracer     trace.Tracer
	logger     *slog.Logger

	index    []indexEntry
	block    bytes.Buffer
	blockKey uint64 // first key of the current block
	lastKey  uint64
	firstKey uint64
	rows     uint64
	bodySize uint64
	done     bool
}

type indexEntry struct {
	firstKey uint64
	offset   uint64
	length   uint32
}

// NewWriter creates the file at opts.Path and writes the header.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compressor == nil {
		opts.Compressor = &compressors.NoCompressionCompressor{}
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}

	file, err := sys.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sstable file %s: %w", opts.Path, err)
	}
	header := core.NewFileHeader(core.SSTableMagicNumber, opts.Compressor.Type())
	if _, err := file.Write(header.AppendBinary(nil)); err != nil {
		file.Close()
		_ = sys.Remove(opts.Path)
		return nil, fmt.Errorf("failed to write sstable header: %w", err)
	}

	return &Writer{
		path:       opts.Path,
		file:       file,
		offset:     int64(core.FileHeaderSize),
		compressor: opts.Compressor,
		blockSize:  opts.BlockSize,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "SSTableWriter", "path", opts.Path),
	}, nil
}

// AppendRow adds a row. Keys must be strictly increasing.
func (w *Writer) AppendRow(key uint64, value []byte) error {
	if w.done {
		return ErrClosed
	}
	if w.rows > 0 && key <= w.lastKey {
		return fmt.Errorf("append key %d after %d: %w", key, w.lastKey, ErrKeyOrder)
	}
	if w.rows == 0 {
		w.firstKey = key
	}

	var tmp [binary.MaxVarintLen64]byte
	if w.block.Len() == 0 {
		w.blockKey = key
		w.block.Write(tmp[:binary.PutUvarint(tmp[:], key)])
	} else {
		w.block.Write(tmp[:binary.PutUvarint(tmp[:], key-w.lastKey)])
	}
	w.block.Write(tmp[:binary.PutUvarint(tmp[:], uint64(len(value)))])
	w.block.Write(value)

	w.lastKey = key
	w.rows++

	if w.block.Len() >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.block.Len() == 0 {
		return nil
	}
	compressed := core.BufferPool.Get()
	defer core.BufferPool.Put(compressed)
	if err := w.compressor.CompressTo(compressed, w.block.Bytes()); err != nil {
		return fmt.Errorf("failed to compress block: %w", err)
	}
	data := compressed.Bytes()

	var hdr [BlockHeaderSize]byte
	hdr[0] = byte(w.compressor.Type())
	binary.LittleEndian.PutUint32(hdr[1:5], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(data)))
	if _, err := w.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write block header: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write block data: %w", err)
	}

	stored := uint32(BlockHeaderSize + len(data))
	w.index = append(w.index, indexEntry{firstKey: w.blockKey, offset: uint64(w.offset), length: stored})
	w.offset += int64(stored)
	w.bodySize += uint64(stored)
	w.block.Reset()
	return nil
}

// Finalize flushes the last block, writes the index and footer and syncs
// and closes the file.
func (w *Writer) Finalize() (err error) {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "SSTableWriter.Finalize")
		defer span.End()
	}
	defer func() {
		if err != nil && span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if w.done {
		return ErrClosed
	}
	if err := w.flushBlock(); err != nil {
		return err
	}

	indexBuf := core.BufferPool.Get()
	defer core.BufferPool.Put(indexBuf)
	for _, e := range w.index {
		var b [indexEntrySize]byte
		binary.LittleEndian.PutUint64(b[0:8], e.firstKey)
		binary.LittleEndian.PutUint64(b[8:16], e.offset)
		binary.LittleEndian.PutUint32(b[16:20], e.length)
		indexBuf.Write(b[:])
	}
	indexOffset := w.offset
	if _, err := w.file.Write(indexBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	var footer [FooterSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], w.rows)
	binary.LittleEndian.PutUint64(footer[8:16], w.bodySize)
	binary.LittleEndian.PutUint64(footer[16:24], w.firstKey)
	binary.LittleEndian.PutUint64(footer[24:32], w.lastKey)
	binary.LittleEndian.PutUint64(footer[32:40], uint64(indexOffset))
	binary.LittleEndian.PutUint32(footer[40:44], uint32(indexBuf.Len()))
	binary.LittleEndian.PutUint32(footer[44:48], crc32.ChecksumIEEE(indexBuf.Bytes()))
	copy(footer[footerFixedSize:], MagicString)
	if _, err := w.file.Write(footer[:]); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync sstable file: %w", err)
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close sstable file: %w", err)
	}

	if span != nil {
		span.SetAttributes(
			attribute.String("sstable.path", w.path),
			attribute.Int64("sstable.rows", int64(w.rows)),
			attribute.Int64("sstable.body_bytes", int64(w.bodySize)),
			attribute.Int("sstable.blocks", len(w.index)),
		)
	}
	w.logger.Debug("Finalized sstable", "rows", w.rows, "blocks", len(w.index), "body_size", w.bodySize)
	return nil
}

// Abort closes the file without finalizing it. The partial file is left on
// disk for the caller to remove or inspect.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.file.Close()
}

// Rows returns the number of rows appended so far.
func (w *Writer) Rows() uint64 { return w.rows }

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }
