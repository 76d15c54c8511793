package table

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/cstable"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/INLOpen/nexustable/summary"
	"github.com/INLOpen/nexustable/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ChunkWriterOptions configures a ChunkWriter. Chunk must carry ReplicaID,
// ChunkID and StartSequence.
type ChunkWriterOptions struct {
	Dir        string
	TableName  string
	Schema     *schema.Schema
	Chunk      core.ChunkRef
	Compressor core.Compressor
	Summaries  []summary.Factory
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// ChunkWriter writes the three files of one chunk under temporary names and
// publishes them together in Commit.
type ChunkWriter struct {
	opts      ChunkWriterOptions
	base      string
	seq       uint64
	sst       *sstable.Writer
	cst       *cstable.Builder
	summaries []summary.Builder
	buf       []byte
	logger    *slog.Logger
	done      bool
}

func NewChunkWriter(opts ChunkWriterOptions) (*ChunkWriter, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := core.ChunkBasePath(opts.Dir, opts.TableName, opts.Chunk.ReplicaID, opts.Chunk.ChunkID)
	logger := opts.Logger.With("component", "ChunkWriter", "chunk", filepath.Base(base))

	sst, err := sstable.NewWriter(sstable.WriterOptions{
		Path:       core.TempPath(base + core.SSTableSuffix),
		Compressor: opts.Compressor,
		Tracer:     opts.Tracer,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	w := &ChunkWriter{
		opts:   opts,
		base:   base,
		seq:    opts.Chunk.StartSequence,
		sst:    sst,
		cst:    cstable.NewBuilder(opts.Schema, opts.Compressor),
		logger: logger,
	}
	for _, f := range opts.Summaries {
		w.summaries = append(w.summaries, f())
	}
	return w, nil
}

// AddRecord stores rec under the next sequence number.
func (w *ChunkWriter) AddRecord(rec schema.Record) error {
	if w.done {
		return fmt.Errorf("chunk writer %s: %w", w.base, core.ErrClosed)
	}
	var err error
	w.buf, err = schema.AppendEncode(w.buf[:0], w.opts.Schema, rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", w.seq, err)
	}
	if err := w.cst.AddRecord(rec); err != nil {
		return fmt.Errorf("failed to shred record %d: %w", w.seq, err)
	}
	if err := w.sst.AppendRow(w.seq, w.buf); err != nil {
		return err
	}
	for _, s := range w.summaries {
		s.AddRecord(rec)
	}
	w.seq++
	return nil
}

// NextSequence is the sequence number the next record will get.
func (w *ChunkWriter) NextSequence() uint64 { return w.seq }

// NumRecords is the number of records added so far.
func (w *ChunkWriter) NumRecords() uint64 { return w.seq - w.opts.Chunk.StartSequence }

// Commit finalizes the files, records their checksums and sizes in the
// returned ChunkRef and renames them to their final names. Nothing is
// renamed unless all three files were written. On failure the temporary
// files are left behind.
func (w *ChunkWriter) Commit(ctx context.Context) (chunk core.ChunkRef, err error) {
	ctx, span := startSpan(ctx, w.opts.Tracer, "ChunkWriter.Commit",
		attribute.String("table.chunk", w.opts.Chunk.Key()),
		attribute.Int64("table.records", int64(w.NumRecords())))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			w.logger.Warn("Chunk commit failed, leaving temporary files", "error", err)
		}
	}()
	if w.done {
		return core.ChunkRef{}, fmt.Errorf("chunk writer %s: %w", w.base, core.ErrClosed)
	}
	w.done = true

	w.logger.Info("Writing chunk", "records", w.NumRecords())

	sstPath := w.base + core.SSTableSuffix
	cstPath := w.base + core.CSTableSuffix
	smrPath := w.base + core.SummarySuffix

	if err := w.cst.Commit(core.TempPath(cstPath)); err != nil {
		_ = w.sst.Abort()
		return core.ChunkRef{}, err
	}
	if err := w.sst.Finalize(); err != nil {
		_ = w.sst.Abort()
		return core.ChunkRef{}, err
	}
	sw := summary.NewWriter()
	for _, s := range w.summaries {
		if err := s.Commit(sw); err != nil {
			return core.ChunkRef{}, fmt.Errorf("failed to build summary: %w", err)
		}
	}
	if err := sw.Commit(core.TempPath(smrPath)); err != nil {
		return core.ChunkRef{}, err
	}

	chunk = w.opts.Chunk
	chunk.NumRecords = w.NumRecords()
	for _, f := range []struct {
		path string
		info *core.FileInfo
	}{
		{sstPath, &chunk.SSTable},
		{cstPath, &chunk.CSTable},
		{smrPath, &chunk.Summary},
	} {
		sum, size, err := sys.FileChecksum(core.TempPath(f.path))
		if err != nil {
			return core.ChunkRef{}, fmt.Errorf("failed to checksum %s: %w", f.path, err)
		}
		*f.info = core.FileInfo{Checksum: sum, Size: size}
	}

	for _, p := range []string{sstPath, cstPath, smrPath} {
		if err := sys.Rename(core.TempPath(p), p); err != nil {
			return core.ChunkRef{}, fmt.Errorf("failed to publish %s: %w", p, err)
		}
	}
	if err := sys.SyncDir(w.opts.Dir); err != nil {
		return core.ChunkRef{}, err
	}
	span.SetAttributes(attribute.Int64("table.chunk_bytes", int64(chunk.SSTable.Size+chunk.CSTable.Size+chunk.Summary.Size)))
	return chunk, nil
}

// Abort stops writing without publishing anything.
func (w *ChunkWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.sst.Abort()
}

// chunkFiles lists the published file paths of a chunk.
func chunkFiles(dir, tableName string, c core.ChunkRef) []string {
	base := core.ChunkBasePath(dir, tableName, c.ReplicaID, c.ChunkID)
	files := make([]string, 0, len(core.ChunkFileSuffixes))
	for _, s := range core.ChunkFileSuffixes {
		files = append(files, base+s)
	}
	return files
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
