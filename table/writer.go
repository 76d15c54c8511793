// Package table implements the storage engine of an append-only event
// table: records are buffered in arenas, flushed into immutable chunks and
// tracked through versioned manifests (generations) that are compacted,
// garbage collected and merged with the chunk lists of other replicas.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/INLOpen/nexustable/artifacts"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/hooks"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/summary"
	"github.com/INLOpen/nexustable/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Writer is the single writer of one (table, replica) pair.
type Writer struct {
	dir       string
	name      string
	replicaID string
	schema    *schema.Schema
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	hooks     hooks.HookManager
	metrics   *Metrics
	artifacts *artifacts.Index
	policy    *MergePolicy
	limiter   *rate.Limiter
	unlock    sys.Unlocker

	// mu guards the sequence counter, the arena list and the head pointer.
	mu        sync.Mutex
	seq       uint64
	head      *Generation
	arenas    []*Arena // newest first
	summaries []summary.Factory
	failed    map[*Arena]error
	closed    bool

	// mergeMu serializes merges and orphan sweeps.
	mergeMu sync.Mutex
	flushes sync.WaitGroup

	testHookBeforeMergePublish func()
}

// Open opens the writer of table/replica in dir, resuming from the newest
// manifest on disk. It fails with ErrLockHeld if another writer holds the
// lock and with ErrManifestMismatch if the newest manifest belongs to
// another table.
func Open(dir, tableName, replicaID string, s *schema.Schema, opts Options) (*Writer, error) {
	if err := core.ValidateIdentifier("table name", tableName); err != nil {
		return nil, err
	}
	if err := core.ValidateIdentifier("replica id", replicaID); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("schema is required: %w", core.ErrInvalidArgument)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "TableWriter", "table", tableName, "replica", replicaID)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create table directory %s: %w", dir, err)
	}

	lockPath := core.LockPath(dir, tableName, replicaID)
	unlock, err := sys.AcquireOSFileLock(lockPath, 0)
	if err != nil {
		if errors.Is(err, sys.ErrLocked) {
			err = core.ErrLockHeld
		}
		return nil, &core.StorageError{Op: "open", Kind: core.KindFatal, Path: lockPath, Err: err}
	}
	w, err := openLocked(dir, tableName, replicaID, s, opts, logger)
	if err != nil {
		_ = unlock()
		return nil, err
	}
	w.unlock = unlock
	return w, nil
}

func openLocked(dir, tableName, replicaID string, s *schema.Schema, opts Options, logger *slog.Logger) (*Writer, error) {
	headGen, err := FindHeadGeneration(dir, tableName, replicaID)
	if err != nil {
		return nil, err
	}
	head := NewGeneration(tableName)
	if headGen > 0 {
		head, err = ReadGenerationFile(core.GenerationPath(dir, tableName, replicaID, headGen), headGen, tableName)
		if err != nil {
			return nil, err
		}
	}
	if err := head.Validate(); err != nil {
		logger.Warn("Head generation failed validation", "generation", head.Generation, "error", err)
	}

	afx, err := artifacts.Open(dir, core.ArtifactIndexName(tableName, replicaID), opts.Logger)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:       dir,
		name:      tableName,
		replicaID: replicaID,
		schema:    s,
		opts:      opts,
		logger:    logger,
		tracer:    opts.Tracer,
		hooks:     opts.Hooks,
		metrics:   opts.Metrics,
		artifacts: afx,
		policy:    NewMergePolicy(opts.MergeTiers, opts.IDSource, opts.Logger),
		limiter:   newMergeLimiter(opts.MergeBytesPerSec),
		seq:       head.NextSequence(replicaID),
		head:      head,
		failed:    make(map[*Arena]error),
	}
	w.arenas = []*Arena{NewArena(w.seq, opts.IDSource.NewID())}
	w.metrics.HeadGeneration.Set(int64(head.Generation))

	logger.Info("Opened table writer", "dir", dir, "generation", head.Generation, "chunks", len(head.Chunks), "next_sequence", w.seq)
	return w, nil
}

func (w *Writer) Name() string { return w.name }

func (w *Writer) ReplicaID() string { return w.replicaID }

func (w *Writer) Schema() *schema.Schema { return w.schema }

func (w *Writer) ArtifactIndex() *artifacts.Index { return w.artifacts }

// Head returns the current head generation. It must not be modified.
func (w *Writer) Head() *Generation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head
}

// AddSummary registers a summary builder for every chunk written from now on.
func (w *Writer) AddSummary(f summary.Factory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, f)
}

// AddRecord appends rec to the front arena and commits the arena once it
// holds ArenaThreshold records.
func (w *Writer) AddRecord(rec schema.Record) error {
	if err := w.schema.ValidateRecord(rec); err != nil {
		return err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return core.ErrClosed
	}
	front := w.arenas[0]
	front.AddRecord(rec)
	w.seq++
	var full *Arena
	if front.Size() >= w.opts.ArenaThreshold {
		full = w.rotateLocked()
	}
	w.mu.Unlock()

	w.metrics.RecordsAdded.Add(1)
	w.metrics.PendingRecords.Add(1)
	if full != nil {
		w.scheduleFlush(full)
	}
	return nil
}

// AddRecords decodes a buffer of concatenated encoded records and adds them.
// Nothing is added if any record fails to decode.
func (w *Writer) AddRecords(buf []byte) (int, error) {
	recs, err := schema.DecodeAll(w.schema, buf)
	if err != nil {
		return 0, err
	}
	for i, rec := range recs {
		if err := w.AddRecord(rec); err != nil {
			return i, err
		}
	}
	return len(recs), nil
}

// Commit rotates the front arena and schedules its flush. It returns the
// number of records about to be flushed.
func (w *Writer) Commit() (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, core.ErrClosed
	}
	arena := w.rotateLocked()
	w.mu.Unlock()
	if arena == nil {
		return 0, nil
	}
	w.scheduleFlush(arena)
	return arena.Size(), nil
}

func (w *Writer) rotateLocked() *Arena {
	front := w.arenas[0]
	if front.Size() == 0 {
		return nil
	}
	w.logger.Info("Committing table", "chunk", front.ChunkID(), "records", front.Size())
	w.arenas = append([]*Arena{NewArena(w.seq, w.opts.IDSource.NewID())}, w.arenas...)
	w.metrics.Commits.Add(1)
	w.flushes.Add(1)
	return front
}

// scheduleFlush runs the flush of arena in the background. The flush must
// already be counted in w.flushes, under w.mu, so that Close waits for it.
func (w *Writer) scheduleFlush(arena *Arena) {
	w.opts.Scheduler.Run(func() {
		defer w.flushes.Done()
		if err := w.writeTable(context.Background(), arena); err != nil {
			w.logger.Error("Background flush failed", "chunk", arena.ChunkID(), "error", err)
			w.metrics.FlushFailures.Add(1)
			w.mu.Lock()
			w.failed[arena] = err
			w.mu.Unlock()
		}
	})
}

// writeTable writes an arena into a chunk and publishes it in a new
// generation.
func (w *Writer) writeTable(ctx context.Context, arena *Arena) (err error) {
	start := w.opts.Clock()
	chunk := core.ChunkRef{
		ReplicaID:     w.replicaID,
		ChunkID:       arena.ChunkID(),
		StartSequence: arena.StartSequence(),
	}
	records := arena.Records()

	ctx, span := startSpan(ctx, w.tracer, "TableWriter.writeTable",
		attribute.String("table.name", w.name),
		attribute.String("table.chunk", chunk.Key()),
		attribute.Int("table.records", len(records)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	pre := hooks.ChunkWritePayload{Table: w.name, Chunk: chunk, Schema: w.schema, Records: records}
	if err := w.hooks.Trigger(ctx, hooks.NewPreChunkWriteEvent(pre)); err != nil {
		return fmt.Errorf("chunk write cancelled by pre-hook: %w", err)
	}

	cw, err := NewChunkWriter(ChunkWriterOptions{
		Dir:        w.dir,
		TableName:  w.name,
		Schema:     w.schema,
		Chunk:      chunk,
		Compressor: w.opts.Compressor,
		Summaries:  w.summaryFactories(),
		Logger:     w.opts.Logger,
		Tracer:     w.tracer,
	})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.AddRecord(rec); err != nil {
			cw.Abort()
			return err
		}
	}
	chunk, err = cw.Commit(ctx)
	if err != nil {
		return err
	}
	if err := w.addChunkArtifact(chunk, artifacts.StatusPresent); err != nil {
		return err
	}

	w.mu.Lock()
	next := w.head.Clone()
	next.Generation++
	next.Chunks = append(next.Chunks, chunk)
	if err := w.publishLocked(next); err != nil {
		w.mu.Unlock()
		return err
	}
	arena.Commit()
	delete(w.failed, arena)
	w.gcArenasLocked()
	w.mu.Unlock()

	elapsed := w.opts.Clock().Sub(start)
	w.metrics.ChunksWritten.Add(1)
	w.metrics.BytesWritten.Add(int64(chunk.SSTable.Size + chunk.CSTable.Size + chunk.Summary.Size))
	w.metrics.PendingRecords.Add(-int64(chunk.NumRecords))
	w.metrics.FlushLatencyMs.Set(float64(elapsed.Microseconds()) / 1000)
	w.manifestWritten(ctx, next)
	w.hooks.Trigger(ctx, hooks.NewPostChunkWriteEvent(hooks.ChunkWrittenPayload{Table: w.name, Chunk: chunk, Duration: elapsed}))
	return nil
}

func (w *Writer) summaryFactories() []summary.Factory {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]summary.Factory(nil), w.summaries...)
}

// publishLocked persists next and makes it the head. Callers hold mu and
// report the new manifest with manifestWritten after unlocking.
func (w *Writer) publishLocked(next *Generation) error {
	path := core.GenerationPath(w.dir, w.name, w.replicaID, next.Generation)
	w.logger.Info("Writing snapshot", "generation", next.Generation, "chunks", len(next.Chunks))
	if err := WriteGenerationFile(path, next); err != nil {
		return core.NewStorageError("write manifest", path, err)
	}
	w.head = next
	w.metrics.HeadGeneration.Set(int64(next.Generation))
	return nil
}

func (w *Writer) manifestWritten(ctx context.Context, g *Generation) {
	w.hooks.Trigger(ctx, hooks.NewPostManifestWriteEvent(hooks.ManifestWritePayload{
		Table:      w.name,
		ReplicaID:  w.replicaID,
		Generation: g.Generation,
		NumChunks:  len(g.Chunks),
		Path:       core.GenerationPath(w.dir, w.name, w.replicaID, g.Generation),
	}))
}

// gcArenasLocked drops committed arenas from the back of the list, always
// keeping the front arena.
func (w *Writer) gcArenasLocked() {
	for len(w.arenas) > 1 && w.arenas[len(w.arenas)-1].IsCommitted() {
		w.arenas[len(w.arenas)-1] = nil
		w.arenas = w.arenas[:len(w.arenas)-1]
	}
}

func (w *Writer) addChunkArtifact(c core.ChunkRef, status artifacts.Status) error {
	name := core.ChunkName(w.name, c.ReplicaID, c.ChunkID)
	ref := artifacts.Ref{
		Name:   name,
		Status: status,
		Files: []artifacts.FileRef{
			{Filename: name + core.SSTableSuffix, Size: c.SSTable.Size, Checksum: c.SSTable.Checksum},
			{Filename: name + core.CSTableSuffix, Size: c.CSTable.Size, Checksum: c.CSTable.Checksum},
			{Filename: name + core.SummarySuffix, Size: c.Summary.Size, Checksum: c.Summary.Checksum},
		},
	}
	return w.artifacts.AddArtifact(ref)
}

// Sync waits for scheduled flushes and returns the errors of every flush
// that has failed and not been retried successfully.
func (w *Writer) Sync() error {
	w.flushes.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	failed := make([]*Arena, 0, len(w.failed))
	for a := range w.failed {
		failed = append(failed, a)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].StartSequence() < failed[j].StartSequence() })
	errs := make([]error, 0, len(failed))
	for _, a := range failed {
		errs = append(errs, fmt.Errorf("flush of chunk %s: %w", a.ChunkID(), w.failed[a]))
	}
	return errors.Join(errs...)
}

// RetryFailedFlushes schedules every failed flush again and returns how many
// were scheduled. A closed writer schedules nothing.
func (w *Writer) RetryFailedFlushes() int {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0
	}
	retry := make([]*Arena, 0, len(w.failed))
	for a := range w.failed {
		retry = append(retry, a)
		delete(w.failed, a)
	}
	w.flushes.Add(len(retry))
	w.mu.Unlock()
	sort.Slice(retry, func(i, j int) bool { return retry[i].StartSequence() < retry[j].StartSequence() })
	for _, a := range retry {
		w.logger.Info("Retrying flush", "chunk", a.ChunkID(), "records", a.Size())
		w.scheduleFlush(a)
	}
	return len(retry)
}

// GetSnapshot returns the head generation and the arenas whose records are
// not part of it.
func (w *Writer) GetSnapshot() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := &Snapshot{Head: w.head, Arenas: make([]ArenaView, 0, len(w.arenas))}
	for _, a := range w.arenas {
		if !a.IsCommitted() {
			snap.Arenas = append(snap.Arenas, a.view())
		}
	}
	return snap
}

// ArenaSize is the number of records held by all arenas.
func (w *Writer) ArenaSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, a := range w.arenas {
		n += a.Size()
	}
	return n
}

// Close waits for background flushes and merges and releases the lock.
// Records still in the front arena are not flushed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	pending := w.arenas[0].Size()
	w.mu.Unlock()

	w.flushes.Wait()
	w.mergeMu.Lock()
	defer w.mergeMu.Unlock()

	if pending > 0 {
		w.logger.Warn("Closing table writer with unflushed records", "records", pending)
	}
	w.logger.Info("Closed table writer")
	if w.unlock != nil {
		return w.unlock()
	}
	return nil
}

func (w *Writer) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// chunkSize is the row-store size of c, from the manifest or from disk for
// manifests that carry no sizes.
func (w *Writer) chunkSize(c core.ChunkRef) uint64 {
	if c.SSTable.Size > 0 {
		return c.SSTable.Size
	}
	fi, err := sys.Stat(core.ChunkBasePath(w.dir, w.name, c.ReplicaID, c.ChunkID) + core.SSTableSuffix)
	if err != nil {
		w.logger.Warn("Cannot stat chunk", "chunk", c.Key(), "error", err)
		return 0
	}
	return uint64(fi.Size())
}
