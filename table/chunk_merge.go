package table

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/time/rate"
)

// ChunkMerge replays the records of several chunks, in sequence order,
// through one ChunkWriter.
type ChunkMerge struct {
	dir     string
	table   string
	schema  *schema.Schema
	inputs  []core.ChunkRef
	writer  *ChunkWriter
	limiter *rate.Limiter
	logger  *slog.Logger
	seen    *roaring64.Bitmap
}

// NewChunkMerge prepares a merge of inputs into writer. limiter may be nil.
func NewChunkMerge(dir, table string, s *schema.Schema, inputs []core.ChunkRef, writer *ChunkWriter, limiter *rate.Limiter, logger *slog.Logger) *ChunkMerge {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkMerge{
		dir:     dir,
		table:   table,
		schema:  s,
		inputs:  inputs,
		writer:  writer,
		limiter: limiter,
		logger:  logger.With("component", "ChunkMerge"),
		seen:    roaring64.New(),
	}
}

// Merge copies every input and commits the output chunk. The output must
// hold exactly the sequence numbers of the inputs.
func (m *ChunkMerge) Merge(ctx context.Context) (core.ChunkRef, error) {
	var want uint64
	for _, c := range m.inputs {
		if err := m.readTable(ctx, c); err != nil {
			m.writer.Abort()
			return core.ChunkRef{}, err
		}
		want += c.NumRecords
	}
	if got := m.seen.GetCardinality(); got != want || m.writer.NumRecords() != want {
		m.writer.Abort()
		return core.ChunkRef{}, fmt.Errorf("merge read %d records, inputs declare %d: %w", got, want, core.ErrCorrupted)
	}
	return m.writer.Commit(ctx)
}

func (m *ChunkMerge) readTable(ctx context.Context, c core.ChunkRef) error {
	path := core.ChunkBasePath(m.dir, m.table, c.ReplicaID, c.ChunkID) + core.SSTableSuffix
	t, err := sstable.Open(path)
	if err != nil {
		return err
	}
	defer t.Close()

	if !t.IsFinalized() {
		return fmt.Errorf("%s: %w", path, core.ErrUnfinishedChunk)
	}
	if t.BodySize() == 0 {
		m.logger.Warn("Empty table chunk", "path", path)
		return nil
	}

	cur, err := t.NewCursor()
	if err != nil {
		return err
	}
	for ; cur.Valid(); cur.Next() {
		if err := m.throttle(ctx, len(cur.Value())); err != nil {
			return err
		}
		if cur.Key() != m.writer.NextSequence() {
			return fmt.Errorf("%s: row %d out of sequence, expected %d: %w", path, cur.Key(), m.writer.NextSequence(), core.ErrCorrupted)
		}
		rec, _, err := schema.Decode(m.schema, cur.Value())
		if err != nil {
			return fmt.Errorf("%s: row %d: %w", path, cur.Key(), err)
		}
		if err := m.writer.AddRecord(rec); err != nil {
			return err
		}
		m.seen.Add(cur.Key())
	}
	return cur.Err()
}

func (m *ChunkMerge) throttle(ctx context.Context, n int) error {
	if m.limiter == nil {
		return nil
	}
	if b := m.limiter.Burst(); n > b {
		n = b
	}
	return m.limiter.WaitN(ctx, n)
}

// newMergeLimiter returns nil when bytesPerSec is not positive.
func newMergeLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
