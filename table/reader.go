package table

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/INLOpen/nexustable/cache"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/INLOpen/nexustable/sys"
)

// headProbeWindow is how far ahead of its cached head a Reader probes for
// manifests before rescanning the directory.
const headProbeWindow = 100

// Reader reads the published state of a table without taking the writer
// lock. It follows new manifests as the writer publishes them.
type Reader struct {
	dir       string
	name      string
	replicaID string
	schema    *schema.Schema
	logger    *slog.Logger
	clock     func() time.Time
	blocks    *cache.LRUCache[[]byte]

	mu      sync.Mutex
	headGen uint64
}

func OpenReader(dir, tableName, replicaID string, s *schema.Schema, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	head, err := FindHeadGeneration(dir, tableName, replicaID)
	if err != nil {
		return nil, err
	}
	return &Reader{
		dir:       dir,
		name:      tableName,
		replicaID: replicaID,
		schema:    s,
		logger:    logger.With("component", "TableReader", "table", tableName, "replica", replicaID),
		clock:     time.Now,
		headGen:   head,
	}, nil
}

// SetBlockCache shares c between every chunk the reader opens. Chunk files
// are immutable once published, so cached blocks never go stale.
func (r *Reader) SetBlockCache(c *cache.LRUCache[[]byte]) { r.blocks = c }

func (r *Reader) Name() string { return r.name }

func (r *Reader) Schema() *schema.Schema { return r.schema }

// GetSnapshot loads the newest manifest and refreshes its access time so
// that the writer's gc keeps it for another GCDelay. Reader snapshots carry
// no arenas.
func (r *Reader) GetSnapshot() (*Snapshot, error) {
	for attempt := 0; ; attempt++ {
		gen, err := r.findHead()
		if err != nil {
			return nil, err
		}
		head := NewGeneration(r.name)
		if gen > 0 {
			path := core.GenerationPath(r.dir, r.name, r.replicaID, gen)
			head, err = ReadGenerationFile(path, gen, r.name)
			if errors.Is(err, os.ErrNotExist) && attempt == 0 {
				r.setHead(0)
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := sys.Touch(path, r.clock()); err != nil {
				r.logger.Debug("Failed to refresh manifest access time", "path", path, "error", err)
			}
		}
		return &Snapshot{Head: head}, nil
	}
}

func (r *Reader) setHead(gen uint64) {
	r.mu.Lock()
	r.headGen = gen
	r.mu.Unlock()
}

func (r *Reader) findHead() (uint64, error) {
	r.mu.Lock()
	g := r.headGen
	r.mu.Unlock()

	exists := func(gen uint64) bool {
		return sys.Exists(core.GenerationPath(r.dir, r.name, r.replicaID, gen))
	}
	for limit := g + headProbeWindow; g < limit && !exists(g); g++ {
	}
	if !exists(g) {
		var err error
		if g, err = FindHeadGeneration(r.dir, r.name, r.replicaID); err != nil {
			return 0, err
		}
	}
	for exists(g + 1) {
		g++
	}
	r.setHead(g)
	return g, nil
}

// RecordFunc receives one record and its sequence number. Returning false
// stops the iteration.
type RecordFunc func(seq uint64, rec schema.Record) bool

// FetchRecords reads up to limit records of replicaID starting at
// startSeq, from the chunk that contains startSeq. A negative limit reads
// to the end of that chunk. It returns the number of records delivered.
func (r *Reader) FetchRecords(replicaID string, startSeq uint64, limit int, fn RecordFunc) (int, error) {
	snap, err := r.GetSnapshot()
	if err != nil {
		return 0, err
	}
	for _, c := range snap.Head.Chunks {
		if c.ReplicaID != replicaID || startSeq < c.StartSequence || startSeq >= c.EndSequence() {
			continue
		}
		offset := startSeq - c.StartSequence
		n := c.NumRecords - offset
		if limit >= 0 && n > uint64(limit) {
			n = uint64(limit)
		}
		return r.FetchChunk(c, offset, n, fn)
	}
	return 0, nil
}

// FetchChunk reads limit records of chunk starting at the given offset.
func (r *Reader) FetchChunk(chunk core.ChunkRef, offset, limit uint64, fn RecordFunc) (int, error) {
	path := core.ChunkBasePath(r.dir, r.name, chunk.ReplicaID, chunk.ChunkID) + core.SSTableSuffix
	r.logger.Debug("Reading rows", "chunk", chunk.Key(),
		"from", chunk.StartSequence+offset, "to", chunk.StartSequence+offset+limit)

	t, err := sstable.Open(path)
	if err != nil {
		return 0, err
	}
	defer t.Close()
	t.SetBlockCache(r.blocks)
	if !t.IsFinalized() {
		return 0, fmt.Errorf("%s: %w", path, core.ErrUnfinishedChunk)
	}
	if t.BodySize() == 0 {
		r.logger.Warn("Empty table chunk", "path", path)
		return 0, nil
	}

	cur, err := t.Seek(chunk.StartSequence + offset)
	if err != nil {
		return 0, err
	}
	n := 0
	for ; cur.Valid() && uint64(n) < limit; cur.Next() {
		rec, _, err := schema.Decode(r.schema, cur.Value())
		if err != nil {
			return n, fmt.Errorf("%s: row %d: %w", path, cur.Key(), err)
		}
		n++
		if !fn(cur.Key(), rec) {
			break
		}
	}
	return n, cur.Err()
}
