package table

import (
	"sync/atomic"

	"github.com/INLOpen/nexustable/schema"
)

// Arena buffers records that have not been written to a chunk yet.
// AddRecord is not synchronized; the owning Writer holds its insertion
// mutex. Records that were appended are never modified again, so a view
// taken under that mutex stays valid while the arena keeps growing.
type Arena struct {
	startSequence uint64
	chunkID       string
	records       []schema.Record
	committed     atomic.Bool
}

func NewArena(startSequence uint64, chunkID string) *Arena {
	return &Arena{startSequence: startSequence, chunkID: chunkID}
}

// AddRecord appends a copy of rec. Its sequence number is
// StartSequence()+Size() before the call.
func (a *Arena) AddRecord(rec schema.Record) {
	a.records = append(a.records, rec.Clone())
}

func (a *Arena) Size() int { return len(a.records) }

// Records returns the records appended so far.
func (a *Arena) Records() []schema.Record {
	return a.records[:len(a.records):len(a.records)]
}

func (a *Arena) StartSequence() uint64 { return a.startSequence }

func (a *Arena) ChunkID() string { return a.chunkID }

// Commit marks the arena's chunk as published; the arena may be dropped.
func (a *Arena) Commit() { a.committed.Store(true) }

func (a *Arena) IsCommitted() bool { return a.committed.Load() }

// ArenaView is an immutable prefix of an arena, as seen by a snapshot.
type ArenaView struct {
	StartSequence uint64
	ChunkID       string
	Records       []schema.Record
}

func (v ArenaView) Size() int { return len(v.Records) }

func (a *Arena) view() ArenaView {
	return ArenaView{StartSequence: a.startSequence, ChunkID: a.chunkID, Records: a.Records()}
}
