package table

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/INLOpen/nexustable/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	a := NewArena(10, "c1")
	rec := testRecord(10)
	a.AddRecord(rec)
	rec.Append(fieldTags, schema.String("late"))

	v := a.view()
	a.AddRecord(testRecord(11))

	assert.Equal(t, 2, a.Size())
	assert.Equal(t, 1, v.Size(), "views are fixed prefixes")
	assert.Equal(t, uint64(10), v.StartSequence)
	assert.Equal(t, "c1", v.ChunkID)
	assert.Len(t, v.Records[0].Values(fieldTags), 2, "arena stores a copy")

	assert.False(t, a.IsCommitted())
	a.Commit()
	assert.True(t, a.IsCommitted())
}

func TestSnapshot_NumRecords(t *testing.T) {
	snap := &Snapshot{
		Head: sampleGeneration(),
		Arenas: []ArenaView{
			{StartSequence: 101, Records: make([]schema.Record, 3)},
			{StartSequence: 104, Records: make([]schema.Record, 2)},
		},
	}
	assert.Equal(t, uint64(105), snap.NumRecords("r1", true))
	assert.Equal(t, uint64(100), snap.NumRecords("r1", false))
	assert.Equal(t, uint64(5), snap.NumRecords("r2", false))
}

func TestIDSources(t *testing.T) {
	a, b := NewSeededIDSource(7), NewSeededIDSource(7)
	first := a.NewID()
	assert.Equal(t, first, b.NewID())
	assert.Len(t, first, 32)
	assert.NotEqual(t, first, a.NewID())

	r := NewRandomIDSource()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := r.NewID()
		require.Len(t, id, 32)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestWorkerPool(t *testing.T) {
	p := NewWorkerPool(2)
	var running, peak, done atomic.Int32
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		p.Run(func() {
			n := running.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			running.Add(-1)
			done.Add(1)
		})
	}
	p.Wait()
	assert.Equal(t, int32(20), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))

	ran := false
	InlineScheduler{}.Run(func() { ran = true })
	assert.True(t, ran)
}
