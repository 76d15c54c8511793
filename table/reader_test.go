package table

import (
	"expvar"
	"os"
	"testing"
	"time"

	"github.com/INLOpen/nexustable/cache"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_FetchRecords(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ArenaThreshold = 100
	w := openTestWriter(t, dir, opts)
	addRecords(t, w, 1, 250)

	r, err := OpenReader(dir, "events", "r1", testSchema(), discardLogger())
	require.NoError(t, err)
	snap, err := r.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Head.Generation)
	assert.Empty(t, snap.Arenas)
	assert.Equal(t, uint64(200), snap.NumRecords("r1", true))

	var got []uint64
	n, err := r.FetchRecords("r1", 95, 10, func(seq uint64, rec schema.Record) bool {
		v, _ := rec.Get(fieldSeq)
		assert.Equal(t, seq, v.Uint)
		got = append(got, seq)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 6, n, "a fetch stays within one chunk")
	assert.Equal(t, []uint64{95, 96, 97, 98, 99, 100}, got)

	n, err = r.FetchRecords("r1", 150, -1, func(uint64, schema.Record) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 51, n)

	n, err = r.FetchRecords("r1", 120, 100, func(seq uint64, _ schema.Record) bool { return seq < 122 })
	require.NoError(t, err)
	assert.Equal(t, 3, n, "callback stops the iteration")

	n, err = r.FetchRecords("r1", 201, 10, func(uint64, schema.Record) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, n, "arena records are not visible to readers")
	n, err = r.FetchRecords("r2", 1, 10, func(uint64, schema.Record) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReader_BlockCache(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ArenaThreshold = 100
	w := openTestWriter(t, dir, opts)
	addRecords(t, w, 1, 100)

	r, err := OpenReader(dir, "events", "r1", testSchema(), discardLogger())
	require.NoError(t, err)
	hits, misses := new(expvar.Int), new(expvar.Int)
	blocks := cache.NewLRUCache[[]byte](64, nil)
	blocks.SetMetrics(hits, misses)
	r.SetBlockCache(blocks)

	fetch := func() []uint64 {
		var got []uint64
		_, err := r.FetchRecords("r1", 1, -1, func(seq uint64, _ schema.Record) bool {
			got = append(got, seq)
			return true
		})
		require.NoError(t, err)
		return got
	}
	first := fetch()
	require.Len(t, first, 100)
	assert.Positive(t, misses.Value())
	assert.Zero(t, hits.Value())

	assert.Equal(t, first, fetch())
	assert.Equal(t, misses.Value(), hits.Value())
}

func TestReader_FollowsHead(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenReader(dir, "events", "r1", testSchema(), discardLogger())
	require.NoError(t, err)
	snap, err := r.GetSnapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.Head.Generation)
	assert.Empty(t, snap.Head.Chunks)

	opts := testOptions()
	opts.ArenaThreshold = 10
	w := openTestWriter(t, dir, opts)
	addRecords(t, w, 1, 30)
	snap, err = r.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Head.Generation)

	// the cached head is gone; the reader probes forward
	require.NoError(t, w.GC(t.Context(), 1, 10))
	addRecords(t, w, 31, 10)
	require.NoError(t, os.Remove(core.GenerationPath(dir, "events", "r1", 3)))
	snap, err = r.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Head.Generation)
	assert.Equal(t, uint64(40), snap.NumRecords("r1", true))
}

func TestReader_TouchesManifest(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ArenaThreshold = 10
	w := openTestWriter(t, dir, opts)
	addRecords(t, w, 1, 10)

	path := core.GenerationPath(dir, "events", "r1", 1)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	r, err := OpenReader(dir, "events", "r1", testSchema(), discardLogger())
	require.NoError(t, err)
	_, err = r.GetSnapshot()
	require.NoError(t, err)

	atime, err := sys.AccessTime(path)
	require.NoError(t, err)
	assert.True(t, atime.After(old), "reading a manifest refreshes its access time")
}
