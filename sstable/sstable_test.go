package sstable

import (
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexustable/cache"
	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRows(t *testing.T, path string, c core.Compressor, blockSize int, keys []uint64) {
	t.Helper()
	w, err := NewWriter(WriterOptions{Path: path, Compressor: c, BlockSize: blockSize})
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, w.AppendRow(k, []byte(fmt.Sprintf("value-%d", k))))
	}
	require.NoError(t, w.Finalize())
}

func TestWriterReader_RoundTrip(t *testing.T) {
	for _, name := range []string{"none", "snappy", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			c, err := compressors.New(name)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "chunk.sst")
			var keys []uint64
			for k := uint64(100); k < 1100; k++ {
				keys = append(keys, k)
			}
			writeRows(t, path, c, 512, keys)

			tbl, err := Open(path)
			require.NoError(t, err)
			defer tbl.Close()

			assert.True(t, tbl.IsFinalized())
			assert.Equal(t, uint64(len(keys)), tbl.RowCount())
			assert.Equal(t, uint64(100), tbl.FirstKey())
			assert.Equal(t, uint64(1099), tbl.LastKey())
			assert.Greater(t, tbl.BodySize(), uint64(0))
			assert.Less(t, int64(tbl.BodySize()), tbl.Size())
			assert.Equal(t, c.Type(), tbl.Compression())

			cur, err := tbl.NewCursor()
			require.NoError(t, err)
			var got []uint64
			for ; cur.Valid(); cur.Next() {
				require.Equal(t, fmt.Sprintf("value-%d", cur.Key()), string(cur.Value()))
				got = append(got, cur.Key())
			}
			require.NoError(t, cur.Err())
			assert.Equal(t, keys, got)
		})
	}
}

func TestTable_Seek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.sst")
	keys := []uint64{1, 5, 9, 13, 17, 21, 25, 29, 33}
	writeRows(t, path, &compressors.NoCompressionCompressor{}, 16, keys)

	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()

	tests := []struct {
		seek uint64
		want uint64
		ok   bool
	}{
		{0, 1, true},
		{1, 1, true},
		{10, 13, true},
		{33, 33, true},
		{34, 0, false},
	}
	for _, tt := range tests {
		cur, err := tbl.Seek(tt.seek)
		require.NoError(t, err)
		require.Equal(t, tt.ok, cur.Valid(), "seek %d", tt.seek)
		if tt.ok {
			assert.Equal(t, tt.want, cur.Key(), "seek %d", tt.seek)
		}
	}
}

func TestTable_BlockCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.sst")
	var keys []uint64
	for k := uint64(1); k <= 200; k++ {
		keys = append(keys, k)
	}
	writeRows(t, path, &compressors.SnappyCompressor{}, 256, keys)

	hits, misses := new(expvar.Int), new(expvar.Int)
	blocks := cache.NewLRUCache[[]byte](1024, nil)
	blocks.SetMetrics(hits, misses)

	scan := func() []uint64 {
		tbl, err := Open(path)
		require.NoError(t, err)
		defer tbl.Close()
		tbl.SetBlockCache(blocks)
		cur, err := tbl.NewCursor()
		require.NoError(t, err)
		var got []uint64
		for ; cur.Valid(); cur.Next() {
			got = append(got, cur.Key())
		}
		require.NoError(t, cur.Err())
		return got
	}

	assert.Equal(t, keys, scan())
	numBlocks := blocks.Len()
	require.Greater(t, numBlocks, 1)
	assert.Equal(t, int64(numBlocks), misses.Value())
	assert.Zero(t, hits.Value())

	assert.Equal(t, keys, scan())
	assert.Equal(t, int64(numBlocks), hits.Value())
	assert.Equal(t, int64(numBlocks), misses.Value())

	_, ok := blocks.Get(BlockCacheKey(path, 0))
	assert.True(t, ok)
}

func TestWriter_KeysMustIncrease(t *testing.T) {
	w, err := NewWriter(WriterOptions{Path: filepath.Join(t.TempDir(), "chunk.sst")})
	require.NoError(t, err)
	require.NoError(t, w.AppendRow(5, nil))
	require.ErrorIs(t, w.AppendRow(5, nil), ErrKeyOrder)
	require.ErrorIs(t, w.AppendRow(4, nil), ErrKeyOrder)
	require.NoError(t, w.Abort())
}

func TestOpen_Unfinalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.sst")
	w, err := NewWriter(WriterOptions{Path: path, BlockSize: 8})
	require.NoError(t, err)
	for k := uint64(1); k <= 10; k++ {
		require.NoError(t, w.AppendRow(k, []byte("partial")))
	}
	require.NoError(t, w.Abort())

	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()
	assert.False(t, tbl.IsFinalized())

	_, err = tbl.NewCursor()
	require.ErrorIs(t, err, core.ErrUnfinishedChunk)
}

func TestOpen_EmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sst")
	writeRows(t, path, nil, 0, nil)

	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()
	assert.True(t, tbl.IsFinalized())
	assert.Zero(t, tbl.RowCount())

	cur, err := tbl.NewCursor()
	require.NoError(t, err)
	assert.False(t, cur.Valid())
}

func TestCursor_DetectsCorruptBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.sst")
	writeRows(t, path, &compressors.NoCompressionCompressor{}, 0, []uint64{1, 2, 3})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// flip one payload byte of the only block
	data[core.FileHeaderSize+BlockHeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()
	_, err = tbl.NewCursor()
	require.ErrorIs(t, err, core.ErrCorrupted)
}

func TestOpen_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.sst")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))
	_, err := Open(path)
	require.ErrorIs(t, err, core.ErrCorrupted)
}
