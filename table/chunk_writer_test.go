package table

import (
	"context"
	"testing"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/cstable"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/INLOpen/nexustable/summary"
	"github.com/INLOpen/nexustable/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunkWriter(t *testing.T, dir string, start uint64) *ChunkWriter {
	t.Helper()
	cw, err := NewChunkWriter(ChunkWriterOptions{
		Dir:        dir,
		TableName:  "events",
		Schema:     testSchema(),
		Chunk:      core.ChunkRef{ReplicaID: "r1", ChunkID: "c1", StartSequence: start},
		Compressor: compressors.NewSnappyCompressor(),
		Summaries:  []summary.Factory{summary.NewCountBuilder},
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return cw
}

func TestChunkWriter_Commit(t *testing.T) {
	dir := t.TempDir()
	cw := newTestChunkWriter(t, dir, 100)
	for i := uint64(0); i < 50; i++ {
		require.NoError(t, cw.AddRecord(testRecord(100+i)))
	}
	assert.Equal(t, uint64(150), cw.NextSequence())
	assert.Equal(t, uint64(50), cw.NumRecords())

	c, err := cw.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1.c1", c.Key())
	assert.Equal(t, uint64(100), c.StartSequence)
	assert.Equal(t, uint64(50), c.NumRecords)

	for _, f := range []struct {
		suffix string
		info   core.FileInfo
	}{
		{core.SSTableSuffix, c.SSTable},
		{core.CSTableSuffix, c.CSTable},
		{core.SummarySuffix, c.Summary},
	} {
		path := chunkPath(dir, c, f.suffix)
		sum, size, err := sys.FileChecksum(path)
		require.NoError(t, err)
		assert.Equal(t, f.info, core.FileInfo{Checksum: sum, Size: size}, f.suffix)
		assert.NoFileExists(t, core.TempPath(path))
	}

	sst, err := sstable.Open(chunkPath(dir, c, core.SSTableSuffix))
	require.NoError(t, err)
	defer sst.Close()
	assert.True(t, sst.IsFinalized())
	assert.Equal(t, uint64(50), sst.RowCount())
	assert.Equal(t, uint64(100), sst.FirstKey())
	assert.Equal(t, uint64(149), sst.LastKey())

	cst, err := cstable.Open(chunkPath(dir, c, core.CSTableSuffix))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cst.NumRows())
	seqs, err := cst.ReadColumn("seq_no")
	require.NoError(t, err)
	require.Len(t, seqs, 50)
	assert.Equal(t, uint64(100), seqs[0].Value.Uint)

	smr, err := summary.Open(chunkPath(dir, c, core.SummarySuffix))
	require.NoError(t, err)
	p, ok := smr.Get(summary.CountSection)
	require.True(t, ok)
	n, err := summary.DecodeCount(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), n)

	_, err = cw.Commit(context.Background())
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.ErrorIs(t, cw.AddRecord(testRecord(150)), core.ErrClosed)
}

func TestChunkWriter_FailedRenameLeavesTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	failRenames(t, core.SummarySuffix)
	cw := newTestChunkWriter(t, dir, 1)
	require.NoError(t, cw.AddRecord(testRecord(1)))

	_, err := cw.Commit(context.Background())
	require.Error(t, err)

	c := core.ChunkRef{ReplicaID: "r1", ChunkID: "c1"}
	assert.FileExists(t, core.TempPath(chunkPath(dir, c, core.SummarySuffix)))
	assert.NoFileExists(t, chunkPath(dir, c, core.SummarySuffix))
}

func TestChunkWriter_Abort(t *testing.T) {
	dir := t.TempDir()
	cw := newTestChunkWriter(t, dir, 1)
	require.NoError(t, cw.AddRecord(testRecord(1)))
	cw.Abort()
	cw.Abort()

	c := core.ChunkRef{ReplicaID: "r1", ChunkID: "c1"}
	for _, suffix := range core.ChunkFileSuffixes {
		assert.NoFileExists(t, chunkPath(dir, c, suffix))
	}
	_, err := cw.Commit(context.Background())
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestParseChunkFileName(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"events.r1.abc.sst", "abc", true},
		{"events.r1.abc.cst~", "abc", true},
		{"events.r1.abc.smr", "abc", true},
		{"events.r1.3.idx", "", false},
		{"events.r2.abc.sst", "", false},
		{"events.r1.afx", "", false},
		{"events.r1..sst", "", false},
		{"events.r1.a.b.sst", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := parseChunkFileName(tt.name, "events.r1.")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}
