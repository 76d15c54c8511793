package table

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/sys"
	"github.com/stretchr/testify/require"
)

const (
	fieldSeq   = 1
	fieldName  = 2
	fieldValue = 3
	fieldTags  = 4
)

func testSchema() *schema.Schema {
	return schema.MustNew("events",
		schema.Field{ID: fieldSeq, Name: "seq_no", Type: schema.TypeUInt64},
		schema.Field{ID: fieldName, Name: "name", Type: schema.TypeString, Optional: true},
		schema.Field{ID: fieldValue, Name: "value", Type: schema.TypeFloat64, Optional: true},
		schema.Field{ID: fieldTags, Name: "tags", Type: schema.TypeString, Repeated: true},
	)
}

func testRecord(i uint64) schema.Record {
	var rec schema.Record
	rec.Append(fieldSeq, schema.UInt64(i))
	if i%3 != 0 {
		rec.Append(fieldName, schema.String("event"))
	}
	rec.Append(fieldValue, schema.Float64(float64(i)/2))
	if i%2 == 0 {
		rec.Append(fieldTags, schema.String("even"))
		rec.Append(fieldTags, schema.String("tagged"))
	}
	return rec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Logger:    discardLogger(),
		Scheduler: InlineScheduler{},
		IDSource:  NewSeededIDSource(42),
		GCDelay:   -1,
	}
}

func openTestWriter(t *testing.T, dir string, opts Options) *Writer {
	t.Helper()
	w, err := Open(dir, "events", "r1", testSchema(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func addRecords(t *testing.T, w *Writer, from, n uint64) {
	t.Helper()
	for i := from; i < from+n; i++ {
		require.NoError(t, w.AddRecord(testRecord(i)))
	}
}

// failingFS fails renames whose target ends with suffix.
type failingFS struct {
	sys.File
	suffix string
}

func (f failingFS) Rename(oldpath, newpath string) error {
	if strings.HasSuffix(newpath, f.suffix) {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
	}
	return f.File.Rename(oldpath, newpath)
}

func failRenames(t *testing.T, suffix string) {
	t.Helper()
	sys.SetDefaultFile(failingFS{File: sys.NewFile(), suffix: suffix})
	t.Cleanup(func() { sys.SetDefaultFile(nil) })
}

func chunkPath(dir string, c core.ChunkRef, suffix string) string {
	return core.ChunkBasePath(dir, "events", c.ReplicaID, c.ChunkID) + suffix
}
