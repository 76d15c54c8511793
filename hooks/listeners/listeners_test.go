package listeners

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"log/slog"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/hooks"
	"github.com/INLOpen/nexustable/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(id string, sst, cst, smr uint64) core.ChunkRef {
	return core.ChunkRef{
		ChunkID: id,
		SSTable: core.FileInfo{Size: sst},
		CSTable: core.FileInfo{Size: cst},
		Summary: core.FileInfo{Size: smr},
	}
}

func TestWriteAmplificationListener_OnEvent(t *testing.T) {
	initWAFMetrics()
	totalBytesRead.Set(0)
	totalBytesWritten.Set(0)
	mergeEvents.Set(0)

	l := NewWriteAmplificationListener(nil)
	event := hooks.NewPostMergeEvent(hooks.MergePayload{
		Table:  "events",
		Inputs: []core.ChunkRef{chunk("a", 1000, 400, 100), chunk("b", 800, 150, 50)},
		Output: chunk("c", 1500, 450, 50),
	})
	require.NoError(t, l.OnEvent(context.Background(), event))

	assert.Equal(t, int64(2500), totalBytesRead.Value())
	assert.Equal(t, int64(2000), totalBytesWritten.Value())
	assert.Equal(t, int64(1), mergeEvents.Value())

	var waf float64
	require.NoError(t, json.Unmarshal([]byte(expvar.Get("table_merge_waf").String()), &waf))
	assert.InDelta(t, 0.8, waf, 1e-9)

	// other events are ignored
	require.NoError(t, l.OnEvent(context.Background(), hooks.NewPreMergeEvent(hooks.MergePayload{})))
	assert.Equal(t, int64(1), mergeEvents.Value())
}

func TestOutlierDetectionListener_OnEvent(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	s := schema.MustNew("events",
		schema.Field{ID: 1, Name: "latency_ms", Type: schema.TypeInt64},
		schema.Field{ID: 2, Name: "path", Type: schema.TypeString, Optional: true},
	)

	l := NewOutlierDetectionListener(logger, []OutlierRule{
		{FieldName: "latency_ms", Thresholds: Thresholds{Min: 1, Max: 1000}},
		{FieldName: "unknown", Thresholds: Thresholds{Min: 0, Max: 1}},
	})

	records := []schema.Record{
		{{FieldID: 1, Value: schema.Int64(20)}},
		{{FieldID: 1, Value: schema.Int64(5000)}},
	}
	event := hooks.NewPreChunkWriteEvent(hooks.ChunkWritePayload{
		Table:   "events",
		Chunk:   core.ChunkRef{ChunkID: "c1", StartSequence: 40},
		Schema:  s,
		Records: records,
	})
	require.NoError(t, l.OnEvent(context.Background(), event))

	out := logBuf.String()
	assert.Contains(t, out, "Outlier detected")
	assert.Contains(t, out, `"field":"latency_ms"`)
	assert.Contains(t, out, `"value":5000`)
	assert.Contains(t, out, `"sequence":41`)
	assert.NotContains(t, out, `"value":20`)
}

func TestConflictAlerterListener(t *testing.T) {
	l := NewConflictAlerterListener(nil)
	ctx := context.Background()

	require.NoError(t, l.OnEvent(ctx, hooks.NewMergeAbortedEvent(hooks.MergeAbortedPayload{Reason: core.ErrMergeConflict})))
	require.NoError(t, l.OnEvent(ctx, hooks.NewConsistencyErrorEvent(hooks.ConsistencyPayload{Missing: []string{"x"}})))
	require.NoError(t, l.OnEvent(ctx, hooks.NewPostMergeEvent(hooks.MergePayload{})))

	aborted, consistency := l.Counts()
	assert.Equal(t, int64(1), aborted)
	assert.Equal(t, int64(1), consistency)
}
