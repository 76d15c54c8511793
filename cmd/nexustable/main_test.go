package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/nexustable/config"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(strings.NewReader(`
table:
  name: clicks
  arena_threshold: 3
  compression: zstd
  gc_delay: "off"
  merge_tiers:
    - {min_bytes: 1, max_bytes: 1073741824}
schema:
  fields:
    - {id: 1, name: user, type: uint64}
    - {id: 2, name: url, type: string, optional: true}
    - {id: 3, name: latency, type: float64, optional: true}
    - {id: 4, name: delta, type: int64, optional: true}
    - {id: 5, name: ok, type: bool, optional: true}
    - {id: 6, name: tags, type: string, repeated: true}
summaries:
  min_max: [latency]
  quantiles: [latency]
alerts:
  outliers:
    - {field: latency, min: 0, max: 100}
`))
	require.NoError(t, err)
	cfg.Table.DataDir = t.TempDir()
	return cfg
}

func TestCreateLogger(t *testing.T) {
	logger, closer, err := createLogger(config.LoggingConfig{Level: "warn", Output: "none"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	path := filepath.Join(t.TempDir(), "out.log")
	_, closer, err = createLogger(config.LoggingConfig{Level: "debug", Output: "file", File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.NoError(t, closer.Close())

	_, _, err = createLogger(config.LoggingConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
}

func TestInitTracerProvider_Disabled(t *testing.T) {
	tp, cleanup, err := initTracerProvider(config.TracingConfig{}, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, tp)
	cleanup()

	_, _, err = initTracerProvider(config.TracingConfig{Enabled: true, Protocol: "carrier-pigeon"}, discardLogger())
	assert.Error(t, err)
}

func TestTableOptions(t *testing.T) {
	cfg := testConfig(t)
	opts, err := tableOptions(cfg.Table, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, opts.ArenaThreshold)
	assert.Equal(t, time.Duration(-1), opts.GCDelay)
	assert.Equal(t, []table.MergeTier{{MinBytes: 1, MaxBytes: 1 << 30}}, opts.MergeTiers)
	assert.Equal(t, core.CompressionZSTD, opts.Compressor.Type())

	cfg.Table.GCDelay = "90s"
	opts, err = tableOptions(cfg.Table, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.GCDelay)

	cfg.Table.Compression = "brotli"
	_, err = tableOptions(cfg.Table, discardLogger())
	assert.Error(t, err)
}

func TestSummariesAndAlerts(t *testing.T) {
	cfg := testConfig(t)
	s, err := cfg.BuildSchema()
	require.NoError(t, err)

	factories, err := summaryFactories(cfg.Summaries, s)
	require.NoError(t, err)
	assert.Len(t, factories, 3, "count, min/max and quantiles")

	rules, err := outlierRules(cfg.Alerts, s)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 100.0, rules[0].Thresholds.Max)

	cfg.Summaries.MinMax = []string{"nope"}
	_, err = summaryFactories(cfg.Summaries, s)
	assert.Error(t, err)
	cfg.Alerts.Outliers[0].Field = "url"
	_, err = outlierRules(cfg.Alerts, s)
	assert.Error(t, err)
}

func TestMaintenance(t *testing.T) {
	cfg := testConfig(t)
	s, err := cfg.BuildSchema()
	require.NoError(t, err)
	opts, err := tableOptions(cfg.Table, discardLogger())
	require.NoError(t, err)
	opts.Scheduler = table.InlineScheduler{}
	w, err := table.Open(cfg.Table.DataDir, cfg.Table.Name, cfg.Table.ReplicaID, s, opts)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	n, err := ingest(context.Background(), w, strings.NewReader(`{"user": 1}
{"user": 2}
{"user": 3}
{"user": 4}
`))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	m := newMaintenance(w, cfg.Table, discardLogger())
	assert.Equal(t, uint64(2), m.keep)
	assert.Zero(t, m.orphanMinAge)
	m.commit()
	require.Len(t, w.Head().Chunks, 2)

	m.merge(context.Background())
	require.Len(t, w.Head().Chunks, 1)
	assert.Equal(t, uint64(4), w.Head().Chunks[0].NumRecords)

	m.gc(context.Background())
	assert.Equal(t, uint64(4), w.GetSnapshot().NumRecords("r1", true))

	status := tableStatus(w).(map[string]any)
	assert.Equal(t, "clicks", status["table"])
	assert.Equal(t, 1, status["chunks"])
}

func TestMaintenance_RunStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	s, err := cfg.BuildSchema()
	require.NoError(t, err)
	w, err := table.Open(cfg.Table.DataDir, "clicks", "r1", s, table.Options{Logger: discardLogger(), Scheduler: table.InlineScheduler{}})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	cfg.Table.CommitInterval = "5ms"
	m := newMaintenance(w, cfg.Table, discardLogger())
	require.NoError(t, w.AddRecord(schema.Record{{FieldID: 1, Value: schema.UInt64(1)}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	require.Eventually(t, func() bool { return len(w.Head().Chunks) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
