package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexustable/hooks"
)

var (
	wafMetricsOnce    sync.Once
	totalBytesRead    *expvar.Int
	totalBytesWritten *expvar.Int
	mergeEvents       *expvar.Int
)

func initWAFMetrics() {
	wafMetricsOnce.Do(func() {
		totalBytesRead = expvar.NewInt("table_merge_bytes_read_total")
		totalBytesWritten = expvar.NewInt("table_merge_bytes_written_total")
		mergeEvents = expvar.NewInt("table_merge_events_total")
		expvar.Publish("table_merge_waf", expvar.Func(func() interface{} {
			read := totalBytesRead.Value()
			if read == 0 {
				return 0.0
			}
			return float64(totalBytesWritten.Value()) / float64(read)
		}))
	})
}

// WriteAmplificationListener tracks bytes read and written by merges. Sizes
// are those of all three chunk files as recorded in the chunk refs.
type WriteAmplificationListener struct {
	logger *slog.Logger

	totalBytesRead    *expvar.Int
	totalBytesWritten *expvar.Int
	mergeEvents       *expvar.Int
}

// NewWriteAmplificationListener creates a new listener. The expvar metrics
// are process-wide and shared by all instances.
func NewWriteAmplificationListener(logger *slog.Logger) *WriteAmplificationListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initWAFMetrics()
	return &WriteAmplificationListener{
		logger:            logger.With("component", "WriteAmplificationListener"),
		totalBytesRead:    totalBytesRead,
		totalBytesWritten: totalBytesWritten,
		mergeEvents:       mergeEvents,
	}
}

// OnEvent handles PostMerge events.
func (l *WriteAmplificationListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostMerge {
		return nil
	}
	payload, ok := event.Payload().(hooks.MergePayload)
	if !ok {
		return nil
	}

	var bytesRead int64
	for _, c := range payload.Inputs {
		bytesRead += int64(c.SSTable.Size + c.CSTable.Size + c.Summary.Size)
	}
	out := payload.Output
	bytesWritten := int64(out.SSTable.Size + out.CSTable.Size + out.Summary.Size)

	l.totalBytesRead.Add(bytesRead)
	l.totalBytesWritten.Add(bytesWritten)
	l.mergeEvents.Add(1)

	l.logger.Info("Merge event processed",
		"table", payload.Table,
		"inputs", len(payload.Inputs),
		"output", out.ChunkID,
		"bytes_read", bytesRead,
		"bytes_written", bytesWritten,
	)
	return nil
}

func (l *WriteAmplificationListener) Priority() int { return 100 }

func (l *WriteAmplificationListener) IsAsync() bool { return true }
