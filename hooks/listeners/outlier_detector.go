package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexustable/hooks"
)

// Thresholds defines the min/max acceptable values for a field.
type Thresholds struct {
	Min float64
	Max float64
}

// OutlierRule binds thresholds to a numeric field by name.
type OutlierRule struct {
	FieldName  string
	Thresholds Thresholds
}

// OutlierDetectionListener inspects records about to be written into a chunk
// and logs values outside the configured thresholds. It never cancels the write.
type OutlierDetectionListener struct {
	logger *slog.Logger
	rules  map[string]Thresholds
}

func NewOutlierDetectionListener(logger *slog.Logger, rules []OutlierRule) *OutlierDetectionListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := make(map[string]Thresholds, len(rules))
	for _, r := range rules {
		m[r.FieldName] = r.Thresholds
	}
	return &OutlierDetectionListener{
		logger: logger.With("component", "OutlierDetectionListener"),
		rules:  m,
	}
}

// OnEvent handles PreChunkWrite events.
func (l *OutlierDetectionListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPreChunkWrite {
		return nil
	}
	payload, ok := event.Payload().(hooks.ChunkWritePayload)
	if !ok {
		l.logger.Error("Received PreChunkWrite event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	if payload.Schema == nil {
		return nil
	}

	for field, th := range l.rules {
		f, ok := payload.Schema.FieldByName(field)
		if !ok {
			continue
		}
		var outliers int
		for i, rec := range payload.Records {
			for _, v := range rec.Values(f.ID) {
				n, ok := v.AsFloat()
				if !ok || (n >= th.Min && n <= th.Max) {
					continue
				}
				outliers++
				l.logger.Warn("Outlier detected",
					"table", payload.Table,
					"chunk", payload.Chunk.ChunkID,
					"sequence", payload.Chunk.StartSequence+uint64(i),
					"field", field,
					"value", n,
					"min_threshold", th.Min,
					"max_threshold", th.Max,
				)
			}
		}
		if outliers > 0 {
			l.logger.Info("Outlier summary", "chunk", payload.Chunk.ChunkID, "field", field, "count", outliers)
		}
	}
	return nil
}

func (l *OutlierDetectionListener) Priority() int { return 100 }

func (l *OutlierDetectionListener) IsAsync() bool { return false }
