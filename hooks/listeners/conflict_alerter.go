package listeners

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/nexustable/hooks"
)

// ConflictAlerterListener logs aborted merges and consistency errors, which
// both leave work for an operator or a later gc pass.
type ConflictAlerterListener struct {
	logger      *slog.Logger
	aborted     atomic.Int64
	consistency atomic.Int64
}

func NewConflictAlerterListener(logger *slog.Logger) *ConflictAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ConflictAlerterListener{logger: logger.With("component", "ConflictAlerterListener")}
}

func (l *ConflictAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch p := event.Payload().(type) {
	case hooks.MergeAbortedPayload:
		l.aborted.Add(1)
		inputs := make([]string, 0, len(p.Inputs))
		for _, c := range p.Inputs {
			inputs = append(inputs, c.ChunkID)
		}
		l.logger.Warn("Merge aborted, output left as orphan",
			"table", p.Table, "output", p.Output.ChunkID, "inputs", inputs, "reason", p.Reason)
	case hooks.ConsistencyPayload:
		l.consistency.Add(1)
		l.logger.Warn("Chunks missing from artifact index",
			"table", p.Table, "missing", p.Missing, "repaired", p.Repaired)
	}
	return nil
}

// Counts returns the number of aborted merges and consistency errors seen.
func (l *ConflictAlerterListener) Counts() (abortedMerges, consistencyErrors int64) {
	return l.aborted.Load(), l.consistency.Load()
}

func (l *ConflictAlerterListener) Priority() int { return 50 }

func (l *ConflictAlerterListener) IsAsync() bool { return true }
