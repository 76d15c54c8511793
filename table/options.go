package table

import (
	"log/slog"
	"time"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/hooks"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultArenaThreshold is the number of records after which the front
	// arena is committed.
	DefaultArenaThreshold = 10000
	// DefaultGCDelay protects recently read generations from gc.
	DefaultGCDelay = 500 * time.Second
	// DefaultKeepGenerations and DefaultMaxGenerations are the gc arguments
	// used by maintenance loops that have no configuration of their own.
	DefaultKeepGenerations = 2
	DefaultMaxGenerations  = 10
)

// Options configures a Writer. The zero value is usable.
type Options struct {
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Hooks     hooks.HookManager
	Scheduler TaskScheduler
	IDSource  IDSource
	Clock     func() time.Time

	ArenaThreshold int
	MergeTiers     []MergeTier
	Compressor     core.Compressor

	// GCDelay of zero selects DefaultGCDelay, a negative value disables the delay.
	GCDelay time.Duration
	// MergeBytesPerSec throttles merge reads; 0 disables throttling.
	MergeBytesPerSec int64
	// Metrics is optional; nil publishes nothing.
	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("nexustable")
	}
	if o.Hooks == nil {
		o.Hooks = hooks.NopManager{}
	}
	if o.Scheduler == nil {
		o.Scheduler = NewWorkerPool(1)
	}
	if o.IDSource == nil {
		o.IDSource = NewRandomIDSource()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.ArenaThreshold <= 0 {
		o.ArenaThreshold = DefaultArenaThreshold
	}
	if len(o.MergeTiers) == 0 {
		o.MergeTiers = DefaultMergeTiers()
	}
	if o.GCDelay == 0 {
		o.GCDelay = DefaultGCDelay
	} else if o.GCDelay < 0 {
		o.GCDelay = 0
	}
	if o.Compressor == nil {
		o.Compressor = compressors.NewSnappyCompressor()
	}
	if o.Metrics == nil {
		o.Metrics = newMetrics(nil)
	}
	return o
}
