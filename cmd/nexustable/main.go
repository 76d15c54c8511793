package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/config"
	"github.com/INLOpen/nexustable/hooks"
	"github.com/INLOpen/nexustable/hooks/listeners"
	"github.com/INLOpen/nexustable/schema"
	"github.com/INLOpen/nexustable/server"
	"github.com/INLOpen/nexustable/summary"
	"github.com/INLOpen/nexustable/table"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider
// exporting to an OTLP collector over gRPC or HTTP.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("nexustable")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// summaryFactories builds the per-chunk summaries named in the configuration.
func summaryFactories(cfg config.SummariesConfig, s *schema.Schema) ([]summary.Factory, error) {
	var out []summary.Factory
	if cfg.Count {
		out = append(out, summary.NewCountBuilder)
	}
	for _, name := range cfg.MinMax {
		f, ok := s.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("min_max summary: unknown field %q", name)
		}
		factory, err := summary.MinMaxFactory(f)
		if err != nil {
			return nil, err
		}
		out = append(out, factory)
	}
	for _, name := range cfg.Quantiles {
		f, ok := s.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("quantiles summary: unknown field %q", name)
		}
		factory, err := summary.QuantileFactory(f, cfg.QuantileCompression)
		if err != nil {
			return nil, err
		}
		out = append(out, factory)
	}
	return out, nil
}

func outlierRules(cfg config.AlertsConfig, s *schema.Schema) ([]listeners.OutlierRule, error) {
	rules := make([]listeners.OutlierRule, 0, len(cfg.Outliers))
	for _, o := range cfg.Outliers {
		f, ok := s.FieldByName(o.Field)
		if !ok || !f.Type.Numeric() {
			return nil, fmt.Errorf("outlier alert: %q is not a numeric field", o.Field)
		}
		rules = append(rules, listeners.OutlierRule{FieldName: o.Field, Thresholds: listeners.Thresholds{Min: o.Min, Max: o.Max}})
	}
	return rules, nil
}

// tableOptions maps the table section onto writer options.
func tableOptions(cfg config.TableConfig, logger *slog.Logger) (table.Options, error) {
	compressor, err := compressors.New(cfg.Compression)
	if err != nil {
		return table.Options{}, fmt.Errorf("table compression: %w", err)
	}
	opts := table.Options{
		Logger:           logger,
		Scheduler:        table.NewWorkerPool(cfg.FlushWorkers),
		ArenaThreshold:   cfg.ArenaThreshold,
		Compressor:       compressor,
		GCDelay:          -1,
		MergeBytesPerSec: cfg.MergeBytesPerSec,
	}
	if cfg.GCDelay != "off" {
		opts.GCDelay = config.ParseDuration(cfg.GCDelay, table.DefaultGCDelay, logger)
	}
	for _, t := range cfg.MergeTiers {
		opts.MergeTiers = append(opts.MergeTiers, table.MergeTier{MinBytes: t.MinBytes, MaxBytes: t.MaxBytes})
	}
	return opts, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	ingestPath := flag.String("ingest", "", "Newline-delimited JSON records to ingest ('-' for stdin)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if err := run(cfg, *ingestPath, logger); err != nil {
		logger.Error("nexustable exited with an error", "error", err)
		if logCloser != nil {
			logCloser.Close()
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, ingestPath string, logger *slog.Logger) error {
	if cfg.Table.DataDir == "" {
		return fmt.Errorf("table data_dir must be specified in the configuration file")
	}
	logger.Info("Using data directory", "path", cfg.Table.DataDir)

	s, err := cfg.BuildSchema()
	if err != nil {
		return err
	}
	factories, err := summaryFactories(cfg.Summaries, s)
	if err != nil {
		return err
	}
	opts, err := tableOptions(cfg.Table, logger)
	if err != nil {
		return err
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer tracerCleanup()
	opts.Tracer = tp.Tracer("nexustable")

	hookManager := hooks.NewHookManager(logger)
	defer hookManager.Stop()
	hookManager.Register(hooks.EventPostMerge, listeners.NewWriteAmplificationListener(logger))
	alerter := listeners.NewConflictAlerterListener(logger)
	hookManager.Register(hooks.EventMergeAborted, alerter)
	hookManager.Register(hooks.EventConsistencyError, alerter)
	rules, err := outlierRules(cfg.Alerts, s)
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		hookManager.Register(hooks.EventPreChunkWrite, listeners.NewOutlierDetectionListener(logger, rules))
	}
	opts.Hooks = hookManager
	opts.Metrics = table.NewMetrics("table_" + cfg.Table.Name)

	w, err := table.Open(cfg.Table.DataDir, cfg.Table.Name, cfg.Table.ReplicaID, s, opts)
	if err != nil {
		return fmt.Errorf("failed to open table: %w", err)
	}
	for _, f := range factories {
		w.AddSummary(f)
	}
	expvar.Publish("table_"+cfg.Table.Name+"_arena_records", expvar.Func(func() any { return w.ArenaSize() }))

	if err := w.RunConsistencyCheck(context.Background(), false, true); err != nil {
		logger.Warn("Startup consistency check failed", "error", err)
	}

	var metricSrv *server.MetricsServer
	if cfg.Debug.Enabled {
		metricSrv = server.NewMetricsServer(&cfg.Debug, func() any { return tableStatus(w) }, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start metrics server", "error", err)
			}
		}()
		defer metricSrv.Stop()
	}
	if cfg.SelfMonitoring.Enabled {
		collector := server.NewSystemCollector(cfg.Table.DataDir, config.ParseDuration(cfg.SelfMonitoring.Interval, 15*time.Second, logger), logger)
		collector.Start()
		defer collector.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := newMaintenance(w, cfg.Table, logger)
	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		m.Run(ctx)
	}()

	if ingestPath != "" {
		n, err := ingestFile(ctx, w, ingestPath)
		logger.Info("Ingest finished", "path", ingestPath, "records", n)
		if err != nil {
			logger.Error("Ingest failed", "error", err)
		}
	}

	logger.Info("Application running. Press Ctrl+C to exit.")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Stopping...")
	<-maintenanceDone

	if _, err := w.Commit(); err != nil {
		logger.Error("Final commit failed", "error", err)
	}
	if err := w.Sync(); err != nil {
		logger.Error("Unflushed records remain after shutdown", "error", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	logger.Info("Application exited gracefully.")
	return nil
}

// tableStatus is served on the debug server's /status endpoint.
func tableStatus(w *table.Writer) any {
	snap := w.GetSnapshot()
	return map[string]any{
		"table":           w.Name(),
		"replica":         w.ReplicaID(),
		"head_generation": snap.Head.Generation,
		"chunks":          len(snap.Head.Chunks),
		"records":         snap.NumRecords(w.ReplicaID(), true),
		"arena_records":   w.ArenaSize(),
	}
}
