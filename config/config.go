package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexustable/schema"
	"gopkg.in/yaml.v3"
)

// MergeTierConfig is one size tier of the merge policy.
type MergeTierConfig struct {
	MinBytes uint64 `yaml:"min_bytes"`
	MaxBytes uint64 `yaml:"max_bytes"`
}

// TableConfig holds the table writer configuration. Empty MergeTiers select
// the built-in tiers; MergeBytesPerSec 0 means unlimited merge I/O.
type TableConfig struct {
	DataDir          string            `yaml:"data_dir"`
	Name             string            `yaml:"name"`
	ReplicaID        string            `yaml:"replica_id"`
	ArenaThreshold   int               `yaml:"arena_threshold"`
	Compression      string            `yaml:"compression"`
	FlushWorkers     int               `yaml:"flush_workers"`
	GCDelay          string            `yaml:"gc_delay"`
	KeepGenerations  uint64            `yaml:"keep_generations"`
	MaxGenerations   uint64            `yaml:"max_generations"`
	MergeTiers       []MergeTierConfig `yaml:"merge_tiers"`
	MergeBytesPerSec int64             `yaml:"merge_bytes_per_sec"`
	CommitInterval   string            `yaml:"commit_interval"`
	MergeInterval    string            `yaml:"merge_interval"`
	GCInterval       string            `yaml:"gc_interval"`
	OrphanSweep      bool              `yaml:"orphan_sweep"`
}

// FieldConfig describes one schema field.
type FieldConfig struct {
	ID       uint32 `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // uint64, int64, float64, string or bool
	Optional bool   `yaml:"optional"`
	Repeated bool   `yaml:"repeated"`
}

// SchemaConfig holds the record schema of the table.
type SchemaConfig struct {
	Fields []FieldConfig `yaml:"fields"`
}

// SummariesConfig lists the fields that get per-chunk summaries.
type SummariesConfig struct {
	Count               bool     `yaml:"count"`
	MinMax              []string `yaml:"min_max"`
	Quantiles           []string `yaml:"quantiles"`
	QuantileCompression float64  `yaml:"quantile_compression"`
}

// OutlierConfig flags values of a numeric field outside [Min, Max] before
// they are written to a chunk.
type OutlierConfig struct {
	Field string  `yaml:"field"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// AlertsConfig configures the hook listeners that only observe and log.
type AlertsConfig struct {
	Outliers []OutlierConfig `yaml:"outliers"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Table          TableConfig          `yaml:"table"`
	Schema         SchemaConfig         `yaml:"schema"`
	Summaries      SummariesConfig      `yaml:"summaries"`
	Alerts         AlertsConfig         `yaml:"alerts"`
	Logging        LoggingConfig        `yaml:"logging"`
	Debug          DebugConfig          `yaml:"debug"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// BuildSchema turns the configured fields into a validated schema named
// after the table.
func (c *Config) BuildSchema() (*schema.Schema, error) {
	if len(c.Schema.Fields) == 0 {
		return nil, fmt.Errorf("schema of table %q has no fields", c.Table.Name)
	}
	fields := make([]schema.Field, 0, len(c.Schema.Fields))
	for _, f := range c.Schema.Fields {
		typ, err := schema.ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, schema.Field{
			ID:       f.ID,
			Name:     f.Name,
			Type:     typ,
			Optional: f.Optional,
			Repeated: f.Repeated,
		})
	}
	return schema.New(c.Table.Name, fields...)
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Table: TableConfig{
			DataDir:         "./data",
			Name:            "events",
			ReplicaID:       "r1",
			ArenaThreshold:  10000,
			Compression:     "snappy",
			FlushWorkers:    2,
			GCDelay:         "500s",
			KeepGenerations: 2,
			MaxGenerations:  10,
			CommitInterval:  "5s",
			MergeInterval:   "30s",
			GCInterval:      "60s",
			OrphanSweep:     true,
		},
		Summaries: SummariesConfig{
			Count:               true,
			QuantileCompression: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexustable.log",
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  true,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:          true,
			ListenAddress:    "0.0.0.0:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	for i, tier := range cfg.Table.MergeTiers {
		if tier.MinBytes > tier.MaxBytes {
			return nil, fmt.Errorf("merge tier %d: min_bytes %d exceeds max_bytes %d", i, tier.MinBytes, tier.MaxBytes)
		}
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
