package telemex // import "github.com/durastream/telemex"

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/mitchellh/mapstructure"
)

// Config holds all recognized exporter options. The zero value is not usable;
// start from DefaultConfig and override.
type Config struct {
	// ConnectionString is passed through to the store adapter.
	ConnectionString string `mapstructure:"connection_string"`
	// Database is the namespace the collections live in.
	Database string `mapstructure:"database"`
	// LogCollection receives exported log records.
	LogCollection string `mapstructure:"log_collection"`
	// SpanCollection receives exported span records.
	SpanCollection string `mapstructure:"span_collection"`

	// BatchSize triggers an immediate flush attempt once a buffer reaches it.
	BatchSize int `mapstructure:"batch_size"`
	// FlushInterval is the cadence of the timer-driven flushes.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// RetentionDays expires exported documents; zero keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
	// SecondaryIndexKeys are created best-effort on both collections.
	SecondaryIndexKeys []string `mapstructure:"secondary_index_keys"`
	// BucketKeys are the low-cardinality fields used to partition and sort
	// records for the time-partitioned backend.
	BucketKeys []string `mapstructure:"bucket_keys"`

	// WALPath is the write-ahead log file for critical spans.
	WALPath string `mapstructure:"wal_path"`
	// DLQPath is the dead-letter file for critical buffer overflow.
	DLQPath string `mapstructure:"dlq_path"`
	// DLQChunkSize caps how many spans are relocated in a single write.
	DLQChunkSize int `mapstructure:"dlq_chunk_size"`

	// MaxBufferSize bounds the log queue and the normal span queue; both drop
	// their oldest entries on overflow.
	MaxBufferSize int `mapstructure:"max_buffer_size"`
	// MaxCriticalBufferSize is the hard cap of the critical span queue;
	// overflow is relocated to the dead-letter file, never dropped.
	MaxCriticalBufferSize int `mapstructure:"max_critical_buffer_size"`

	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold closes a half-open circuit after this many successes.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// ResetTimeout is how long the circuit stays open before a trial attempt.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`

	// HealthInterval is the cadence of the health self-check.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// ShutdownTimeout bounds the final flush during Shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ReconnectMinInterval is the minimum spacing between reconnect attempts.
	ReconnectMinInterval time.Duration `mapstructure:"reconnect_min_interval"`

	// UsageAttributeKey marks a span as critical when present in its
	// attributes. WithCriticalPredicate replaces this check entirely.
	UsageAttributeKey string `mapstructure:"usage_attribute_key"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Database:       "telemetry",
		LogCollection:  "logs",
		SpanCollection: "spans",
		BatchSize:      100,
		FlushInterval:  15 * time.Second,
		BucketKeys:     []string{"component", "level", "tenantId"},
		WALPath:        "telemex-wal.jsonl",
		DLQPath:        "telemex-dlq.jsonl",
		DLQChunkSize:   1000,
		// At 100 records/sec a 5000-entry buffer survives about 50s of
		// backend outage before the oldest entries are dropped.
		MaxBufferSize:         5000,
		MaxCriticalBufferSize: 10000,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		ResetTimeout:          30 * time.Second,
		HealthInterval:        30 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		ReconnectMinInterval:  5 * time.Second,
		UsageAttributeKey:     "usage",
	}
}

// Validate checks the configuration for impossible values.
func (cfg *Config) Validate() error {
	if cfg.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return errors.New("flush_interval must be positive")
	}
	if cfg.MaxBufferSize <= 0 {
		return errors.New("max_buffer_size must be positive")
	}
	if cfg.MaxCriticalBufferSize <= 0 {
		return errors.New("max_critical_buffer_size must be positive")
	}
	if cfg.DLQChunkSize <= 0 {
		return errors.New("dlq_chunk_size must be positive")
	}
	if cfg.FailureThreshold <= 0 {
		return errors.New("failure_threshold must be positive")
	}
	if cfg.SuccessThreshold <= 0 {
		return errors.New("success_threshold must be positive")
	}
	if cfg.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	if cfg.WALPath == "" {
		return errors.New("wal_path must be set")
	}
	if cfg.DLQPath == "" {
		return errors.New("dlq_path must be set")
	}
	if cfg.LogCollection == "" || cfg.SpanCollection == "" {
		return errors.New("log_collection and span_collection must be set")
	}
	if cfg.RetentionDays < 0 {
		return errors.New("retention_days must not be negative")
	}
	return nil
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	uc := koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, uc); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
