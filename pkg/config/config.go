// Package config handles norm configuration via environment variables and an
// optional YAML file.
//
// Values are resolved in three layers: built-in defaults, then the YAML file
// (if any), then NORM_* environment variables. Validate checks the result
// before use.
//
// Example Usage:
//
//	cfg, err := config.Load(os.Getenv("NORM_CONFIG"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables:
//   - NORM_STORAGE_ENGINE="memory", "wal" or "badger"
//   - NORM_DATA_DIR="./data"
//   - NORM_BADGER_SYNC_WRITES=false
//   - NORM_BADGER_CACHE_SIZE="32MB"
//   - NORM_WAL_SYNC_MODE="batch"
//   - NORM_MAPPING="./mapping.yaml"
//   - NORM_CHANGE_DETECTION="sequence" or "set"
//   - NORM_LOG_LEVEL="info"
//   - NORM_LOG_FORMAT="json" or "console"
//   - NORM_AUDIT_ENABLED=false
//   - NORM_AUDIT_PATH="./logs/relations.log"
//   - NORM_METRICS_ENABLED=true
//   - NORM_SEAL_PASSPHRASE=""
//   - NORM_SEAL_ITERATIONS=100000
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage engines.
const (
	EngineMemory = "memory"
	EngineWAL    = "wal"
	EngineBadger = "badger"
)

// Change detection strategies.
const (
	ChangeDetectionSequence = "sequence"
	ChangeDetectionSet      = "set"
)

// Config holds all norm configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	UnitOfWork UnitOfWorkConfig `yaml:"unit_of_work"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Seal       SealConfig       `yaml:"seal"`
}

// StorageConfig selects and tunes the storage engine.
type StorageConfig struct {
	// Engine is "memory", "wal" (memory with a write-ahead log) or "badger".
	Engine string `yaml:"engine"`
	// DataDir is the badger or WAL data directory.
	DataDir string `yaml:"data_dir"`
	// SyncWrites forces fsync after each badger write.
	SyncWrites bool `yaml:"sync_writes"`
	// CacheSizeStr is the badger block cache, e.g. "64MB".
	CacheSizeStr string `yaml:"cache_size"`
	// CacheSize is CacheSizeStr in bytes.
	CacheSize int64 `yaml:"-"`
	// GCInterval runs badger value log GC periodically; zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`
	// WALSyncMode is "immediate", "batch" or "none".
	WALSyncMode string `yaml:"wal_sync_mode"`
}

// UnitOfWorkConfig configures transactions.
type UnitOfWorkConfig struct {
	// MappingPath is the YAML relation mapping.
	MappingPath string `yaml:"mapping"`
	// ChangeDetection is "sequence" (order matters) or "set".
	ChangeDetection string `yaml:"change_detection"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig configures the relation journal.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// MetricsConfig toggles prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SealConfig holds the settings for sealed exports.
type SealConfig struct {
	Passphrase string `yaml:"passphrase"`
	Iterations int    `yaml:"iterations"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:       EngineMemory,
			DataDir:      "./data",
			CacheSizeStr: "32MB",
			CacheSize:    32 << 20,
			WALSyncMode:  "batch",
		},
		UnitOfWork: UnitOfWorkConfig{
			MappingPath:     "./mapping.yaml",
			ChangeDetection: ChangeDetectionSequence,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Audit: AuditConfig{
			Path: "./logs/relations.log",
		},
		Metrics: MetricsConfig{Enabled: true},
		Seal:    SealConfig{Iterations: 100_000},
	}
}

// LoadFromEnv returns the defaults overridden by the environment.
func LoadFromEnv() *Config {
	c := Default()
	c.applyEnv()
	return c
}

// Load reads the YAML file at path over the defaults and applies the
// environment on top. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := c.ApplyYAML(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	c.applyEnv()
	return c, nil
}

// ApplyYAML overlays the values present in data. Keys absent from data keep
// their current values.
func (c *Config) ApplyYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	c.Storage.CacheSize = parseMemorySize(c.Storage.CacheSizeStr)
	return nil
}

func (c *Config) applyEnv() {
	c.Storage.Engine = getEnv("NORM_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataDir = getEnv("NORM_DATA_DIR", c.Storage.DataDir)
	c.Storage.SyncWrites = getEnvBool("NORM_BADGER_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.CacheSizeStr = getEnv("NORM_BADGER_CACHE_SIZE", c.Storage.CacheSizeStr)
	c.Storage.CacheSize = parseMemorySize(c.Storage.CacheSizeStr)
	c.Storage.GCInterval = getEnvDuration("NORM_BADGER_GC_INTERVAL", c.Storage.GCInterval)
	c.Storage.WALSyncMode = strings.ToLower(getEnv("NORM_WAL_SYNC_MODE", c.Storage.WALSyncMode))

	c.UnitOfWork.MappingPath = getEnv("NORM_MAPPING", c.UnitOfWork.MappingPath)
	c.UnitOfWork.ChangeDetection = strings.ToLower(getEnv("NORM_CHANGE_DETECTION", c.UnitOfWork.ChangeDetection))

	c.Logging.Level = strings.ToLower(getEnv("NORM_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("NORM_LOG_FORMAT", c.Logging.Format))
	c.Logging.Output = getEnv("NORM_LOG_OUTPUT", c.Logging.Output)

	c.Audit.Enabled = getEnvBool("NORM_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.Path = getEnv("NORM_AUDIT_PATH", c.Audit.Path)
	c.Audit.SyncWrites = getEnvBool("NORM_AUDIT_SYNC_WRITES", c.Audit.SyncWrites)

	c.Metrics.Enabled = getEnvBool("NORM_METRICS_ENABLED", c.Metrics.Enabled)

	c.Seal.Passphrase = getEnv("NORM_SEAL_PASSPHRASE", c.Seal.Passphrase)
	c.Seal.Iterations = getEnvInt("NORM_SEAL_ITERATIONS", c.Seal.Iterations)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineMemory:
	case EngineWAL:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("wal storage needs a data directory")
		}
		switch c.Storage.WALSyncMode {
		case "immediate", "batch", "none":
		default:
			return fmt.Errorf("invalid wal sync mode: %q", c.Storage.WALSyncMode)
		}
	case EngineBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("badger storage needs a data directory")
		}
		if c.Storage.CacheSize < 0 {
			return fmt.Errorf("invalid badger cache size: %s", c.Storage.CacheSizeStr)
		}
	default:
		return fmt.Errorf("unknown storage engine: %q", c.Storage.Engine)
	}

	switch c.UnitOfWork.ChangeDetection {
	case ChangeDetectionSequence, ChangeDetectionSet:
	default:
		return fmt.Errorf("unknown change detection: %q", c.UnitOfWork.ChangeDetection)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit enabled but no journal path provided")
	}
	if c.Seal.Iterations < 0 {
		return fmt.Errorf("invalid seal iterations: %d", c.Seal.Iterations)
	}
	return nil
}

// String returns a representation safe for logging. The seal passphrase is
// not included.
func (c *Config) String() string {
	storage := c.Storage.Engine
	switch c.Storage.Engine {
	case EngineBadger:
		storage = fmt.Sprintf("badger(%s, cache %s)", c.Storage.DataDir, FormatMemorySize(c.Storage.CacheSize))
	case EngineWAL:
		storage = fmt.Sprintf("wal(%s, sync %s)", c.Storage.DataDir, c.Storage.WALSyncMode)
	}
	return fmt.Sprintf(
		"Config{Storage: %s, Mapping: %s, ChangeDetection: %s, Log: %s/%s, Audit: %v, Metrics: %v, Sealed: %v}",
		storage,
		c.UnitOfWork.MappingPath, c.UnitOfWork.ChangeDetection,
		c.Logging.Level, c.Logging.Format,
		c.Audit.Enabled, c.Metrics.Enabled,
		c.Seal.Passphrase != "",
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable size.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
