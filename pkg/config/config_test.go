package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "NORM_") {
			t.Setenv(name, "")
		}
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := LoadFromEnv()

	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, int64(32<<20), cfg.Storage.CacheSize)
	assert.Equal(t, "batch", cfg.Storage.WALSyncMode)
	assert.Equal(t, ChangeDetectionSequence, cfg.UnitOfWork.ChangeDetection)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 100_000, cfg.Seal.Iterations)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NORM_STORAGE_ENGINE", "badger")
	t.Setenv("NORM_DATA_DIR", "/tmp/norm")
	t.Setenv("NORM_BADGER_CACHE_SIZE", "64MB")
	t.Setenv("NORM_BADGER_GC_INTERVAL", "90")
	t.Setenv("NORM_CHANGE_DETECTION", "SET")
	t.Setenv("NORM_LOG_LEVEL", "DEBUG")
	t.Setenv("NORM_AUDIT_ENABLED", "yes")
	t.Setenv("NORM_METRICS_ENABLED", "0")
	t.Setenv("NORM_SEAL_ITERATIONS", "not a number")

	cfg := LoadFromEnv()
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
	assert.Equal(t, "/tmp/norm", cfg.Storage.DataDir)
	assert.Equal(t, int64(64<<20), cfg.Storage.CacheSize)
	assert.Equal(t, 90*time.Second, cfg.Storage.GCInterval)
	assert.Equal(t, ChangeDetectionSet, cfg.UnitOfWork.ChangeDetection)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Audit.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 100_000, cfg.Seal.Iterations, "invalid numbers keep the default")
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "norm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: badger
  data_dir: /var/lib/norm
  cache_size: 1GB
  gc_interval: 10m
unit_of_work:
  mapping: /etc/norm/mapping.yaml
audit:
  enabled: true
`), 0o600))
	t.Setenv("NORM_DATA_DIR", "/override")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
	assert.Equal(t, "/override", cfg.Storage.DataDir, "the environment wins over the file")
	assert.Equal(t, int64(1<<30), cfg.Storage.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, "/etc/norm/mapping.yaml", cfg.UnitOfWork.MappingPath)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "./logs/relations.log", cfg.Audit.Path, "absent keys keep their defaults")
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engin: badger\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err, "unknown keys are rejected")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.Storage.Engine)

	require.NoError(t, Default().ApplyYAML(nil))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "bolt" }, "unknown storage engine"},
		{"badger without dir", func(c *Config) { c.Storage.Engine, c.Storage.DataDir = EngineBadger, "" }, "data directory"},
		{"wal without dir", func(c *Config) { c.Storage.Engine, c.Storage.DataDir = EngineWAL, "" }, "data directory"},
		{"wal sync mode", func(c *Config) { c.Storage.Engine, c.Storage.WALSyncMode = EngineWAL, "sometimes" }, "sync mode"},
		{"bad cache size", func(c *Config) {
			c.Storage.Engine = EngineBadger
			c.Storage.CacheSizeStr = "lots"
			c.Storage.CacheSize = parseMemorySize("lots")
		}, "cache size"},
		{"change detection", func(c *Config) { c.UnitOfWork.ChangeDetection = "bag" }, "change detection"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"audit path", func(c *Config) { c.Audit.Enabled, c.Audit.Path = true, "" }, "journal path"},
		{"iterations", func(c *Config) { c.Seal.Iterations = -1 }, "iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestString_HidesPassphrase(t *testing.T) {
	cfg := Default()
	cfg.Seal.Passphrase = "hunter2"
	cfg.Storage.Engine = EngineBadger
	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "Sealed: true")
	assert.Contains(t, s, "32.00 MB")
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1024", 1024},
		{"1024B", 1024},
		{"1KB", 1024},
		{"512mb", 512 << 20},
		{"2G", 2 << 30},
		{"1TB", 1 << 40},
		{"  2GB  ", 2 << 30},
		{"0", 0},
		{"", 0},
		{"abc", -1},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.input))
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.50 KB", FormatMemorySize(1536))
	assert.Equal(t, "1.00 GB", FormatMemorySize(1<<30))
	assert.Equal(t, "1.00 TB", FormatMemorySize(1<<40))
}
