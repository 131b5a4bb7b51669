package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orneryd/norm/pkg/audit"
	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/config"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/storage"
	"github.com/orneryd/norm/pkg/unitofwork"
)

// app holds everything a command needs to work on stored objects.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	engine   storage.Engine
	registry *mapping.Registry
	journal  *audit.Journal
	metrics  *prometheus.Registry
	uow      *unitofwork.Metrics
}

// loadConfig resolves the configuration and applies the root flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("NORM_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("engine") {
		cfg.Storage.Engine, _ = cmd.Flags().GetString("engine")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("mapping") {
		cfg.UnitOfWork.MappingPath, _ = cmd.Flags().GetString("mapping")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{cfg.Output}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func openEngine(cfg config.StorageConfig, logger *zap.Logger) (storage.Engine, error) {
	switch cfg.Engine {
	case config.EngineBadger:
		engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:        cfg.DataDir,
			SyncWrites:     cfg.SyncWrites,
			BlockCacheSize: cfg.CacheSize,
			Logger:         storage.NewBadgerLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return engine, nil
	case config.EngineWAL:
		engine, err := storage.RecoverFromWAL(walDir(cfg), snapshotPath(cfg))
		if err != nil {
			return nil, fmt.Errorf("recovering database: %w", err)
		}
		wal, err := storage.NewWAL(walDir(cfg), &storage.WALConfig{
			SyncMode:          cfg.WALSyncMode,
			BatchSyncInterval: storage.DefaultWALConfig().BatchSyncInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return storage.NewWALEngine(engine, wal), nil
	default:
		logger.Warn("memory engine selected, changes are lost when the command exits")
		return storage.NewMemoryEngine(), nil
	}
}

// openApp loads config and opens storage, the mapping and the journal.
// The caller must call close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	registry, err := mapping.LoadYAML(cfg.UnitOfWork.MappingPath)
	if err != nil {
		return nil, fmt.Errorf("loading mapping: %w", err)
	}

	engine, err := openEngine(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	journal, err := audit.Open(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		Path:       cfg.Audit.Path,
		SyncWrites: cfg.Audit.SyncWrites,
		AlertOn:    []audit.EventType{audit.EventRollback},
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	journal.SetAlertCallback(func(e audit.Event) {
		logger.Warn("transaction rolled back", zap.String("tx", e.Transaction), zap.String("reason", e.Reason))
	})

	a := &app{cfg: cfg, logger: logger, engine: engine, registry: registry, journal: journal}
	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		a.uow = unitofwork.NewMetrics(a.metrics)
	}
	return a, nil
}

// options returns the transaction options of the configuration, journaling
// under source.
func (a *app) options(source string) ([]unitofwork.Option, error) {
	strategy, err := collectiondata.StrategyByName(a.cfg.UnitOfWork.ChangeDetection)
	if err != nil {
		return nil, err
	}
	opts := []unitofwork.Option{
		unitofwork.WithLogger(a.logger),
		unitofwork.WithChangeDetection(strategy),
	}
	if a.uow != nil {
		opts = append(opts, unitofwork.WithMetrics(a.uow))
	}
	if a.cfg.Audit.Enabled {
		opts = append(opts, unitofwork.WithEventSink(a.journal.Sink(source)))
	}
	return opts, nil
}

// newTransaction starts a root transaction journaling under source.
func (a *app) newTransaction(source string) (*unitofwork.Transaction, error) {
	opts, err := a.options(source)
	if err != nil {
		return nil, err
	}
	return unitofwork.New(a.engine, a.registry, opts...), nil
}

// commit commits tx and journals the outcome. A failed commit is rolled back.
func (a *app) commit(tx *unitofwork.Transaction, source string) error {
	if err := tx.Commit(); err != nil {
		a.journal.Log(audit.Event{Type: audit.EventRollback, Source: source, Transaction: tx.ID(), Reason: err.Error()})
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("commit: %w", err)
	}
	if err := a.journal.Log(audit.Event{Type: audit.EventCommit, Source: source, Transaction: tx.ID(), Success: true}); err != nil {
		return err
	}
	return a.journal.Err()
}

func (a *app) close() {
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("closing journal", zap.Error(err))
	}
	switch engine := a.engine.(type) {
	case *storage.BadgerEngine:
		if a.cfg.Storage.GCInterval > 0 {
			if err := engine.RunGC(); err != nil {
				a.logger.Warn("value log gc", zap.Error(err))
			}
		}
	case *storage.WALEngine:
		snapshot, err := engine.Snapshot()
		if err == nil {
			err = storage.SaveSnapshot(snapshot, snapshotPath(a.cfg.Storage))
		}
		if err != nil {
			a.logger.Warn("saving snapshot", zap.Error(err))
		}
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("closing storage", zap.Error(err))
	}
	a.logger.Sync()
}

func walDir(cfg config.StorageConfig) string       { return filepath.Join(cfg.DataDir, "wal") }
func snapshotPath(cfg config.StorageConfig) string { return filepath.Join(cfg.DataDir, "snapshot.json") }
