// Write-ahead logging for the memory engine.
//
// The WAL records every batch before it is applied. Combined with periodic
// snapshots it gives a MemoryEngine durability:
//   - Durability: a committed batch survives a crash
//   - Recovery: restore state from snapshot + WAL replay
//
// Usage:
//
//	engine, err := storage.RecoverFromWAL("./data/wal", "./data/snapshot.json")
//	wal, err := storage.NewWAL("./data/wal", nil)
//	walEngine := storage.NewWALEngine(engine, wal)
//
//	// Batches are logged before execution
//	walEngine.Apply(batch)
//
//	// Create periodic snapshots
//	snapshot, err := walEngine.Snapshot()
//	storage.SaveSnapshot(snapshot, "./data/snapshot.json")
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/orneryd/norm/pkg/domain"
)

// WAL entry kinds.
const (
	walBatch      = "batch"
	walCheckpoint = "checkpoint"
)

// Sync modes.
const (
	SyncImmediate = "immediate"
	SyncBatch     = "batch"
	SyncNone      = "none"
)

// Common WAL errors
var (
	ErrWALClosed    = errors.New("wal: closed")
	ErrWALCorrupted = errors.New("wal: corrupted entry")
)

// WALEntry is one line of the log.
type WALEntry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"data"`
	Checksum  uint32    `json:"checksum"`
}

type walBatchData struct {
	Operations []Operation `json:"ops"`
}

// WALConfig configures WAL behavior.
type WALConfig struct {
	// Directory for the WAL file
	Dir string

	// SyncMode controls when writes are synced to disk
	// "immediate": fsync after each write (safest, slowest)
	// "batch": fsync periodically (faster, some risk)
	// "none": no fsync (fastest, data loss on crash)
	SyncMode string

	// BatchSyncInterval for "batch" sync mode
	BatchSyncInterval time.Duration
}

// DefaultWALConfig returns the defaults.
func DefaultWALConfig() *WALConfig {
	return &WALConfig{
		Dir:               "data/wal",
		SyncMode:          SyncBatch,
		BatchSyncInterval: 100 * time.Millisecond,
	}
}

// WAL is an append-only log of batches. Safe for concurrent writes.
type WAL struct {
	mu       sync.Mutex
	config   *WALConfig
	file     *os.File
	writer   *bufio.Writer
	sequence atomic.Uint64
	closed   atomic.Bool

	syncTicker *time.Ticker
	stopSync   chan struct{}

	totalWrites   atomic.Int64
	totalSyncs    atomic.Int64
	lastSyncTime  atomic.Int64
	lastEntryTime atomic.Int64
}

// WALStats provides observability into WAL state.
type WALStats struct {
	Sequence      uint64
	TotalWrites   int64
	TotalSyncs    int64
	LastSyncTime  time.Time
	LastEntryTime time.Time
	Closed        bool
}

func walPath(dir string) string { return filepath.Join(dir, "wal.log") }

// NewWAL opens or creates the log in dir. A nil cfg uses DefaultWALConfig.
func NewWAL(dir string, cfg *WALConfig) (*WAL, error) {
	if cfg == nil {
		cfg = DefaultWALConfig()
	}
	if dir != "" {
		cfg.Dir = dir
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: failed to create directory: %w", err)
	}
	file, err := os.OpenFile(walPath(cfg.Dir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open file: %w", err)
	}

	w := &WAL{
		config:   cfg,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		stopSync: make(chan struct{}),
	}
	if entries, err := ReadWALEntries(walPath(cfg.Dir)); err == nil && len(entries) > 0 {
		w.sequence.Store(entries[len(entries)-1].Sequence)
	}

	if cfg.SyncMode == SyncBatch && cfg.BatchSyncInterval > 0 {
		w.syncTicker = time.NewTicker(cfg.BatchSyncInterval)
		go w.batchSyncLoop()
	}
	return w, nil
}

func (w *WAL) batchSyncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			w.Sync()
		case <-w.stopSync:
			return
		}
	}
}

// Append writes a new entry.
func (w *WAL) Append(kind string, data any) error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("wal: failed to marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entry := WALEntry{
		Sequence:  w.sequence.Add(1),
		Timestamp: time.Now(),
		Kind:      kind,
		Data:      dataBytes,
		Checksum:  crc32.ChecksumIEEE(dataBytes),
	}
	line, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("wal: failed to marshal entry: %w", err)
	}
	if _, err := w.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("wal: failed to write entry: %w", err)
	}

	w.totalWrites.Add(1)
	w.lastEntryTime.Store(time.Now().UnixNano())
	if w.config.SyncMode == SyncImmediate {
		return w.syncLocked()
	}
	return nil
}

// Sync flushes all buffered writes to disk.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush failed: %w", err)
	}
	if w.config.SyncMode != SyncNone {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync failed: %w", err)
		}
	}
	w.totalSyncs.Add(1)
	w.lastSyncTime.Store(time.Now().UnixNano())
	return nil
}

// Checkpoint writes a marker for a snapshot boundary.
func (w *WAL) Checkpoint() error {
	return w.Append(walCheckpoint, map[string]any{
		"checkpoint_time": time.Now(),
		"sequence":        w.sequence.Load(),
	})
}

// Close flushes pending writes and closes the file.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	syncErr := w.syncLocked()
	if err := w.file.Close(); err != nil {
		return err
	}
	return syncErr
}

// Stats returns current WAL statistics.
func (w *WAL) Stats() WALStats {
	var lastSync, lastEntry time.Time
	if t := w.lastSyncTime.Load(); t > 0 {
		lastSync = time.Unix(0, t)
	}
	if t := w.lastEntryTime.Load(); t > 0 {
		lastEntry = time.Unix(0, t)
	}
	return WALStats{
		Sequence:      w.sequence.Load(),
		TotalWrites:   w.totalWrites.Load(),
		TotalSyncs:    w.totalSyncs.Load(),
		LastSyncTime:  lastSync,
		LastEntryTime: lastEntry,
		Closed:        w.closed.Load(),
	}
}

// Sequence returns the current sequence number.
func (w *WAL) Sequence() uint64 { return w.sequence.Load() }

// Snapshot is the complete state of a MemoryEngine at a WAL sequence.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Records   []*Record `json:"records"`
	Links     []Link    `json:"links"`
	Version   string    `json:"version"`
}

// SaveSnapshot writes a snapshot to path atomically.
func SaveSnapshot(snapshot *Snapshot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("wal: failed to create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("wal: failed to encode snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("wal: failed to create snapshot file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to sync snapshot: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("wal: failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// ReadWALEntries reads all intact entries of a WAL file. Lines that do not
// decode or fail their checksum are skipped.
func ReadWALEntries(path string) ([]WALEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open: %w", err)
	}
	defer file.Close()

	var entries []WALEntry
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var entry WALEntry
			if json.Unmarshal(line, &entry) == nil && entry.Checksum == crc32.ChecksumIEEE(entry.Data) {
				entries = append(entries, entry)
			}
		}
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("wal: failed to read: %w", err)
		}
	}
}

// ReadWALEntriesAfter reads the entries after a given sequence number.
func ReadWALEntriesAfter(path string, afterSeq uint64) ([]WALEntry, error) {
	all, err := ReadWALEntries(path)
	if err != nil {
		return nil, err
	}
	var filtered []WALEntry
	for _, entry := range all {
		if entry.Sequence > afterSeq {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// ReplayWALEntry applies one entry to engine. A batch that fails validation
// on replay failed the same way when it was logged and is skipped.
func ReplayWALEntry(engine Engine, entry WALEntry) error {
	switch entry.Kind {
	case walBatch:
		var data walBatchData
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("%w: %d: %v", ErrWALCorrupted, entry.Sequence, err)
		}
		err := engine.Apply(&Batch{ops: data.Operations})
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
			return nil
		}
		return err
	case walCheckpoint:
		return nil
	default:
		return fmt.Errorf("%w: unknown entry kind %q", ErrWALCorrupted, entry.Kind)
	}
}

// RecoverFromWAL rebuilds a MemoryEngine from the snapshot at snapshotPath
// (if it exists) and the WAL entries after it.
func RecoverFromWAL(walDir, snapshotPath string) (*MemoryEngine, error) {
	engine := NewMemoryEngine()

	var snapshotSeq uint64
	if snapshotPath != "" {
		snapshot, err := LoadSnapshot(snapshotPath)
		switch {
		case err == nil:
			snapshotSeq = snapshot.Sequence
			engine.restore(snapshot.Records, snapshot.Links)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("wal: failed to load snapshot: %w", err)
		}
	}

	path := walPath(walDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return engine, nil
	}
	entries, err := ReadWALEntriesAfter(path, snapshotSeq)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := ReplayWALEntry(engine, entry); err != nil {
			return nil, fmt.Errorf("wal: replaying entry %d: %w", entry.Sequence, err)
		}
	}
	return engine, nil
}

// WALEngine wraps a MemoryEngine with write-ahead logging.
type WALEngine struct {
	// mu orders batches with snapshots, so a snapshot's sequence covers
	// exactly the batches applied to it.
	mu     sync.Mutex
	engine *MemoryEngine
	wal    *WAL
}

// NewWALEngine creates a WAL-backed storage engine.
func NewWALEngine(engine *MemoryEngine, wal *WAL) *WALEngine {
	return &WALEngine{engine: engine, wal: wal}
}

// Apply logs b, then applies it.
func (w *WALEngine) Apply(b *Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wal.closed.Load() {
		return ErrStorageClosed
	}
	if err := w.wal.Append(walBatch, walBatchData{Operations: b.ops}); err != nil {
		return fmt.Errorf("wal: failed to log batch: %w", err)
	}
	return w.engine.Apply(b)
}

// Snapshot captures the engine state and checkpoints the WAL.
func (w *WALEngine) Snapshot() (*Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wal.closed.Load() {
		return nil, ErrWALClosed
	}

	w.engine.mu.RLock()
	if w.engine.closed {
		w.engine.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	records, links := w.engine.dumpUnlocked()
	w.engine.mu.RUnlock()

	seq := w.wal.Sequence()
	if err := w.wal.Checkpoint(); err != nil {
		return nil, fmt.Errorf("wal: checkpoint failed: %w", err)
	}
	return &Snapshot{
		Sequence:  seq,
		Timestamp: time.Now(),
		Records:   records,
		Links:     links,
		Version:   "1.0",
	}, nil
}

func (w *WALEngine) GetRecord(id domain.ObjectID) (*Record, error) { return w.engine.GetRecord(id) }
func (w *WALEngine) RecordsByClass(class string) ([]*Record, error) {
	return w.engine.RecordsByClass(class)
}
func (w *WALEngine) GetOutgoingLinks(from domain.ObjectID) ([]Link, error) {
	return w.engine.GetOutgoingLinks(from)
}
func (w *WALEngine) GetIncomingLinks(to domain.ObjectID, linkType string) ([]Link, error) {
	return w.engine.GetIncomingLinks(to, linkType)
}
func (w *WALEngine) RecordCount() (int64, error) { return w.engine.RecordCount() }
func (w *WALEngine) LinkCount() (int64, error)   { return w.engine.LinkCount() }

// Close closes both the WAL and the engine.
func (w *WALEngine) Close() error {
	walErr := w.wal.Close()
	if err := w.engine.Close(); err != nil {
		return err
	}
	return walErr
}

// WAL returns the underlying log.
func (w *WALEngine) WAL() *WAL { return w.wal }

var _ Engine = (*WALEngine)(nil)
