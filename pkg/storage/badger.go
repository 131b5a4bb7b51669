package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/domain"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixRecord   = byte(0x01) // record:id -> Record
	prefixClass    = byte(0x02) // class:className:value -> []byte{}
	prefixOutgoing = byte(0x03) // outgoing:from:type -> to
	prefixIncoming = byte(0x04) // incoming:to:type:from -> []byte{}
)

const keySep = byte(0x00)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Every Apply runs in one BadgerDB read-write transaction, so a batch is
// written completely or not at all, and concurrent batches touching the same
// records conflict instead of overwriting each other.
//
// Key Structure:
//   - Records: 0x01 + id -> JSON(Record)
//   - Class Index: 0x02 + class + 0x00 + value -> empty
//   - Outgoing Links: 0x03 + from + 0x00 + type -> to
//   - Incoming Links: 0x04 + to + 0x00 + type + 0x00 + from -> empty
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// BlockCacheSize is the block cache in bytes. Zero keeps 32MB.
	BlockCacheSize int64

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger
}

// NewBadgerEngine opens a persistent engine in dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions opens a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)
	cacheSize := opts.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = 32 << 20
	}

	// Records are small; keep the footprint low.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(cacheSize).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func recordKey(id domain.ObjectID) []byte {
	return append([]byte{prefixRecord}, id.String()...)
}

func classIndexKey(id domain.ObjectID) []byte {
	return append(classIndexPrefix(id.ClassID), id.Value...)
}

func classIndexPrefix(class string) []byte {
	key := append([]byte{prefixClass}, class...)
	return append(key, keySep)
}

func outgoingKey(from domain.ObjectID, linkType string) []byte {
	return append(outgoingPrefix(from), linkType...)
}

func outgoingPrefix(from domain.ObjectID) []byte {
	key := append([]byte{prefixOutgoing}, from.String()...)
	return append(key, keySep)
}

func incomingKey(to domain.ObjectID, linkType string, from domain.ObjectID) []byte {
	return append(incomingPrefix(to, linkType), from.String()...)
}

func incomingPrefix(to domain.ObjectID, linkType string) []byte {
	key := append([]byte{prefixIncoming}, to.String()...)
	key = append(key, keySep)
	key = append(key, linkType...)
	return append(key, keySep)
}

// incomingRecordPrefix covers the incoming links of every type.
func incomingRecordPrefix(to domain.ObjectID) []byte {
	key := append([]byte{prefixIncoming}, to.String()...)
	return append(key, keySep)
}

// ============================================================================
// Serialization
// ============================================================================

// serializableRecord is the JSON-serializable form of a Record.
type serializableRecord struct {
	Class   string         `json:"class"`
	Value   string         `json:"value"`
	Fields  map[string]any `json:"fields,omitempty"`
	Version uint64         `json:"version"`
}

func encodeRecord(r *Record) ([]byte, error) {
	return json.Marshal(serializableRecord{
		Class:   r.ID.ClassID,
		Value:   r.ID.Value,
		Fields:  r.Fields,
		Version: r.Version,
	})
}

func decodeRecord(data []byte) (*Record, error) {
	var sr serializableRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &Record{
		ID:      domain.NewObjectID(sr.Class, sr.Value),
		Fields:  sr.Fields,
		Version: sr.Version,
	}, nil
}

func getRecordInTxn(txn *badger.Txn, id domain.ObjectID) (*Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r *Record
	err = item.Value(func(val []byte) error {
		var decodeErr error
		r, decodeErr = decodeRecord(val)
		return decodeErr
	})
	return r, err
}

// ============================================================================
// Reads
// ============================================================================

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func (b *BadgerEngine) GetRecord(id domain.ObjectID) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var r *Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRecordInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *BadgerEngine) RecordsByClass(class string) ([]*Record, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var records []*Record
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := classIndexPrefix(class)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value := string(it.Item().Key()[len(prefix):])
			r, err := getRecordInTxn(txn, domain.NewObjectID(class, value))
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (b *BadgerEngine) GetOutgoingLinks(from domain.ObjectID) ([]Link, error) {
	if err := validateID(from); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var links []Link
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		links, err = outgoingInTxn(txn, from)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortLinksByType(links)
	return links, nil
}

func outgoingInTxn(txn *badger.Txn, from domain.ObjectID) ([]Link, error) {
	prefix := outgoingPrefix(from)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var links []Link
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		linkType := string(it.Item().Key()[len(prefix):])
		var to domain.ObjectID
		err := it.Item().Value(func(val []byte) error {
			var parseErr error
			to, parseErr = domain.ParseObjectID(string(val))
			return parseErr
		})
		if err != nil {
			return nil, fmt.Errorf("%w: link %s of '%s': %v", ErrInvalidData, linkType, from, err)
		}
		links = append(links, Link{From: from, To: to, Type: linkType})
	}
	return links, nil
}

func (b *BadgerEngine) GetIncomingLinks(to domain.ObjectID, linkType string) ([]Link, error) {
	if err := validateID(to); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var links []Link
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := incomingPrefix(to, linkType)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			from, err := domain.ParseObjectID(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return fmt.Errorf("%w: incoming link of '%s': %v", ErrInvalidData, to, err)
			}
			links = append(links, Link{From: from, To: to, Type: linkType})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLinksByFrom(links)
	return links, nil
}

// ============================================================================
// Writes
// ============================================================================

// Apply validates and writes b in one BadgerDB transaction. A conflict with
// a concurrent writer is reported as ErrVersionConflict.
func (b *BadgerEngine) Apply(batch *Batch) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		err := batch.check(func(id domain.ObjectID) (uint64, bool, error) {
			r, err := getRecordInTxn(txn, id)
			if errors.Is(err, ErrNotFound) {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, err
			}
			return r.Version, true, nil
		})
		if err != nil {
			return err
		}
		for _, op := range batch.ops {
			if err := b.applyInTxn(txn, op); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}

func (b *BadgerEngine) applyInTxn(txn *badger.Txn, op Operation) error {
	switch op.Type {
	case OpCreate:
		r := op.Record.clone()
		r.Version = 1
		if err := putRecord(txn, r); err != nil {
			return err
		}
		return txn.Set(classIndexKey(r.ID), []byte{})
	case OpUpdate:
		r := op.Record.clone()
		r.Version = op.Version + 1
		return putRecord(txn, r)
	case OpTouch:
		r, err := getRecordInTxn(txn, op.ID)
		if err != nil {
			return err
		}
		r.Version = op.Version + 1
		return putRecord(txn, r)
	case OpDelete:
		return deleteRecordInTxn(txn, op.ID)
	case OpSetLink:
		return setLinkInTxn(txn, op.ID, op.LinkType, op.Target)
	}
	return fmt.Errorf("%w: unknown operation %q", ErrInvalidData, op.Type)
}

func putRecord(txn *badger.Txn, r *Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(r.ID), data)
}

func setLinkInTxn(txn *badger.Txn, from domain.ObjectID, linkType string, to domain.ObjectID) error {
	key := outgoingKey(from, linkType)
	item, err := txn.Get(key)
	switch {
	case err == nil:
		var old domain.ObjectID
		if err := item.Value(func(val []byte) error {
			var parseErr error
			old, parseErr = domain.ParseObjectID(string(val))
			return parseErr
		}); err != nil {
			return err
		}
		if err := txn.Delete(incomingKey(old, linkType, from)); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	if to.IsZero() {
		return nil
	}
	if err := txn.Set(key, []byte(to.String())); err != nil {
		return err
	}
	return txn.Set(incomingKey(to, linkType, from), []byte{})
}

// deleteRecordInTxn removes a record, its class index entry and every link
// from or to it.
func deleteRecordInTxn(txn *badger.Txn, id domain.ObjectID) error {
	outgoing, err := outgoingInTxn(txn, id)
	if err != nil {
		return err
	}
	for _, l := range outgoing {
		if err := setLinkInTxn(txn, id, l.Type, domain.ObjectID{}); err != nil {
			return err
		}
	}

	prefix := incomingRecordPrefix(id)
	var incoming [][]byte
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		incoming = append(incoming, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range incoming {
		rest := key[len(prefix):]
		sep := bytes.IndexByte(rest, keySep)
		if sep < 0 {
			return fmt.Errorf("%w: incoming key of '%s'", ErrInvalidData, id)
		}
		from, err := domain.ParseObjectID(string(rest[sep+1:]))
		if err != nil {
			return fmt.Errorf("%w: incoming key of '%s': %v", ErrInvalidData, id, err)
		}
		if err := setLinkInTxn(txn, from, string(rest[:sep]), domain.ObjectID{}); err != nil {
			return err
		}
	}

	if err := txn.Delete(classIndexKey(id)); err != nil {
		return err
	}
	return txn.Delete(recordKey(id))
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

func (b *BadgerEngine) countPrefix(prefix byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		p := []byte{prefix}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerEngine) RecordCount() (int64, error) { return b.countPrefix(prefixRecord) }
func (b *BadgerEngine) LinkCount() (int64, error)   { return b.countPrefix(prefixOutgoing) }

// Close closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// RunGC runs BadgerDB value log garbage collection once.
func (b *BadgerEngine) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// badgerLogger routes BadgerDB's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) { l.Warnf(format, args...) }

// NewBadgerLogger adapts logger for BadgerOptions.Logger.
func NewBadgerLogger(logger *zap.Logger) badger.Logger {
	return badgerLogger{logger.Named("badger").Sugar()}
}
