// Package storage provides the persistence engines beneath a root
// transaction.
//
// The data model is a set of records connected by links:
//   - Record: one persisted object (identity, field values, version)
//   - Link: a foreign key, directed from the referencing record to the
//     referenced one and typed by the foreign-key property
//
// Each record has at most one outgoing link per link type, which is what
// makes a link a foreign key. The incoming links of a record for one type
// are the members of the collection on the referenced side.
//
// Engines are changed only through Apply, which validates a whole Batch and
// writes it atomically. Every update and delete names the version the writer
// read; a mismatch fails the batch with ErrVersionConflict.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	order := domain.NewObjectID("Order", "o-1")
//	item := domain.NewObjectID("OrderItem", "i-1")
//
//	b := storage.NewBatch()
//	b.Create(&storage.Record{ID: order, Fields: map[string]any{"Number": 1}})
//	b.Create(&storage.Record{ID: item, Fields: map[string]any{"Product": "Pen"}})
//	b.SetLink(item, "OrderItem.Order", order)
//	if err := engine.Apply(b); err != nil {
//		log.Fatal(err)
//	}
//
//	members, _ := engine.GetIncomingLinks(order, "OrderItem.Order")
//	fmt.Printf("order has %d items\n", len(members))
//
// All engines are safe for concurrent use.
package storage

import (
	"errors"
	"maps"
	"sort"
	"strings"

	"github.com/orneryd/norm/pkg/domain"
)

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidData     = errors.New("invalid data")
	ErrVersionConflict = errors.New("version conflict")
	ErrStorageClosed   = errors.New("storage closed")
)

// Record is one persisted object.
//
// Version starts at 1 when the record is created and grows by one with every
// update. Foreign keys are not fields; they are stored as links.
type Record struct {
	ID      domain.ObjectID
	Fields  map[string]any
	Version uint64
}

// Class returns the class of the record.
func (r *Record) Class() string { return r.ID.ClassID }

func (r *Record) clone() *Record {
	return &Record{ID: r.ID, Fields: maps.Clone(r.Fields), Version: r.Version}
}

// Link is a foreign key: the record From references the record To through
// the property named by Type.
type Link struct {
	From domain.ObjectID `json:"from"`
	To   domain.ObjectID `json:"to"`
	Type string          `json:"type"`
}

// Engine is the storage interface used by the unit of work.
//
// Read methods return copies; changing them does not change stored data.
type Engine interface {
	// GetRecord returns the record with id or ErrNotFound.
	GetRecord(id domain.ObjectID) (*Record, error)
	// RecordsByClass returns every record of class ordered by id.
	RecordsByClass(class string) ([]*Record, error)
	// GetOutgoingLinks returns the foreign keys of from ordered by type.
	GetOutgoingLinks(from domain.ObjectID) ([]Link, error)
	// GetIncomingLinks returns the links of linkType pointing at to,
	// ordered by the referencing record.
	GetIncomingLinks(to domain.ObjectID, linkType string) ([]Link, error)

	// Apply validates and writes b atomically.
	Apply(b *Batch) error

	RecordCount() (int64, error)
	LinkCount() (int64, error)
	Close() error
}

// validateID rejects ids that cannot be stored or used as key parts.
func validateID(id domain.ObjectID) error {
	if id.IsZero() || id.ClassID == "" || id.Value == "" {
		return ErrInvalidID
	}
	if strings.ContainsAny(id.ClassID, "|\x00") || strings.ContainsRune(id.Value, 0) {
		return ErrInvalidID
	}
	return nil
}

func validateLinkType(linkType string) error {
	if linkType == "" || strings.ContainsRune(linkType, 0) {
		return ErrInvalidData
	}
	return nil
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID.Value < records[j].ID.Value })
}

func sortLinksByFrom(links []Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].From.String() < links[j].From.String() })
}

func sortLinksByType(links []Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].Type < links[j].Type })
}
