// Package audit records relation changes in an append-only journal.
//
// A Journal writes one JSON object per line. It implements
// endpoints.EventSink, so a transaction created with
// unitofwork.WithEventSink(journal.Sink("move")) journals every insert,
// remove and foreign key assignment it performs, along with collection
// loads and replaced data. Commands that are not relation changes, such as
// commits and exports, are written with Log.
//
// Example Usage:
//
//	journal, err := audit.Open(audit.Config{Enabled: true, Path: "./logs/relations.log"})
//	if err != nil {
//		return err
//	}
//	defer journal.Close()
//
//	tx := unitofwork.New(engine, registry, unitofwork.WithEventSink(journal.Sink("cli")))
//	...
//
//	history, _ := audit.NewReader("./logs/relations.log").History("Order|o1")
//	for _, e := range history.Events {
//		fmt.Println(e.Timestamp, e.Type, e.EndPoint, e.Kind)
//	}
//
// The journal never vetoes a change. Write failures are kept and reported
// by Err, since the event sink methods cannot return them.
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/endpoints"
)

// EventType categorizes journal events.
type EventType string

const (
	// Relation events, written by the event sink.
	EventRelationChanged EventType = "RELATION_CHANGED"
	EventDataReplaced    EventType = "DATA_REPLACED"
	EventLoaded          EventType = "COLLECTION_LOADED"
	EventUnloaded        EventType = "COLLECTION_UNLOADED"

	// Transaction events, written with Log.
	EventCommit   EventType = "COMMIT"
	EventRollback EventType = "ROLLBACK"
	EventExport   EventType = "EXPORT"
	EventImport   EventType = "IMPORT"
)

// ErrClosed is returned when logging to a closed journal.
var ErrClosed = errors.New("audit: journal is closed")

// Event is one journal entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Source names the component that wrote the event, e.g. a CLI command.
	Source      string `json:"source,omitempty"`
	Transaction string `json:"transaction,omitempty"`

	// EndPoint is the relation end-point ("Order|o1/Order.Items") and
	// Object its owner ("Order|o1").
	EndPoint string `json:"end_point,omitempty"`
	Object   string `json:"object,omitempty"`

	Kind       endpoints.ChangeKind `json:"kind,omitempty"`
	OldRelated string               `json:"old_related,omitempty"`
	NewRelated string               `json:"new_related,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config holds journal configuration.
type Config struct {
	// Enabled controls whether events are written at all.
	Enabled bool
	// Path is the journal file.
	Path string
	// SyncWrites forces fsync after each event.
	SyncWrites bool
	// AlertOn lists the event types passed to the alert callback.
	AlertOn []EventType
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Path:    "./logs/relations.log",
	}
}

// Journal is an append-only event log. It is safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
	err      error

	alertCallback func(Event)
}

// Open opens the journal file in append mode, creating its directory. A
// disabled config returns a journal that discards every event.
func Open(config Config) (*Journal, error) {
	if !config.Enabled {
		return &Journal{config: config}, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	file, err := os.OpenFile(config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{writer: file, file: file, config: config}, nil
}

// NewJournal creates a journal writing to writer.
func NewJournal(writer io.Writer, config Config) *Journal {
	return &Journal{writer: writer, config: config}
}

// SetAlertCallback sets the function called for events listed in
// Config.AlertOn.
func (j *Journal) SetAlertCallback(fn func(Event)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alertCallback = fn
}

// Log appends event. A missing timestamp or id is filled in.
func (j *Journal) Log(event Event) error {
	if !j.config.Enabled {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		j.sequence++
		event.ID = fmt.Sprintf("rel-%d-%d", event.Timestamp.UnixNano(), j.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling journal event: %w", err)
	}
	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal event: %w", err)
	}
	if j.config.SyncWrites && j.file != nil {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("syncing journal: %w", err)
		}
	}

	if j.alertCallback != nil && containsEventType(j.config.AlertOn, event.Type) {
		j.alertCallback(event)
	}
	return nil
}

// Err returns the first error the event sinks of the journal ran into.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) record(event Event) {
	if err := j.Log(event); err != nil {
		j.mu.Lock()
		if j.err == nil {
			j.err = err
		}
		j.mu.Unlock()
	}
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// Sink returns an event sink journaling under source.
func (j *Journal) Sink(source string) endpoints.EventSink {
	return &sink{journal: j, source: source}
}

type sink struct {
	journal *Journal
	source  string
}

func (s *sink) RelationChanging(endpoints.RelationChange) error { return nil }

func (s *sink) RelationChanged(change endpoints.RelationChange) {
	s.journal.record(Event{
		Type:       EventRelationChanged,
		Source:     s.source,
		EndPoint:   change.EndPointID.String(),
		Object:     change.EndPointID.ObjectID.String(),
		Kind:       change.Kind,
		OldRelated: objectString(change.OldRelated),
		NewRelated: objectString(change.NewRelated),
		Success:    true,
	})
}

func (s *sink) DataReplaced(id endpoints.RelationEndPointID) {
	s.journal.record(Event{
		Type:     EventDataReplaced,
		Source:   s.source,
		EndPoint: id.String(),
		Object:   id.ObjectID.String(),
		Success:  true,
	})
}

func (s *sink) LoadStateChanged(id endpoints.RelationEndPointID, complete bool) {
	t := EventUnloaded
	if complete {
		t = EventLoaded
	}
	s.journal.record(Event{
		Type:     t,
		Source:   s.source,
		EndPoint: id.String(),
		Object:   id.ObjectID.String(),
		Success:  true,
	})
}

func objectString(obj *domain.Object) string {
	if obj == nil {
		return ""
	}
	return obj.ID().String()
}

// Query selects journal events. Zero fields match everything.
type Query struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []EventType
	Object     string
	EndPoint   string
	Source     string
	Limit      int
	Offset     int
}

// QueryResult holds the events of one page.
type QueryResult struct {
	Events     []Event
	TotalCount int
	HasMore    bool
}

// Reader reads a journal file.
type Reader struct {
	path string
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the journal for events matching q. Malformed lines are
// skipped.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Events: []Event{}}, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if q.matches(event) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	total := len(events)
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			events = nil
		} else {
			events = events[q.Offset:]
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return &QueryResult{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}

func (q Query) matches(e Event) bool {
	switch {
	case !q.StartTime.IsZero() && e.Timestamp.Before(q.StartTime):
		return false
	case !q.EndTime.IsZero() && e.Timestamp.After(q.EndTime):
		return false
	case len(q.EventTypes) > 0 && !containsEventType(q.EventTypes, e.Type):
		return false
	case q.Object != "" && e.Object != q.Object && e.OldRelated != q.Object && e.NewRelated != q.Object:
		return false
	case q.EndPoint != "" && e.EndPoint != q.EndPoint:
		return false
	case q.Source != "" && e.Source != q.Source:
		return false
	}
	return true
}

// History returns the relation changes an object took part in, as owner or
// as related object.
func (r *Reader) History(object string) (*QueryResult, error) {
	return r.Query(Query{Object: object, EventTypes: []EventType{EventRelationChanged}})
}

func containsEventType(types []EventType, t EventType) bool {
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}

// Summary counts the events of a period.
type Summary struct {
	StartTime    time.Time                    `json:"start_time"`
	EndTime      time.Time                    `json:"end_time"`
	TotalEvents  int                          `json:"total_events"`
	EventsByType map[EventType]int            `json:"events_by_type"`
	ChangesBy    map[endpoints.ChangeKind]int `json:"changes_by_kind"`
	Objects      int                          `json:"objects"`
	Failures     int                          `json:"failures"`
	GeneratedAt  time.Time                    `json:"generated_at"`
}

// Summarize counts the events between start and end.
func (r *Reader) Summarize(start, end time.Time) (*Summary, error) {
	result, err := r.Query(Query{StartTime: start, EndTime: end})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		StartTime:    start,
		EndTime:      end,
		TotalEvents:  result.TotalCount,
		EventsByType: make(map[EventType]int),
		ChangesBy:    make(map[endpoints.ChangeKind]int),
		GeneratedAt:  time.Now().UTC(),
	}
	objects := make(map[string]bool)
	for _, e := range result.Events {
		s.EventsByType[e.Type]++
		if e.Kind != "" {
			s.ChangesBy[e.Kind]++
		}
		if e.Object != "" {
			objects[e.Object] = true
		}
		if !e.Success {
			s.Failures++
		}
	}
	s.Objects = len(objects)
	return s, nil
}
