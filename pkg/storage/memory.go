package storage

import (
	"sort"
	"sync"

	"github.com/orneryd/norm/pkg/domain"
)

// MemoryEngine is a thread-safe in-memory storage engine.
//
// Records are kept in a map with secondary indexes by class and by link
// direction, so collection loads do not scan all records. Everything is lost
// when the process exits; use BadgerEngine for persistent data.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	b := storage.NewBatch()
//	b.Create(&storage.Record{ID: domain.NewObjectID("Order", "o-1")})
//	_ = engine.Apply(b)
type MemoryEngine struct {
	mu      sync.RWMutex
	records map[domain.ObjectID]*Record

	// Indexes for efficient lookups: class -> ids, from -> type -> to and
	// to -> type -> froms.
	byClass  map[string]map[domain.ObjectID]struct{}
	outgoing map[domain.ObjectID]map[string]domain.ObjectID
	incoming map[domain.ObjectID]map[string]map[domain.ObjectID]struct{}

	closed bool
}

// NewMemoryEngine creates an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		records:  make(map[domain.ObjectID]*Record),
		byClass:  make(map[string]map[domain.ObjectID]struct{}),
		outgoing: make(map[domain.ObjectID]map[string]domain.ObjectID),
		incoming: make(map[domain.ObjectID]map[string]map[domain.ObjectID]struct{}),
	}
}

// GetRecord returns a copy of the record with id.
func (m *MemoryEngine) GetRecord(id domain.ObjectID) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *MemoryEngine) RecordsByClass(class string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	records := make([]*Record, 0, len(m.byClass[class]))
	for id := range m.byClass[class] {
		records = append(records, m.records[id].clone())
	}
	sortRecords(records)
	return records, nil
}

func (m *MemoryEngine) GetOutgoingLinks(from domain.ObjectID) ([]Link, error) {
	if err := validateID(from); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	links := make([]Link, 0, len(m.outgoing[from]))
	for linkType, to := range m.outgoing[from] {
		links = append(links, Link{From: from, To: to, Type: linkType})
	}
	sortLinksByType(links)
	return links, nil
}

func (m *MemoryEngine) GetIncomingLinks(to domain.ObjectID, linkType string) ([]Link, error) {
	if err := validateID(to); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	froms := m.incoming[to][linkType]
	links := make([]Link, 0, len(froms))
	for from := range froms {
		links = append(links, Link{From: from, To: to, Type: linkType})
	}
	sortLinksByFrom(links)
	return links, nil
}

// Apply validates b completely before changing anything.
func (m *MemoryEngine) Apply(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}

	err := b.check(func(id domain.ObjectID) (uint64, bool, error) {
		r, ok := m.records[id]
		if !ok {
			return 0, false, nil
		}
		return r.Version, true, nil
	})
	if err != nil {
		return err
	}

	for _, op := range b.ops {
		switch op.Type {
		case OpCreate:
			r := op.Record.clone()
			r.Version = 1
			m.records[r.ID] = r
			if m.byClass[r.Class()] == nil {
				m.byClass[r.Class()] = make(map[domain.ObjectID]struct{})
			}
			m.byClass[r.Class()][r.ID] = struct{}{}
		case OpUpdate:
			r := op.Record.clone()
			r.Version = op.Version + 1
			m.records[r.ID] = r
		case OpTouch:
			m.records[op.ID].Version = op.Version + 1
		case OpDelete:
			m.deleteUnlocked(op.ID)
		case OpSetLink:
			m.setLinkUnlocked(op.ID, op.LinkType, op.Target)
		}
	}
	return nil
}

func (m *MemoryEngine) deleteUnlocked(id domain.ObjectID) {
	for linkType := range m.outgoing[id] {
		m.setLinkUnlocked(id, linkType, domain.ObjectID{})
	}
	for linkType, froms := range m.incoming[id] {
		for from := range froms {
			m.setLinkUnlocked(from, linkType, domain.ObjectID{})
		}
	}
	delete(m.byClass[id.ClassID], id)
	delete(m.records, id)
}

func (m *MemoryEngine) setLinkUnlocked(from domain.ObjectID, linkType string, to domain.ObjectID) {
	if old, ok := m.outgoing[from][linkType]; ok {
		delete(m.outgoing[from], linkType)
		delete(m.incoming[old][linkType], from)
	}
	if to.IsZero() {
		return
	}
	if m.outgoing[from] == nil {
		m.outgoing[from] = make(map[string]domain.ObjectID)
	}
	m.outgoing[from][linkType] = to
	if m.incoming[to] == nil {
		m.incoming[to] = make(map[string]map[domain.ObjectID]struct{})
	}
	if m.incoming[to][linkType] == nil {
		m.incoming[to][linkType] = make(map[domain.ObjectID]struct{})
	}
	m.incoming[to][linkType][from] = struct{}{}
}

func (m *MemoryEngine) RecordCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.records)), nil
}

func (m *MemoryEngine) LinkCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	var n int64
	for _, links := range m.outgoing {
		n += int64(len(links))
	}
	return n, nil
}

// dumpUnlocked copies every record and link, ordered for stable snapshots.
func (m *MemoryEngine) dumpUnlocked() ([]*Record, []Link) {
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r.clone())
	}
	sortRecords(records)
	var links []Link
	for from, byType := range m.outgoing {
		for linkType, to := range byType {
			links = append(links, Link{From: from, To: to, Type: linkType})
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].From != links[j].From {
			return links[i].From.String() < links[j].From.String()
		}
		return links[i].Type < links[j].Type
	})
	return records, links
}

// restore loads records with their versions and links, as saved in a
// snapshot.
func (m *MemoryEngine) restore(records []*Record, links []Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r.clone()
		if m.byClass[r.Class()] == nil {
			m.byClass[r.Class()] = make(map[domain.ObjectID]struct{})
		}
		m.byClass[r.Class()][r.ID] = struct{}{}
	}
	for _, l := range links {
		m.setLinkUnlocked(l.From, l.Type, l.To)
	}
}

// Close releases the data. Later calls fail with ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	m.byClass = nil
	m.outgoing = nil
	m.incoming = nil
	return nil
}
