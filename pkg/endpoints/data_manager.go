package endpoints

import (
	"maps"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
)

// DataManager owns the data of a complete collection end-point: the current
// and original members, and the bookkeeping of reciprocal end-points.
//
// After construction, Commit and Rollback every original member is either
// backed by a registered original opposite end-point or recorded as an
// original item without end-point, never both.
type DataManager struct {
	endPointID RelationEndPointID
	data       *collectiondata.ChangeCachingData
	strategy   collectiondata.ChangeDetectionStrategy

	originalOppositeEndPoints    map[domain.ObjectID]RelationEndPointID
	originalItemsWithoutEndPoint map[domain.ObjectID]*domain.Object
	currentOppositeEndPoints     map[domain.ObjectID]RelationEndPointID
}

// NewDataManager creates an empty data manager.
func NewDataManager(id RelationEndPointID, strategy collectiondata.ChangeDetectionStrategy) *DataManager {
	if strategy == nil {
		strategy = collectiondata.SequenceChangeDetection{}
	}
	return &DataManager{
		endPointID:                   id,
		data:                         collectiondata.NewChangeCachingData(),
		strategy:                     strategy,
		originalOppositeEndPoints:    make(map[domain.ObjectID]RelationEndPointID),
		originalItemsWithoutEndPoint: make(map[domain.ObjectID]*domain.Object),
		currentOppositeEndPoints:     make(map[domain.ObjectID]RelationEndPointID),
	}
}

func (m *DataManager) EndPointID() RelationEndPointID { return m.endPointID }

func (m *DataManager) ChangeDetectionStrategy() collectiondata.ChangeDetectionStrategy {
	return m.strategy
}

// CollectionData returns the current members.
func (m *DataManager) CollectionData() collectiondata.ReadOnly { return m.data }

// OriginalCollectionData returns the committed members.
func (m *DataManager) OriginalCollectionData() collectiondata.ReadOnly { return m.data.OriginalData() }

// OriginalOppositeEndPointIDs returns the registered original reciprocal
// end-points in the order of the original data.
func (m *DataManager) OriginalOppositeEndPointIDs() []RelationEndPointID {
	return m.orderedIDs(m.data.OriginalData(), m.originalOppositeEndPoints)
}

// CurrentOppositeEndPointIDs returns the current reciprocal end-points in the
// order of the current data, followed by any whose item is not a member.
func (m *DataManager) CurrentOppositeEndPointIDs() []RelationEndPointID {
	return m.orderedIDs(m.data, m.currentOppositeEndPoints)
}

// OriginalItemsWithoutEndPoints returns the original members whose reciprocal
// end-point is not registered, in the order of the original data.
func (m *DataManager) OriginalItemsWithoutEndPoints() []*domain.Object {
	var result []*domain.Object
	for _, o := range m.data.OriginalData().Objects() {
		if _, ok := m.originalItemsWithoutEndPoint[o.ID()]; ok {
			result = append(result, o)
		}
	}
	return result
}

func (m *DataManager) orderedIDs(order collectiondata.ReadOnly, set map[domain.ObjectID]RelationEndPointID) []RelationEndPointID {
	result := make([]RelationEndPointID, 0, len(set))
	seen := make(map[domain.ObjectID]struct{}, len(set))
	for _, o := range order.Objects() {
		if id, ok := set[o.ID()]; ok {
			result = append(result, id)
			seen[o.ID()] = struct{}{}
		}
	}
	for objID, id := range set {
		if _, ok := seen[objID]; !ok {
			result = append(result, id)
		}
	}
	return result
}

func (m *DataManager) ContainsOriginalObjectID(id domain.ObjectID) bool {
	return m.data.OriginalData().Contains(id)
}

func (m *DataManager) ContainsOriginalOppositeEndPoint(ep RealEndPoint) bool {
	_, ok := m.originalOppositeEndPoints[ep.ObjectID()]
	return ok
}

func (m *DataManager) ContainsCurrentOppositeEndPoint(ep RealEndPoint) bool {
	_, ok := m.currentOppositeEndPoints[ep.ObjectID()]
	return ok
}

func (m *DataManager) ContainsOriginalItemWithoutEndPoint(id domain.ObjectID) bool {
	_, ok := m.originalItemsWithoutEndPoint[id]
	return ok
}

// RegisterOriginalOppositeEndPoint records ep as an original reciprocal
// end-point. If its object was known as an item without end-point it stays
// where it is in the data; otherwise it is appended to both snapshots.
func (m *DataManager) RegisterOriginalOppositeEndPoint(ep RealEndPoint) {
	if m.ContainsOriginalOppositeEndPoint(ep) {
		violate("the opposite end-point '%s' has already been registered with '%s'", ep.ID(), m.endPointID)
	}
	itemID := ep.ObjectID()
	if _, ok := m.originalItemsWithoutEndPoint[itemID]; ok {
		delete(m.originalItemsWithoutEndPoint, itemID)
	} else {
		m.data.RegisterOriginalItem(ep.Object())
	}
	m.originalOppositeEndPoints[itemID] = ep.ID()
	m.currentOppositeEndPoints[itemID] = ep.ID()
}

// UnregisterOriginalOppositeEndPoint removes ep and its object from the
// original and current data.
func (m *DataManager) UnregisterOriginalOppositeEndPoint(ep RealEndPoint) {
	if !m.ContainsOriginalOppositeEndPoint(ep) {
		violate("the opposite end-point '%s' has not been registered with '%s'", ep.ID(), m.endPointID)
	}
	itemID := ep.ObjectID()
	m.data.UnregisterOriginalItem(itemID)
	delete(m.originalOppositeEndPoints, itemID)
	delete(m.currentOppositeEndPoints, itemID)
}

// RegisterCurrentOppositeEndPoint records ep as pointing at this collection
// now. The data is not touched.
func (m *DataManager) RegisterCurrentOppositeEndPoint(ep RealEndPoint) {
	if m.ContainsCurrentOppositeEndPoint(ep) {
		violate("the opposite end-point '%s' has already been registered as current end-point of '%s'", ep.ID(), m.endPointID)
	}
	m.currentOppositeEndPoints[ep.ObjectID()] = ep.ID()
}

// UnregisterCurrentOppositeEndPoint removes ep from the current reciprocal
// end-points. The data is not touched.
func (m *DataManager) UnregisterCurrentOppositeEndPoint(ep RealEndPoint) {
	if !m.ContainsCurrentOppositeEndPoint(ep) {
		violate("the opposite end-point '%s' has not been registered as current end-point of '%s'", ep.ID(), m.endPointID)
	}
	delete(m.currentOppositeEndPoints, ep.ObjectID())
}

// RegisterOriginalItemWithoutEndPoint adds obj to the original and current
// data without a reciprocal end-point.
func (m *DataManager) RegisterOriginalItemWithoutEndPoint(obj *domain.Object) {
	if m.ContainsOriginalItemWithoutEndPoint(obj.ID()) {
		violate("'%s' has already been registered as an original item without end-point of '%s'", obj.ID(), m.endPointID)
	}
	m.data.RegisterOriginalItem(obj)
	m.originalItemsWithoutEndPoint[obj.ID()] = obj
}

// UnregisterOriginalItemWithoutEndPoint removes obj from the original and
// current data.
func (m *DataManager) UnregisterOriginalItemWithoutEndPoint(obj *domain.Object) {
	if !m.ContainsOriginalItemWithoutEndPoint(obj.ID()) {
		violate("'%s' has not been registered as an original item without end-point of '%s'", obj.ID(), m.endPointID)
	}
	m.data.UnregisterOriginalItem(obj.ID())
	delete(m.originalItemsWithoutEndPoint, obj.ID())
}

// HasDataChanged compares current and original data with the strategy.
func (m *DataManager) HasDataChanged() bool {
	return m.data.HasChanged(m.strategy)
}

// HasDataChangedFast answers without running the strategy. known is false
// when only a full check can decide.
func (m *DataManager) HasDataChangedFast() (changed, known bool) {
	return m.data.HasChangedFast()
}

func (m *DataManager) SortCurrentData(cmp func(a, b *domain.Object) int) {
	m.data.Sort(cmp)
}

func (m *DataManager) SortCurrentAndOriginalData(cmp func(a, b *domain.Object) int) {
	m.data.SortOriginalAndCurrent(cmp)
}

// Commit makes the current state the original one. Items without a current
// reciprocal end-point become the new original items without end-point.
func (m *DataManager) Commit() {
	m.data.Commit()
	m.originalOppositeEndPoints = maps.Clone(m.currentOppositeEndPoints)
	m.originalItemsWithoutEndPoint = make(map[domain.ObjectID]*domain.Object)
	for _, o := range m.data.Objects() {
		if _, ok := m.currentOppositeEndPoints[o.ID()]; !ok {
			m.originalItemsWithoutEndPoint[o.ID()] = o
		}
	}
}

// Rollback restores the current state from the original one.
func (m *DataManager) Rollback() {
	m.data.Rollback()
	m.currentOppositeEndPoints = maps.Clone(m.originalOppositeEndPoints)
}

// SetDataFromSubTransaction takes the current state of source. Each of
// source's current reciprocal end-points must have a counterpart in provider.
func (m *DataManager) SetDataFromSubTransaction(source *DataManager, provider Provider) {
	objs := make([]*domain.Object, 0, source.data.Count())
	for _, o := range source.data.Objects() {
		objs = append(objs, provider.GetObjectReference(o.ID()))
	}
	m.data.ReplaceContents(objs)

	m.currentOppositeEndPoints = make(map[domain.ObjectID]RelationEndPointID, len(source.currentOppositeEndPoints))
	for objID, id := range source.currentOppositeEndPoints {
		ep := provider.GetRealEndPointWithoutLoading(id)
		if ep == nil {
			violate("the opposite end-point '%s' of '%s' has no counterpart in the parent transaction", id, m.endPointID)
		}
		m.currentOppositeEndPoints[objID] = ep.ID()
	}
}

// data modification used by commands

func (m *DataManager) insert(index int, obj *domain.Object)  { m.data.Insert(index, obj) }
func (m *DataManager) remove(id domain.ObjectID) bool        { return m.data.Remove(id) }
func (m *DataManager) replace(index int, obj *domain.Object) { m.data.Replace(index, obj) }
func (m *DataManager) replaceContents(objs []*domain.Object) { m.data.ReplaceContents(objs) }
func (m *DataManager) clear()                                { m.data.Clear() }
