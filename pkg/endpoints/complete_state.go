package endpoints

import (
	"fmt"
	"sort"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
)

// completeLoadState holds an end-point whose data is loaded. Reciprocal
// end-points that point at the collection but whose object is not part of
// the loaded data are kept as unsynchronized until synchronized explicitly.
type completeLoadState struct {
	dm                              *DataManager
	unsynchronizedOppositeEndPoints map[domain.ObjectID]RelationEndPointID
}

func newCompleteLoadState(dm *DataManager) *completeLoadState {
	return &completeLoadState{
		dm:                              dm,
		unsynchronizedOppositeEndPoints: make(map[domain.ObjectID]RelationEndPointID),
	}
}

func (s *completeLoadState) isDataComplete() bool                         { return true }
func (s *completeLoadState) ensureDataComplete(*CollectionEndPoint) error { return nil }

func (s *completeLoadState) markDataComplete(ep *CollectionEndPoint, _ []*domain.Object) {
	violate("the data of '%s' is already complete", ep.id)
}

// markDataIncomplete discards the data. Every known reciprocal end-point is
// handed over to the new incomplete state; items without end-point are
// forgotten.
func (s *completeLoadState) markDataIncomplete(ep *CollectionEndPoint) error {
	if s.hasChanged(ep) {
		return fmt.Errorf("%w: cannot unload '%s'", ErrEndPointChanged, ep.id)
	}

	incomplete := newIncompleteLoadState()
	ids := s.dm.OriginalOppositeEndPointIDs()
	for _, id := range s.unsynchronizedOppositeEndPoints {
		ids = append(ids, id)
	}
	ep.state = incomplete
	for _, id := range ids {
		opposite := ep.provider.GetRealEndPointWithoutLoading(id)
		if opposite == nil {
			violate("the opposite end-point '%s' registered with '%s' is no longer known", id, ep.id)
		}
		incomplete.registerOriginalOppositeEndPoint(ep, opposite)
	}
	ep.sink.LoadStateChanged(ep.id, false)
	return nil
}

func (s *completeLoadState) getData(*CollectionEndPoint) (collectiondata.ReadOnly, error) {
	return s.dm.CollectionData(), nil
}

func (s *completeLoadState) getOriginalData(*CollectionEndPoint) (collectiondata.ReadOnly, error) {
	return s.dm.OriginalCollectionData(), nil
}

func (s *completeLoadState) hasChanged(*CollectionEndPoint) bool {
	return s.dm.HasDataChanged()
}

func (s *completeLoadState) hasChangedFast(*CollectionEndPoint) (changed, known bool) {
	return s.dm.HasDataChangedFast()
}

func (s *completeLoadState) registerOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	if s.dm.ContainsOriginalItemWithoutEndPoint(opposite.ObjectID()) {
		s.dm.RegisterOriginalOppositeEndPoint(opposite)
		opposite.MarkSynchronized()
		return
	}
	if _, ok := s.unsynchronizedOppositeEndPoints[opposite.ObjectID()]; ok {
		violate("the opposite end-point '%s' has already been registered with '%s'", opposite.ID(), ep.id)
	}
	s.unsynchronizedOppositeEndPoints[opposite.ObjectID()] = opposite.ID()
	opposite.MarkUnsynchronized()
}

func (s *completeLoadState) unregisterOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	if _, ok := s.unsynchronizedOppositeEndPoints[opposite.ObjectID()]; ok {
		delete(s.unsynchronizedOppositeEndPoints, opposite.ObjectID())
		opposite.ResetSyncState()
		return
	}
	if !s.dm.ContainsOriginalOppositeEndPoint(opposite) {
		violate("the opposite end-point '%s' has not been registered with '%s'", opposite.ID(), ep.id)
	}
	// The item leaves the original data, which can only be represented by
	// reloading it.
	if err := s.markDataIncomplete(ep); err != nil {
		violate("cannot unregister '%s' from '%s': %v", opposite.ID(), ep.id, err)
	}
	ep.state.unregisterOriginalOppositeEndPoint(ep, opposite)
}

func (s *completeLoadState) registerCurrentOppositeEndPoint(_ *CollectionEndPoint, opposite RealEndPoint) error {
	s.dm.RegisterCurrentOppositeEndPoint(opposite)
	return nil
}

func (s *completeLoadState) unregisterCurrentOppositeEndPoint(_ *CollectionEndPoint, opposite RealEndPoint) error {
	s.dm.UnregisterCurrentOppositeEndPoint(opposite)
	return nil
}

// A complete collection is synchronized when each original item has its
// reciprocal end-point registered.
func (s *completeLoadState) isSynchronized(*CollectionEndPoint) (synchronized, known bool) {
	return len(s.dm.originalItemsWithoutEndPoint) == 0, true
}

// synchronize drops the items whose reciprocal end-point does not point
// here.
func (s *completeLoadState) synchronize(ep *CollectionEndPoint) error {
	for _, item := range s.dm.OriginalItemsWithoutEndPoints() {
		s.dm.UnregisterOriginalItemWithoutEndPoint(item)
	}
	ep.sink.DataReplaced(ep.id)
	return nil
}

// synchronizeOppositeEndPoint adds the item of an unsynchronized reciprocal
// end-point to the collection.
func (s *completeLoadState) synchronizeOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	if _, ok := s.unsynchronizedOppositeEndPoints[opposite.ObjectID()]; !ok {
		violate("cannot synchronize opposite end-point '%s' with '%s' because it is not out of sync", opposite.ID(), ep.id)
	}
	delete(s.unsynchronizedOppositeEndPoints, opposite.ObjectID())
	s.dm.RegisterOriginalOppositeEndPoint(opposite)
	opposite.MarkSynchronized()
	ep.sink.DataReplaced(ep.id)
}

func (s *completeLoadState) createInsertCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error) {
	if err := s.checkNotUnsynchronized(ep, obj.ID()); err != nil {
		return nil, err
	}
	if s.dm.CollectionData().Contains(obj.ID()) {
		return nil, fmt.Errorf("%w: '%s' in '%s'", ErrDuplicateObject, obj.ID(), ep.id)
	}
	if index < 0 || index > s.dm.CollectionData().Count() {
		return nil, fmt.Errorf("%w: insert at %d into '%s' with %d items", ErrIndexOutOfRange, index, ep.id, s.dm.CollectionData().Count())
	}
	return &collectionInsertCommand{ep: ep, dm: s.dm, index: index, obj: obj}, nil
}

func (s *completeLoadState) createRemoveCommand(ep *CollectionEndPoint, obj *domain.Object) (Command, error) {
	if err := s.checkNotUnsynchronized(ep, obj.ID()); err != nil {
		return nil, err
	}
	if err := s.checkNotWithoutEndPoint(ep, obj.ID()); err != nil {
		return nil, err
	}
	if !s.dm.CollectionData().Contains(obj.ID()) {
		return nil, fmt.Errorf("%w: '%s' in '%s'", ErrObjectNotMember, obj.ID(), ep.id)
	}
	return &collectionRemoveCommand{ep: ep, dm: s.dm, obj: obj}, nil
}

func (s *completeLoadState) createReplaceCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error) {
	data := s.dm.CollectionData()
	if index < 0 || index >= data.Count() {
		return nil, fmt.Errorf("%w: replace at %d in '%s' with %d items", ErrIndexOutOfRange, index, ep.id, data.Count())
	}
	old := data.Get(index)
	if err := s.checkNotUnsynchronized(ep, old.ID()); err != nil {
		return nil, err
	}
	if err := s.checkNotWithoutEndPoint(ep, old.ID()); err != nil {
		return nil, err
	}
	if old.ID() == obj.ID() {
		return &collectionReplaceSameCommand{ep: ep, obj: old}, nil
	}
	if err := s.checkNotUnsynchronized(ep, obj.ID()); err != nil {
		return nil, err
	}
	if data.Contains(obj.ID()) {
		return nil, fmt.Errorf("%w: '%s' in '%s'", ErrDuplicateObject, obj.ID(), ep.id)
	}
	return &collectionReplaceCommand{ep: ep, dm: s.dm, index: index, old: old, obj: obj}, nil
}

func (s *completeLoadState) createSetCollectionCommand(ep *CollectionEndPoint, items []*domain.Object) (Command, error) {
	if err := s.checkFullySynchronized(ep); err != nil {
		return nil, err
	}
	seen := make(map[domain.ObjectID]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ID()]; dup {
			return nil, fmt.Errorf("%w: '%s' given twice for '%s'", ErrDuplicateObject, item.ID(), ep.id)
		}
		seen[item.ID()] = struct{}{}
	}
	return &collectionSetCommand{ep: ep, dm: s.dm, old: s.dm.CollectionData().Objects(), items: items}, nil
}

func (s *completeLoadState) createDeleteCommand(ep *CollectionEndPoint) (Command, error) {
	if err := s.checkFullySynchronized(ep); err != nil {
		return nil, err
	}
	return &collectionDeleteCommand{ep: ep, dm: s.dm, old: s.dm.CollectionData().Objects()}, nil
}

func (s *completeLoadState) sortCurrentData(_ *CollectionEndPoint, cmp func(a, b *domain.Object) int) error {
	s.dm.SortCurrentData(cmp)
	return nil
}

func (s *completeLoadState) commit(ep *CollectionEndPoint) {
	s.dm.Commit()
	ep.sink.DataReplaced(ep.id)
}

func (s *completeLoadState) rollback(ep *CollectionEndPoint) {
	s.dm.Rollback()
	ep.sink.DataReplaced(ep.id)
}

func (s *completeLoadState) setDataFromSubTransaction(ep *CollectionEndPoint, source *CollectionEndPoint) {
	sourceState, ok := source.state.(*completeLoadState)
	if !ok {
		violate("cannot take data of '%s' from a sub-transaction end-point that is incomplete", ep.id)
	}
	s.dm.SetDataFromSubTransaction(sourceState.dm, ep.provider)
	ep.sink.DataReplaced(ep.id)
}

// sync checks

func (s *completeLoadState) checkNotUnsynchronized(ep *CollectionEndPoint, objID domain.ObjectID) error {
	if _, ok := s.unsynchronizedOppositeEndPoints[objID]; ok {
		return s.oppositeOutOfSync(ep, objID)
	}
	return nil
}

func (s *completeLoadState) checkNotWithoutEndPoint(ep *CollectionEndPoint, objID domain.ObjectID) error {
	if s.dm.ContainsOriginalItemWithoutEndPoint(objID) {
		return s.collectionOutOfSync(ep, objID)
	}
	return nil
}

func (s *completeLoadState) checkFullySynchronized(ep *CollectionEndPoint) error {
	if len(s.unsynchronizedOppositeEndPoints) > 0 {
		ids := make([]domain.ObjectID, 0, len(s.unsynchronizedOppositeEndPoints))
		for id := range s.unsynchronizedOppositeEndPoints {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		return s.oppositeOutOfSync(ep, ids[0])
	}
	if items := s.dm.OriginalItemsWithoutEndPoints(); len(items) > 0 {
		return s.collectionOutOfSync(ep, items[0].ID())
	}
	return nil
}

func (s *completeLoadState) oppositeOutOfSync(ep *CollectionEndPoint, objID domain.ObjectID) error {
	opposite := ep.id.Definition.Opposite()
	return &SyncError{
		Property:         ep.id.Definition.ID(),
		Owner:            ep.id.ObjectID,
		Object:           objID,
		OppositeProperty: opposite.ID(),
		SynchronizeOn:    opposite.ID(),
	}
}

func (s *completeLoadState) collectionOutOfSync(ep *CollectionEndPoint, objID domain.ObjectID) error {
	return &SyncError{
		Property:         ep.id.Definition.ID(),
		Owner:            ep.id.ObjectID,
		Object:           objID,
		OppositeProperty: ep.id.Definition.Opposite().ID(),
		SynchronizeOn:    ep.id.Definition.ID(),
	}
}

// unsynchronizedIDs returns the unsynchronized reciprocal end-points, sorted.
func (s *completeLoadState) unsynchronizedIDs() []RelationEndPointID {
	ids := make([]RelationEndPointID, 0, len(s.unsynchronizedOppositeEndPoints))
	for _, id := range s.unsynchronizedOppositeEndPoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
