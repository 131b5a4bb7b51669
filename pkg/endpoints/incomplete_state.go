package endpoints

import (
	"fmt"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
)

// incompleteLoadState holds an end-point whose data has not been loaded.
// It only remembers the reciprocal end-points registered with it so far;
// anything that needs the data loads it and re-dispatches to the new state.
type incompleteLoadState struct {
	originalOppositeEndPoints map[domain.ObjectID]RelationEndPointID
}

func newIncompleteLoadState() *incompleteLoadState {
	return &incompleteLoadState{originalOppositeEndPoints: make(map[domain.ObjectID]RelationEndPointID)}
}

func (s *incompleteLoadState) isDataComplete() bool { return false }

func (s *incompleteLoadState) ensureDataComplete(ep *CollectionEndPoint) error {
	if err := ep.loader.LoadEndPoint(ep); err != nil {
		return err
	}
	if !ep.state.isDataComplete() {
		return fmt.Errorf("%w: %s", ErrLoadIncomplete, ep.id)
	}
	return nil
}

// loaded makes sure the data is there and returns the state to dispatch to.
func (s *incompleteLoadState) loaded(ep *CollectionEndPoint) (loadState, error) {
	if err := s.ensureDataComplete(ep); err != nil {
		return nil, err
	}
	return ep.state, nil
}

// markDataComplete builds the data manager from items. Items with a
// registered reciprocal end-point are synchronized; the rest are recorded as
// items without end-point. Registered end-points whose item was not loaded
// point at this collection without being part of it and become
// unsynchronized.
func (s *incompleteLoadState) markDataComplete(ep *CollectionEndPoint, items []*domain.Object) {
	dm := ep.dataManagerFactory.CreateDataManager(ep.id)
	complete := newCompleteLoadState(dm)

	pending := s.originalOppositeEndPoints
	for _, item := range items {
		if oppID, ok := pending[item.ID()]; ok {
			opposite := ep.provider.GetRealEndPointWithoutLoading(oppID)
			if opposite == nil {
				violate("the opposite end-point '%s' registered with '%s' is no longer known", oppID, ep.id)
			}
			dm.RegisterOriginalOppositeEndPoint(opposite)
			opposite.MarkSynchronized()
			delete(pending, item.ID())
			continue
		}
		dm.RegisterOriginalItemWithoutEndPoint(item)
	}
	for objID, oppID := range pending {
		opposite := ep.provider.GetRealEndPointWithoutLoading(oppID)
		if opposite == nil {
			violate("the opposite end-point '%s' registered with '%s' is no longer known", oppID, ep.id)
		}
		complete.unsynchronizedOppositeEndPoints[objID] = oppID
		opposite.MarkUnsynchronized()
	}

	ep.state = complete
	ep.sink.LoadStateChanged(ep.id, true)
}

func (s *incompleteLoadState) markDataIncomplete(*CollectionEndPoint) error { return nil }

func (s *incompleteLoadState) getData(ep *CollectionEndPoint) (collectiondata.ReadOnly, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.getData(ep)
}

func (s *incompleteLoadState) getOriginalData(ep *CollectionEndPoint) (collectiondata.ReadOnly, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.getOriginalData(ep)
}

// Data that was never loaded cannot have changed.
func (s *incompleteLoadState) hasChanged(*CollectionEndPoint) bool { return false }

func (s *incompleteLoadState) hasChangedFast(*CollectionEndPoint) (changed, known bool) {
	return false, true
}

func (s *incompleteLoadState) registerOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	if _, ok := s.originalOppositeEndPoints[opposite.ObjectID()]; ok {
		violate("the opposite end-point '%s' has already been registered with '%s'", opposite.ID(), ep.id)
	}
	opposite.ResetSyncState()
	s.originalOppositeEndPoints[opposite.ObjectID()] = opposite.ID()
}

func (s *incompleteLoadState) unregisterOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	if _, ok := s.originalOppositeEndPoints[opposite.ObjectID()]; !ok {
		violate("the opposite end-point '%s' has not been registered with '%s'", opposite.ID(), ep.id)
	}
	delete(s.originalOppositeEndPoints, opposite.ObjectID())
	opposite.ResetSyncState()
}

func (s *incompleteLoadState) registerCurrentOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) error {
	next, err := s.loaded(ep)
	if err != nil {
		return err
	}
	return next.registerCurrentOppositeEndPoint(ep, opposite)
}

func (s *incompleteLoadState) unregisterCurrentOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) error {
	next, err := s.loaded(ep)
	if err != nil {
		return err
	}
	return next.unregisterCurrentOppositeEndPoint(ep, opposite)
}

func (s *incompleteLoadState) isSynchronized(*CollectionEndPoint) (synchronized, known bool) {
	return false, false
}

func (s *incompleteLoadState) synchronize(ep *CollectionEndPoint) error {
	next, err := s.loaded(ep)
	if err != nil {
		return err
	}
	return next.synchronize(ep)
}

func (s *incompleteLoadState) synchronizeOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) {
	violate("cannot synchronize opposite end-point '%s' with '%s' while its data is incomplete", opposite.ID(), ep.id)
}

func (s *incompleteLoadState) createInsertCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.createInsertCommand(ep, index, obj)
}

func (s *incompleteLoadState) createRemoveCommand(ep *CollectionEndPoint, obj *domain.Object) (Command, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.createRemoveCommand(ep, obj)
}

func (s *incompleteLoadState) createReplaceCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.createReplaceCommand(ep, index, obj)
}

func (s *incompleteLoadState) createSetCollectionCommand(ep *CollectionEndPoint, items []*domain.Object) (Command, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.createSetCollectionCommand(ep, items)
}

func (s *incompleteLoadState) createDeleteCommand(ep *CollectionEndPoint) (Command, error) {
	next, err := s.loaded(ep)
	if err != nil {
		return nil, err
	}
	return next.createDeleteCommand(ep)
}

func (s *incompleteLoadState) sortCurrentData(ep *CollectionEndPoint, cmp func(a, b *domain.Object) int) error {
	next, err := s.loaded(ep)
	if err != nil {
		return err
	}
	return next.sortCurrentData(ep, cmp)
}

func (s *incompleteLoadState) commit(*CollectionEndPoint)   {}
func (s *incompleteLoadState) rollback(*CollectionEndPoint) {}

func (s *incompleteLoadState) setDataFromSubTransaction(ep *CollectionEndPoint, _ *CollectionEndPoint) {
	violate("cannot set data from a sub-transaction into '%s' while its data is incomplete", ep.id)
}

// originalOppositeEndPointIDs lists the registered end-points, for tests and
// unloading.
func (s *incompleteLoadState) originalOppositeEndPointIDs() []RelationEndPointID {
	ids := make([]RelationEndPointID, 0, len(s.originalOppositeEndPoints))
	for _, id := range s.originalOppositeEndPoints {
		ids = append(ids, id)
	}
	return ids
}
