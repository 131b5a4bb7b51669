package endpoints

import (
	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
)

// DataManagerFactory creates the data manager of an end-point when its data
// becomes complete.
type DataManagerFactory interface {
	CreateDataManager(id RelationEndPointID) *DataManager
}

// StrategyDataManagerFactory creates data managers using one change
// detection strategy.
type StrategyDataManagerFactory struct {
	Strategy collectiondata.ChangeDetectionStrategy
}

func (f StrategyDataManagerFactory) CreateDataManager(id RelationEndPointID) *DataManager {
	return NewDataManager(id, f.Strategy)
}

// Dependencies are the collaborators of a CollectionEndPoint.
type Dependencies struct {
	Provider           Provider
	Loader             Loader
	Sink               EventSink
	DataManagerFactory DataManagerFactory
}

// CollectionEndPoint is the virtual collection side of a one-to-many
// relation for one owner object.
type CollectionEndPoint struct {
	id    RelationEndPointID
	owner *domain.Object

	provider           Provider
	loader             Loader
	sink               EventSink
	dataManagerFactory DataManagerFactory

	state   loadState
	touched bool
}

// NewCollectionEndPoint creates an incomplete end-point.
func NewCollectionEndPoint(id RelationEndPointID, owner *domain.Object, deps Dependencies) *CollectionEndPoint {
	if !id.Definition.IsCollection() {
		violate("'%s' is not a collection end-point", id)
	}
	if owner == nil || owner.ID() != id.ObjectID {
		violate("the owner of '%s' must be the object '%s'", id, id.ObjectID)
	}
	if deps.Sink == nil {
		deps.Sink = NopEventSink{}
	}
	if deps.DataManagerFactory == nil {
		deps.DataManagerFactory = StrategyDataManagerFactory{}
	}
	return &CollectionEndPoint{
		id:                 id,
		owner:              owner,
		provider:           deps.Provider,
		loader:             deps.Loader,
		sink:               deps.Sink,
		dataManagerFactory: deps.DataManagerFactory,
		state:              newIncompleteLoadState(),
	}
}

func (ep *CollectionEndPoint) ID() RelationEndPointID                  { return ep.id }
func (ep *CollectionEndPoint) ObjectID() domain.ObjectID               { return ep.id.ObjectID }
func (ep *CollectionEndPoint) Definition() *mapping.EndPointDefinition { return ep.id.Definition }
func (ep *CollectionEndPoint) Object() *domain.Object                  { return ep.owner }

func (ep *CollectionEndPoint) IsDataComplete() bool { return ep.state.isDataComplete() }

// EnsureDataComplete loads the data if needed.
func (ep *CollectionEndPoint) EnsureDataComplete() error {
	return ep.state.ensureDataComplete(ep)
}

// MarkDataComplete is called by loaders with the loaded members. Calling it
// on a complete end-point panics.
func (ep *CollectionEndPoint) MarkDataComplete(items []*domain.Object) {
	ep.state.markDataComplete(ep, items)
}

// MarkDataIncomplete unloads the data. It fails with ErrEndPointChanged
// while the end-point has uncommitted changes.
func (ep *CollectionEndPoint) MarkDataIncomplete() error {
	return ep.state.markDataIncomplete(ep)
}

// GetData returns the current members, loading them if needed.
func (ep *CollectionEndPoint) GetData() (collectiondata.ReadOnly, error) {
	return ep.state.getData(ep)
}

// GetOriginalData returns the committed members, loading them if needed.
func (ep *CollectionEndPoint) GetOriginalData() (collectiondata.ReadOnly, error) {
	return ep.state.getOriginalData(ep)
}

// HasChanged reports whether the members differ from the committed ones.
// An incomplete end-point has not changed.
func (ep *CollectionEndPoint) HasChanged() bool { return ep.state.hasChanged(ep) }

// HasChangedFast answers from cached information. known is false when only
// HasChanged can decide.
func (ep *CollectionEndPoint) HasChangedFast() (changed, known bool) {
	return ep.state.hasChangedFast(ep)
}

func (ep *CollectionEndPoint) HasBeenTouched() bool { return ep.touched }
func (ep *CollectionEndPoint) Touch()               { ep.touched = true }

func (ep *CollectionEndPoint) RegisterOriginalOppositeEndPoint(opposite RealEndPoint) {
	ep.state.registerOriginalOppositeEndPoint(ep, opposite)
}

func (ep *CollectionEndPoint) UnregisterOriginalOppositeEndPoint(opposite RealEndPoint) {
	ep.state.unregisterOriginalOppositeEndPoint(ep, opposite)
}

// RegisterCurrentOppositeEndPoint records that opposite points here now.
// The data is loaded first if needed.
func (ep *CollectionEndPoint) RegisterCurrentOppositeEndPoint(opposite RealEndPoint) error {
	return ep.state.registerCurrentOppositeEndPoint(ep, opposite)
}

func (ep *CollectionEndPoint) UnregisterCurrentOppositeEndPoint(opposite RealEndPoint) error {
	return ep.state.unregisterCurrentOppositeEndPoint(ep, opposite)
}

// IsSynchronized reports whether every original member has its reciprocal
// end-point registered. known is false while the data is incomplete.
func (ep *CollectionEndPoint) IsSynchronized() (synchronized, known bool) {
	return ep.state.isSynchronized(ep)
}

// Synchronize removes the members whose reciprocal end-point points
// elsewhere.
func (ep *CollectionEndPoint) Synchronize() error { return ep.state.synchronize(ep) }

// SynchronizeOppositeEndPoint adds the object of an unsynchronized
// reciprocal end-point to the collection.
func (ep *CollectionEndPoint) SynchronizeOppositeEndPoint(opposite RealEndPoint) {
	ep.state.synchronizeOppositeEndPoint(ep, opposite)
}

// UnsynchronizedOppositeEndPointIDs lists reciprocal end-points that point
// here without their object being a member. Empty while incomplete.
func (ep *CollectionEndPoint) UnsynchronizedOppositeEndPointIDs() []RelationEndPointID {
	if complete, ok := ep.state.(*completeLoadState); ok {
		return complete.unsynchronizedIDs()
	}
	return nil
}

// DataManager returns the data manager of a complete end-point or nil.
func (ep *CollectionEndPoint) DataManager() *DataManager {
	if complete, ok := ep.state.(*completeLoadState); ok {
		return complete.dm
	}
	return nil
}

func (ep *CollectionEndPoint) CreateInsertCommand(index int, obj *domain.Object) (Command, error) {
	return ep.state.createInsertCommand(ep, index, obj)
}

// CreateAddCommand appends obj.
func (ep *CollectionEndPoint) CreateAddCommand(obj *domain.Object) (Command, error) {
	data, err := ep.GetData()
	if err != nil {
		return nil, err
	}
	return ep.state.createInsertCommand(ep, data.Count(), obj)
}

func (ep *CollectionEndPoint) CreateRemoveCommand(obj *domain.Object) (Command, error) {
	return ep.state.createRemoveCommand(ep, obj)
}

// CreateReplaceCommand replaces the member at index. Replacing a member
// with itself only touches the end-point.
func (ep *CollectionEndPoint) CreateReplaceCommand(index int, obj *domain.Object) (Command, error) {
	return ep.state.createReplaceCommand(ep, index, obj)
}

// CreateSetCollectionCommand replaces all members with items.
func (ep *CollectionEndPoint) CreateSetCollectionCommand(items []*domain.Object) (Command, error) {
	return ep.state.createSetCollectionCommand(ep, items)
}

// CreateDeleteCommand empties the collection because its owner is deleted.
func (ep *CollectionEndPoint) CreateDeleteCommand() (Command, error) {
	return ep.state.createDeleteCommand(ep)
}

// SortCurrentData reorders the current members stably.
func (ep *CollectionEndPoint) SortCurrentData(cmp func(a, b *domain.Object) int) error {
	return ep.state.sortCurrentData(ep, cmp)
}

func (ep *CollectionEndPoint) Commit() {
	ep.state.commit(ep)
	ep.touched = false
}

func (ep *CollectionEndPoint) Rollback() {
	ep.state.rollback(ep)
	ep.touched = false
}

// SetDataFromSubTransaction takes the current members of source, the same
// end-point in a sub-transaction.
func (ep *CollectionEndPoint) SetDataFromSubTransaction(source *CollectionEndPoint) {
	if source.id != ep.id {
		violate("cannot take data of '%s' into '%s'", source.id, ep.id)
	}
	ep.state.setDataFromSubTransaction(ep, source)
	if source.touched {
		ep.touched = true
	}
}
