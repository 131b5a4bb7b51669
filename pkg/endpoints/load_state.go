package endpoints

import (
	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/flatten"
)

// loadState is the state of a CollectionEndPoint. Exactly two
// implementations exist, *incompleteLoadState and *completeLoadState; the
// end-point switches by replacing its state value.
type loadState interface {
	flatten.Flattenable

	isDataComplete() bool
	ensureDataComplete(ep *CollectionEndPoint) error
	markDataComplete(ep *CollectionEndPoint, items []*domain.Object)
	markDataIncomplete(ep *CollectionEndPoint) error

	getData(ep *CollectionEndPoint) (collectiondata.ReadOnly, error)
	getOriginalData(ep *CollectionEndPoint) (collectiondata.ReadOnly, error)
	hasChanged(ep *CollectionEndPoint) bool
	hasChangedFast(ep *CollectionEndPoint) (changed, known bool)

	registerOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint)
	unregisterOriginalOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint)
	registerCurrentOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) error
	unregisterCurrentOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint) error

	isSynchronized(ep *CollectionEndPoint) (synchronized, known bool)
	synchronize(ep *CollectionEndPoint) error
	synchronizeOppositeEndPoint(ep *CollectionEndPoint, opposite RealEndPoint)

	createInsertCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error)
	createRemoveCommand(ep *CollectionEndPoint, obj *domain.Object) (Command, error)
	createReplaceCommand(ep *CollectionEndPoint, index int, obj *domain.Object) (Command, error)
	createSetCollectionCommand(ep *CollectionEndPoint, items []*domain.Object) (Command, error)
	createDeleteCommand(ep *CollectionEndPoint) (Command, error)

	sortCurrentData(ep *CollectionEndPoint, cmp func(a, b *domain.Object) int) error
	commit(ep *CollectionEndPoint)
	rollback(ep *CollectionEndPoint)
	setDataFromSubTransaction(ep *CollectionEndPoint, source *CollectionEndPoint)
}

var (
	_ loadState = (*incompleteLoadState)(nil)
	_ loadState = (*completeLoadState)(nil)
)
