package endpoints

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/domain"
)

func TestCollectionEndPoint_LazyLoad(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1", "c2", "c3")

	ep := w.collection("p1")
	assert.False(t, ep.IsDataComplete())
	assert.Equal(t, 0, w.loads)

	assert.Equal(t, []string{"c1", "c2", "c3"}, w.members("p1"))
	assert.True(t, ep.IsDataComplete())
	assert.Equal(t, 1, w.loads)
	assert.Contains(t, w.sink.events, "loaded=true "+ep.ID().String())

	w.members("p1")
	require.NoError(t, ep.EnsureDataComplete())
	assert.Equal(t, 1, w.loads, "loaded once")

	for _, v := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, SyncSynchronized, w.real(v).SyncState())
	}
	synced, known := ep.IsSynchronized()
	assert.True(t, known)
	assert.True(t, synced)
	assertPartition(t, ep)
}

func TestCollectionEndPoint_IncompleteAnswersWithoutLoading(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1")
	ep := w.collection("p1")

	assert.False(t, ep.HasChanged())
	changed, known := ep.HasChangedFast()
	assert.True(t, known)
	assert.False(t, changed)
	_, known = ep.IsSynchronized()
	assert.False(t, known)
	assert.Nil(t, ep.DataManager())
	assert.Empty(t, ep.UnsynchronizedOppositeEndPointIDs())

	ep.Commit()
	ep.Rollback()
	require.NoError(t, ep.MarkDataIncomplete())
	assert.Equal(t, 0, w.loads)
	assert.False(t, ep.IsDataComplete())
}

func TestCollectionEndPoint_IncompleteContractViolations(t *testing.T) {
	w := newWorld(t)
	ep := w.collection("p1")
	other := w.collection("p2")
	require.NoError(t, other.EnsureDataComplete())

	assert.Panics(t, func() { ep.SetDataFromSubTransaction(w.collection("p1")) })
	assert.Panics(t, func() { ep.SynchronizeOppositeEndPoint(w.newItem("c1")) })

	require.NoError(t, ep.EnsureDataComplete())
	assert.Panics(t, func() { ep.MarkDataComplete(nil) })
}

func TestCollectionEndPoint_LoadErrorPropagates(t *testing.T) {
	w := newWorld(t)
	w.loadErr = errors.New("disk on fire")

	_, err := w.collection("p1").GetData()
	assert.ErrorIs(t, err, w.loadErr)
	assert.False(t, w.collection("p1").IsDataComplete())

	_, err = w.collection("p1").CreateAddCommand(w.newItem("c1").Object())
	assert.ErrorIs(t, err, w.loadErr)
}

type lazyLoader struct{}

func (lazyLoader) LoadEndPoint(*CollectionEndPoint) error { return nil }

func TestCollectionEndPoint_LoaderMustComplete(t *testing.T) {
	w := newWorld(t)
	id := NewRelationEndPointID(orderID("p1"), w.items)
	ep := NewCollectionEndPoint(id, w.obj(id.ObjectID), Dependencies{Provider: w, Loader: lazyLoader{}})
	_, err := ep.GetData()
	assert.ErrorIs(t, err, ErrLoadIncomplete)
}

func TestCollectionEndPoint_Unload(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1", "c2")
	ep := w.collection("p1")
	w.members("p1")

	run(t)(ep.CreateRemoveCommand(w.obj(itemID("c1"))))
	assert.ErrorIs(t, ep.MarkDataIncomplete(), ErrEndPointChanged)
	assert.True(t, ep.IsDataComplete())

	ep.Rollback()
	w.containers[itemID("c1")].Rollback()
	require.NoError(t, ep.MarkDataIncomplete())
	assert.False(t, ep.IsDataComplete())
	assert.Equal(t, SyncUnknown, w.real("c1").SyncState())
	assert.Contains(t, w.sink.events, "loaded=false "+ep.ID().String())

	assert.Equal(t, []string{"c1", "c2"}, w.members("p1"))
	assert.Equal(t, 2, w.loads)
	assert.Equal(t, SyncSynchronized, w.real("c1").SyncState())
}

// An item that was loaded while its foreign key pointed at p2 but that is
// stored under p1 shows up in p1 without its end-point.
func TestCollectionEndPoint_ItemWithoutEndPoint(t *testing.T) {
	w := newWorld(t)
	w.store("p2", "c2")
	c2 := w.real("c2")
	w.store("p1", "c1", "c2")

	ep := w.collection("p1")
	assert.Equal(t, []string{"c1", "c2"}, w.members("p1"))
	assertPartition(t, ep)
	synced, known := ep.IsSynchronized()
	assert.True(t, known)
	assert.False(t, synced)

	// Removing it, setting the collection or deleting the owner is refused.
	events := len(w.sink.events)
	_, err := ep.CreateRemoveCommand(c2.Object())
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "Order.Items", syncErr.SynchronizeOn)
	assert.Equal(t, itemID("c2"), syncErr.Object)
	_, err = ep.CreateSetCollectionCommand(nil)
	assert.ErrorIs(t, err, ErrOutOfSync)
	_, err = ep.CreateDeleteCommand()
	assert.ErrorIs(t, err, ErrOutOfSync)
	assert.Equal(t, []string{"c1", "c2"}, w.members("p1"), "refused changes leave the data alone")
	assert.Len(t, w.sink.events, events)

	require.NoError(t, ep.Synchronize())
	assert.Equal(t, []string{"c1"}, w.members("p1"))
	synced, _ = ep.IsSynchronized()
	assert.True(t, synced)
	assert.False(t, ep.HasChanged(), "synchronizing changes the original data too")
	assertPartition(t, ep)
}

// An item whose foreign key points at an already loaded p1 but that is not
// part of p1's data is unsynchronized.
func TestCollectionEndPoint_UnsynchronizedOppositeEndPoint(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1")
	ep := w.collection("p1")
	w.members("p1")

	w.store("p1", "c2")
	c2 := w.real("c2")
	assert.Equal(t, SyncUnsynchronized, c2.SyncState())
	assert.Equal(t, []RelationEndPointID{c2.ID()}, ep.UnsynchronizedOppositeEndPointIDs())
	assert.Equal(t, []string{"c1"}, w.members("p1"))

	_, err := ep.CreateAddCommand(c2.Object())
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "OrderItem.Order", syncErr.SynchronizeOn)
	_, err = ep.CreateDeleteCommand()
	assert.ErrorIs(t, err, ErrOutOfSync)
	_, err = c2.CreateSetCommand(nil)
	assert.ErrorIs(t, err, ErrOutOfSync)

	synced, err := c2.IsSynchronized()
	require.NoError(t, err)
	assert.False(t, synced)
	require.NoError(t, c2.Synchronize())
	assert.Equal(t, SyncSynchronized, c2.SyncState())
	assert.Equal(t, []string{"c1", "c2"}, w.members("p1"))
	assert.Equal(t, []string{"c1", "c2"}, w.originalMembers("p1"))
	assert.Empty(t, ep.UnsynchronizedOppositeEndPointIDs())
	assertPartition(t, ep)

	assert.Panics(t, func() { ep.SynchronizeOppositeEndPoint(c2) })
}

func TestCollectionEndPoint_UnregisterOriginalOppositeEndPoint(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1", "c2")
	ep := w.collection("p1")

	// Incomplete: just forgotten.
	c1 := w.real("c1")
	ep.UnregisterOriginalOppositeEndPoint(c1)
	assert.Panics(t, func() { ep.UnregisterOriginalOppositeEndPoint(c1) })
	ep.RegisterOriginalOppositeEndPoint(c1)

	// Complete: the end-point is unloaded first.
	w.members("p1")
	ep.UnregisterOriginalOppositeEndPoint(c1)
	assert.False(t, ep.IsDataComplete())
	assert.Equal(t, SyncUnknown, c1.SyncState())
}

func TestCollectionEndPoint_SetDataFromSubTransaction(t *testing.T) {
	parent := newWorld(t)
	parent.store("p1", "c1", "c2")
	parentEP := parent.collection("p1")
	parent.members("p1")
	parent.newItem("c3")

	sub := newWorld(t)
	sub.registry = parent.registry
	sub.items, sub.order = parent.items, parent.order
	sub.store("p1", "c1", "c2")
	subEP := sub.collection("p1")
	sub.members("p1")
	c3 := sub.newItem("c3")
	run(t)(subEP.CreateInsertCommand(0, c3.Object()))

	parentEP.SetDataFromSubTransaction(subEP)
	assert.Equal(t, []string{"c3", "c1", "c2"}, parent.members("p1"))
	assert.Equal(t, []string{"c1", "c2"}, parent.originalMembers("p1"))
	assert.True(t, parentEP.HasChanged())
	assert.True(t, parentEP.HasBeenTouched())
	assert.Same(t, parent.obj(itemID("c3")), mustData(t, parentEP).Get(0), "objects are resolved in the parent")
}

func mustData(t *testing.T, ep *CollectionEndPoint) interface{ Get(int) *domain.Object } {
	data, err := ep.GetData()
	require.NoError(t, err)
	return data
}
