package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
)

type fakeReal struct {
	id    RelationEndPointID
	obj   *domain.Object
	state SyncState
}

func (f *fakeReal) ID() RelationEndPointID                    { return f.id }
func (f *fakeReal) ObjectID() domain.ObjectID                 { return f.id.ObjectID }
func (f *fakeReal) Object() *domain.Object                    { return f.obj }
func (f *fakeReal) OppositeObjectID() domain.ObjectID         { return domain.ObjectID{} }
func (f *fakeReal) OriginalOppositeObjectID() domain.ObjectID { return domain.ObjectID{} }
func (f *fakeReal) MarkSynchronized()                         { f.state = SyncSynchronized }
func (f *fakeReal) MarkUnsynchronized()                       { f.state = SyncUnsynchronized }
func (f *fakeReal) ResetSyncState()                           { f.state = SyncUnknown }

func (f *fakeReal) CreateSetCommand(*domain.Object) (Command, error)    { return NopCommand{}, nil }
func (f *fakeReal) CreateRemoveCommand(*domain.Object) (Command, error) { return NopCommand{}, nil }

func newDataManagerFixture(t *testing.T) (*world, *DataManager) {
	w := newWorld(t)
	return w, NewDataManager(NewRelationEndPointID(orderID("p1"), w.items), nil)
}

func (w *world) fakeReal(v string) *fakeReal {
	id := itemID(v)
	return &fakeReal{id: NewRelationEndPointID(id, w.order), obj: w.obj(id)}
}

func dmPartition(t *testing.T, dm *DataManager) {
	t.Helper()
	assert.Equal(t, dm.OriginalCollectionData().Count(),
		len(dm.OriginalOppositeEndPointIDs())+len(dm.OriginalItemsWithoutEndPoints()))
}

func TestDataManager_RegisterOriginalOppositeEndPoint(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1, c2 := w.fakeReal("c1"), w.fakeReal("c2")

	dm.RegisterOriginalOppositeEndPoint(c1)
	dm.RegisterOriginalOppositeEndPoint(c2)

	assert.Equal(t, []string{"c1", "c2"}, values(dm.CollectionData().Objects()))
	assert.Equal(t, []string{"c1", "c2"}, values(dm.OriginalCollectionData().Objects()))
	assert.Equal(t, []RelationEndPointID{c1.id, c2.id}, dm.OriginalOppositeEndPointIDs())
	assert.Equal(t, []RelationEndPointID{c1.id, c2.id}, dm.CurrentOppositeEndPointIDs())
	assert.False(t, dm.HasDataChanged())
	dmPartition(t, dm)

	assert.Panics(t, func() { dm.RegisterOriginalOppositeEndPoint(c1) })
}

func TestDataManager_RegisterAfterItemWithoutEndPointKeepsPosition(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1, c2 := w.fakeReal("c1"), w.fakeReal("c2")

	dm.RegisterOriginalItemWithoutEndPoint(c1.obj)
	dm.RegisterOriginalOppositeEndPoint(c2)
	assert.True(t, dm.ContainsOriginalItemWithoutEndPoint(c1.ObjectID()))
	dmPartition(t, dm)

	dm.RegisterOriginalOppositeEndPoint(c1)
	assert.False(t, dm.ContainsOriginalItemWithoutEndPoint(c1.ObjectID()))
	assert.Equal(t, []string{"c1", "c2"}, values(dm.CollectionData().Objects()))
	assert.Empty(t, dm.OriginalItemsWithoutEndPoints())
	dmPartition(t, dm)
}

func TestDataManager_RegisterUnregisterRoundTrip(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1, c2 := w.fakeReal("c1"), w.fakeReal("c2")
	dm.RegisterOriginalOppositeEndPoint(c1)

	before := values(dm.CollectionData().Objects())
	dm.RegisterOriginalOppositeEndPoint(c2)
	dm.UnregisterOriginalOppositeEndPoint(c2)

	assert.Equal(t, before, values(dm.CollectionData().Objects()))
	assert.Equal(t, before, values(dm.OriginalCollectionData().Objects()))
	assert.False(t, dm.ContainsOriginalOppositeEndPoint(c2))
	assert.False(t, dm.ContainsCurrentOppositeEndPoint(c2))
	assert.Panics(t, func() { dm.UnregisterOriginalOppositeEndPoint(c2) })

	dm.RegisterOriginalItemWithoutEndPoint(c2.obj)
	dm.UnregisterOriginalItemWithoutEndPoint(c2.obj)
	assert.Equal(t, before, values(dm.CollectionData().Objects()))
	dmPartition(t, dm)
}

func TestDataManager_ItemWithoutEndPointContract(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1 := w.fakeReal("c1")

	defer func() {
		r := recover()
		require.NotNil(t, r)
		cv, ok := r.(*ContractViolation)
		require.True(t, ok)
		assert.Contains(t, cv.Error(), "has not been registered as an original item without end-point")
	}()
	dm.UnregisterOriginalItemWithoutEndPoint(c1.obj)
}

func TestDataManager_CurrentOppositeEndPoints(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1 := w.fakeReal("c1")

	dm.RegisterCurrentOppositeEndPoint(c1)
	assert.True(t, dm.ContainsCurrentOppositeEndPoint(c1))
	assert.Equal(t, 0, dm.CollectionData().Count(), "data is not touched")
	assert.Panics(t, func() { dm.RegisterCurrentOppositeEndPoint(c1) })

	dm.UnregisterCurrentOppositeEndPoint(c1)
	assert.Panics(t, func() { dm.UnregisterCurrentOppositeEndPoint(c1) })
}

func TestDataManager_Commit(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1, c2, c3 := w.fakeReal("c1"), w.fakeReal("c2"), w.fakeReal("c3")
	dm.RegisterOriginalOppositeEndPoint(c1)
	dm.RegisterOriginalItemWithoutEndPoint(c2.obj)

	// c3 joins with its end-point, c1 leaves, c2 stays without end-point.
	dm.insert(0, c3.obj)
	dm.RegisterCurrentOppositeEndPoint(c3)
	dm.remove(c1.ObjectID())
	dm.UnregisterCurrentOppositeEndPoint(c1)
	assert.True(t, dm.HasDataChanged())

	dm.Commit()
	assert.False(t, dm.HasDataChanged())
	assert.Equal(t, []string{"c3", "c2"}, values(dm.OriginalCollectionData().Objects()))
	assert.Equal(t, []RelationEndPointID{c3.id}, dm.OriginalOppositeEndPointIDs())
	assert.Equal(t, []string{"c2"}, values(dm.OriginalItemsWithoutEndPoints()))
	dmPartition(t, dm)

	// Committing again changes nothing.
	snapshot := values(dm.OriginalCollectionData().Objects())
	dm.Commit()
	assert.Equal(t, snapshot, values(dm.OriginalCollectionData().Objects()))
	assert.Equal(t, []RelationEndPointID{c3.id}, dm.OriginalOppositeEndPointIDs())
	dmPartition(t, dm)
}

func TestDataManager_Rollback(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	c1, c2 := w.fakeReal("c1"), w.fakeReal("c2")
	dm.RegisterOriginalOppositeEndPoint(c1)

	dm.insert(1, c2.obj)
	dm.RegisterCurrentOppositeEndPoint(c2)
	dm.remove(c1.ObjectID())
	dm.UnregisterCurrentOppositeEndPoint(c1)

	dm.Rollback()
	assert.Equal(t, []string{"c1"}, values(dm.CollectionData().Objects()))
	assert.Equal(t, []RelationEndPointID{c1.id}, dm.CurrentOppositeEndPointIDs())
	assert.False(t, dm.HasDataChanged())
	dmPartition(t, dm)
}

func TestDataManager_ChangeDetection(t *testing.T) {
	w := newWorld(t)
	c1, c2 := w.fakeReal("c1"), w.fakeReal("c2")

	for _, tc := range []struct {
		strategy collectiondata.ChangeDetectionStrategy
		reorder  bool
	}{
		{collectiondata.SequenceChangeDetection{}, true},
		{collectiondata.SetChangeDetection{}, false},
	} {
		t.Run(tc.strategy.Name(), func(t *testing.T) {
			dm := NewDataManager(NewRelationEndPointID(orderID("p1"), w.items), tc.strategy)
			dm.RegisterOriginalOppositeEndPoint(c1)
			dm.RegisterOriginalOppositeEndPoint(c2)

			changed, known := dm.HasDataChangedFast()
			assert.True(t, known)
			assert.False(t, changed)

			dm.SortCurrentData(func(a, b *domain.Object) int {
				if a.ID().Value > b.ID().Value {
					return -1
				}
				return 1
			})
			_, known = dm.HasDataChangedFast()
			assert.False(t, known)
			assert.Equal(t, tc.reorder, dm.HasDataChanged())

			dm.remove(c1.ObjectID())
			changed, known = dm.HasDataChangedFast()
			assert.True(t, known)
			assert.True(t, changed)
		})
	}
}

func TestDataManager_SortCurrentAndOriginal(t *testing.T) {
	w, dm := newDataManagerFixture(t)
	for _, v := range []string{"c3", "c1", "c2"} {
		dm.RegisterOriginalOppositeEndPoint(w.fakeReal(v))
	}
	dm.SortCurrentAndOriginalData(func(a, b *domain.Object) int {
		switch {
		case a.ID().Value < b.ID().Value:
			return -1
		case a.ID().Value > b.ID().Value:
			return 1
		}
		return 0
	})
	assert.Equal(t, []string{"c1", "c2", "c3"}, values(dm.CollectionData().Objects()))
	assert.Equal(t, []string{"c1", "c2", "c3"}, values(dm.OriginalCollectionData().Objects()))
	assert.False(t, dm.HasDataChanged())
}

func TestDataManager_SetDataFromSubTransaction(t *testing.T) {
	w, parent := newDataManagerFixture(t)
	c1 := w.loadObject(itemID("c1"))
	c2 := w.loadObject(itemID("c2"))
	parent.RegisterOriginalOppositeEndPoint(c1)

	sub := NewDataManager(parent.EndPointID(), nil)
	sub.RegisterOriginalOppositeEndPoint(c1)
	sub.insert(0, c2.Object())
	sub.RegisterCurrentOppositeEndPoint(c2)

	parent.SetDataFromSubTransaction(sub, w)
	assert.Equal(t, []string{"c2", "c1"}, values(parent.CollectionData().Objects()))
	assert.Equal(t, []string{"c1"}, values(parent.OriginalCollectionData().Objects()))
	assert.True(t, parent.ContainsCurrentOppositeEndPoint(c2))
	assert.True(t, parent.HasDataChanged())

	orphan := w.fakeReal("c9")
	sub.insert(0, orphan.obj)
	sub.RegisterCurrentOppositeEndPoint(orphan)
	assert.Panics(t, func() { parent.SetDataFromSubTransaction(sub, w) })
}
