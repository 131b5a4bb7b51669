package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/flatten"
)

func flattenEndPoint(t *testing.T, ep *CollectionEndPoint) []byte {
	t.Helper()
	w := flatten.NewWriter()
	w.AddHandle(ep)
	data, err := w.Bytes()
	require.NoError(t, err)
	return data
}

func (w *world) services() map[string]any {
	return map[string]any{
		ServiceProvider:           w,
		ServiceLoader:             w,
		ServiceEventSink:          w.sink,
		ServiceDataManagerFactory: StrategyDataManagerFactory{Strategy: collectiondata.SetChangeDetection{}},
		ServiceMapping:            w.registry,
	}
}

func restoreEndPoint(t *testing.T, data []byte, into *world) *CollectionEndPoint {
	t.Helper()
	r, err := flatten.NewReader(data, into.services())
	require.NoError(t, err)
	RegisterFactories(r)
	ep, ok := r.GetHandle().(*CollectionEndPoint)
	require.NoError(t, r.Err())
	require.True(t, ok)
	return ep
}

// twin returns an empty world sharing w's mapping.
func (w *world) twin() *world {
	other := newWorld(w.t)
	other.registry = w.registry
	other.items, other.order = w.items, w.order
	return other
}

func TestFlatten_CompleteEndPoint(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1", "c2")
	ep := w.collection("p1")
	w.members("p1")
	run(t)(ep.CreateAddCommand(w.newItem("c3").Object()))
	w.store("p1", "c9")
	w.real("c9")
	require.Len(t, ep.UnsynchronizedOppositeEndPointIDs(), 1)

	other := w.twin()
	restored := restoreEndPoint(t, flattenEndPoint(t, ep), other)

	assert.Equal(t, ep.ID(), restored.ID())
	assert.True(t, restored.IsDataComplete())
	assert.True(t, restored.HasBeenTouched())
	assert.True(t, restored.HasChanged())
	assert.Same(t, other.obj(orderID("p1")), restored.Object())

	data, err := restored.GetData()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, values(data.Objects()))
	assert.Same(t, other.obj(itemID("c3")), data.Get(2), "objects come from the restoring provider")
	original, err := restored.GetOriginalData()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, values(original.Objects()))

	dm := restored.DataManager()
	assert.Equal(t, ep.DataManager().OriginalOppositeEndPointIDs(), dm.OriginalOppositeEndPointIDs())
	assert.Equal(t, ep.DataManager().CurrentOppositeEndPointIDs(), dm.CurrentOppositeEndPointIDs())
	assert.Equal(t, ep.UnsynchronizedOppositeEndPointIDs(), restored.UnsynchronizedOppositeEndPointIDs())
	assert.Equal(t, "sequence", dm.ChangeDetectionStrategy().Name())
}

func TestFlatten_IncompleteEndPoint(t *testing.T) {
	w := newWorld(t)
	w.store("p1", "c1", "c2")
	ep := w.collection("p1")
	w.real("c1")

	other := w.twin()
	other.store("p1", "c1", "c2")
	restored := restoreEndPoint(t, flattenEndPoint(t, ep), other)
	assert.False(t, restored.IsDataComplete())
	assert.Equal(t, 0, other.loads)

	state := restored.state.(*incompleteLoadState)
	assert.Equal(t, map[domain.ObjectID]RelationEndPointID{itemID("c1"): w.real("c1").ID()}, state.originalOppositeEndPoints)
}

func TestFlatten_MissingService(t *testing.T) {
	w := newWorld(t)
	ep := w.collection("p1")

	r, err := flatten.NewReader(flattenEndPoint(t, ep), map[string]any{ServiceMapping: w.registry})
	require.NoError(t, err)
	RegisterFactories(r)
	assert.Nil(t, r.GetHandle())
	assert.ErrorIs(t, r.Err(), flatten.ErrUnknownService)
}
