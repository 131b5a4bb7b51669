package endpoints

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
)

// world is an in-memory provider and loader over a fake store of
// OrderItem.Order foreign keys.
type world struct {
	t        *testing.T
	registry *mapping.Registry
	items    *mapping.EndPointDefinition // Order.Items
	order    *mapping.EndPointDefinition // OrderItem.Order

	stored      map[domain.ObjectID]domain.ObjectID
	objects     map[domain.ObjectID]*domain.Object
	containers  map[domain.ObjectID]*domain.DataContainer
	reals       map[RelationEndPointID]*RealObjectEndPoint
	collections map[RelationEndPointID]*CollectionEndPoint

	sink    *recordingSink
	loads   int
	loadErr error
}

func newWorld(t *testing.T) *world {
	t.Helper()
	registry := mapping.NewRegistry()
	_, err := registry.AddOneToMany("OrderToItems", "Order", "Items", "OrderItem", "Order", "")
	require.NoError(t, err)
	return &world{
		t:           t,
		registry:    registry,
		items:       registry.MustEndPoint("Order", "Items"),
		order:       registry.MustEndPoint("OrderItem", "Order"),
		stored:      make(map[domain.ObjectID]domain.ObjectID),
		objects:     make(map[domain.ObjectID]*domain.Object),
		containers:  make(map[domain.ObjectID]*domain.DataContainer),
		reals:       make(map[RelationEndPointID]*RealObjectEndPoint),
		collections: make(map[RelationEndPointID]*CollectionEndPoint),
		sink:        &recordingSink{},
	}
}

func orderID(v string) domain.ObjectID { return domain.NewObjectID("Order", v) }
func itemID(v string) domain.ObjectID  { return domain.NewObjectID("OrderItem", v) }

// store records committed items of an order.
func (w *world) store(order string, items ...string) {
	for _, i := range items {
		w.stored[itemID(i)] = orderID(order)
	}
}

func (w *world) GetObjectReference(id domain.ObjectID) *domain.Object {
	if o, ok := w.objects[id]; ok {
		return o
	}
	o := domain.NewObject(id, "root")
	w.objects[id] = o
	return o
}

func (w *world) GetOrCreateVirtualEndPoint(id RelationEndPointID) *CollectionEndPoint {
	if ep, ok := w.collections[id]; ok {
		return ep
	}
	ep := NewCollectionEndPoint(id, w.GetObjectReference(id.ObjectID), Dependencies{
		Provider: w,
		Loader:   w,
		Sink:     w.sink,
	})
	w.collections[id] = ep
	return ep
}

func (w *world) GetRealEndPointWithoutLoading(id RelationEndPointID) RealEndPoint {
	if ep, ok := w.reals[id]; ok {
		return ep
	}
	return nil
}

func (w *world) GetRealEndPointWithLazyLoad(id RelationEndPointID) (RealEndPoint, error) {
	if _, ok := w.reals[id]; !ok {
		w.loadObject(id.ObjectID)
	}
	return w.reals[id], nil
}

// loadObject loads an item with the foreign key found in the store.
func (w *world) loadObject(id domain.ObjectID) *RealObjectEndPoint {
	epID := NewRelationEndPointID(id, w.order)
	if ep, ok := w.reals[epID]; ok {
		return ep
	}
	fields := map[string]any{}
	if fk, ok := w.stored[id]; ok {
		fields["Order"] = fk
	}
	dc := domain.NewDataContainer(id, domain.StateUnchanged, fields, 1)
	return w.register(dc)
}

// newItem creates an item that does not exist in the store.
func (w *world) newItem(v string) *RealObjectEndPoint {
	return w.register(domain.NewDataContainer(itemID(v), domain.StateNew, nil, 0))
}

func (w *world) register(dc *domain.DataContainer) *RealObjectEndPoint {
	id := dc.ID()
	epID := NewRelationEndPointID(id, w.order)
	w.containers[id] = dc
	ep := NewRealObjectEndPoint(epID, w.GetObjectReference(id), dc, w, w.sink)
	w.reals[epID] = ep
	if fk := ep.OriginalOppositeObjectID(); !fk.IsZero() {
		w.GetOrCreateVirtualEndPoint(epID.OppositeID(fk)).RegisterOriginalOppositeEndPoint(ep)
	}
	return ep
}

func (w *world) LoadEndPoint(ep *CollectionEndPoint) error {
	if ep.IsDataComplete() {
		return nil
	}
	w.loads++
	if w.loadErr != nil {
		return w.loadErr
	}
	var ids []domain.ObjectID
	for item, owner := range w.stored {
		if owner == ep.ObjectID() {
			ids = append(ids, item)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Value < ids[j].Value })
	objs := make([]*domain.Object, len(ids))
	for i, id := range ids {
		w.loadObject(id)
		objs[i] = w.GetObjectReference(id)
	}
	ep.MarkDataComplete(objs)
	return nil
}

func (w *world) collection(order string) *CollectionEndPoint {
	return w.GetOrCreateVirtualEndPoint(NewRelationEndPointID(orderID(order), w.items))
}

func (w *world) real(item string) *RealObjectEndPoint {
	ep, err := w.GetRealEndPointWithLazyLoad(NewRelationEndPointID(itemID(item), w.order))
	require.NoError(w.t, err)
	return ep.(*RealObjectEndPoint)
}

func (w *world) obj(id domain.ObjectID) *domain.Object { return w.GetObjectReference(id) }

// members returns the values of the current members of order's collection.
func (w *world) members(order string) []string {
	data, err := w.collection(order).GetData()
	require.NoError(w.t, err)
	return values(data.Objects())
}

func (w *world) originalMembers(order string) []string {
	data, err := w.collection(order).GetOriginalData()
	require.NoError(w.t, err)
	return values(data.Objects())
}

// run returns a function that expands and executes a created command:
//
//	run(t)(ep.CreateRemoveCommand(obj))
func run(t *testing.T) func(Command, error) {
	return func(cmd Command, err error) {
		t.Helper()
		require.NoError(t, err)
		expanded, err := cmd.Expand()
		require.NoError(t, err)
		require.NoError(t, expanded.NotifyAndPerform())
	}
}

func values(objs []*domain.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.ID().Value)
	}
	return out
}

// recordingSink records events as readable strings.
type recordingSink struct {
	events []string
	veto   error
}

func (s *recordingSink) describe(prefix string, c RelationChange) string {
	return fmt.Sprintf("%s %s %s %s->%s", prefix, c.EndPointID, c.Kind, c.OldRelated.ID().Value, c.NewRelated.ID().Value)
}

func (s *recordingSink) RelationChanging(c RelationChange) error {
	s.events = append(s.events, s.describe("changing", c))
	return s.veto
}

func (s *recordingSink) RelationChanged(c RelationChange) {
	s.events = append(s.events, s.describe("changed", c))
}

func (s *recordingSink) DataReplaced(id RelationEndPointID) {
	s.events = append(s.events, "replaced "+id.String())
}

func (s *recordingSink) LoadStateChanged(id RelationEndPointID, complete bool) {
	s.events = append(s.events, fmt.Sprintf("loaded=%v %s", complete, id))
}

func (s *recordingSink) reset() { s.events = nil }

var errVeto = errors.New("vetoed")

// assertPartition checks the original data partition of a complete
// end-point.
func assertPartition(t *testing.T, ep *CollectionEndPoint) {
	t.Helper()
	dm := ep.DataManager()
	require.NotNil(t, dm)
	original := dm.OriginalCollectionData()
	require.Equal(t, original.Count(), len(dm.originalOppositeEndPoints)+len(dm.originalItemsWithoutEndPoint))
	for id := range dm.originalOppositeEndPoints {
		require.True(t, original.Contains(id))
		_, both := dm.originalItemsWithoutEndPoint[id]
		require.False(t, both, "%s is in both sets", id)
	}
	for id := range dm.originalItemsWithoutEndPoint {
		require.True(t, original.Contains(id))
	}
}
