package endpoints

import (
	"fmt"
	"sort"

	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/flatten"
	"github.com/orneryd/norm/pkg/mapping"
)

// Service names used when flattening end-points. A flatten.Reader restoring
// them must provide each of these services.
const (
	ServiceProvider           = "endpoint-provider"    // Provider
	ServiceLoader             = "endpoint-loader"      // Loader
	ServiceEventSink          = "endpoint-event-sink"  // EventSink
	ServiceDataManagerFactory = "data-manager-factory" // DataManagerFactory
	ServiceMapping            = "mapping"              // *mapping.Registry
)

const (
	kindCollectionEndPoint = "collection-end-point"
	kindIncompleteState    = "incomplete-collection-load-state"
	kindCompleteState      = "complete-collection-load-state"
	kindDataManager        = "collection-data-manager"
)

// RegisterFactories installs the factories restoring flattened end-points.
func RegisterFactories(r *flatten.Reader) {
	r.Register(kindCollectionEndPoint, restoreCollectionEndPoint)
	r.Register(kindIncompleteState, restoreIncompleteState)
	r.Register(kindCompleteState, restoreCompleteState)
	r.Register(kindDataManager, restoreDataManager)
}

func writeEndPointID(w *flatten.Writer, id RelationEndPointID) {
	w.AddObjectID(id.ObjectID)
	w.AddString(id.Definition.ClassID)
	w.AddString(id.Definition.PropertyName)
}

func readEndPointID(r *flatten.Reader) RelationEndPointID {
	objID := r.GetObjectID()
	class, property := r.GetString(), r.GetString()
	if r.Err() != nil {
		return RelationEndPointID{}
	}
	registry, ok := service[*mapping.Registry](r, ServiceMapping)
	if !ok {
		return RelationEndPointID{}
	}
	def, err := registry.EndPoint(class, property)
	if err != nil {
		r.Fail(err)
		return RelationEndPointID{}
	}
	return NewRelationEndPointID(objID, def)
}

func writeEndPointIDs(w *flatten.Writer, set map[domain.ObjectID]RelationEndPointID) {
	ids := make([]RelationEndPointID, 0, len(set))
	for _, id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	w.AddInt(int64(len(ids)))
	for _, id := range ids {
		writeEndPointID(w, id)
	}
}

func readEndPointIDs(r *flatten.Reader) map[domain.ObjectID]RelationEndPointID {
	n := int(r.GetInt())
	set := make(map[domain.ObjectID]RelationEndPointID, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		id := readEndPointID(r)
		set[id.ObjectID] = id
	}
	return set
}

func writeObjects(w *flatten.Writer, objs []*domain.Object) {
	w.AddInt(int64(len(objs)))
	for _, o := range objs {
		w.AddObjectID(o.ID())
	}
}

func readObjects(r *flatten.Reader, provider Provider) []*domain.Object {
	n := int(r.GetInt())
	objs := make([]*domain.Object, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		objs = append(objs, provider.GetObjectReference(r.GetObjectID()))
	}
	return objs
}

// service looks up a typed service, recording a failure if it is missing.
func service[T any](r *flatten.Reader, name string) (T, bool) {
	var zero T
	s, ok := r.Service(name)
	if !ok {
		r.Fail(fmt.Errorf("%w: %s", flatten.ErrUnknownService, name))
		return zero, false
	}
	t, ok := s.(T)
	if !ok {
		r.Fail(fmt.Errorf("flatten: service %s has type %T", name, s))
		return zero, false
	}
	return t, true
}

// CollectionEndPoint

func (ep *CollectionEndPoint) FlattenKind() string { return kindCollectionEndPoint }

func (ep *CollectionEndPoint) Flatten(w *flatten.Writer) {
	writeEndPointID(w, ep.id)
	w.AddService(ServiceProvider)
	w.AddService(ServiceLoader)
	w.AddService(ServiceEventSink)
	w.AddService(ServiceDataManagerFactory)
	w.AddBool(ep.touched)
	w.AddHandle(ep.state)
}

func restoreCollectionEndPoint(r *flatten.Reader) (any, error) {
	id := readEndPointID(r)
	provider, _ := r.GetHandle().(Provider)
	loader, _ := r.GetHandle().(Loader)
	sink, _ := r.GetHandle().(EventSink)
	factory, _ := r.GetHandle().(DataManagerFactory)
	touched := r.GetBool()
	state, _ := r.GetHandle().(loadState)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if provider == nil || loader == nil || sink == nil || factory == nil || state == nil {
		return nil, fmt.Errorf("collection end-point %s: missing service or state", id)
	}
	return &CollectionEndPoint{
		id:                 id,
		owner:              provider.GetObjectReference(id.ObjectID),
		provider:           provider,
		loader:             loader,
		sink:               sink,
		dataManagerFactory: factory,
		state:              state,
		touched:            touched,
	}, nil
}

// load states

func (s *incompleteLoadState) FlattenKind() string { return kindIncompleteState }

func (s *incompleteLoadState) Flatten(w *flatten.Writer) {
	writeEndPointIDs(w, s.originalOppositeEndPoints)
}

func restoreIncompleteState(r *flatten.Reader) (any, error) {
	s := &incompleteLoadState{originalOppositeEndPoints: readEndPointIDs(r)}
	return s, r.Err()
}

func (s *completeLoadState) FlattenKind() string { return kindCompleteState }

func (s *completeLoadState) Flatten(w *flatten.Writer) {
	w.AddHandle(s.dm)
	writeEndPointIDs(w, s.unsynchronizedOppositeEndPoints)
}

func restoreCompleteState(r *flatten.Reader) (any, error) {
	dm, _ := r.GetHandle().(*DataManager)
	unsynchronized := readEndPointIDs(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	if dm == nil {
		return nil, fmt.Errorf("complete load state without data manager")
	}
	return &completeLoadState{dm: dm, unsynchronizedOppositeEndPoints: unsynchronized}, nil
}

// DataManager

func (m *DataManager) FlattenKind() string { return kindDataManager }

func (m *DataManager) Flatten(w *flatten.Writer) {
	writeEndPointID(w, m.endPointID)
	w.AddString(m.strategy.Name())
	writeObjects(w, m.data.Objects())
	writeObjects(w, m.data.OriginalData().Objects())
	writeEndPointIDs(w, m.originalOppositeEndPoints)
	writeObjects(w, m.OriginalItemsWithoutEndPoints())
	writeEndPointIDs(w, m.currentOppositeEndPoints)
}

func restoreDataManager(r *flatten.Reader) (any, error) {
	id := readEndPointID(r)
	strategyName := r.GetString()
	provider, ok := service[Provider](r, ServiceProvider)
	if !ok {
		return nil, r.Err()
	}
	current := readObjects(r, provider)
	original := readObjects(r, provider)
	originalOpposite := readEndPointIDs(r)
	withoutEndPoint := readObjects(r, provider)
	currentOpposite := readEndPointIDs(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	strategy, err := collectiondata.StrategyByName(strategyName)
	if err != nil {
		return nil, err
	}

	m := &DataManager{
		endPointID:                   id,
		data:                         collectiondata.RestoreChangeCachingData(current, original),
		strategy:                     strategy,
		originalOppositeEndPoints:    originalOpposite,
		originalItemsWithoutEndPoint: make(map[domain.ObjectID]*domain.Object, len(withoutEndPoint)),
		currentOppositeEndPoints:     currentOpposite,
	}
	for _, o := range withoutEndPoint {
		m.originalItemsWithoutEndPoint[o.ID()] = o
	}
	return m, nil
}
