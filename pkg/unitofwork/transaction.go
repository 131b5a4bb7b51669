// Package unitofwork provides transactions over a storage engine.
//
// A Transaction is the single owner of the relation end-points, data
// containers and object handles it loads. Objects are loaded lazily: reading
// a value loads the object, reading a collection loads its members. Changes
// are kept in memory until Commit writes them as one storage batch.
//
// A sub-transaction works on a copy of its parent's data. Committing it
// pushes the changes into the parent; the parent itself is read-only until
// the sub-transaction is discarded.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	registry, _ := mapping.LoadYAML("mapping.yaml")
//
//	tx := unitofwork.New(engine, registry, unitofwork.WithLogger(logger))
//	order, _ := tx.NewObject("Order")
//	item, _ := tx.NewObject("OrderItem")
//
//	items, _ := tx.Collection(order, "Items")
//	if err := items.Add(item); err != nil {
//		return err
//	}
//	owner, _ := tx.GetRelated(item, "Order") // order
//
//	if err := tx.Commit(); err != nil {
//		return err
//	}
//
// A Transaction is not safe for concurrent use.
package unitofwork

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/collection"
	"github.com/orneryd/norm/pkg/collectiondata"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/endpoints"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/storage"
)

// Errors returned by transactions.
var (
	ErrReadOnly         = errors.New("unitofwork: transaction is read-only while a sub-transaction is active")
	ErrDiscarded        = errors.New("unitofwork: transaction has been discarded")
	ErrUnknownClass     = errors.New("unitofwork: unknown class")
	ErrRelationProperty = errors.New("unitofwork: property is a relation end-point")
	ErrNotCollection    = errors.New("unitofwork: property is not a collection end-point")
	ErrNotReference     = errors.New("unitofwork: property is not a foreign key")
	ErrNotEnlisted      = errors.New("unitofwork: object belongs to a different transaction")
)

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger sets the logger. The default logs nothing.
func WithLogger(logger *zap.Logger) Option {
	return func(tx *Transaction) {
		if logger != nil {
			tx.logger = logger
		}
	}
}

// WithMetrics records loads, changes and commits in m.
func WithMetrics(m *Metrics) Option {
	return func(tx *Transaction) { tx.metrics = m }
}

// WithEventSink adds a sink observing the relation changes of the
// transaction and its sub-transactions. A sink may veto a change.
func WithEventSink(sink endpoints.EventSink) Option {
	return func(tx *Transaction) { tx.userSinks = append(tx.userSinks, sink) }
}

// WithChangeDetection selects how collections decide whether they changed.
// The default compares the member sequence.
func WithChangeDetection(strategy collectiondata.ChangeDetectionStrategy) Option {
	return func(tx *Transaction) {
		tx.factory = endpoints.StrategyDataManagerFactory{Strategy: strategy}
	}
}

// dataSource reads the committed state a transaction starts from.
type dataSource interface {
	// loadContainer returns a new container for id.
	loadContainer(id domain.ObjectID) (*domain.DataContainer, error)
	// loadMembers returns the ids of the members of a collection in order.
	loadMembers(id endpoints.RelationEndPointID) ([]domain.ObjectID, error)
}

// Transaction is a unit of work. See the package documentation.
type Transaction struct {
	id      string
	parent  *Transaction
	root    *Transaction
	sub     *Transaction
	mapping *mapping.Registry
	engine  storage.Engine
	source  dataSource

	logger     *zap.Logger
	baseLogger *zap.Logger
	metrics    *Metrics
	userSinks  []endpoints.EventSink
	sink       endpoints.EventSink
	factory    endpoints.DataManagerFactory

	// objects is shared by a root transaction and all its sub-transactions,
	// so an object has one handle in the whole hierarchy.
	objects     map[domain.ObjectID]*domain.Object
	containers  map[domain.ObjectID]*domain.DataContainer
	reals       map[endpoints.RelationEndPointID]*endpoints.RealObjectEndPoint
	collections map[endpoints.RelationEndPointID]*endpoints.CollectionEndPoint

	discarded bool
}

// New creates a root transaction reading from and committing to engine.
func New(engine storage.Engine, registry *mapping.Registry, opts ...Option) *Transaction {
	tx := newTransaction(uuid.NewString(), registry)
	tx.root = tx
	tx.engine = engine
	tx.objects = make(map[domain.ObjectID]*domain.Object)
	for _, opt := range opts {
		opt(tx)
	}
	tx.source = &storageSource{tx: tx, engine: engine}
	tx.init()
	return tx
}

func newTransaction(id string, registry *mapping.Registry) *Transaction {
	return &Transaction{
		id:          id,
		mapping:     registry,
		logger:      zap.NewNop(),
		factory:     endpoints.StrategyDataManagerFactory{Strategy: collectiondata.SequenceChangeDetection{}},
		containers:  make(map[domain.ObjectID]*domain.DataContainer),
		reals:       make(map[endpoints.RelationEndPointID]*endpoints.RealObjectEndPoint),
		collections: make(map[endpoints.RelationEndPointID]*endpoints.CollectionEndPoint),
	}
}

// init builds the event sink chain once the options are applied.
func (tx *Transaction) init() {
	tx.baseLogger = tx.logger
	tx.logger = tx.logger.With(zap.String("tx", tx.id))
	sinks := eventSinks{writeGuard{tx: tx}}
	sinks = append(sinks, tx.userSinks...)
	sinks = append(sinks, logSink{logger: tx.logger}, metricsSink{metrics: tx.metrics})
	tx.sink = sinks
}

// ID returns the unique id of the transaction.
func (tx *Transaction) ID() string { return tx.id }

// Parent returns the parent of a sub-transaction, or nil.
func (tx *Transaction) Parent() *Transaction { return tx.parent }

// Mapping returns the relation definitions the transaction works with.
func (tx *Transaction) Mapping() *mapping.Registry { return tx.mapping }

// IsReadOnly reports whether a sub-transaction is active.
func (tx *Transaction) IsReadOnly() bool { return tx.sub != nil }

// CheckWritable returns ErrDiscarded or ErrReadOnly if the transaction
// cannot be changed.
func (tx *Transaction) CheckWritable() error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if tx.sub != nil {
		return ErrReadOnly
	}
	return nil
}

func (tx *Transaction) checkOpen() error {
	if tx.discarded {
		return ErrDiscarded
	}
	return nil
}

// endpoints.Provider

// GetObjectReference returns the handle of id without loading the object.
func (tx *Transaction) GetObjectReference(id domain.ObjectID) *domain.Object {
	if o, ok := tx.objects[id]; ok {
		return o
	}
	o := domain.NewObject(id, tx.root.id)
	tx.objects[id] = o
	return o
}

func (tx *Transaction) GetOrCreateVirtualEndPoint(id endpoints.RelationEndPointID) *endpoints.CollectionEndPoint {
	if ep, ok := tx.collections[id]; ok {
		return ep
	}
	ep := endpoints.NewCollectionEndPoint(id, tx.GetObjectReference(id.ObjectID), endpoints.Dependencies{
		Provider:           tx,
		Loader:             endPointLoader{tx: tx},
		Sink:               tx.sink,
		DataManagerFactory: tx.factory,
	})
	tx.collections[id] = ep
	return ep
}

func (tx *Transaction) GetRealEndPointWithoutLoading(id endpoints.RelationEndPointID) endpoints.RealEndPoint {
	if ep, ok := tx.reals[id]; ok {
		return ep
	}
	return nil
}

func (tx *Transaction) GetRealEndPointWithLazyLoad(id endpoints.RelationEndPointID) (endpoints.RealEndPoint, error) {
	ep, err := tx.realEndPoint(id)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (tx *Transaction) realEndPoint(id endpoints.RelationEndPointID) (*endpoints.RealObjectEndPoint, error) {
	if ep, ok := tx.reals[id]; ok {
		return ep, nil
	}
	if _, err := tx.GetDataContainerWithLazyLoad(id.ObjectID); err != nil {
		return nil, err
	}
	ep, ok := tx.reals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotReference, id)
	}
	return ep, nil
}

// GetDataContainerWithLazyLoad returns the data container of id, loading
// the object on first use.
func (tx *Transaction) GetDataContainerWithLazyLoad(id domain.ObjectID) (*domain.DataContainer, error) {
	if dc, ok := tx.containers[id]; ok {
		return dc, nil
	}
	if !tx.mapping.HasClass(id.ClassID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, id.ClassID)
	}
	start := time.Now()
	dc, err := tx.source.loadContainer(id)
	tx.metrics.loaded(loadObject, start, err)
	if err != nil {
		return nil, err
	}
	tx.enlist(dc)
	tx.logger.Debug("object loaded",
		zap.Stringer("id", id),
		zap.Uint64("version", dc.Version()),
		zap.Stringer("state", dc.State()))
	return dc, nil
}

// enlist registers dc and creates the real end-points of its object. A
// loaded foreign key is announced to the collection it points at.
func (tx *Transaction) enlist(dc *domain.DataContainer) {
	id := dc.ID()
	tx.containers[id] = dc
	obj := tx.GetObjectReference(id)
	for _, def := range tx.mapping.EndPointsOf(id.ClassID) {
		if def.Virtual {
			continue
		}
		epID := endpoints.NewRelationEndPointID(id, def)
		ep := endpoints.NewRealObjectEndPoint(epID, obj, dc, tx, tx.sink)
		tx.reals[epID] = ep
		if dc.State() == domain.StateNew || dc.IsDeleted() {
			continue
		}
		if fk := ep.OriginalOppositeObjectID(); !fk.IsZero() {
			tx.GetOrCreateVirtualEndPoint(epID.OppositeID(fk)).RegisterOriginalOppositeEndPoint(ep)
		}
	}
}

// enlistNew registers a new object with empty, complete collections.
func (tx *Transaction) enlistNew(id domain.ObjectID) *domain.DataContainer {
	dc := domain.NewDataContainer(id, domain.StateNew, nil, 0)
	tx.enlist(dc)
	for _, def := range tx.mapping.EndPointsOf(id.ClassID) {
		if def.IsCollection() {
			tx.GetOrCreateVirtualEndPoint(endpoints.NewRelationEndPointID(id, def)).MarkDataComplete(nil)
		}
	}
	return dc
}

// collection.Scope

// IsEnlisted reports whether obj is the handle this transaction hierarchy
// uses for its id.
func (tx *Transaction) IsEnlisted(obj *domain.Object) bool {
	if obj == nil || obj.RootTransactionID() != tx.root.id {
		return false
	}
	return tx.objects[obj.ID()] == obj
}

// IsDeleted reports whether obj is deleted or invalid here. Objects that
// cannot be loaded are reported as not deleted; using them fails later with
// the load error.
func (tx *Transaction) IsDeleted(obj *domain.Object) bool {
	dc, err := tx.GetDataContainerWithLazyLoad(obj.ID())
	return err == nil && dc.IsDeleted()
}

// object API

// NewObject creates an object of class with a random id.
func (tx *Transaction) NewObject(class string) (*domain.Object, error) {
	if err := tx.CheckWritable(); err != nil {
		return nil, err
	}
	if !tx.mapping.HasClass(class) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	id := domain.NewRandomObjectID(class)
	tx.enlistNew(id)
	tx.logger.Debug("object created", zap.Stringer("id", id))
	return tx.GetObjectReference(id), nil
}

// GetObject loads the object with id.
func (tx *Transaction) GetObject(id domain.ObjectID) (*domain.Object, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	dc, err := tx.GetDataContainerWithLazyLoad(id)
	if err != nil {
		return nil, err
	}
	if dc.IsDeleted() {
		return nil, &domain.ObjectDeletedError{ID: id}
	}
	return tx.GetObjectReference(id), nil
}

// State returns the life-cycle state of obj in this transaction.
func (tx *Transaction) State(obj *domain.Object) (domain.State, error) {
	dc, err := tx.container(obj)
	if err != nil {
		return domain.StateInvalid, err
	}
	return dc.State(), nil
}

// container loads the data container of an enlisted object.
func (tx *Transaction) container(obj *domain.Object) (*domain.DataContainer, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if !tx.IsEnlisted(obj) {
		return nil, fmt.Errorf("%w: %s", ErrNotEnlisted, obj.ID())
	}
	return tx.GetDataContainerWithLazyLoad(obj.ID())
}

// liveContainer is container for objects that are not deleted.
func (tx *Transaction) liveContainer(obj *domain.Object) (*domain.DataContainer, error) {
	dc, err := tx.container(obj)
	if err != nil {
		return nil, err
	}
	if dc.IsDeleted() {
		return nil, &domain.ObjectDeletedError{ID: obj.ID()}
	}
	return dc, nil
}

// GetValue reads a plain property of obj.
func (tx *Transaction) GetValue(obj *domain.Object, property string) (any, error) {
	dc, err := tx.liveContainer(obj)
	if err != nil {
		return nil, err
	}
	if err := tx.checkPlainProperty(obj, property); err != nil {
		return nil, err
	}
	return dc.GetValue(property), nil
}

// SetValue writes a plain property of obj. Relation properties are changed
// through Collection and SetRelated.
func (tx *Transaction) SetValue(obj *domain.Object, property string, value any) error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	dc, err := tx.liveContainer(obj)
	if err != nil {
		return err
	}
	if err := tx.checkPlainProperty(obj, property); err != nil {
		return err
	}
	dc.SetValue(property, value)
	return nil
}

func (tx *Transaction) checkPlainProperty(obj *domain.Object, property string) error {
	if _, err := tx.mapping.EndPoint(obj.ID().ClassID, property); err == nil {
		return fmt.Errorf("%w: %s.%s", ErrRelationProperty, obj.ID().ClassID, property)
	}
	return nil
}

// endPointID resolves the end-point of obj named property.
func (tx *Transaction) endPointID(obj *domain.Object, property string) (endpoints.RelationEndPointID, error) {
	def, err := tx.mapping.EndPoint(obj.ID().ClassID, property)
	if err != nil {
		return endpoints.RelationEndPointID{}, err
	}
	return endpoints.NewRelationEndPointID(obj.ID(), def), nil
}

// Collection returns the collection property of obj.
func (tx *Transaction) Collection(obj *domain.Object, property string) (*collection.Proxy, error) {
	if _, err := tx.container(obj); err != nil {
		return nil, err
	}
	id, err := tx.endPointID(obj, property)
	if err != nil {
		return nil, err
	}
	if !id.Definition.IsCollection() {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, id)
	}
	return collection.NewProxy(id, tx, tx), nil
}

// referenceEndPoint returns the real end-point of obj named property.
func (tx *Transaction) referenceEndPoint(obj *domain.Object, property string) (*endpoints.RealObjectEndPoint, error) {
	id, err := tx.endPointID(obj, property)
	if err != nil {
		return nil, err
	}
	if id.Definition.Virtual {
		return nil, fmt.Errorf("%w: %s", ErrNotReference, id)
	}
	return tx.realEndPoint(id)
}

// GetRelated returns the object the foreign key property of obj points at,
// or nil.
func (tx *Transaction) GetRelated(obj *domain.Object, property string) (*domain.Object, error) {
	if _, err := tx.container(obj); err != nil {
		return nil, err
	}
	ep, err := tx.referenceEndPoint(obj, property)
	if err != nil {
		return nil, err
	}
	related := ep.OppositeObjectID()
	if related.IsZero() {
		return nil, nil
	}
	return tx.GetObjectReference(related), nil
}

// SetRelated points the foreign key property of obj at target, which may
// be nil. The collections of the old and the new target follow the change.
func (tx *Transaction) SetRelated(obj *domain.Object, property string, target *domain.Object) error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	if _, err := tx.liveContainer(obj); err != nil {
		return err
	}
	if target != nil {
		if _, err := tx.liveContainer(target); err != nil {
			return err
		}
	}
	ep, err := tx.referenceEndPoint(obj, property)
	if err != nil {
		return err
	}
	cmd, err := ep.CreateSetCommand(target)
	if err != nil {
		return tx.relationError(err)
	}
	return tx.perform(cmd)
}

// Delete deletes obj. Its collections are emptied, which clears the foreign
// keys of their members, and its own foreign keys are cleared.
func (tx *Transaction) Delete(obj *domain.Object) error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	dc, err := tx.liveContainer(obj)
	if err != nil {
		return err
	}

	combined := endpoints.NewCompositeCommand()
	for _, def := range tx.mapping.EndPointsOf(obj.ID().ClassID) {
		id := endpoints.NewRelationEndPointID(obj.ID(), def)
		var cmd endpoints.Command
		switch {
		case def.IsCollection():
			cmd, err = tx.GetOrCreateVirtualEndPoint(id).CreateDeleteCommand()
		case !def.Virtual:
			cmd, err = tx.reals[id].CreateSetCommand(nil)
		default:
			continue
		}
		if err != nil {
			return tx.relationError(err)
		}
		expanded, err := cmd.Expand()
		if err != nil {
			return tx.relationError(err)
		}
		combined = combined.CombineWith(expanded.Commands()...)
	}
	if err := combined.NotifyAndPerform(); err != nil {
		return err
	}
	dc.Delete()
	tx.logger.Debug("object deleted", zap.Stringer("id", obj.ID()))
	return nil
}

func (tx *Transaction) perform(cmd endpoints.Command) error {
	expanded, err := cmd.Expand()
	if err != nil {
		return tx.relationError(err)
	}
	return expanded.NotifyAndPerform()
}

// relationError records sync errors.
func (tx *Transaction) relationError(err error) error {
	if errors.Is(err, endpoints.ErrOutOfSync) {
		tx.metrics.syncError()
		tx.logger.Warn("relation end-point out of sync", zap.Error(err))
	}
	return err
}

// Synchronize repairs the relation property of obj. For a collection, items
// loaded without a matching foreign key are dropped; for a foreign key, the
// object is added to the collection it points at.
func (tx *Transaction) Synchronize(obj *domain.Object, property string) error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	if _, err := tx.container(obj); err != nil {
		return err
	}
	id, err := tx.endPointID(obj, property)
	if err != nil {
		return err
	}
	if err := tx.synchronizeAncestors(id); err != nil {
		return err
	}
	if id.Definition.IsCollection() {
		err = tx.GetOrCreateVirtualEndPoint(id).Synchronize()
	} else {
		var ep *endpoints.RealObjectEndPoint
		if ep, err = tx.realEndPoint(id); err == nil {
			err = ep.Synchronize()
		}
	}
	if err == nil {
		tx.logger.Info("relation end-point synchronized", zap.Stringer("end_point", id))
	}
	return err
}

// synchronizeAncestors repairs id in every enclosing transaction that has it
// loaded out of sync, root first.
func (tx *Transaction) synchronizeAncestors(id endpoints.RelationEndPointID) error {
	var chain []*Transaction
	for p := tx.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if err := chain[i].synchronizeLoaded(id); err != nil {
			return err
		}
	}
	return nil
}

// synchronizeLoaded repairs id if it is loaded here and known to be out of
// sync. Nothing is loaded.
func (tx *Transaction) synchronizeLoaded(id endpoints.RelationEndPointID) error {
	if id.Definition.IsCollection() {
		ep, ok := tx.collections[id]
		if !ok {
			return nil
		}
		if synchronized, known := ep.IsSynchronized(); !known || synchronized {
			return nil
		}
		return ep.Synchronize()
	}
	ep, ok := tx.reals[id]
	if !ok || ep.SyncState() != endpoints.SyncUnsynchronized {
		return nil
	}
	return ep.Synchronize()
}

// IsSynchronized reports whether the relation property of obj agrees with
// its opposite side, loading what is needed to tell.
func (tx *Transaction) IsSynchronized(obj *domain.Object, property string) (bool, error) {
	if _, err := tx.container(obj); err != nil {
		return false, err
	}
	id, err := tx.endPointID(obj, property)
	if err != nil {
		return false, err
	}
	if !id.Definition.IsCollection() {
		ep, err := tx.realEndPoint(id)
		if err != nil {
			return false, err
		}
		return ep.IsSynchronized()
	}
	ep := tx.GetOrCreateVirtualEndPoint(id)
	if err := ep.EnsureDataComplete(); err != nil {
		return false, err
	}
	synchronized, _ := ep.IsSynchronized()
	return synchronized, nil
}

// Unload discards the loaded members of a collection property of obj. It
// fails if the collection has changed.
func (tx *Transaction) Unload(obj *domain.Object, property string) error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	id, err := tx.endPointID(obj, property)
	if err != nil {
		return err
	}
	if !id.Definition.IsCollection() {
		return fmt.Errorf("%w: %s", ErrNotCollection, id)
	}
	ep, ok := tx.collections[id]
	if !ok {
		return nil
	}
	return ep.MarkDataIncomplete()
}

// sub-transactions

// CreateSubTransaction starts a sub-transaction. This transaction is
// read-only until the sub-transaction is discarded.
func (tx *Transaction) CreateSubTransaction() (*Transaction, error) {
	if err := tx.CheckWritable(); err != nil {
		return nil, err
	}
	sub := newTransaction(uuid.NewString(), tx.mapping)
	sub.parent = tx
	sub.root = tx.root
	sub.objects = tx.objects
	sub.logger = tx.baseLogger
	sub.metrics = tx.metrics
	sub.userSinks = tx.userSinks
	sub.factory = tx.factory
	sub.source = parentSource{parent: tx}
	sub.init()
	tx.sub = sub
	tx.logger.Debug("sub-transaction created", zap.String("sub", sub.id))
	return sub, nil
}

// Discard ends the transaction and any active sub-transaction. A discarded
// sub-transaction makes its parent writable again.
func (tx *Transaction) Discard() {
	if tx.discarded {
		return
	}
	if tx.sub != nil {
		tx.sub.Discard()
	}
	tx.discarded = true
	if tx.parent != nil {
		tx.parent.sub = nil
	}
	tx.logger.Debug("transaction discarded")
}

// commit and rollback

// Commit makes the changes permanent. A root transaction writes them to
// storage in one batch and fails with storage.ErrVersionConflict if another
// writer changed an affected object first; nothing is written then and the
// transaction keeps its changes. A sub-transaction pushes its changes into
// its parent.
func (tx *Transaction) Commit() error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	if tx.parent != nil {
		tx.commitToParent()
		return nil
	}
	return tx.commitToStorage()
}

func (tx *Transaction) commitToStorage() error {
	plan := tx.planCommit()
	if plan.batch.Len() > 0 {
		if err := tx.engine.Apply(plan.batch); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				tx.metrics.committed(commitConflict)
			} else {
				tx.metrics.committed(commitError)
			}
			tx.logger.Warn("commit failed", zap.Error(err))
			return fmt.Errorf("commit transaction %s: %w", tx.id, err)
		}
	}
	for id, dc := range tx.containers {
		dc.Commit(plan.versions[id])
	}
	tx.commitEndPoints()
	tx.metrics.committed(commitOK)
	tx.logger.Info("transaction committed",
		zap.Int("operations", plan.batch.Len()),
		zap.Int("created", plan.created),
		zap.Int("updated", plan.updated),
		zap.Int("deleted", plan.deleted))
	return nil
}

func (tx *Transaction) commitEndPoints() {
	for _, ep := range tx.collections {
		ep.Commit()
	}
	for _, ep := range tx.reals {
		ep.Commit()
	}
}

// commitPlan is the storage batch of a commit and the versions the written
// objects will have.
type commitPlan struct {
	batch    *storage.Batch
	versions map[domain.ObjectID]uint64

	created, updated, deleted int
}

// planCommit writes creates, updates and touches first, then the foreign
// keys, then the deletes, each in id order.
func (tx *Transaction) planCommit() *commitPlan {
	plan := &commitPlan{batch: storage.NewBatch(), versions: make(map[domain.ObjectID]uint64)}
	touched := tx.touchedObjects()
	var links []storage.Link
	var deletes []*domain.DataContainer

	for _, id := range sortedIDs(tx.containers) {
		dc := tx.containers[id]
		switch dc.State() {
		case domain.StateNew:
			plan.batch.Create(&storage.Record{ID: id, Fields: tx.persistentFields(dc)})
			plan.versions[id] = 1
			plan.created++
			links = append(links, tx.foreignKeys(dc, true)...)
		case domain.StateChanged:
			plan.batch.Update(&storage.Record{ID: id, Fields: tx.persistentFields(dc), Version: dc.Version()})
			plan.versions[id] = dc.Version() + 1
			plan.updated++
			links = append(links, tx.foreignKeys(dc, false)...)
		case domain.StateUnchanged:
			if _, ok := touched[id]; ok {
				plan.batch.Touch(id, dc.Version())
				plan.versions[id] = dc.Version() + 1
				plan.updated++
			}
		case domain.StateDeleted:
			deletes = append(deletes, dc)
		}
	}
	for _, l := range links {
		plan.batch.SetLink(l.From, l.Type, l.To)
	}
	for _, dc := range deletes {
		plan.batch.Delete(dc.ID(), dc.Version())
		plan.deleted++
	}
	return plan
}

// touchedObjects returns the objects with a changed or touched relation
// end-point. Writing them bumps their version.
func (tx *Transaction) touchedObjects() map[domain.ObjectID]struct{} {
	touched := make(map[domain.ObjectID]struct{})
	for id, ep := range tx.collections {
		if ep.HasBeenTouched() || ep.HasChanged() {
			touched[id.ObjectID] = struct{}{}
		}
	}
	for id, ep := range tx.reals {
		if ep.HasBeenTouched() {
			touched[id.ObjectID] = struct{}{}
		}
	}
	return touched
}

// persistentFields returns the values of dc without its foreign keys.
func (tx *Transaction) persistentFields(dc *domain.DataContainer) map[string]any {
	fields := dc.Fields()
	for _, def := range tx.mapping.EndPointsOf(dc.ID().ClassID) {
		delete(fields, def.PropertyName)
	}
	return fields
}

// foreignKeys returns the links to write for dc. Unless all is set only
// changed foreign keys are returned.
func (tx *Transaction) foreignKeys(dc *domain.DataContainer, all bool) []storage.Link {
	var links []storage.Link
	for _, def := range tx.mapping.EndPointsOf(dc.ID().ClassID) {
		if def.Virtual {
			continue
		}
		current := dc.GetObjectID(def.PropertyName)
		original, _ := dc.GetOriginalValue(def.PropertyName).(domain.ObjectID)
		if (all && current.IsZero()) || (!all && current == original) {
			continue
		}
		links = append(links, storage.Link{From: dc.ID(), To: current, Type: def.ID()})
	}
	return links
}

// commitToParent pushes the changes into the parent. New objects are
// created there first so the collections taking the new members find their
// end-points.
func (tx *Transaction) commitToParent() {
	parent := tx.parent
	ids := sortedIDs(tx.containers)
	for _, id := range ids {
		if _, ok := parent.containers[id]; ok || tx.containers[id].State() == domain.StateInvalid {
			continue
		}
		parent.enlistNew(id)
	}
	for _, id := range ids {
		if pdc, ok := parent.containers[id]; ok {
			pdc.SetDataFromSubTransaction(tx.containers[id])
		}
	}
	for _, id := range sortedEndPointIDs(tx.collections) {
		ep := tx.collections[id]
		if !ep.IsDataComplete() || !ep.HasBeenTouched() && !ep.HasChanged() {
			continue
		}
		parent.GetOrCreateVirtualEndPoint(id).SetDataFromSubTransaction(ep)
	}
	for id, ep := range tx.reals {
		if pep, ok := parent.reals[id]; ok && ep.HasBeenTouched() {
			pep.Touch()
		}
	}

	for _, dc := range tx.containers {
		dc.Commit(0)
	}
	tx.commitEndPoints()
	tx.logger.Debug("sub-transaction committed", zap.String("parent", parent.id), zap.Int("objects", len(ids)))
}

// Rollback discards all changes since the last commit.
func (tx *Transaction) Rollback() error {
	if err := tx.CheckWritable(); err != nil {
		return err
	}
	for _, dc := range tx.containers {
		dc.Rollback()
	}
	for _, ep := range tx.collections {
		ep.Rollback()
	}
	for _, ep := range tx.reals {
		ep.Rollback()
	}
	tx.metrics.rolledBack()
	tx.logger.Debug("transaction rolled back")
	return nil
}

func sortedIDs(containers map[domain.ObjectID]*domain.DataContainer) []domain.ObjectID {
	ids := make([]domain.ObjectID, 0, len(containers))
	for id := range containers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedEndPointIDs[T any](eps map[endpoints.RelationEndPointID]T) []endpoints.RelationEndPointID {
	ids := make([]endpoints.RelationEndPointID, 0, len(eps))
	for id := range eps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
