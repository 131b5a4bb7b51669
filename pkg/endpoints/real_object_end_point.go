package endpoints

import (
	"fmt"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
)

// SyncState tells whether a real end-point agrees with the collection it
// points at.
type SyncState int

const (
	// SyncUnknown means the opposite collection has not been loaded since the
	// end-point was registered with it.
	SyncUnknown SyncState = iota
	SyncSynchronized
	// SyncUnsynchronized means the foreign key points at a collection whose
	// loaded data does not contain the object.
	SyncUnsynchronized
)

func (s SyncState) String() string {
	switch s {
	case SyncSynchronized:
		return "synchronized"
	case SyncUnsynchronized:
		return "unsynchronized"
	default:
		return "unknown"
	}
}

// RealObjectEndPoint is the foreign-key side of a one-to-many relation. The
// foreign key itself lives in the object's data container under the
// end-point's property name.
type RealObjectEndPoint struct {
	id        RelationEndPointID
	object    *domain.Object
	container *domain.DataContainer
	provider  Provider
	sink      EventSink

	syncState SyncState
	touched   bool
}

// NewRealObjectEndPoint creates the end-point for id backed by container.
func NewRealObjectEndPoint(id RelationEndPointID, object *domain.Object, container *domain.DataContainer, provider Provider, sink EventSink) *RealObjectEndPoint {
	if id.Definition.Virtual {
		violate("'%s' is not a real end-point", id)
	}
	if container.ID() != id.ObjectID || object.ID() != id.ObjectID {
		violate("the data container of '%s' must belong to '%s'", id, id.ObjectID)
	}
	if sink == nil {
		sink = NopEventSink{}
	}
	return &RealObjectEndPoint{id: id, object: object, container: container, provider: provider, sink: sink}
}

// RestoreRealObjectEndPoint recreates an end-point with a known sync state.
func RestoreRealObjectEndPoint(id RelationEndPointID, object *domain.Object, container *domain.DataContainer, provider Provider, sink EventSink, state SyncState, touched bool) *RealObjectEndPoint {
	ep := NewRealObjectEndPoint(id, object, container, provider, sink)
	ep.syncState = state
	ep.touched = touched
	return ep
}

func (ep *RealObjectEndPoint) ID() RelationEndPointID                  { return ep.id }
func (ep *RealObjectEndPoint) ObjectID() domain.ObjectID               { return ep.id.ObjectID }
func (ep *RealObjectEndPoint) Object() *domain.Object                  { return ep.object }
func (ep *RealObjectEndPoint) Definition() *mapping.EndPointDefinition { return ep.id.Definition }
func (ep *RealObjectEndPoint) SyncState() SyncState                    { return ep.syncState }

func (ep *RealObjectEndPoint) OppositeObjectID() domain.ObjectID {
	return ep.container.GetObjectID(ep.id.PropertyName())
}

func (ep *RealObjectEndPoint) OriginalOppositeObjectID() domain.ObjectID {
	id, _ := ep.container.GetOriginalValue(ep.id.PropertyName()).(domain.ObjectID)
	return id
}

func (ep *RealObjectEndPoint) HasChanged() bool {
	return ep.OppositeObjectID() != ep.OriginalOppositeObjectID()
}

func (ep *RealObjectEndPoint) HasBeenTouched() bool { return ep.touched }
func (ep *RealObjectEndPoint) Touch()               { ep.touched = true }
func (ep *RealObjectEndPoint) Commit()              { ep.touched = false }
func (ep *RealObjectEndPoint) Rollback()            { ep.touched = false }

func (ep *RealObjectEndPoint) MarkSynchronized()   { ep.syncState = SyncSynchronized }
func (ep *RealObjectEndPoint) MarkUnsynchronized() { ep.syncState = SyncUnsynchronized }
func (ep *RealObjectEndPoint) ResetSyncState()     { ep.syncState = SyncUnknown }

// IsSynchronized resolves an unknown sync state by loading the collection
// the original foreign key points at.
func (ep *RealObjectEndPoint) IsSynchronized() (bool, error) {
	if ep.syncState == SyncUnknown {
		original := ep.OriginalOppositeObjectID()
		if original.IsZero() {
			return true, nil
		}
		collection := ep.provider.GetOrCreateVirtualEndPoint(ep.id.OppositeID(original))
		if err := collection.EnsureDataComplete(); err != nil {
			return false, err
		}
	}
	return ep.syncState != SyncUnsynchronized, nil
}

// Synchronize adds the object to the collection its foreign key points at,
// if it is missing there.
func (ep *RealObjectEndPoint) Synchronize() error {
	synchronized, err := ep.IsSynchronized()
	if err != nil || synchronized {
		return err
	}
	collection := ep.provider.GetOrCreateVirtualEndPoint(ep.id.OppositeID(ep.OriginalOppositeObjectID()))
	collection.SynchronizeOppositeEndPoint(ep)
	return nil
}

// collectionFor returns the complete collection end-point of related, or
// nil for the zero id.
func (ep *RealObjectEndPoint) collectionFor(related domain.ObjectID) (*CollectionEndPoint, error) {
	if related.IsZero() {
		return nil, nil
	}
	collection := ep.provider.GetOrCreateVirtualEndPoint(ep.id.OppositeID(related))
	if err := collection.EnsureDataComplete(); err != nil {
		return nil, err
	}
	return collection, nil
}

// CreateSetCommand changes the foreign key to newRelated, which may be nil.
// Both the old and the new opposite collections are loaded so their
// reciprocal bookkeeping can follow the change.
func (ep *RealObjectEndPoint) CreateSetCommand(newRelated *domain.Object) (Command, error) {
	if newRelated != nil && newRelated.ID().ClassID != ep.id.Definition.Opposite().ClassID {
		return nil, fmt.Errorf("%w: '%s' cannot be assigned to '%s'", ErrClassMismatch, newRelated.ID(), ep.id)
	}

	oldID := ep.OppositeObjectID()
	oldCollection, err := ep.collectionFor(oldID)
	if err != nil {
		return nil, err
	}
	if ep.syncState == SyncUnsynchronized {
		return nil, &SyncError{
			Property:         ep.id.Definition.ID(),
			Owner:            ep.id.ObjectID,
			Object:           oldID,
			OppositeProperty: ep.id.Definition.Opposite().ID(),
			SynchronizeOn:    ep.id.Definition.ID(),
		}
	}

	if newRelated.ID() == oldID {
		return &realObjectSetSameCommand{ep: ep, collection: oldCollection}, nil
	}
	newCollection, err := ep.collectionFor(newRelated.ID())
	if err != nil {
		return nil, err
	}
	var oldRelated *domain.Object
	if !oldID.IsZero() {
		oldRelated = ep.provider.GetObjectReference(oldID)
	}
	return &realObjectSetCommand{
		ep:            ep,
		oldRelated:    oldRelated,
		newRelated:    newRelated,
		oldCollection: oldCollection,
		newCollection: newCollection,
	}, nil
}

// CreateRemoveCommand clears the foreign key, which must point at removed.
func (ep *RealObjectEndPoint) CreateRemoveCommand(removed *domain.Object) (Command, error) {
	if removed.ID() != ep.OppositeObjectID() {
		violate("cannot remove '%s' from '%s' because it is not the current related object", removed.ID(), ep.id)
	}
	return ep.CreateSetCommand(nil)
}

// realObjectSetCommand changes a foreign key and moves the end-point's
// current registration from the old collection to the new one.
type realObjectSetCommand struct {
	ep            *RealObjectEndPoint
	oldRelated    *domain.Object
	newRelated    *domain.Object
	oldCollection *CollectionEndPoint
	newCollection *CollectionEndPoint
}

func (c *realObjectSetCommand) change() RelationChange {
	return RelationChange{EndPointID: c.ep.id, Kind: ChangeSet, OldRelated: c.oldRelated, NewRelated: c.newRelated}
}

func (c *realObjectSetCommand) Begin() error { return c.ep.sink.RelationChanging(c.change()) }

func (c *realObjectSetCommand) Perform() {
	if c.oldCollection != nil {
		mustRegister(c.oldCollection.UnregisterCurrentOppositeEndPoint(c.ep))
	}
	if c.newRelated == nil {
		c.ep.container.SetValue(c.ep.id.PropertyName(), nil)
	} else {
		c.ep.container.SetValue(c.ep.id.PropertyName(), c.newRelated.ID())
	}
	c.ep.Touch()
	if c.newCollection != nil {
		mustRegister(c.newCollection.RegisterCurrentOppositeEndPoint(c.ep))
	}
}

func (c *realObjectSetCommand) End() { c.ep.sink.RelationChanged(c.change()) }

// Expand adds the object to the new owner's collection and removes it from
// the old owner's.
func (c *realObjectSetCommand) Expand() (*ExpandedCommand, error) {
	result := NewExpandedCommand(c)
	if c.newCollection != nil {
		add, err := c.newCollection.CreateAddCommand(c.ep.object)
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(add)
	}
	if c.oldCollection != nil {
		remove, err := c.oldCollection.CreateRemoveCommand(c.ep.object)
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(remove)
	}
	return result, nil
}

// Collections are complete when a set command is created, so registering
// with them cannot load and cannot fail.
func mustRegister(err error) {
	if err != nil {
		violate("registration with a complete collection failed: %v", err)
	}
}

// realObjectSetSameCommand assigns the current value again.
type realObjectSetSameCommand struct {
	ep         *RealObjectEndPoint
	collection *CollectionEndPoint
}

func (c *realObjectSetSameCommand) Begin() error { return nil }
func (c *realObjectSetSameCommand) Perform()     { c.ep.Touch() }
func (c *realObjectSetSameCommand) End()         {}

func (c *realObjectSetSameCommand) Expand() (*ExpandedCommand, error) {
	if c.collection == nil {
		return NewExpandedCommand(c), nil
	}
	return NewExpandedCommand(c, NewTouchCommand(c.collection)), nil
}
