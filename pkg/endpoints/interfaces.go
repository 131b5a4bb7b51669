package endpoints

import (
	"github.com/orneryd/norm/pkg/domain"
)

// Provider resolves end-points by id. It is the single owner of the
// end-points of a transaction.
type Provider interface {
	// GetOrCreateVirtualEndPoint returns the collection end-point for id,
	// registering a new incomplete one if none exists.
	GetOrCreateVirtualEndPoint(id RelationEndPointID) *CollectionEndPoint
	// GetRealEndPointWithoutLoading returns the registered real end-point or
	// nil.
	GetRealEndPointWithoutLoading(id RelationEndPointID) RealEndPoint
	// GetRealEndPointWithLazyLoad loads the owning object if needed.
	GetRealEndPointWithLazyLoad(id RelationEndPointID) (RealEndPoint, error)
	// GetObjectReference returns the object handle for id without loading it.
	GetObjectReference(id domain.ObjectID) *domain.Object
}

// Loader fills incomplete collection end-points. Implementations call
// CollectionEndPoint.MarkDataComplete with the loaded members. Loading an
// end-point that is already complete must be a no-op.
type Loader interface {
	LoadEndPoint(ep *CollectionEndPoint) error
}

// ChangeKind classifies a RelationChange.
type ChangeKind string

const (
	ChangeInsert  ChangeKind = "insert"
	ChangeRemove  ChangeKind = "remove"
	ChangeReplace ChangeKind = "replace"
	ChangeSet     ChangeKind = "set"
	ChangeDelete  ChangeKind = "delete"
)

// RelationChange describes one change of one end-point.
type RelationChange struct {
	EndPointID RelationEndPointID
	Kind       ChangeKind
	OldRelated *domain.Object
	NewRelated *domain.Object
}

// EventSink observes relation changes. RelationChanging runs before any
// data is modified and can veto the whole change by returning an error.
type EventSink interface {
	RelationChanging(change RelationChange) error
	RelationChanged(change RelationChange)
	DataReplaced(id RelationEndPointID)
	LoadStateChanged(id RelationEndPointID, complete bool)
}

// NopEventSink ignores every event.
type NopEventSink struct{}

func (NopEventSink) RelationChanging(RelationChange) error     { return nil }
func (NopEventSink) RelationChanged(RelationChange)            {}
func (NopEventSink) DataReplaced(RelationEndPointID)           {}
func (NopEventSink) LoadStateChanged(RelationEndPointID, bool) {}

// RealEndPoint is the foreign-key holding end-point of a referencing object,
// as seen from the collection it points at.
type RealEndPoint interface {
	ID() RelationEndPointID
	ObjectID() domain.ObjectID
	Object() *domain.Object
	// OppositeObjectID is the current foreign key.
	OppositeObjectID() domain.ObjectID
	// OriginalOppositeObjectID is the committed foreign key.
	OriginalOppositeObjectID() domain.ObjectID

	MarkSynchronized()
	MarkUnsynchronized()
	ResetSyncState()

	CreateSetCommand(newRelated *domain.Object) (Command, error)
	CreateRemoveCommand(removed *domain.Object) (Command, error)
}
