// Package endpoints tracks both sides of one-to-many relations inside a
// unit of work.
//
// A CollectionEndPoint is the virtual "many" side of a relation. It has no
// storage of its own: its contents are derived from the foreign keys held by
// the RealObjectEndPoints of the referencing objects. A collection end-point
// starts incomplete and loads its data on first use through a Loader. Once
// complete it keeps the original (last committed) and current members, the
// reciprocal end-points that point at it, and the items whose reciprocal
// end-point is not known yet.
//
// Every modification goes through a Command. Commands are expanded to cover
// all end-points a change affects and executed with NotifyAndPerform: every
// "changing" notification is raised first (an EventSink may veto), then
// every change is performed, then every "changed" notification is raised in
// reverse order.
//
// Misuse of the API that indicates a programming error (registering an
// end-point twice, unregistering an unknown one) panics with a
// *ContractViolation. Conditions a caller can recover from, like a relation
// that is out of sync, are returned as errors.
package endpoints

import (
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
)

// RelationEndPointID identifies one end-point of one object. It is
// comparable and used as a map key.
type RelationEndPointID struct {
	ObjectID   domain.ObjectID
	Definition *mapping.EndPointDefinition
}

// NewRelationEndPointID builds an end-point id.
func NewRelationEndPointID(id domain.ObjectID, def *mapping.EndPointDefinition) RelationEndPointID {
	return RelationEndPointID{ObjectID: id, Definition: def}
}

// OppositeID returns the id of the opposite end-point on related.
func (id RelationEndPointID) OppositeID(related domain.ObjectID) RelationEndPointID {
	return RelationEndPointID{ObjectID: related, Definition: id.Definition.Opposite()}
}

// PropertyName returns the relation property of the end-point.
func (id RelationEndPointID) PropertyName() string {
	return id.Definition.PropertyName
}

func (id RelationEndPointID) String() string {
	if id.Definition == nil {
		return id.ObjectID.String() + "/<nil>"
	}
	return id.ObjectID.String() + "/" + id.Definition.ID()
}
