// Package domain holds the object identity and per-transaction data
// container types shared by the relation end-point machinery.
//
// An ObjectID names a persisted domain object by class and value. A
// DataContainer carries the persisted field values of one object inside one
// transaction: the original values (last committed) and the current values
// (as modified). Foreign keys are stored as ObjectID field values under the
// property name of the relation end-point that holds them.
//
// Example:
//
//	id := domain.NewObjectID("Order", "o-1")
//	dc := domain.NewDataContainer(id, domain.StateUnchanged, map[string]any{"Number": 7}, 1)
//	dc.SetValue("Number", 8)
//	dc.HasChanged() // true
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidID     = errors.New("invalid object id")
	ErrObjectInvalid = errors.New("object is invalid in this transaction")
)

// ObjectID identifies a domain object. The zero value means "no object".
type ObjectID struct {
	ClassID string
	Value   string
}

// NewObjectID builds an ObjectID from class and value.
func NewObjectID(classID, value string) ObjectID {
	return ObjectID{ClassID: classID, Value: value}
}

// NewRandomObjectID allocates an ObjectID for a newly created object.
func NewRandomObjectID(classID string) ObjectID {
	return ObjectID{ClassID: classID, Value: uuid.NewString()}
}

// IsZero reports whether id names no object.
func (id ObjectID) IsZero() bool {
	return id.ClassID == "" && id.Value == ""
}

// String renders the id as "Class|Value".
func (id ObjectID) String() string {
	if id.IsZero() {
		return "<null>"
	}
	return id.ClassID + "|" + id.Value
}

// ParseObjectID parses the "Class|Value" form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	class, value, ok := strings.Cut(s, "|")
	if !ok || class == "" || value == "" {
		return ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ObjectID{ClassID: class, Value: value}, nil
}

// MustParseObjectID is ParseObjectID for literals; it panics on malformed input.
func MustParseObjectID(s string) ObjectID {
	id, err := ParseObjectID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Object is the handle through which application code refers to a domain
// object. It is enlisted in exactly one root transaction.
type Object struct {
	id     ObjectID
	rootTx string
}

// NewObject creates a handle for id enlisted in the root transaction rootTx.
func NewObject(id ObjectID, rootTx string) *Object {
	return &Object{id: id, rootTx: rootTx}
}

// ID returns the object's identity.
func (o *Object) ID() ObjectID {
	if o == nil {
		return ObjectID{}
	}
	return o.id
}

// RootTransactionID returns the id of the root transaction the object is
// enlisted in.
func (o *Object) RootTransactionID() string {
	return o.rootTx
}

func (o *Object) String() string {
	return o.ID().String()
}

// IDs returns the identities of objs in order.
func IDs(objs []*Object) []ObjectID {
	ids := make([]ObjectID, len(objs))
	for i, o := range objs {
		ids[i] = o.ID()
	}
	return ids
}

// ObjectDeletedError is returned when an operation touches an object that is
// deleted in the current transaction.
type ObjectDeletedError struct {
	ID ObjectID
}

func (e *ObjectDeletedError) Error() string {
	return fmt.Sprintf("object '%s' is already deleted", e.ID)
}

// ObjectNotFoundError is returned when an object cannot be loaded.
type ObjectNotFoundError struct {
	ID ObjectID
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object '%s' could not be found", e.ID)
}
