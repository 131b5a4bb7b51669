package endpoints

import (
	"errors"
	"fmt"

	"github.com/orneryd/norm/pkg/domain"
)

// Common errors
var (
	ErrOutOfSync       = errors.New("relation is out of sync")
	ErrEndPointChanged = errors.New("end-point has uncommitted changes")
	ErrDuplicateObject = errors.New("object is already part of the collection")
	ErrLoadIncomplete  = errors.New("loader did not complete the end-point")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrObjectNotMember = errors.New("object is not part of the collection")
	ErrClassMismatch   = errors.New("object has the wrong class for the relation")
)

// ContractViolation is the panic value for API misuse.
type ContractViolation struct {
	Message string
}

func (c *ContractViolation) Error() string { return c.Message }

func violate(format string, args ...any) {
	panic(&ContractViolation{Message: fmt.Sprintf(format, args...)})
}

// SyncError reports a modification refused because the two sides of a
// relation disagree. Synchronizing the end-point named by SynchronizeOn
// repairs it.
type SyncError struct {
	// Property is the end-point that was about to change.
	Property string
	Owner    domain.ObjectID
	// Object is the related object the two sides disagree about.
	Object           domain.ObjectID
	OppositeProperty string
	// SynchronizeOn names the property to synchronize, "Class.Property".
	SynchronizeOn string
}

func (e *SyncError) Error() string {
	if e.SynchronizeOn == e.Property {
		return fmt.Sprintf(
			"the relation property '%s' of object '%s' cannot be changed because it is out of sync with the opposite property '%s' of object '%s'; synchronize '%s' to make this change",
			e.Property, e.Owner, e.OppositeProperty, e.Object, e.SynchronizeOn)
	}
	return fmt.Sprintf(
		"the relation property '%s' of object '%s' cannot be changed because the opposite property '%s' of object '%s' is out of sync with it; synchronize '%s' to make this change",
		e.Property, e.Owner, e.OppositeProperty, e.Object, e.SynchronizeOn)
}

func (e *SyncError) Is(target error) bool { return target == ErrOutOfSync }
