package domain

import (
	"fmt"
	"maps"
	"reflect"
)

// State is the life-cycle state of a DataContainer.
type State int

const (
	StateUnchanged State = iota
	StateChanged
	StateNew
	StateDeleted
	// StateInvalid marks an object that no longer exists in this transaction,
	// e.g. a new object that was rolled back or a deleted object after commit.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnchanged:
		return "Unchanged"
	case StateChanged:
		return "Changed"
	case StateNew:
		return "New"
	case StateDeleted:
		return "Deleted"
	case StateInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DataContainer holds the persisted field values of one object inside one
// transaction.
type DataContainer struct {
	id       ObjectID
	state    State
	original map[string]any
	current  map[string]any
	version  uint64
	touched  bool
	// newInTx distinguishes "new" from "deleted after new" on rollback.
	newInTx bool
}

// NewDataContainer creates a container with the given original values.
// version is the storage version token the values were read at (0 for new objects).
func NewDataContainer(id ObjectID, state State, fields map[string]any, version uint64) *DataContainer {
	if fields == nil {
		fields = map[string]any{}
	}
	return &DataContainer{
		id:       id,
		state:    state,
		original: maps.Clone(fields),
		current:  maps.Clone(fields),
		version:  version,
		newInTx:  state == StateNew,
	}
}

func (dc *DataContainer) ID() ObjectID    { return dc.id }
func (dc *DataContainer) Version() uint64 { return dc.version }

// State returns the current life-cycle state. Changed is derived from values.
func (dc *DataContainer) State() State {
	if dc.state == StateUnchanged && (dc.touched || dc.valuesChanged()) {
		return StateChanged
	}
	return dc.state
}

// IsDeleted reports whether the object is deleted or invalid.
func (dc *DataContainer) IsDeleted() bool {
	return dc.state == StateDeleted || dc.state == StateInvalid
}

// GetValue reads a current value without raising any events.
func (dc *DataContainer) GetValue(name string) any {
	return dc.current[name]
}

// GetOriginalValue reads the last committed value.
func (dc *DataContainer) GetOriginalValue(name string) any {
	return dc.original[name]
}

// SetValue writes a current value.
func (dc *DataContainer) SetValue(name string, value any) {
	dc.current[name] = value
}

// GetObjectID reads a foreign-key field.
func (dc *DataContainer) GetObjectID(name string) ObjectID {
	id, _ := dc.current[name].(ObjectID)
	return id
}

// Fields returns a copy of the current values.
func (dc *DataContainer) Fields() map[string]any {
	return maps.Clone(dc.current)
}

// OriginalFields returns a copy of the original values.
func (dc *DataContainer) OriginalFields() map[string]any {
	return maps.Clone(dc.original)
}

// MarkAsChanged flags the object as changed even when no value differs.
// Collection modifications on the virtual side use this to bump the owner's
// version on commit.
func (dc *DataContainer) MarkAsChanged() {
	if dc.state == StateUnchanged {
		dc.touched = true
	}
}

// HasChanged reports whether the container would be written on commit.
func (dc *DataContainer) HasChanged() bool {
	switch dc.state {
	case StateNew, StateDeleted:
		return true
	case StateInvalid:
		return false
	}
	return dc.touched || dc.valuesChanged()
}

func (dc *DataContainer) valuesChanged() bool {
	if len(dc.original) != len(dc.current) {
		return true
	}
	for k, v := range dc.current {
		o, ok := dc.original[k]
		if !ok || !reflect.DeepEqual(o, v) {
			return true
		}
	}
	return false
}

// Delete marks the object deleted. A new object becomes invalid right away.
func (dc *DataContainer) Delete() {
	if dc.state == StateNew {
		dc.state = StateInvalid
		return
	}
	dc.state = StateDeleted
}

// Commit folds current values into original ones.
func (dc *DataContainer) Commit(newVersion uint64) {
	switch dc.state {
	case StateDeleted:
		dc.state = StateInvalid
		return
	case StateInvalid:
		return
	}
	dc.original = maps.Clone(dc.current)
	dc.state = StateUnchanged
	dc.touched = false
	dc.newInTx = false
	if newVersion != 0 {
		dc.version = newVersion
	}
}

// Rollback discards current changes.
func (dc *DataContainer) Rollback() {
	if dc.newInTx {
		dc.state = StateInvalid
		return
	}
	if dc.state == StateInvalid {
		return
	}
	dc.current = maps.Clone(dc.original)
	dc.state = StateUnchanged
	dc.touched = false
}

// SetDataFromSubTransaction copies the current values and state of a
// sub-transaction container into this one.
func (dc *DataContainer) SetDataFromSubTransaction(source *DataContainer) {
	if source.id != dc.id {
		panic(fmt.Sprintf("cannot take data of '%s' into container of '%s'", source.id, dc.id))
	}
	dc.current = maps.Clone(source.current)
	if source.touched {
		dc.MarkAsChanged()
	}
	switch source.state {
	case StateDeleted:
		dc.Delete()
	case StateInvalid:
		if dc.state == StateNew {
			dc.state = StateInvalid
		}
	}
}

// CloneForSubTransaction creates the container a sub-transaction starts from:
// its original values are the parent's current values.
func (dc *DataContainer) CloneForSubTransaction() *DataContainer {
	state := StateUnchanged
	if dc.state == StateInvalid || dc.state == StateDeleted {
		state = StateInvalid
	}
	return &DataContainer{
		id:       dc.id,
		state:    state,
		original: maps.Clone(dc.current),
		current:  maps.Clone(dc.current),
		version:  dc.version,
	}
}

// Snapshot is the exported form of a DataContainer.
type Snapshot struct {
	ID       ObjectID
	State    State
	Original map[string]any
	Current  map[string]any
	Version  uint64
	Touched  bool
	NewInTx  bool
}

// Snapshot captures the container's full state.
func (dc *DataContainer) Snapshot() Snapshot {
	return Snapshot{
		ID:       dc.id,
		State:    dc.state,
		Original: maps.Clone(dc.original),
		Current:  maps.Clone(dc.current),
		Version:  dc.version,
		Touched:  dc.touched,
		NewInTx:  dc.newInTx,
	}
}

// RestoreDataContainer rebuilds a container from a Snapshot.
func RestoreDataContainer(s Snapshot) *DataContainer {
	dc := &DataContainer{
		id:       s.ID,
		state:    s.State,
		original: maps.Clone(s.Original),
		current:  maps.Clone(s.Current),
		version:  s.Version,
		touched:  s.Touched,
		newInTx:  s.NewInTx,
	}
	if dc.original == nil {
		dc.original = map[string]any{}
	}
	if dc.current == nil {
		dc.current = map[string]any{}
	}
	return dc
}
