package storage

import (
	"fmt"

	"github.com/orneryd/norm/pkg/domain"
)

// OperationType is the kind of one batch operation.
type OperationType string

const (
	OpCreate  OperationType = "create"
	OpUpdate  OperationType = "update"
	OpTouch   OperationType = "touch"
	OpDelete  OperationType = "delete"
	OpSetLink OperationType = "set_link"
)

// Operation is one buffered change of a Batch.
type Operation struct {
	Type OperationType

	// Record is the new state for create and update.
	Record *Record
	// ID and Version name the record and the version the writer read, for
	// update, touch and delete. For set_link ID is the referencing record.
	ID      domain.ObjectID
	Version uint64

	// LinkType and Target describe a set_link; a zero Target clears the
	// foreign key.
	LinkType string
	Target   domain.ObjectID
}

// Batch buffers changes that an engine applies all together or not at all.
// Operations are validated in order, so a record created earlier in the batch
// can be linked later in it.
type Batch struct {
	ops []Operation
}

// NewBatch creates an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Create adds a new record. It is stored with version 1.
func (b *Batch) Create(r *Record) {
	b.ops = append(b.ops, Operation{Type: OpCreate, Record: r.clone(), ID: r.ID})
}

// Update replaces the fields of a record. r.Version is the version the
// writer read; the record is stored with the next one.
func (b *Batch) Update(r *Record) {
	b.ops = append(b.ops, Operation{Type: OpUpdate, Record: r.clone(), ID: r.ID, Version: r.Version})
}

// Touch increments the version of a record without changing it.
func (b *Batch) Touch(id domain.ObjectID, version uint64) {
	b.ops = append(b.ops, Operation{Type: OpTouch, ID: id, Version: version})
}

// Delete removes a record together with its incoming and outgoing links.
func (b *Batch) Delete(id domain.ObjectID, version uint64) {
	b.ops = append(b.ops, Operation{Type: OpDelete, ID: id, Version: version})
}

// SetLink points the foreign key linkType of from at to. A zero to clears it.
func (b *Batch) SetLink(from domain.ObjectID, linkType string, to domain.ObjectID) {
	b.ops = append(b.ops, Operation{Type: OpSetLink, ID: from, LinkType: linkType, Target: to})
}

// Operations returns the buffered operations in order.
func (b *Batch) Operations() []Operation {
	return append([]Operation(nil), b.ops...)
}

func (b *Batch) Len() int { return len(b.ops) }

// versionReader returns the stored version of a record and whether it exists.
type versionReader func(id domain.ObjectID) (uint64, bool, error)

// check validates every operation of b against stored versions, taking the
// effect of earlier operations into account.
func (b *Batch) check(stored versionReader) error {
	// version after the batch so far; 0 means deleted
	pending := make(map[domain.ObjectID]uint64)
	current := func(id domain.ObjectID) (uint64, bool, error) {
		if v, ok := pending[id]; ok {
			return v, v != 0, nil
		}
		return stored(id)
	}
	expect := func(op Operation) error {
		v, ok, err := current(op.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s '%s': %w", op.Type, op.ID, ErrNotFound)
		}
		if v != op.Version {
			return fmt.Errorf("%w: '%s' is at version %d, expected %d", ErrVersionConflict, op.ID, v, op.Version)
		}
		return nil
	}

	for _, op := range b.ops {
		if err := validateID(op.ID); err != nil {
			return fmt.Errorf("%s '%s': %w", op.Type, op.ID, err)
		}
		switch op.Type {
		case OpCreate:
			_, ok, err := current(op.ID)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("create '%s': %w", op.ID, ErrAlreadyExists)
			}
			pending[op.ID] = 1
		case OpUpdate, OpTouch:
			if err := expect(op); err != nil {
				return err
			}
			pending[op.ID] = op.Version + 1
		case OpDelete:
			if err := expect(op); err != nil {
				return err
			}
			pending[op.ID] = 0
		case OpSetLink:
			if err := validateLinkType(op.LinkType); err != nil {
				return fmt.Errorf("link '%s': %w", op.ID, err)
			}
			if _, ok, err := current(op.ID); err != nil || !ok {
				return notFound(op.ID, err)
			}
			if op.Target.IsZero() {
				continue
			}
			if err := validateID(op.Target); err != nil {
				return fmt.Errorf("link '%s' -> '%s': %w", op.ID, op.Target, err)
			}
			if _, ok, err := current(op.Target); err != nil || !ok {
				return notFound(op.Target, err)
			}
		default:
			return fmt.Errorf("%w: unknown operation %q", ErrInvalidData, op.Type)
		}
	}
	return nil
}

func notFound(id domain.ObjectID, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("link '%s': %w", id, ErrNotFound)
}
