package endpoints

import (
	"github.com/orneryd/norm/pkg/domain"
)

func (ep *CollectionEndPoint) changing(kind ChangeKind, oldRelated, newRelated *domain.Object) error {
	return ep.sink.RelationChanging(RelationChange{EndPointID: ep.id, Kind: kind, OldRelated: oldRelated, NewRelated: newRelated})
}

func (ep *CollectionEndPoint) changed(kind ChangeKind, oldRelated, newRelated *domain.Object) {
	ep.sink.RelationChanged(RelationChange{EndPointID: ep.id, Kind: kind, OldRelated: oldRelated, NewRelated: newRelated})
}

// realEndPointOf returns the reciprocal end-point of obj, loading obj if
// needed.
func (ep *CollectionEndPoint) realEndPointOf(obj *domain.Object) (RealEndPoint, error) {
	return ep.provider.GetRealEndPointWithLazyLoad(ep.id.OppositeID(obj.ID()))
}

// removeFromOldOwner builds the command removing obj from the collection
// its reciprocal end-point currently points at, if any other than ep.
func (ep *CollectionEndPoint) removeFromOldOwner(reciprocal RealEndPoint, obj *domain.Object) (Command, error) {
	oldOwner := reciprocal.OppositeObjectID()
	if oldOwner.IsZero() || oldOwner == ep.id.ObjectID {
		return NopCommand{}, nil
	}
	oldCollection := ep.provider.GetOrCreateVirtualEndPoint(NewRelationEndPointID(oldOwner, ep.id.Definition))
	return oldCollection.CreateRemoveCommand(obj)
}

// collectionInsertCommand inserts obj at index.
type collectionInsertCommand struct {
	ep    *CollectionEndPoint
	dm    *DataManager
	index int
	obj   *domain.Object
}

func (c *collectionInsertCommand) Begin() error { return c.ep.changing(ChangeInsert, nil, c.obj) }

func (c *collectionInsertCommand) Perform() {
	c.dm.insert(c.index, c.obj)
	c.ep.Touch()
}

func (c *collectionInsertCommand) End() { c.ep.changed(ChangeInsert, nil, c.obj) }

// Expand adds setting the inserted object's foreign key to the owner and
// removing it from its previous owner's collection.
func (c *collectionInsertCommand) Expand() (*ExpandedCommand, error) {
	reciprocal, err := c.ep.realEndPointOf(c.obj)
	if err != nil {
		return nil, err
	}
	remove, err := c.ep.removeFromOldOwner(reciprocal, c.obj)
	if err != nil {
		return nil, err
	}
	set, err := reciprocal.CreateSetCommand(c.ep.owner)
	if err != nil {
		return nil, err
	}
	return NewExpandedCommand(c, set, remove), nil
}

// collectionRemoveCommand removes obj.
type collectionRemoveCommand struct {
	ep  *CollectionEndPoint
	dm  *DataManager
	obj *domain.Object
}

func (c *collectionRemoveCommand) Begin() error { return c.ep.changing(ChangeRemove, c.obj, nil) }

func (c *collectionRemoveCommand) Perform() {
	c.dm.remove(c.obj.ID())
	c.ep.Touch()
}

func (c *collectionRemoveCommand) End() { c.ep.changed(ChangeRemove, c.obj, nil) }

// Expand adds clearing the removed object's foreign key.
func (c *collectionRemoveCommand) Expand() (*ExpandedCommand, error) {
	reciprocal, err := c.ep.realEndPointOf(c.obj)
	if err != nil {
		return nil, err
	}
	set, err := reciprocal.CreateRemoveCommand(c.ep.owner)
	if err != nil {
		return nil, err
	}
	return NewExpandedCommand(c, set), nil
}

// collectionReplaceCommand replaces old at index with obj.
type collectionReplaceCommand struct {
	ep    *CollectionEndPoint
	dm    *DataManager
	index int
	old   *domain.Object
	obj   *domain.Object
}

func (c *collectionReplaceCommand) Begin() error { return c.ep.changing(ChangeReplace, c.old, c.obj) }

func (c *collectionReplaceCommand) Perform() {
	c.dm.replace(c.index, c.obj)
	c.ep.Touch()
}

func (c *collectionReplaceCommand) End() { c.ep.changed(ChangeReplace, c.old, c.obj) }

// Expand clears the old member's foreign key, sets the new member's, and
// removes the new member from its previous owner's collection.
func (c *collectionReplaceCommand) Expand() (*ExpandedCommand, error) {
	oldReal, err := c.ep.realEndPointOf(c.old)
	if err != nil {
		return nil, err
	}
	newReal, err := c.ep.realEndPointOf(c.obj)
	if err != nil {
		return nil, err
	}
	clearOld, err := oldReal.CreateRemoveCommand(c.ep.owner)
	if err != nil {
		return nil, err
	}
	remove, err := c.ep.removeFromOldOwner(newReal, c.obj)
	if err != nil {
		return nil, err
	}
	setNew, err := newReal.CreateSetCommand(c.ep.owner)
	if err != nil {
		return nil, err
	}
	return NewExpandedCommand(c, clearOld, setNew, remove), nil
}

// collectionReplaceSameCommand replaces a member with itself: nothing
// changes but the end-point counts as touched.
type collectionReplaceSameCommand struct {
	ep  *CollectionEndPoint
	obj *domain.Object
}

func (c *collectionReplaceSameCommand) Begin() error { return nil }
func (c *collectionReplaceSameCommand) Perform()     { c.ep.Touch() }
func (c *collectionReplaceSameCommand) End()         {}

func (c *collectionReplaceSameCommand) Expand() (*ExpandedCommand, error) {
	reciprocal, err := c.ep.realEndPointOf(c.obj)
	if err != nil {
		return nil, err
	}
	same, err := reciprocal.CreateSetCommand(c.ep.owner)
	if err != nil {
		return nil, err
	}
	return NewExpandedCommand(c, same), nil
}

// collectionSetCommand replaces all members.
type collectionSetCommand struct {
	ep    *CollectionEndPoint
	dm    *DataManager
	old   []*domain.Object
	items []*domain.Object
}

func (c *collectionSetCommand) Begin() error { return c.ep.changing(ChangeSet, nil, nil) }

func (c *collectionSetCommand) Perform() {
	c.dm.replaceContents(c.items)
	c.ep.Touch()
}

func (c *collectionSetCommand) End() { c.ep.changed(ChangeSet, nil, nil) }

// Expand clears the foreign key of every dropped member and sets it on
// every added member, removing those from their previous owners.
func (c *collectionSetCommand) Expand() (*ExpandedCommand, error) {
	newIDs := make(map[domain.ObjectID]struct{}, len(c.items))
	for _, o := range c.items {
		newIDs[o.ID()] = struct{}{}
	}
	oldIDs := make(map[domain.ObjectID]struct{}, len(c.old))
	for _, o := range c.old {
		oldIDs[o.ID()] = struct{}{}
	}

	result := NewExpandedCommand(c)
	for _, o := range c.old {
		if _, kept := newIDs[o.ID()]; kept {
			continue
		}
		reciprocal, err := c.ep.realEndPointOf(o)
		if err != nil {
			return nil, err
		}
		cmd, err := reciprocal.CreateRemoveCommand(c.ep.owner)
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(cmd)
	}
	for _, o := range c.items {
		if _, existed := oldIDs[o.ID()]; existed {
			continue
		}
		reciprocal, err := c.ep.realEndPointOf(o)
		if err != nil {
			return nil, err
		}
		remove, err := c.ep.removeFromOldOwner(reciprocal, o)
		if err != nil {
			return nil, err
		}
		set, err := reciprocal.CreateSetCommand(c.ep.owner)
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(set, remove)
	}
	return result, nil
}

// collectionDeleteCommand empties the collection of a deleted owner.
type collectionDeleteCommand struct {
	ep  *CollectionEndPoint
	dm  *DataManager
	old []*domain.Object
}

func (c *collectionDeleteCommand) Begin() error { return c.ep.changing(ChangeDelete, nil, nil) }

func (c *collectionDeleteCommand) Perform() {
	c.dm.clear()
	c.ep.Touch()
}

func (c *collectionDeleteCommand) End() { c.ep.changed(ChangeDelete, nil, nil) }

// Expand clears the foreign key of every member.
func (c *collectionDeleteCommand) Expand() (*ExpandedCommand, error) {
	result := NewExpandedCommand(c)
	for _, o := range c.old {
		reciprocal, err := c.ep.realEndPointOf(o)
		if err != nil {
			return nil, err
		}
		cmd, err := reciprocal.CreateRemoveCommand(c.ep.owner)
		if err != nil {
			return nil, err
		}
		result = result.CombineWith(cmd)
	}
	return result, nil
}
