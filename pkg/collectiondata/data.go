// Package collectiondata implements the ordered, duplicate-free object
// sequences behind collection end-points, plus a decorator that tracks the
// original state of a sequence and caches whether it has changed.
package collectiondata

import (
	"fmt"
	"slices"

	"github.com/orneryd/norm/pkg/domain"
)

// ReadOnly is the read surface shared by Data and ChangeCachingData.
type ReadOnly interface {
	Count() int
	Get(index int) *domain.Object
	GetByID(id domain.ObjectID) *domain.Object
	IndexOf(id domain.ObjectID) int
	Contains(id domain.ObjectID) bool
	Objects() []*domain.Object
}

// Data is an ordered sequence of objects without duplicates, indexed by id.
type Data struct {
	items []*domain.Object
	index map[domain.ObjectID]int
}

// NewData creates a Data holding objs in order. Duplicates panic.
func NewData(objs ...*domain.Object) *Data {
	d := &Data{
		items: make([]*domain.Object, 0, len(objs)),
		index: make(map[domain.ObjectID]int, len(objs)),
	}
	for _, o := range objs {
		d.Add(o)
	}
	return d
}

func (d *Data) Count() int { return len(d.items) }

// Get returns the object at index. Out-of-range indexes panic.
func (d *Data) Get(index int) *domain.Object {
	return d.items[index]
}

// GetByID returns the member with the given id or nil.
func (d *Data) GetByID(id domain.ObjectID) *domain.Object {
	if i, ok := d.index[id]; ok {
		return d.items[i]
	}
	return nil
}

// IndexOf returns the position of id or -1.
func (d *Data) IndexOf(id domain.ObjectID) int {
	if i, ok := d.index[id]; ok {
		return i
	}
	return -1
}

func (d *Data) Contains(id domain.ObjectID) bool {
	_, ok := d.index[id]
	return ok
}

// Objects returns a copy of the members in order.
func (d *Data) Objects() []*domain.Object {
	return slices.Clone(d.items)
}

// Add appends obj.
func (d *Data) Add(obj *domain.Object) {
	d.Insert(len(d.items), obj)
}

// Insert puts obj at index, shifting later members.
func (d *Data) Insert(index int, obj *domain.Object) {
	if obj == nil {
		panic("collectiondata: cannot insert nil object")
	}
	if index < 0 || index > len(d.items) {
		panic(fmt.Sprintf("collectiondata: insert index %d out of range [0,%d]", index, len(d.items)))
	}
	if d.Contains(obj.ID()) {
		panic(fmt.Sprintf("collectiondata: object '%s' is already part of the collection", obj.ID()))
	}
	d.items = slices.Insert(d.items, index, obj)
	d.reindexFrom(index)
}

// Remove deletes the member with the given id and reports whether it existed.
func (d *Data) Remove(id domain.ObjectID) bool {
	i, ok := d.index[id]
	if !ok {
		return false
	}
	d.items = slices.Delete(d.items, i, i+1)
	delete(d.index, id)
	d.reindexFrom(i)
	return true
}

// Replace puts obj at index in place of the current member.
func (d *Data) Replace(index int, obj *domain.Object) {
	old := d.items[index]
	if old.ID() == obj.ID() {
		d.items[index] = obj
		return
	}
	if d.Contains(obj.ID()) {
		panic(fmt.Sprintf("collectiondata: object '%s' is already part of the collection", obj.ID()))
	}
	delete(d.index, old.ID())
	d.items[index] = obj
	d.index[obj.ID()] = index
}

// Clear removes every member.
func (d *Data) Clear() {
	d.items = d.items[:0]
	clear(d.index)
}

// Sort orders the members stably by cmp.
func (d *Data) Sort(cmp func(a, b *domain.Object) int) {
	slices.SortStableFunc(d.items, cmp)
	d.reindexFrom(0)
}

// Clone returns an independent copy.
func (d *Data) Clone() *Data {
	return NewData(d.items...)
}

// ReplaceContents swaps the members for objs.
func (d *Data) ReplaceContents(objs []*domain.Object) {
	d.Clear()
	for _, o := range objs {
		d.Add(o)
	}
}

func (d *Data) reindexFrom(start int) {
	for i := start; i < len(d.items); i++ {
		d.index[d.items[i].ID()] = i
	}
}
