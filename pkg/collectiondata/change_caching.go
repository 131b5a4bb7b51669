package collectiondata

import (
	"fmt"

	"github.com/orneryd/norm/pkg/domain"
)

// ChangeCachingData decorates a current Data with an original snapshot and
// remembers the result of the last change check until the next mutation.
type ChangeCachingData struct {
	current  *Data
	original *Data

	cacheValid bool
	cached     bool
}

// NewChangeCachingData starts tracking objs as both original and current.
func NewChangeCachingData(objs ...*domain.Object) *ChangeCachingData {
	return &ChangeCachingData{
		current:    NewData(objs...),
		original:   NewData(objs...),
		cacheValid: true,
	}
}

// RestoreChangeCachingData rebuilds a decorator with separate current and
// original contents.
func RestoreChangeCachingData(current, original []*domain.Object) *ChangeCachingData {
	return &ChangeCachingData{
		current:  NewData(current...),
		original: NewData(original...),
	}
}

func (c *ChangeCachingData) Count() int                                { return c.current.Count() }
func (c *ChangeCachingData) Get(index int) *domain.Object              { return c.current.Get(index) }
func (c *ChangeCachingData) GetByID(id domain.ObjectID) *domain.Object { return c.current.GetByID(id) }
func (c *ChangeCachingData) IndexOf(id domain.ObjectID) int            { return c.current.IndexOf(id) }
func (c *ChangeCachingData) Contains(id domain.ObjectID) bool          { return c.current.Contains(id) }
func (c *ChangeCachingData) Objects() []*domain.Object                 { return c.current.Objects() }

// OriginalData returns the committed snapshot. Callers must not modify it.
func (c *ChangeCachingData) OriginalData() ReadOnly { return c.original }

// IsCacheUpToDate reports whether a cached change result is available.
func (c *ChangeCachingData) IsCacheUpToDate() bool { return c.cacheValid }

// HasChanged runs the strategy unless a cached answer is available.
func (c *ChangeCachingData) HasChanged(strategy ChangeDetectionStrategy) bool {
	if !c.cacheValid {
		c.cached = strategy.HasDataChanged(c.current, c.original)
		c.cacheValid = true
	}
	return c.cached
}

// HasChangedFast answers from the cache or from a count mismatch, which
// means a change under every strategy. known is false otherwise.
func (c *ChangeCachingData) HasChangedFast() (changed, known bool) {
	if c.cacheValid {
		return c.cached, true
	}
	if c.current.Count() != c.original.Count() {
		return true, true
	}
	return false, false
}

func (c *ChangeCachingData) invalidate() { c.cacheValid = false }

func (c *ChangeCachingData) Insert(index int, obj *domain.Object) {
	c.current.Insert(index, obj)
	c.invalidate()
}

func (c *ChangeCachingData) Add(obj *domain.Object) {
	c.current.Add(obj)
	c.invalidate()
}

func (c *ChangeCachingData) Remove(id domain.ObjectID) bool {
	removed := c.current.Remove(id)
	if removed {
		c.invalidate()
	}
	return removed
}

func (c *ChangeCachingData) Replace(index int, obj *domain.Object) {
	c.current.Replace(index, obj)
	c.invalidate()
}

func (c *ChangeCachingData) Clear() {
	c.current.Clear()
	c.invalidate()
}

// ReplaceContents swaps the current members for objs.
func (c *ChangeCachingData) ReplaceContents(objs []*domain.Object) {
	c.current.ReplaceContents(objs)
	c.invalidate()
}

// Sort orders the current members.
func (c *ChangeCachingData) Sort(cmp func(a, b *domain.Object) int) {
	c.current.Sort(cmp)
	c.invalidate()
}

// SortOriginalAndCurrent orders both snapshots with the same comparer.
func (c *ChangeCachingData) SortOriginalAndCurrent(cmp func(a, b *domain.Object) int) {
	c.original.Sort(cmp)
	c.current.Sort(cmp)
	c.invalidate()
}

// RegisterOriginalItem adds obj to the original snapshot, and to the end of
// the current data unless it is already there.
func (c *ChangeCachingData) RegisterOriginalItem(obj *domain.Object) {
	if c.original.Contains(obj.ID()) {
		panic(fmt.Sprintf("collectiondata: '%s' is already part of the original data", obj.ID()))
	}
	if c.current.Contains(obj.ID()) {
		c.original.Add(obj)
		c.invalidate()
		return
	}
	// Appending to two equal sequences keeps them equal.
	c.current.Add(obj)
	c.original.Add(obj)
	if c.cached {
		c.invalidate()
	}
}

// UnregisterOriginalItem removes id from both snapshots.
func (c *ChangeCachingData) UnregisterOriginalItem(id domain.ObjectID) {
	if !c.original.Contains(id) {
		panic(fmt.Sprintf("collectiondata: '%s' is not part of the original data", id))
	}
	c.original.Remove(id)
	c.current.Remove(id)
	if c.cached {
		c.invalidate()
	}
}

// Commit makes the current data the new original.
func (c *ChangeCachingData) Commit() {
	c.original = c.current.Clone()
	c.cacheValid = true
	c.cached = false
}

// Rollback restores the current data from the original.
func (c *ChangeCachingData) Rollback() {
	c.current.ReplaceContents(c.original.items)
	c.cacheValid = true
	c.cached = false
}
