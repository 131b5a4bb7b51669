package collectiondata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/domain"
)

func obj(v string) *domain.Object {
	return domain.NewObject(domain.NewObjectID("Item", v), "tx")
}

func values(objs []*domain.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.ID().Value
	}
	return out
}

func byValue(a, b *domain.Object) int {
	return strings.Compare(a.ID().Value, b.ID().Value)
}

func TestData(t *testing.T) {
	a, b, c := obj("a"), obj("b"), obj("c")

	t.Run("insert keeps index", func(t *testing.T) {
		d := NewData(a, c)
		d.Insert(1, b)
		assert.Equal(t, []string{"a", "b", "c"}, values(d.Objects()))
		assert.Equal(t, 2, d.IndexOf(c.ID()))
		assert.Same(t, b, d.GetByID(b.ID()))
		assert.Equal(t, -1, d.IndexOf(obj("x").ID()))
	})

	t.Run("duplicates panic", func(t *testing.T) {
		d := NewData(a)
		assert.Panics(t, func() { d.Add(obj("a")) })
		assert.Panics(t, func() { d.Insert(5, b) })
		assert.Panics(t, func() { d.Insert(0, nil) })
	})

	t.Run("remove reindexes", func(t *testing.T) {
		d := NewData(a, b, c)
		assert.True(t, d.Remove(a.ID()))
		assert.False(t, d.Remove(a.ID()))
		assert.Equal(t, 0, d.IndexOf(b.ID()))
		assert.Equal(t, 1, d.IndexOf(c.ID()))
	})

	t.Run("replace", func(t *testing.T) {
		d := NewData(a, b)
		d.Replace(0, c)
		assert.Equal(t, []string{"c", "b"}, values(d.Objects()))
		assert.False(t, d.Contains(a.ID()))
		assert.Panics(t, func() { d.Replace(0, b) })
	})

	t.Run("stable sort", func(t *testing.T) {
		x1 := domain.NewObject(domain.NewObjectID("A", "x"), "tx")
		x2 := domain.NewObject(domain.NewObjectID("B", "x"), "tx")
		d := NewData(c, x1, a, x2)
		d.Sort(byValue)
		assert.Equal(t, []*domain.Object{a, c, x1, x2}, d.Objects())
		assert.Equal(t, 3, d.IndexOf(x2.ID()))
	})
}

func TestStrategies(t *testing.T) {
	a, b := obj("a"), obj("b")
	orig := NewData(a, b)
	reordered := NewData(b, a)

	assert.True(t, SequenceChangeDetection{}.HasDataChanged(reordered, orig))
	assert.False(t, SetChangeDetection{}.HasDataChanged(reordered, orig))
	assert.True(t, SetChangeDetection{}.HasDataChanged(NewData(a, obj("c")), orig))
	assert.True(t, SetChangeDetection{}.HasDataChanged(NewData(a), orig))

	s, err := StrategyByName("set")
	require.NoError(t, err)
	assert.Equal(t, "set", s.Name())
	s, err = StrategyByName("")
	require.NoError(t, err)
	assert.Equal(t, "sequence", s.Name())
	_, err = StrategyByName("bogus")
	assert.Error(t, err)
}

func TestChangeCachingData(t *testing.T) {
	a, b, c := obj("a"), obj("b"), obj("c")
	strategy := SequenceChangeDetection{}

	t.Run("fresh data is unchanged and cached", func(t *testing.T) {
		d := NewChangeCachingData(a, b)
		changed, known := d.HasChangedFast()
		assert.True(t, known)
		assert.False(t, changed)
	})

	t.Run("mutation invalidates cache", func(t *testing.T) {
		d := NewChangeCachingData(a, b)
		d.Sort(func(x, y *domain.Object) int { return -byValue(x, y) })
		assert.False(t, d.IsCacheUpToDate())
		_, known := d.HasChangedFast()
		assert.False(t, known, "same count leaves the fast path undecided")
		assert.True(t, d.HasChanged(strategy))
		assert.True(t, d.IsCacheUpToDate())

		d.Add(c)
		changed, known := d.HasChangedFast()
		assert.True(t, known)
		assert.True(t, changed)
	})

	t.Run("commit and rollback", func(t *testing.T) {
		d := NewChangeCachingData(a)
		d.Add(b)
		d.Commit()
		assert.False(t, d.HasChanged(strategy))
		assert.Equal(t, []string{"a", "b"}, values(d.OriginalData().Objects()))

		d.Remove(a.ID())
		d.Insert(0, c)
		d.Rollback()
		assert.Equal(t, []string{"a", "b"}, values(d.Objects()))
		assert.False(t, d.HasChanged(strategy))
	})

	t.Run("register original items", func(t *testing.T) {
		d := NewChangeCachingData()
		d.Add(b)
		d.RegisterOriginalItem(a)
		d.RegisterOriginalItem(b)
		assert.Equal(t, []string{"b", "a"}, values(d.Objects()))
		assert.Equal(t, []string{"a", "b"}, values(d.OriginalData().Objects()))
		assert.Panics(t, func() { d.RegisterOriginalItem(a) })

		d.UnregisterOriginalItem(a.ID())
		assert.False(t, d.Contains(a.ID()))
		assert.False(t, d.OriginalData().Contains(a.ID()))
		assert.Panics(t, func() { d.UnregisterOriginalItem(a.ID()) })
	})

	t.Run("sort original and current", func(t *testing.T) {
		d := RestoreChangeCachingData([]*domain.Object{c, a}, []*domain.Object{b, a})
		d.SortOriginalAndCurrent(byValue)
		assert.Equal(t, []string{"a", "c"}, values(d.Objects()))
		assert.Equal(t, []string{"a", "b"}, values(d.OriginalData().Objects()))
	})
}
