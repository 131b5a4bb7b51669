package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/domain"
)

const itemOrder = "OrderItem.Order"

func order(v string) domain.ObjectID { return domain.NewObjectID("Order", v) }
func item(v string) domain.ObjectID  { return domain.NewObjectID("OrderItem", v) }

// engines runs fn against every engine implementation.
func engines(t *testing.T, fn func(t *testing.T, engine Engine)) {
	t.Run("memory", func(t *testing.T) {
		engine := NewMemoryEngine()
		defer engine.Close()
		fn(t, engine)
	})
	t.Run("wal", func(t *testing.T) {
		wal, err := NewWAL(t.TempDir(), &WALConfig{SyncMode: SyncNone})
		require.NoError(t, err)
		engine := NewWALEngine(NewMemoryEngine(), wal)
		defer engine.Close()
		fn(t, engine)
	})
	t.Run("badger", func(t *testing.T) {
		engine, err := NewBadgerEngineInMemory()
		require.NoError(t, err)
		defer engine.Close()
		fn(t, engine)
	})
}

// seed stores o1 with items i1 and i2 and o2 with item i3.
func seed(t *testing.T, engine Engine) {
	t.Helper()
	b := NewBatch()
	b.Create(&Record{ID: order("o1"), Fields: map[string]any{"Number": "A-1"}})
	b.Create(&Record{ID: order("o2"), Fields: map[string]any{"Number": "A-2"}})
	for _, i := range []string{"i1", "i2", "i3"} {
		b.Create(&Record{ID: item(i), Fields: map[string]any{"Product": "p-" + i}})
	}
	b.SetLink(item("i1"), itemOrder, order("o1"))
	b.SetLink(item("i2"), itemOrder, order("o1"))
	b.SetLink(item("i3"), itemOrder, order("o2"))
	require.NoError(t, engine.Apply(b))
}

func froms(links []Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.From.Value)
	}
	return out
}

func TestEngine_CreateAndRead(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		r, err := engine.GetRecord(order("o1"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), r.Version)
		assert.Equal(t, "A-1", r.Fields["Number"])
		assert.Equal(t, "Order", r.Class())

		r.Fields["Number"] = "changed"
		again, err := engine.GetRecord(order("o1"))
		require.NoError(t, err)
		assert.Equal(t, "A-1", again.Fields["Number"], "reads return copies")

		_, err = engine.GetRecord(order("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = engine.GetRecord(domain.ObjectID{})
		assert.ErrorIs(t, err, ErrInvalidID)

		records, err := engine.RecordsByClass("OrderItem")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "i1", records[0].ID.Value)

		incoming, err := engine.GetIncomingLinks(order("o1"), itemOrder)
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i2"}, froms(incoming))

		outgoing, err := engine.GetOutgoingLinks(item("i3"))
		require.NoError(t, err)
		assert.Equal(t, []Link{{From: item("i3"), To: order("o2"), Type: itemOrder}}, outgoing)

		n, err := engine.RecordCount()
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		n, err = engine.LinkCount()
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestEngine_MoveLink(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		b := NewBatch()
		b.SetLink(item("i1"), itemOrder, order("o2"))
		b.SetLink(item("i2"), itemOrder, domain.ObjectID{})
		require.NoError(t, engine.Apply(b))

		incoming, err := engine.GetIncomingLinks(order("o1"), itemOrder)
		require.NoError(t, err)
		assert.Empty(t, incoming)
		incoming, err = engine.GetIncomingLinks(order("o2"), itemOrder)
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i3"}, froms(incoming))
		outgoing, err := engine.GetOutgoingLinks(item("i2"))
		require.NoError(t, err)
		assert.Empty(t, outgoing)
	})
}

func TestEngine_Versions(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		b := NewBatch()
		b.Update(&Record{ID: order("o1"), Fields: map[string]any{"Number": "B-1"}, Version: 1})
		b.Touch(order("o2"), 1)
		require.NoError(t, engine.Apply(b))

		r, err := engine.GetRecord(order("o1"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), r.Version)
		assert.Equal(t, "B-1", r.Fields["Number"])
		r, err = engine.GetRecord(order("o2"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), r.Version)
		assert.Equal(t, "A-2", r.Fields["Number"], "touch keeps the fields")

		stale := NewBatch()
		stale.SetLink(item("i1"), itemOrder, order("o2"))
		stale.Touch(order("o1"), 1)
		assert.ErrorIs(t, engine.Apply(stale), ErrVersionConflict)

		incoming, err := engine.GetIncomingLinks(order("o2"), itemOrder)
		require.NoError(t, err)
		assert.Equal(t, []string{"i3"}, froms(incoming), "a failed batch writes nothing")
	})
}

func TestEngine_InvalidBatches(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		tests := []struct {
			name  string
			build func(b *Batch)
			want  error
		}{
			{"duplicate create", func(b *Batch) { b.Create(&Record{ID: order("o1")}) }, ErrAlreadyExists},
			{"update missing", func(b *Batch) { b.Update(&Record{ID: order("o9"), Version: 1}) }, ErrNotFound},
			{"delete stale", func(b *Batch) { b.Delete(order("o1"), 7) }, ErrVersionConflict},
			{"link to missing", func(b *Batch) { b.SetLink(item("i1"), itemOrder, order("o9")) }, ErrNotFound},
			{"link from missing", func(b *Batch) { b.SetLink(item("i9"), itemOrder, order("o1")) }, ErrNotFound},
			{"empty link type", func(b *Batch) { b.SetLink(item("i1"), "", order("o1")) }, ErrInvalidData},
			{"invalid id", func(b *Batch) { b.Create(&Record{ID: domain.NewObjectID("A|B", "x")}) }, ErrInvalidID},
			{"deleted earlier", func(b *Batch) {
				b.Delete(order("o2"), 1)
				b.Touch(order("o2"), 1)
			}, ErrNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b := NewBatch()
				tt.build(b)
				err := engine.Apply(b)
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			})
		}

		n, err := engine.RecordCount()
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})
}

func TestEngine_CreateAndLinkInOneBatch(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		b := NewBatch()
		b.Create(&Record{ID: item("i4")})
		b.SetLink(item("i4"), itemOrder, order("o1"))
		assert.Equal(t, 2, b.Len())
		require.NoError(t, engine.Apply(b))

		incoming, err := engine.GetIncomingLinks(order("o1"), itemOrder)
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i2", "i4"}, froms(incoming))
	})
}

func TestEngine_DeleteRemovesLinks(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		seed(t, engine)

		b := NewBatch()
		b.Delete(order("o1"), 1)
		b.Delete(item("i3"), 1)
		require.NoError(t, engine.Apply(b))

		_, err := engine.GetRecord(order("o1"))
		assert.ErrorIs(t, err, ErrNotFound)
		for _, i := range []string{"i1", "i2"} {
			outgoing, err := engine.GetOutgoingLinks(item(i))
			require.NoError(t, err)
			assert.Empty(t, outgoing, i)
		}
		incoming, err := engine.GetIncomingLinks(order("o2"), itemOrder)
		require.NoError(t, err)
		assert.Empty(t, incoming)

		records, err := engine.RecordsByClass("OrderItem")
		require.NoError(t, err)
		assert.Len(t, records, 2)
		n, err := engine.LinkCount()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestEngine_Closed(t *testing.T) {
	engines(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.Close())
		_, err := engine.GetRecord(order("o1"))
		assert.ErrorIs(t, err, ErrStorageClosed)
		assert.ErrorIs(t, engine.Apply(NewBatch()), ErrStorageClosed)
		_, err = engine.RecordCount()
		assert.ErrorIs(t, err, ErrStorageClosed)
	})
}

func TestBadgerEngine_Persists(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	seed(t, engine)
	require.NoError(t, engine.Close())

	engine, err = NewBadgerEngine(dir)
	require.NoError(t, err)
	defer engine.Close()
	incoming, err := engine.GetIncomingLinks(order("o1"), itemOrder)
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i2"}, froms(incoming))
}
