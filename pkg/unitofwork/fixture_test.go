package unitofwork

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/norm/pkg/collection"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/storage"
)

const itemOrder = "OrderItem.Order"

func orderID(v string) domain.ObjectID { return domain.NewObjectID("Order", v) }
func itemID(v string) domain.ObjectID  { return domain.NewObjectID("OrderItem", v) }

func newRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	registry := mapping.NewRegistry()
	_, err := registry.AddOneToMany("OrderToItems", "Order", "Items", "OrderItem", "Order", "Position")
	require.NoError(t, err)
	return registry
}

// seeded returns an engine holding o1 with i1 (Position 2) and i2
// (Position 1), and o2 with i3 (Position 1).
func seeded(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })

	b := storage.NewBatch()
	b.Create(&storage.Record{ID: orderID("o1"), Fields: map[string]any{"Number": "A-1"}})
	b.Create(&storage.Record{ID: orderID("o2"), Fields: map[string]any{"Number": "A-2"}})
	b.Create(&storage.Record{ID: itemID("i1"), Fields: map[string]any{"Position": 2}})
	b.Create(&storage.Record{ID: itemID("i2"), Fields: map[string]any{"Position": 1}})
	b.Create(&storage.Record{ID: itemID("i3"), Fields: map[string]any{"Position": 1}})
	b.SetLink(itemID("i1"), itemOrder, orderID("o1"))
	b.SetLink(itemID("i2"), itemOrder, orderID("o1"))
	b.SetLink(itemID("i3"), itemOrder, orderID("o2"))
	require.NoError(t, engine.Apply(b))
	return engine
}

func mustObject(t *testing.T, tx *Transaction, id domain.ObjectID) *domain.Object {
	t.Helper()
	obj, err := tx.GetObject(id)
	require.NoError(t, err)
	return obj
}

func items(t *testing.T, tx *Transaction, order *domain.Object) *collection.Proxy {
	t.Helper()
	p, err := tx.Collection(order, "Items")
	require.NoError(t, err)
	return p
}

// members returns the values of the current members of order's items.
func members(t *testing.T, tx *Transaction, order *domain.Object) []string {
	t.Helper()
	objs, err := items(t, tx, order).Objects()
	require.NoError(t, err)
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.ID().Value)
	}
	return out
}

func related(t *testing.T, tx *Transaction, item *domain.Object) *domain.Object {
	t.Helper()
	obj, err := tx.GetRelated(item, "Order")
	require.NoError(t, err)
	return obj
}

// stored returns the values of the items linked to order in engine.
func stored(t *testing.T, engine storage.Engine, order domain.ObjectID) []string {
	t.Helper()
	links, err := engine.GetIncomingLinks(order, itemOrder)
	require.NoError(t, err)
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.From.Value)
	}
	return out
}

func version(t *testing.T, engine storage.Engine, id domain.ObjectID) uint64 {
	t.Helper()
	r, err := engine.GetRecord(id)
	require.NoError(t, err)
	return r.Version
}
