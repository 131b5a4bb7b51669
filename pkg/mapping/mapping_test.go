package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderMapping = `
classes: [Customer]
relations:
  - id: OrderToItems
    collection: {class: Order, property: Items, sort: "Position asc, Name desc"}
    reference: {class: OrderItem, property: Order}
  - collection: {class: Customer, property: Orders}
    reference: {class: Order, property: Customer}
`

func TestParseYAML(t *testing.T) {
	r, err := ParseYAML([]byte(orderMapping))
	require.NoError(t, err)

	items := r.MustEndPoint("Order", "Items")
	assert.True(t, items.Virtual)
	assert.True(t, items.IsCollection())
	assert.Equal(t, "Order.Items", items.ID())
	assert.Equal(t, SortExpression{{Property: "Position"}, {Property: "Name", Descending: true}}, items.SortExpression)

	order := items.Opposite()
	assert.Equal(t, "OrderItem.Order", order.ID())
	assert.False(t, order.Virtual)
	assert.Same(t, items, order.Opposite())
	assert.Equal(t, "OrderToItems", order.Relation().ID)

	_, ok := r.Relation("CustomerToOrder")
	assert.True(t, ok, "default relation id")

	assert.Equal(t, []string{"Customer", "Order", "OrderItem"}, r.Classes())
	assert.Len(t, r.EndPointsOf("Order"), 2)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(orderMapping), 0o600))

	r, err := LoadYAML(path)
	require.NoError(t, err)
	assert.True(t, r.HasClass("OrderItem"))

	_, err = LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.AddOneToMany("R", "Order", "Items", "OrderItem", "Order", "")
	require.NoError(t, err)

	_, err = r.AddOneToMany("R", "A", "Bs", "B", "A", "")
	assert.ErrorIs(t, err, ErrDuplicateRelation)

	_, err = r.AddOneToMany("R2", "Order", "Items", "Other", "Order", "")
	assert.ErrorIs(t, err, ErrDuplicateEndPoint)

	_, err = r.AddOneToMany("R3", "Order", "", "X", "Y", "")
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = r.EndPoint("Order", "Nope")
	assert.ErrorIs(t, err, ErrUnknownEndPoint)
	assert.Panics(t, func() { r.MustEndPoint("Order", "Nope") })

	_, err = ParseYAML([]byte(`relations: [{collection: {class: A, property: Bs}, reference: {class: B, property: A, sort: X}}]`))
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestParseSortExpression(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    SortExpression
		wantErr bool
	}{
		{"empty", "  ", nil, false},
		{"single", "Name", SortExpression{{Property: "Name"}}, false},
		{"explicit asc", "Name ascending", SortExpression{{Property: "Name"}}, false},
		{"multi", "A desc,B", SortExpression{{Property: "A", Descending: true}, {Property: "B"}}, false},
		{"bad direction", "A up", nil, true},
		{"too many words", "A asc extra", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSortExpression(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSortKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "A desc, B asc", SortExpression{{Property: "A", Descending: true}, {Property: "B"}}.String())
}
