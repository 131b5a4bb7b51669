// Package sorting orders domain objects by the sort expression declared on
// a collection end-point.
//
// Values are read straight from each object's data container in the
// transaction, loading it on first use. Reading through a data container
// never raises property-access events, so sorting a freshly loaded
// collection has no observable side effects.
package sorting

import (
	"github.com/orneryd/norm/pkg/convert"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
)

// DataContainerAccessor fetches the data container of an object, loading it
// if the transaction does not hold it yet.
type DataContainerAccessor interface {
	GetDataContainerWithLazyLoad(id domain.ObjectID) (*domain.DataContainer, error)
}

// Comparer compares objects by one or more sort keys.
//
// A load failure cannot surface through a comparison callback, so the first
// one is kept and reported by Err; the object whose data failed to load is
// compared as if all its keys were nil.
type Comparer struct {
	keys     mapping.SortExpression
	accessor DataContainerAccessor
	err      error
}

// NewComparer creates a comparer for expr.
func NewComparer(expr mapping.SortExpression, accessor DataContainerAccessor) *Comparer {
	return &Comparer{keys: expr, accessor: accessor}
}

// Compare returns -1, 0 or 1. Keys are applied in order; the first
// non-equal key decides.
func (c *Comparer) Compare(a, b *domain.Object) int {
	for _, key := range c.keys {
		r := convert.Compare(c.value(a, key.Property), c.value(b, key.Property))
		if key.Descending {
			r = -r
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

// Err returns the first load error met while comparing.
func (c *Comparer) Err() error {
	return c.err
}

func (c *Comparer) value(obj *domain.Object, property string) any {
	dc, err := c.accessor.GetDataContainerWithLazyLoad(obj.ID())
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return nil
	}
	return dc.GetValue(property)
}
