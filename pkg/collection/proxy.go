// Package collection provides the object-facing view of a collection
// end-point.
//
// A Proxy holds no data of its own. Every read resolves the end-point
// through the provider and asks it for its data, loading it on first use.
// Every write checks the objects involved, builds the end-point's command,
// expands it to all end-points the change affects, runs it and marks the
// end-point touched.
//
// Example:
//
//	items := tx.Collection(order, "Items")
//	if err := items.Add(item); err != nil {
//		return err
//	}
//	n, _ := items.Count()
package collection

import (
	"fmt"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/endpoints"
)

// Scope is the transaction a proxy works in.
type Scope interface {
	// IsEnlisted reports whether obj belongs to the scope.
	IsEnlisted(obj *domain.Object) bool
	// IsDeleted reports whether obj is deleted or invalid in the scope.
	IsDeleted(obj *domain.Object) bool
	// CheckWritable fails if the scope cannot be changed right now.
	CheckWritable() error
}

// TransactionMismatchError is returned when an object of another
// transaction is put into a collection.
type TransactionMismatchError struct {
	EndPointID endpoints.RelationEndPointID
	Object     domain.ObjectID
}

func (e *TransactionMismatchError) Error() string {
	return fmt.Sprintf("cannot put '%s' into '%s': the object belongs to a different transaction", e.Object, e.EndPointID)
}

// Proxy is a stateless collection over one collection end-point.
type Proxy struct {
	id       endpoints.RelationEndPointID
	provider endpoints.Provider
	scope    Scope
}

// NewProxy returns the proxy for id.
func NewProxy(id endpoints.RelationEndPointID, provider endpoints.Provider, scope Scope) *Proxy {
	if !id.Definition.IsCollection() {
		panic(fmt.Sprintf("collection: '%s' is not a collection end-point", id))
	}
	return &Proxy{id: id, provider: provider, scope: scope}
}

func (p *Proxy) EndPointID() endpoints.RelationEndPointID { return p.id }

func (p *Proxy) endPoint() *endpoints.CollectionEndPoint {
	return p.provider.GetOrCreateVirtualEndPoint(p.id)
}

func (p *Proxy) IsDataComplete() bool      { return p.endPoint().IsDataComplete() }
func (p *Proxy) EnsureDataComplete() error { return p.endPoint().EnsureDataComplete() }

// Count returns the number of members.
func (p *Proxy) Count() (int, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return 0, err
	}
	return data.Count(), nil
}

// Get returns the member at index.
func (p *Proxy) Get(index int) (*domain.Object, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= data.Count() {
		return nil, fmt.Errorf("%w: %d of %d in '%s'", endpoints.ErrIndexOutOfRange, index, data.Count(), p.id)
	}
	return data.Get(index), nil
}

// GetByID returns the member with id or nil.
func (p *Proxy) GetByID(id domain.ObjectID) (*domain.Object, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return nil, err
	}
	return data.GetByID(id), nil
}

// IndexOf returns the position of id or -1.
func (p *Proxy) IndexOf(id domain.ObjectID) (int, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return -1, err
	}
	return data.IndexOf(id), nil
}

func (p *Proxy) Contains(id domain.ObjectID) (bool, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return false, err
	}
	return data.Contains(id), nil
}

// Objects returns a copy of the current members.
func (p *Proxy) Objects() ([]*domain.Object, error) {
	data, err := p.endPoint().GetData()
	if err != nil {
		return nil, err
	}
	return data.Objects(), nil
}

// OriginalObjects returns a copy of the committed members.
func (p *Proxy) OriginalObjects() ([]*domain.Object, error) {
	data, err := p.endPoint().GetOriginalData()
	if err != nil {
		return nil, err
	}
	return data.Objects(), nil
}

// Add appends obj.
func (p *Proxy) Add(obj *domain.Object) error {
	if err := p.checkIncoming(obj); err != nil {
		return err
	}
	ep := p.endPoint()
	return p.execute(ep, func() (endpoints.Command, error) { return ep.CreateAddCommand(obj) })
}

// Insert puts obj at index.
func (p *Proxy) Insert(index int, obj *domain.Object) error {
	if err := p.checkIncoming(obj); err != nil {
		return err
	}
	ep := p.endPoint()
	return p.execute(ep, func() (endpoints.Command, error) { return ep.CreateInsertCommand(index, obj) })
}

// Remove removes obj and reports whether it was a member.
func (p *Proxy) Remove(obj *domain.Object) (bool, error) {
	if err := p.checkOwner(); err != nil {
		return false, err
	}
	if err := p.checkEnlisted(obj); err != nil {
		return false, err
	}
	ep := p.endPoint()
	data, err := ep.GetData()
	if err != nil {
		return false, err
	}
	if !data.Contains(obj.ID()) {
		return false, nil
	}
	return true, p.execute(ep, func() (endpoints.Command, error) { return ep.CreateRemoveCommand(obj) })
}

// RemoveByID removes the member with id and reports whether there was one.
func (p *Proxy) RemoveByID(id domain.ObjectID) (bool, error) {
	obj, err := p.GetByID(id)
	if err != nil || obj == nil {
		return false, err
	}
	return p.Remove(obj)
}

// Replace puts obj at index in place of the current member.
func (p *Proxy) Replace(index int, obj *domain.Object) error {
	if err := p.checkIncoming(obj); err != nil {
		return err
	}
	ep := p.endPoint()
	return p.execute(ep, func() (endpoints.Command, error) { return ep.CreateReplaceCommand(index, obj) })
}

// Set replaces all members with objs.
func (p *Proxy) Set(objs []*domain.Object) error {
	if err := p.checkOwner(); err != nil {
		return err
	}
	for _, obj := range objs {
		if err := p.checkObject(obj); err != nil {
			return err
		}
	}
	ep := p.endPoint()
	return p.execute(ep, func() (endpoints.Command, error) { return ep.CreateSetCollectionCommand(objs) })
}

// Clear removes every member. The removals run back to front as one
// command together with a single touch of the end-point.
func (p *Proxy) Clear() error {
	if err := p.checkOwner(); err != nil {
		return err
	}
	ep := p.endPoint()
	data, err := ep.GetData()
	if err != nil {
		return err
	}
	combined := endpoints.NewCompositeCommand()
	for i := data.Count() - 1; i >= 0; i-- {
		cmd, err := ep.CreateRemoveCommand(data.Get(i))
		if err != nil {
			return err
		}
		expanded, err := cmd.Expand()
		if err != nil {
			return err
		}
		combined = combined.CombineWith(expanded.Commands()...)
	}
	return combined.CombineWith(endpoints.NewTouchCommand(ep)).NotifyAndPerform()
}

// Sort reorders the members stably with cmp.
func (p *Proxy) Sort(cmp func(a, b *domain.Object) int) error {
	if err := p.checkOwner(); err != nil {
		return err
	}
	ep := p.endPoint()
	if err := ep.SortCurrentData(cmp); err != nil {
		return err
	}
	ep.Touch()
	return nil
}

func (p *Proxy) execute(ep *endpoints.CollectionEndPoint, create func() (endpoints.Command, error)) error {
	cmd, err := create()
	if err != nil {
		return err
	}
	expanded, err := cmd.Expand()
	if err != nil {
		return err
	}
	if err := expanded.NotifyAndPerform(); err != nil {
		return err
	}
	ep.Touch()
	return nil
}

// checks

func (p *Proxy) checkIncoming(obj *domain.Object) error {
	if err := p.checkOwner(); err != nil {
		return err
	}
	return p.checkObject(obj)
}

func (p *Proxy) checkOwner() error {
	if err := p.scope.CheckWritable(); err != nil {
		return err
	}
	owner := p.provider.GetObjectReference(p.id.ObjectID)
	if p.scope.IsDeleted(owner) {
		return &domain.ObjectDeletedError{ID: owner.ID()}
	}
	return nil
}

func (p *Proxy) checkObject(obj *domain.Object) error {
	if obj == nil {
		return fmt.Errorf("collection: cannot put nil into '%s'", p.id)
	}
	if err := p.checkEnlisted(obj); err != nil {
		return err
	}
	if p.scope.IsDeleted(obj) {
		return &domain.ObjectDeletedError{ID: obj.ID()}
	}
	return nil
}

func (p *Proxy) checkEnlisted(obj *domain.Object) error {
	if !p.scope.IsEnlisted(obj) {
		return &TransactionMismatchError{EndPointID: p.id, Object: obj.ID()}
	}
	return nil
}
