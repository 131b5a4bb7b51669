// Package mapping describes the relation end-points of the persisted classes.
//
// Each one-to-many relation has two end-points: the virtual end-point on the
// "one" side, which exposes a collection and has no storage of its own, and
// the real end-point on the "many" side, which holds the foreign key.
package mapping

import (
	"errors"
	"fmt"
	"sort"
)

// Common errors
var (
	ErrUnknownEndPoint   = errors.New("unknown relation end-point")
	ErrDuplicateEndPoint = errors.New("duplicate relation end-point")
	ErrDuplicateRelation = errors.New("duplicate relation")
	ErrInvalidDefinition = errors.New("invalid relation definition")
	ErrInvalidSortKey    = errors.New("invalid sort expression")
)

// Cardinality of an end-point.
type Cardinality int

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// EndPointDefinition describes one side of a relation.
type EndPointDefinition struct {
	ClassID      string
	PropertyName string
	Cardinality  Cardinality
	// Virtual end-points have no foreign key of their own.
	Virtual bool
	// SortExpression orders the collection on load. Only set on virtual
	// collection end-points; it names properties of the opposite class.
	SortExpression SortExpression

	relation *RelationDefinition
}

// ID returns "Class.Property".
func (d *EndPointDefinition) ID() string {
	return d.ClassID + "." + d.PropertyName
}

func (d *EndPointDefinition) String() string { return d.ID() }

// Relation returns the relation the end-point belongs to.
func (d *EndPointDefinition) Relation() *RelationDefinition { return d.relation }

// Opposite returns the other end-point of the relation.
func (d *EndPointDefinition) Opposite() *EndPointDefinition {
	if d.relation.EndPoints[0] == d {
		return d.relation.EndPoints[1]
	}
	return d.relation.EndPoints[0]
}

// IsCollection reports whether the end-point is a virtual collection end-point.
func (d *EndPointDefinition) IsCollection() bool {
	return d.Virtual && d.Cardinality == CardinalityMany
}

// RelationDefinition pairs two end-points.
type RelationDefinition struct {
	ID        string
	EndPoints [2]*EndPointDefinition
}

// Registry is the set of known relations, indexed by end-point.
type Registry struct {
	relations map[string]*RelationDefinition
	endPoints map[string]*EndPointDefinition
	classes   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		relations: make(map[string]*RelationDefinition),
		endPoints: make(map[string]*EndPointDefinition),
		classes:   make(map[string]struct{}),
	}
}

// AddClass declares a class with no relations.
func (r *Registry) AddClass(classID string) {
	r.classes[classID] = struct{}{}
}

// AddOneToMany declares a relation whose collection end-point is
// ownerClass.collectionProperty and whose foreign key is
// itemClass.referenceProperty. sortExpr may be empty.
func (r *Registry) AddOneToMany(id, ownerClass, collectionProperty, itemClass, referenceProperty, sortExpr string) (*RelationDefinition, error) {
	if id == "" {
		id = ownerClass + "To" + itemClass
	}
	if ownerClass == "" || collectionProperty == "" || itemClass == "" || referenceProperty == "" {
		return nil, fmt.Errorf("%w: relation %q needs both classes and properties", ErrInvalidDefinition, id)
	}
	if _, ok := r.relations[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRelation, id)
	}
	sortExpression, err := ParseSortExpression(sortExpr)
	if err != nil {
		return nil, fmt.Errorf("relation %s: %w", id, err)
	}

	virtual := &EndPointDefinition{
		ClassID:        ownerClass,
		PropertyName:   collectionProperty,
		Cardinality:    CardinalityMany,
		Virtual:        true,
		SortExpression: sortExpression,
	}
	reference := &EndPointDefinition{
		ClassID:      itemClass,
		PropertyName: referenceProperty,
		Cardinality:  CardinalityOne,
	}
	for _, ep := range []*EndPointDefinition{virtual, reference} {
		if _, ok := r.endPoints[ep.ID()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEndPoint, ep.ID())
		}
	}

	rel := &RelationDefinition{ID: id, EndPoints: [2]*EndPointDefinition{virtual, reference}}
	virtual.relation = rel
	reference.relation = rel
	r.relations[id] = rel
	r.endPoints[virtual.ID()] = virtual
	r.endPoints[reference.ID()] = reference
	r.classes[ownerClass] = struct{}{}
	r.classes[itemClass] = struct{}{}
	return rel, nil
}

// EndPoint looks up an end-point definition by class and property.
func (r *Registry) EndPoint(classID, property string) (*EndPointDefinition, error) {
	ep, ok := r.endPoints[classID+"."+property]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEndPoint, classID, property)
	}
	return ep, nil
}

// MustEndPoint is EndPoint for static definitions; it panics on unknown names.
func (r *Registry) MustEndPoint(classID, property string) *EndPointDefinition {
	ep, err := r.EndPoint(classID, property)
	if err != nil {
		panic(err)
	}
	return ep
}

// EndPointsOf returns the end-points declared on classID, sorted by property.
func (r *Registry) EndPointsOf(classID string) []*EndPointDefinition {
	var result []*EndPointDefinition
	for _, ep := range r.endPoints {
		if ep.ClassID == classID {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PropertyName < result[j].PropertyName })
	return result
}

// Relation returns the relation with the given id.
func (r *Registry) Relation(id string) (*RelationDefinition, bool) {
	rel, ok := r.relations[id]
	return rel, ok
}

// Classes returns the known class ids, sorted.
func (r *Registry) Classes() []string {
	result := make([]string, 0, len(r.classes))
	for c := range r.classes {
		result = append(result, c)
	}
	sort.Strings(result)
	return result
}

// HasClass reports whether classID was declared.
func (r *Registry) HasClass(classID string) bool {
	_, ok := r.classes[classID]
	return ok
}
