package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a mapping.
//
// Example:
//
//	classes: [Order, OrderItem]
//	relations:
//	  - id: OrderToItems
//	    collection: {class: Order, property: Items, sort: "Position asc"}
//	    reference: {class: OrderItem, property: Order}
type File struct {
	Classes   []string       `yaml:"classes"`
	Relations []RelationSpec `yaml:"relations"`
}

// RelationSpec declares one one-to-many relation.
type RelationSpec struct {
	ID         string       `yaml:"id"`
	Collection EndPointSpec `yaml:"collection"`
	Reference  EndPointSpec `yaml:"reference"`
}

// EndPointSpec names one end-point of a RelationSpec.
type EndPointSpec struct {
	Class    string `yaml:"class"`
	Property string `yaml:"property"`
	Sort     string `yaml:"sort,omitempty"`
}

// LoadYAML reads a mapping file and builds a Registry from it.
func LoadYAML(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML builds a Registry from mapping YAML.
func ParseYAML(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	return f.Build()
}

// Build creates a Registry from the file's declarations.
func (f *File) Build() (*Registry, error) {
	r := NewRegistry()
	for _, c := range f.Classes {
		r.AddClass(c)
	}
	for _, rel := range f.Relations {
		if rel.Reference.Sort != "" {
			return nil, fmt.Errorf("%w: relation %s: only the collection end-point can be sorted", ErrInvalidDefinition, rel.ID)
		}
		if _, err := r.AddOneToMany(rel.ID, rel.Collection.Class, rel.Collection.Property,
			rel.Reference.Class, rel.Reference.Property, rel.Collection.Sort); err != nil {
			return nil, err
		}
	}
	return r, nil
}
