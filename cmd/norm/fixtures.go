package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/storage"
)

// fixtures is the YAML form of seed data.
//
//	objects:
//	  - id: Order|o1
//	  - id: OrderItem|i1
//	    fields: {Position: 1}
//	    links: {Order: Order|o1}
type fixtures struct {
	Objects []fixtureObject `yaml:"objects"`
}

type fixtureObject struct {
	ID     string            `yaml:"id"`
	Fields map[string]any    `yaml:"fields,omitempty"`
	Links  map[string]string `yaml:"links,omitempty"`
}

func loadFixtures(path string) (*fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// batch checks the fixtures against the mapping and turns them into one
// storage batch. Records come first so links may point at any of them.
func (f *fixtures) batch(registry *mapping.Registry) (*storage.Batch, error) {
	b := storage.NewBatch()
	var links []storage.Link
	for _, o := range f.Objects {
		id, err := domain.ParseObjectID(o.ID)
		if err != nil {
			return nil, err
		}
		if !registry.HasClass(id.ClassID) {
			return nil, fmt.Errorf("%s: unknown class %q", o.ID, id.ClassID)
		}
		for property := range o.Fields {
			if _, err := registry.EndPoint(id.ClassID, property); err == nil {
				return nil, fmt.Errorf("%s: %s is a relation property, use links", o.ID, property)
			}
		}
		b.Create(&storage.Record{ID: id, Fields: o.Fields})

		for property, target := range o.Links {
			def, err := registry.EndPoint(id.ClassID, property)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", o.ID, err)
			}
			if def.IsCollection() {
				return nil, fmt.Errorf("%s: %s is a collection, link the items instead", o.ID, def.ID())
			}
			to, err := domain.ParseObjectID(target)
			if err != nil {
				return nil, err
			}
			links = append(links, storage.Link{From: id, To: to, Type: def.ID()})
		}
	}
	for _, l := range links {
		b.SetLink(l.From, l.Type, l.To)
	}
	return b, nil
}
