package catalog

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Collection is a typed group of records of one kind.
type Collection struct {
	schema  Schema
	records map[string]*Record
	doc     *yaml.Node // whole-file document, SingleFile mode only
}

// Kind returns the collection's kind name.
func (c *Collection) Kind() string { return c.schema.Kind }

// Len returns the number of records.
func (c *Collection) Len() int { return len(c.records) }

// Get returns the record with the given identifier.
func (c *Collection) Get(id string) (*Record, bool) {
	r, ok := c.records[id]
	return r, ok
}

// Records returns all records sorted by identifier.
func (c *Collection) Records() []*Record {
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.records[id])
	}
	return out
}

func (c *Collection) add(r *Record) error {
	if _, exists := c.records[r.id]; exists {
		return &DuplicateIdentifierError{Kind: c.schema.Kind, ID: r.id, Path: r.path}
	}
	c.records[r.id] = r
	return nil
}

func (c *Collection) dirty() bool {
	for _, r := range c.records {
		if r.dirty {
			return true
		}
	}
	return false
}

func (c *Collection) clearDirty() {
	for _, r := range c.records {
		r.dirty = false
	}
}
