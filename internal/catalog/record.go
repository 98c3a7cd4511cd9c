// Package catalog loads a directory of YAML records into an in-memory
// dataset with cross-reference integrity, and serializes it back preserving
// field order and formatting so unchanged records round-trip byte-identical.
package catalog

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Record is one entity in the dataset, backed by the YAML mapping node it
// was parsed from. Mutations go through the typed setters, which edit the
// node tree in place and mark the record dirty; untouched fields keep their
// original order and scalar style.
type Record struct {
	id    string
	kind  string
	path  string
	doc   *yaml.Node
	node  *yaml.Node
	dirty bool
}

// ID returns the record's identifier, unique within its collection.
func (r *Record) ID() string { return r.id }

// Kind returns the collection kind the record belongs to.
func (r *Record) Kind() string { return r.kind }

// Path returns the file the record was loaded from.
func (r *Record) Path() string { return r.path }

// Dirty reports whether the record changed since load or last save.
func (r *Record) Dirty() bool { return r.dirty }

// Has reports whether the field is present.
func (r *Record) Has(field string) bool {
	return r.valueNode(field) != nil
}

// String returns the field as a string, or "" if absent.
func (r *Record) String(field string) string {
	n := r.valueNode(field)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// Int returns the field as an int, or 0 if absent or not numeric.
func (r *Record) Int(field string) int {
	n := r.valueNode(field)
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0
	}
	return v
}

// Bool returns the field as a bool, or false if absent.
func (r *Record) Bool(field string) bool {
	n := r.valueNode(field)
	if n == nil || n.Kind != yaml.ScalarNode {
		return false
	}
	v, err := strconv.ParseBool(n.Value)
	if err != nil {
		return false
	}
	return v
}

// StringList returns the field as a list of strings. A scalar field is
// returned as a one-element list so reference fields may be written either way.
func (r *Record) StringList(field string) []string {
	n := r.valueNode(field)
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, item.Value)
			}
		}
		return out
	default:
		return nil
	}
}

// SetString sets a string field, creating it at the end of the mapping when absent.
func (r *Record) SetString(field, value string) {
	r.setScalar(field, value, "")
}

// SetInt sets an integer field.
func (r *Record) SetInt(field string, value int) {
	r.setScalar(field, strconv.Itoa(value), "!!int")
}

// SetBool sets a boolean field.
func (r *Record) SetBool(field string, value bool) {
	r.setScalar(field, strconv.FormatBool(value), "!!bool")
}

// SetStringList replaces the field with a block sequence of strings.
func (r *Record) SetStringList(field string, values []string) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
	}
	r.setNode(field, seq)
}

// Delete removes a field. Deleting an absent field is a no-op.
func (r *Record) Delete(field string) {
	c := r.node.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == field {
			r.node.Content = append(c[:i], c[i+2:]...)
			r.dirty = true
			return
		}
	}
}

func (r *Record) setScalar(field, value, tag string) {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	if tag != "" {
		n.Tag = tag
	} else {
		n.Tag = "!!str"
	}
	r.setNode(field, n)
}

func (r *Record) setNode(field string, value *yaml.Node) {
	c := r.node.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == field {
			if sameNode(c[i+1], value) {
				return
			}
			c[i+1] = value
			r.dirty = true
			return
		}
	}
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: field}
	r.node.Content = append(r.node.Content, key, value)
	r.dirty = true
}

func (r *Record) valueNode(field string) *yaml.Node {
	if r.node == nil {
		return nil
	}
	c := r.node.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == field {
			return c[i+1]
		}
	}
	return nil
}

// sameNode compares a candidate replacement against the current value so
// that writing an identical value twice does not mark the record dirty.
// Merges stay idempotent because of this check.
func sameNode(a, b *yaml.Node) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case yaml.ScalarNode:
		return a.Value == b.Value
	case yaml.SequenceNode:
		if len(a.Content) != len(b.Content) {
			return false
		}
		for i := range a.Content {
			if !sameNode(a.Content[i], b.Content[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func recordIdentifier(node *yaml.Node, idField, fallback string) (string, error) {
	c := node.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == idField {
			if c[i+1].Kind != yaml.ScalarNode || c[i+1].Value == "" {
				return "", fmt.Errorf("field %q is not a non-empty scalar", idField)
			}
			return c[i+1].Value, nil
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("missing identifier field %q", idField)
}
