package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is the full in-memory graph of all collections for one run.
// It owns every record and enforces referential integrity at load time
// and again before every save.
type Dataset struct {
	root        string
	schemas     []Schema
	collections map[string]*Collection
}

// Load parses all collection files under root according to the given
// schemas (DefaultSchemas when nil) and verifies cross-reference integrity.
func Load(root string, schemas []Schema) (*Dataset, error) {
	if schemas == nil {
		schemas = DefaultSchemas()
	}
	ds := &Dataset{
		root:        root,
		schemas:     schemas,
		collections: make(map[string]*Collection, len(schemas)),
	}
	for _, s := range schemas {
		col := &Collection{schema: s, records: make(map[string]*Record)}
		var err error
		switch s.Mode {
		case FilePerRecord:
			err = loadDir(col, filepath.Join(root, s.Dir))
		case SingleFile:
			err = loadFile(col, filepath.Join(root, s.File))
		}
		if err != nil {
			return nil, err
		}
		if s.Required && col.Len() == 0 {
			return nil, fmt.Errorf("collection %s: no records under %s", s.Kind, filepath.Join(root, s.Dir))
		}
		ds.collections[s.Kind] = col
	}
	if err := ds.CheckIntegrity(); err != nil {
		return nil, err
	}
	return ds, nil
}

func loadDir(col *Collection, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read collection dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yml" || ext == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		doc, mapping, err := parseRecordFile(path)
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		id, err := recordIdentifier(mapping, col.schema.IDField, stem)
		if err != nil {
			return &MalformedRecordError{Path: path, Reason: err.Error()}
		}
		rec := &Record{id: id, kind: col.schema.Kind, path: path, doc: doc, node: mapping}
		if err := col.add(rec); err != nil {
			return err
		}
	}
	return nil
}

func loadFile(col *Collection, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read collection file %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &MalformedRecordError{Path: path, Reason: err.Error()}
	}
	if len(doc.Content) == 0 {
		return nil
	}
	seq := doc.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return &MalformedRecordError{Path: path, Reason: "top-level node is not a sequence"}
	}
	col.doc = &doc
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return &MalformedRecordError{Path: path, Reason: "sequence item is not a mapping"}
		}
		id, err := recordIdentifier(item, col.schema.IDField, "")
		if err != nil {
			return &MalformedRecordError{Path: path, Reason: err.Error()}
		}
		rec := &Record{id: id, kind: col.schema.Kind, path: path, node: item}
		if err := col.add(rec); err != nil {
			return err
		}
	}
	return nil
}

func parseRecordFile(path string) (doc *yaml.Node, mapping *yaml.Node, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read record %s: %w", path, err)
	}
	var d yaml.Node
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, nil, &MalformedRecordError{Path: path, Reason: err.Error()}
	}
	if len(d.Content) == 0 || d.Content[0].Kind != yaml.MappingNode {
		return nil, nil, &MalformedRecordError{Path: path, Reason: "top-level node is not a mapping"}
	}
	return &d, d.Content[0], nil
}

// Root returns the directory the dataset was loaded from.
func (d *Dataset) Root() string { return d.root }

// Collection returns the collection for a kind.
func (d *Dataset) Collection(kind string) (*Collection, bool) {
	c, ok := d.collections[kind]
	return c, ok
}

// Records returns all records of a kind sorted by identifier.
func (d *Dataset) Records(kind string) []*Record {
	c, ok := d.collections[kind]
	if !ok {
		return nil
	}
	return c.Records()
}

// Get looks up one record.
func (d *Dataset) Get(kind, id string) (*Record, error) {
	c, ok := d.collections[kind]
	if !ok {
		return nil, &NotFoundError{Kind: kind, ID: id}
	}
	r, ok := c.Get(id)
	if !ok {
		return nil, &NotFoundError{Kind: kind, ID: id}
	}
	return r, nil
}

// Dirty reports whether any record changed since load or last save.
func (d *Dataset) Dirty() bool {
	for _, c := range d.collections {
		if c.dirty() {
			return true
		}
	}
	return false
}

// CheckIntegrity verifies that every cross-reference resolves, collecting
// all violations before failing.
func (d *Dataset) CheckIntegrity() error {
	var violations []RefViolation
	for _, s := range d.schemas {
		if len(s.Refs) == 0 {
			continue
		}
		col := d.collections[s.Kind]
		for _, rec := range col.Records() {
			for _, ref := range s.Refs {
				target, ok := d.collections[ref.Kind]
				if !ok {
					violations = append(violations, RefViolation{Kind: s.Kind, ID: rec.id, Field: ref.Field, Missing: ref.Kind})
					continue
				}
				for _, want := range rec.StringList(ref.Field) {
					if _, ok := target.Get(want); !ok {
						violations = append(violations, RefViolation{Kind: s.Kind, ID: rec.id, Field: ref.Field, Missing: want})
					}
				}
			}
		}
	}
	if len(violations) > 0 {
		return &DanglingReferenceError{Violations: violations}
	}
	return nil
}

// Save persists every dirty record atomically and clears the dirty set.
// Integrity is re-verified first so a bad in-memory mutation never reaches
// disk. Returns the number of files written.
func (d *Dataset) Save() (int, error) {
	if err := d.CheckIntegrity(); err != nil {
		return 0, err
	}
	written := 0
	for _, s := range d.schemas {
		col := d.collections[s.Kind]
		switch s.Mode {
		case FilePerRecord:
			for _, rec := range col.Records() {
				if !rec.dirty {
					continue
				}
				if err := writeNodeAtomic(rec.path, rec.doc); err != nil {
					return written, fmt.Errorf("save %s/%s: %w", s.Kind, rec.id, err)
				}
				rec.dirty = false
				written++
			}
		case SingleFile:
			if !col.dirty() {
				continue
			}
			path := filepath.Join(d.root, s.File)
			if err := writeNodeAtomic(path, col.doc); err != nil {
				return written, fmt.Errorf("save collection %s: %w", s.Kind, err)
			}
			col.clearDirty()
			written++
		}
	}
	return written, nil
}
