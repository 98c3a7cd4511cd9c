package catalog

// StorageMode selects how a collection is laid out on disk.
type StorageMode int

const (
	// FilePerRecord stores one YAML file per record inside Schema.Dir.
	FilePerRecord StorageMode = iota
	// SingleFile stores the whole collection as one YAML sequence in Schema.File.
	SingleFile
)

// RefField declares that a record field holds identifiers of another kind.
type RefField struct {
	Field string
	Kind  string
}

// Schema describes one collection: where it lives, how records are
// identified, and which of their fields reference other collections.
type Schema struct {
	Kind     string
	Mode     StorageMode
	Dir      string
	File     string
	IDField  string
	Required bool
	Refs     []RefField
}

// DefaultSchemas returns the curated-directory layout: software entries,
// tags and platforms as one file per record, licenses as a single file.
func DefaultSchemas() []Schema {
	return []Schema{
		{
			Kind:     "software",
			Mode:     FilePerRecord,
			Dir:      "software",
			IDField:  "name",
			Required: true,
			Refs: []RefField{
				{Field: "tags", Kind: "tags"},
				{Field: "platforms", Kind: "platforms"},
				{Field: "licenses", Kind: "licenses"},
			},
		},
		{
			Kind:     "tags",
			Mode:     FilePerRecord,
			Dir:      "tags",
			IDField:  "name",
			Required: true,
			Refs: []RefField{
				{Field: "related_tags", Kind: "tags"},
			},
		},
		{
			Kind:    "platforms",
			Mode:    FilePerRecord,
			Dir:     "platforms",
			IDField: "name",
		},
		{
			Kind:    "licenses",
			Mode:    SingleFile,
			File:    "licenses.yml",
			IDField: "identifier",
		},
	}
}
