package catalog

import (
	"fmt"
	"strings"
)

// MalformedRecordError reports a file that could not be parsed into a record.
type MalformedRecordError struct {
	Path   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s: %s", e.Path, e.Reason)
}

// DuplicateIdentifierError reports two records in one collection sharing an identifier.
type DuplicateIdentifierError struct {
	Kind string
	ID   string
	Path string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("duplicate identifier %q in collection %s (%s)", e.ID, e.Kind, e.Path)
}

// RefViolation is one unresolvable cross-reference.
type RefViolation struct {
	Kind    string
	ID      string
	Field   string
	Missing string
}

func (v RefViolation) String() string {
	return fmt.Sprintf("%s/%s: field %q references missing %q", v.Kind, v.ID, v.Field, v.Missing)
}

// DanglingReferenceError reports every cross-reference that failed to resolve
// during an integrity check. All violations are collected before failing so
// the operator can fix the dataset in one pass.
type DanglingReferenceError struct {
	Violations []RefViolation
}

func (e *DanglingReferenceError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, v.String())
	}
	return fmt.Sprintf("%d dangling reference(s): %s", len(e.Violations), strings.Join(lines, "; "))
}

// NotFoundError reports a lookup for a record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %s/%s not found", e.Kind, e.ID)
}
