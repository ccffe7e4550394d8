package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySource is returned when the source has no header row.
var ErrEmptySource = errors.New("empty file: no header row")

// NoUniqueColumnError means no unique combination of the template is present
// in the header, so rows cannot be matched against existing records.
type NoUniqueColumnError struct {
	Entity  string
	Uniques [][]string
}

func (e *NoUniqueColumnError) Error() string {
	combos := make([]string, 0, len(e.Uniques))
	for _, u := range e.Uniques {
		combos = append(combos, strings.Join(u, "+"))
	}
	if len(combos) == 0 {
		return fmt.Sprintf("no unique column for %s: template declares no uniques and no header is starred", e.Entity)
	}
	return fmt.Sprintf("no unique column for %s: none of %s found in header", e.Entity, strings.Join(combos, ", "))
}

// TooFewMatchingColumnsError means less than about half of the header
// matched the template.
type TooFewMatchingColumnsError struct {
	Entity   string
	Matched  int
	Total    int
	Required int
}

func (e *TooFewMatchingColumnsError) Error() string {
	return fmt.Sprintf("not enough matching columns for %s: %d of %d matched, need at least %d",
		e.Entity, e.Matched, e.Total, e.Required)
}

// UnknownAssociationError means a template names an association the entity
// does not declare, or one that cannot be traversed.
type UnknownAssociationError struct {
	Entity string
	Name   string
	Reason string
}

func (e *UnknownAssociationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("association %s.%s %s", e.Entity, e.Name, e.Reason)
	}
	return fmt.Sprintf("unknown association %s.%s", e.Entity, e.Name)
}

// MissingDefaultTemplateError means a nested template inherits the default
// template of an entity that has none.
type MissingDefaultTemplateError struct {
	Entity string
	Path   []string
}

func (e *MissingDefaultTemplateError) Error() string {
	return fmt.Sprintf("no default template for %s (inherited at %s)", e.Entity, strings.Join(e.Path, "."))
}

// TemplateCycleError means default templates inherit through each other's
// associations and would expand forever.
type TemplateCycleError struct {
	Entity string
	Path   []string
}

func (e *TemplateCycleError) Error() string {
	return fmt.Sprintf("default template for %s inherits itself (at %s)", e.Entity, strings.Join(e.Path, "."))
}

// DuplicateColumnError means two template items resolve to the same column
// symbol.
type DuplicateColumnError struct {
	Sym string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("column %q appears more than once in template", e.Sym)
}

// UnknownEntityError means an entity name is not in the schema.
type UnknownEntityError struct {
	Name string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("entity not found: %s", e.Name)
}
