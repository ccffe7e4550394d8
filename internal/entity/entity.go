// Package entity provides the generic record rowgraph reads, edits and saves:
// a bag of typed field values tied to a schema.EntityType, with change
// tracking, in-memory belongs-to parents and validation.
package entity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// Entity is one record of an entity type, persisted or not.
type Entity struct {
	Type *schema.EntityType

	id        int64
	persisted bool
	values    map[string]any
	changed   map[string]bool
	parents   map[string]*Entity
}

// New returns an unsaved entity.
func New(et *schema.EntityType) *Entity {
	return &Entity{
		Type:    et,
		values:  make(map[string]any),
		changed: make(map[string]bool),
	}
}

// FromRow returns a persisted entity holding values read from the store.
func FromRow(et *schema.EntityType, id int64, values map[string]any) *Entity {
	e := New(et)
	e.id = id
	e.persisted = true
	for k, v := range values {
		e.values[k] = v
	}
	return e
}

// ID returns the primary key, or 0 for unsaved entities.
func (e *Entity) ID() int64 { return e.id }

// MarkSaved records the primary key assigned by the store and clears changes.
func (e *Entity) MarkSaved(id int64) {
	e.id = id
	e.persisted = true
	e.changed = make(map[string]bool)
}

// NewRecord reports whether the entity has never been saved.
func (e *Entity) NewRecord() bool { return !e.persisted }

// Get returns the value of a field, computing virtual fields.
func (e *Entity) Get(name string) any {
	if name == e.Type.PrimaryKey {
		if e.id == 0 {
			return nil
		}
		return e.id
	}
	if f := e.Type.Field(name); f != nil && f.Virtual && f.Compute != nil {
		return f.Compute(e.Get)
	}
	return e.values[name]
}

// Set stores a value, tracking the change when it differs.
func (e *Entity) Set(name string, v any) {
	ft := e.fieldType(name)
	if old, ok := e.values[name]; ok && Format(ft, old) == Format(ft, v) && (old == nil) == (v == nil) {
		return
	}
	e.values[name] = v
	e.changed[name] = true
}

// String returns the canonical text of a field value.
func (e *Entity) String(name string) string {
	return Format(e.fieldType(name), e.Get(name))
}

// Matches reports whether every criteria field equals the given text once
// both sides are canonicalised for the field type.
func (e *Entity) Matches(criteria map[string]string) bool {
	for k, want := range criteria {
		ft := e.fieldType(k)
		if v, err := Parse(ft, want); err == nil {
			want = Format(ft, v)
		}
		if e.String(k) != want {
			return false
		}
	}
	return true
}

// Changed reports whether any field was modified since load or save.
func (e *Entity) Changed() bool { return len(e.changed) > 0 }

// ChangedFields returns modified stored fields in declaration order.
func (e *Entity) ChangedFields() []string {
	var out []string
	for _, f := range e.Type.Fields {
		if e.changed[f.Name] && !f.Virtual {
			out = append(out, f.Name)
		}
	}
	return out
}

// Values returns the stored fields that have a value, in declaration order.
func (e *Entity) Values() ([]string, []any) {
	var (
		names []string
		vals  []any
	)
	for _, f := range e.Type.Fields {
		if f.Virtual {
			continue
		}
		if v, ok := e.values[f.Name]; ok {
			names = append(names, f.Name)
			vals = append(vals, v)
		}
	}
	return names, vals
}

// SetParent links a belongs-to parent in memory. Its key is copied into the
// foreign key column by SyncForeignKeys once the parent has one.
func (e *Entity) SetParent(a *schema.Association, p *Entity) {
	if e.parents == nil {
		e.parents = make(map[string]*Entity)
	}
	e.parents[a.Name] = p
	e.SyncForeignKeys()
}

// Parent returns the in-memory parent for a belongs-to association.
func (e *Entity) Parent(name string) *Entity {
	return e.parents[name]
}

// Parents returns the in-memory belongs-to parents keyed by association name.
func (e *Entity) Parents() map[string]*Entity {
	return e.parents
}

// SyncForeignKeys copies parent keys (and polymorphic types) into this
// entity's foreign key columns.
func (e *Entity) SyncForeignKeys() {
	for name, p := range e.parents {
		a := e.Type.Association(name)
		if a == nil || p == nil || p.NewRecord() {
			continue
		}
		e.Set(a.ForeignKey, p.ID())
		if a.Polymorphic && a.ForeignType != "" {
			e.Set(a.ForeignType, p.Type.Name)
		}
	}
}

// Normalize applies field normalisers (downcase, upcase, strip).
func (e *Entity) Normalize() {
	for _, f := range e.Type.Fields {
		if f.Normalize == "" {
			continue
		}
		s, ok := e.values[f.Name].(string)
		if !ok {
			continue
		}
		var out string
		switch strings.ToLower(f.Normalize) {
		case "downcase":
			out = strings.ToLower(s)
		case "upcase":
			out = strings.ToUpper(s)
		case "strip":
			out = strings.TrimSpace(s)
		default:
			continue
		}
		e.Set(f.Name, out)
	}
}

// Validate checks required fields, excluded values and mandatory parents.
func (e *Entity) Validate() error {
	verr := &ValidationError{Entity: e.Type.Name}
	for _, f := range e.Type.Fields {
		v := e.Get(f.Name)
		if f.Required && blank(v) {
			verr.Add(f.Name, "can't be blank")
		}
		if len(f.Exclude) > 0 && !blank(v) {
			s := Format(f.Type, v)
			for _, x := range f.Exclude {
				if s == x {
					verr.Add(f.Name, "is reserved")
					break
				}
			}
		}
	}
	for _, a := range e.Type.BelongsTos() {
		if a.Optional {
			continue
		}
		if e.parents[a.Name] == nil && blank(e.values[a.ForeignKey]) {
			verr.Add(a.Name, "must exist")
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (e *Entity) fieldType(name string) schema.FieldType {
	if name == e.Type.PrimaryKey {
		return schema.TypeInteger
	}
	if f := e.Type.Field(name); f != nil {
		return f.Type
	}
	return schema.TypeString
}

func (e *Entity) GoString() string {
	return fmt.Sprintf("%s#%d%v", e.Type.Name, e.id, e.values)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// ValidationError collects field-level messages.
type ValidationError struct {
	Entity string
	Fields map[string][]string
}

// Add appends a message for a field.
func (v *ValidationError) Add(field, msg string) {
	if v.Fields == nil {
		v.Fields = make(map[string][]string)
	}
	v.Fields[field] = append(v.Fields[field], msg)
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+strings.Join(v.Fields[k], ", "))
	}
	return fmt.Sprintf("%s invalid: %s", v.Entity, strings.Join(parts, "; "))
}

// FieldSetter assigns cell text to one field of an entity.
type FieldSetter func(e *Entity, raw string) error

var setterCache sync.Map // *schema.EntityType -> map[string]FieldSetter

// Setters returns the setter table of an entity type, built once per type.
func Setters(et *schema.EntityType) map[string]FieldSetter {
	if cached, ok := setterCache.Load(et); ok {
		return cached.(map[string]FieldSetter)
	}
	table := make(map[string]FieldSetter, len(et.Fields))
	for _, f := range et.Fields {
		table[f.Name] = newSetter(f)
	}
	actual, _ := setterCache.LoadOrStore(et, table)
	return actual.(map[string]FieldSetter)
}

func newSetter(f *schema.Field) FieldSetter {
	name, ft := f.Name, f.Type
	return func(e *Entity, raw string) error {
		if ft == schema.TypeBoolean && strings.TrimSpace(raw) == "" {
			return nil
		}
		v, err := Parse(ft, raw)
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Field = name
			}
			return err
		}
		e.Set(name, v)
		return nil
	}
}

// Assign parses raw with the field's setter and stores the result.
func (e *Entity) Assign(name, raw string) error {
	set, ok := Setters(e.Type)[name]
	if !ok {
		return fmt.Errorf("%s has no field %q", e.Type.Name, name)
	}
	return set(e, raw)
}
