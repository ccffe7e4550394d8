// Package schema describes the persistent shape of the data rowgraph moves:
// entity types, their stored and virtual fields, and the associations that
// connect them. It answers the association questions the importer, exporter
// and template resolver ask while walking a template.
package schema

import (
	"fmt"
	"strings"
)

// FieldType is the storage type of a field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeDecimal  FieldType = "decimal"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeTime     FieldType = "time"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeInteger, TypeFloat, TypeDecimal,
		TypeBoolean, TypeDate, TypeDateTime, TypeTime:
		return true
	}
	return false
}

// Textual reports whether values of this type are free-form strings.
func (t FieldType) Textual() bool {
	return t == TypeString || t == TypeText
}

// Field is one attribute of an entity type.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`

	// Virtual fields are never stored; their value comes from Compute.
	Virtual bool `yaml:"virtual"`

	// Exclude lists values that fail validation for this field.
	Exclude []string `yaml:"exclude"`

	// Normalize is applied before save: downcase, upcase or strip.
	Normalize string `yaml:"normalize"`

	// ForeignKey marks columns added for belongs-to associations.
	ForeignKey bool `yaml:"-"`

	// Compute derives a virtual field from the stored values of its entity.
	Compute func(get func(string) any) any `yaml:"-"`
}

// AssociationKind is the relational shape of an association.
type AssociationKind int

const (
	BelongsTo AssociationKind = iota + 1
	HasOne
	HasMany
	HasAndBelongsToMany
	HasManyThrough
)

var kindNames = map[AssociationKind]string{
	BelongsTo:           "belongs_to",
	HasOne:              "has_one",
	HasMany:             "has_many",
	HasAndBelongsToMany: "has_and_belongs_to_many",
	HasManyThrough:      "has_many_through",
}

func (k AssociationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("AssociationKind(%d)", int(k))
}

// Collection reports whether the association yields many targets.
func (k AssociationKind) Collection() bool {
	return k == HasMany || k == HasAndBelongsToMany || k == HasManyThrough
}

// UnmarshalText accepts the snake_case kind names, plus "habtm" and "through".
func (k *AssociationKind) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	switch s {
	case "habtm":
		*k = HasAndBelongsToMany
		return nil
	case "through":
		*k = HasManyThrough
		return nil
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown association kind %q", s)
}

// MarshalText is the inverse of UnmarshalText.
func (k AssociationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Association describes one named link from an owner entity to a target.
//
// Column conventions:
//   - belongs_to: ForeignKey lives on the owner and points at the target.
//   - has_one / has_many: ForeignKey lives on the target and points at the owner.
//     With As set, the target also carries ForeignType holding the owner's name.
//   - has_and_belongs_to_many: JoinTable holds ForeignKey (owner) and
//     AssociationForeignKey (target).
//   - has_many_through: Through names a has_many on the owner, Source names a
//     belongs_to on that association's target.
type Association struct {
	Name                  string          `yaml:"name"`
	Kind                  AssociationKind `yaml:"kind"`
	Target                string          `yaml:"target"`
	ForeignKey            string          `yaml:"foreign_key"`
	ForeignType           string          `yaml:"foreign_type"`
	Polymorphic           bool            `yaml:"polymorphic"`
	Optional              bool            `yaml:"optional"`
	As                    string          `yaml:"as"`
	Inverse               string          `yaml:"inverse_of"`
	Through               string          `yaml:"through"`
	Source                string          `yaml:"source"`
	JoinTable             string          `yaml:"join_table"`
	AssociationForeignKey string          `yaml:"association_foreign_key"`

	// Resolved by Registry.Finalize.
	Owner      *EntityType `yaml:"-"`
	TargetType *EntityType `yaml:"-"`
}

// ThroughAssoc returns the has_many on the owner this association runs through.
func (a *Association) ThroughAssoc() *Association {
	if a.Kind != HasManyThrough || a.Owner == nil {
		return nil
	}
	return a.Owner.Association(a.Through)
}

// SourceAssoc returns the belongs_to on the join entity that reaches the target.
func (a *Association) SourceAssoc() *Association {
	through := a.ThroughAssoc()
	if through == nil || through.TargetType == nil {
		return nil
	}
	return through.TargetType.Association(a.Source)
}

// EntityType is one persisted record type.
type EntityType struct {
	Name       string         `yaml:"name"`
	Table      string         `yaml:"table"`
	PrimaryKey string         `yaml:"primary_key"`
	Reference  bool           `yaml:"reference"`
	Fields     []*Field       `yaml:"fields"`
	Assocs     []*Association `yaml:"associations"`

	fields map[string]*Field
	assocs map[string]*Association
}

// Field returns the named field, or nil.
func (e *EntityType) Field(name string) *Field {
	if e.fields != nil {
		return e.fields[name]
	}
	for _, f := range e.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Association returns the named association, or nil.
func (e *EntityType) Association(name string) *Association {
	if e.assocs != nil {
		return e.assocs[name]
	}
	for _, a := range e.Assocs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// StoredFields returns the fields backed by real columns, primary key excluded.
func (e *EntityType) StoredFields() []*Field {
	out := make([]*Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if !f.Virtual {
			out = append(out, f)
		}
	}
	return out
}

// BelongsTos returns the belongs_to associations in declaration order.
func (e *EntityType) BelongsTos() []*Association {
	var out []*Association
	for _, a := range e.Assocs {
		if a.Kind == BelongsTo {
			out = append(out, a)
		}
	}
	return out
}

// IsStored reports whether name is the primary key or a stored field.
func (e *EntityType) IsStored(name string) bool {
	if name == e.PrimaryKey {
		return true
	}
	f := e.Field(name)
	return f != nil && !f.Virtual
}

// Join is one node of a JoinPlan.
type Join struct {
	Name   string
	Nested JoinPlan
}

// JoinPlan is the nested set of associations a template traverses, in the
// order they were first reached.
type JoinPlan []*Join

// Child returns the node for name, or nil.
func (p JoinPlan) Child(name string) *Join {
	for _, j := range p {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// Merge adds other into p, reusing nodes that already exist by name.
func (p JoinPlan) Merge(other JoinPlan) JoinPlan {
	for _, o := range other {
		if j := p.Child(o.Name); j != nil {
			j.Nested = j.Nested.Merge(o.Nested)
			continue
		}
		p = append(p, &Join{Name: o.Name, Nested: JoinPlan(nil).Merge(o.Nested)})
	}
	return p
}

// String renders the plan as nested braces, e.g. "{children{toys}}".
func (p JoinPlan) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, j := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(j.Name)
		if len(j.Nested) > 0 {
			b.WriteString(j.Nested.String())
		}
	}
	b.WriteByte('}')
	return b.String()
}

// MetadataProvider answers association questions about entity types.
type MetadataProvider interface {
	Entity(name string) (*EntityType, bool)
	Association(et *EntityType, name string) (*Association, bool)
}
