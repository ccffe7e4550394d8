package core

import (
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// Column is one resolved template column: an attribute name reached from the
// root entity through a chain of associations.
type Column struct {
	Name string
	// PrePrefix is the dotted path above the last hop, Prefix the last hop.
	PrePrefix    string
	Prefix       string
	PrefixAssocs []*schema.Association
	// Owner is the entity type the attribute belongs to.
	Owner *schema.EntityType

	path []string
}

func newColumn(name string, path []string, assocs []*schema.Association, owner *schema.EntityType) *Column {
	c := &Column{
		Name:         name,
		PrefixAssocs: append([]*schema.Association(nil), assocs...),
		Owner:        owner,
		path:         append([]string(nil), path...),
	}
	if n := len(path); n > 0 {
		c.PrePrefix = strings.Join(path[:n-1], ".")
		c.Prefix = path[n-1]
	}
	return c
}

// Path returns the association names from the root to the owner.
func (c *Column) Path() []string { return c.path }

// PathKey is the comma-joined path, "" at the root.
func (c *Column) PathKey() string { return strings.Join(c.path, ",") }

// Sym is the column symbol: path and name joined with underscores.
func (c *Column) Sym() string {
	if len(c.path) == 0 {
		return c.Name
	}
	return strings.Join(c.path, "_") + "_" + c.Name
}

// Title is the header text of the column, e.g. "Children Firstname".
func (c *Column) Title() string { return schema.Titleize(c.Sym()) }

// Field returns the schema field of the column, or nil for attributes the
// owner does not declare.
func (c *Column) Field() *schema.Field {
	if c.Owner == nil {
		return nil
	}
	return c.Owner.Field(c.Name)
}

// Type is the field type used to parse and format the column's cells.
// Template type hints win for virtual and undeclared attributes.
func (c *Column) Type(vc VirtualColumns) schema.FieldType {
	f := c.Field()
	if f == nil || f.Virtual {
		if ft, ok := vc.Lookup(c.PathKey(), c.Name); ok {
			return ft
		}
	}
	if f != nil {
		return f.Type
	}
	if c.Owner != nil && c.Name == c.Owner.PrimaryKey {
		return schema.TypeInteger
	}
	return schema.TypeString
}

// SQL is the projection of the column in an export query whose table
// aliases are given by aliases (see store.JoinQuery.Aliases).
func (c *Column) SQL(aliases map[string]string) string {
	if c.Owner == nil || !c.Owner.IsStored(c.Name) {
		return "NULL AS " + store.QuoteIdent(c.Sym())
	}
	alias, ok := aliases[store.PathKey(c.path)]
	if !ok {
		alias = c.Owner.Table
	}
	return store.QuoteIdent(alias) + "." + store.QuoteIdent(c.Name) + " AS " + store.QuoteIdent(c.Sym())
}

// pathTitle is the title of a path on its own, e.g. "Widget Wotsit".
func pathTitle(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return schema.Titleize(strings.Join(path, "_"))
}
