package core

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// ItemKind tells the three kinds of template item apart.
type ItemKind int

const (
	// ItemColumn is a bare attribute name.
	ItemColumn ItemKind = iota
	// ItemInherit pulls in the default template of the entity reached by
	// the enclosing association. Written as null.
	ItemInherit
	// ItemAssoc descends into an association with a nested template.
	ItemAssoc
)

// Item is one entry of a template's "all" list.
type Item struct {
	Kind ItemKind
	Name string
	Sub  []Item
}

// Col returns a column item.
func Col(name string) Item { return Item{Kind: ItemColumn, Name: name} }

// Inherit returns an inherit item.
func Inherit() Item { return Item{Kind: ItemInherit} }

// Assoc returns an association item with its nested template.
func Assoc(name string, sub ...Item) Item { return Item{Kind: ItemAssoc, Name: name, Sub: sub} }

// Cols is a shorthand for several column items.
func Cols(names ...string) []Item {
	out := make([]Item, len(names))
	for i, n := range names {
		out[i] = Col(n)
	}
	return out
}

// Alias rewrites a raw header into a canonical column title on import, and
// back on export. A From ending in a space matches as a prefix.
type Alias struct {
	From string
	To   string
}

// VirtualColumns holds type hints for attributes that are not stored.
// Paths is keyed by the comma-joined association path.
type VirtualColumns struct {
	Types map[string]schema.FieldType
	Paths map[string]map[string]schema.FieldType
}

// Lookup returns the hinted type of name at the given path key.
func (v VirtualColumns) Lookup(pathKey, name string) (schema.FieldType, bool) {
	if m, ok := v.Paths[pathKey]; ok {
		if ft, ok := m[name]; ok {
			return ft, true
		}
	}
	ft, ok := v.Types[name]
	return ft, ok
}

// Template describes which columns take part in an import or export and how
// rows map onto existing records. A Template is not modified after use;
// resolutions are cached by pointer.
type Template struct {
	All            []Item
	Uniques        [][]string
	Required       []string
	As             []Alias
	VirtualColumns VirtualColumns

	// BeforeImport may wrap or replace the row source. A nil result keeps it.
	BeforeImport func(RowReader) RowReader
	// AfterImport may replace the result. A nil result keeps it.
	AfterImport func(*Result) *Result
	// BeforeProcess may rewrite the unique tuple of a row before lookup.
	BeforeProcess func(key *UniqueKey, values []string) []string
}

// IsRequired reports whether the column symbol is listed as required.
func (t *Template) IsRequired(sym string) bool {
	for _, r := range t.Required {
		if r == sym {
			return true
		}
	}
	return false
}

// ParseTemplate decodes a template from YAML. JSON documents are valid YAML
// and decode the same way, with object key order preserved.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &t, nil
}

// ReadTemplate is ParseTemplate for a reader.
func ReadTemplate(r io.Reader) (*Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return ParseTemplate(data)
}

// LoadTemplateFile reads a template file from disk.
func LoadTemplateFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// UnmarshalJSON accepts the same document shape as the YAML form.
func (t *Template) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTemplate(data)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// UnmarshalYAML walks the node tree directly so mapping order survives.
func (t *Template) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: template must be a mapping", n.Line)
	}
	*t = Template{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		var err error
		switch strings.TrimPrefix(key, ":") {
		case "all":
			t.All, err = decodeItems(val)
		case "uniques":
			t.Uniques, err = decodeUniques(val)
		case "required":
			t.Required, err = decodeNames(val)
		case "as":
			t.As, err = decodeAliases(val)
		case "virtual_columns":
			t.VirtualColumns, err = decodeVirtual(val)
		default:
			err = fmt.Errorf("line %d: unknown template key %q", n.Content[i].Line, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func decodeItems(n *yaml.Node) ([]Item, error) {
	switch {
	case isNull(n):
		return []Item{Inherit()}, nil
	case n.Kind == yaml.ScalarNode:
		return []Item{Col(n.Value)}, nil
	case n.Kind == yaml.MappingNode:
		return decodeAssocs(n)
	case n.Kind != yaml.SequenceNode:
		return nil, fmt.Errorf("line %d: expected a list of columns", n.Line)
	}

	var items []Item
	for _, c := range n.Content {
		switch {
		case isNull(c):
			items = append(items, Inherit())
		case c.Kind == yaml.ScalarNode:
			items = append(items, Col(c.Value))
		case c.Kind == yaml.MappingNode:
			assocs, err := decodeAssocs(c)
			if err != nil {
				return nil, err
			}
			items = append(items, assocs...)
		default:
			return nil, fmt.Errorf("line %d: unexpected template item", c.Line)
		}
	}
	return items, nil
}

func decodeAssocs(n *yaml.Node) ([]Item, error) {
	items := make([]Item, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		sub, err := decodeItems(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		items = append(items, Assoc(n.Content[i].Value, sub...))
	}
	return items, nil
}

func decodeNames(n *yaml.Node) ([]string, error) {
	switch {
	case isNull(n):
		return nil, nil
	case n.Kind == yaml.ScalarNode:
		return []string{n.Value}, nil
	case n.Kind != yaml.SequenceNode:
		return nil, fmt.Errorf("line %d: expected a list of names", n.Line)
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		if c.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: expected a name", c.Line)
		}
		out = append(out, c.Value)
	}
	return out, nil
}

func decodeUniques(n *yaml.Node) ([][]string, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode {
		return [][]string{{n.Value}}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: uniques must be a list", n.Line)
	}
	out := make([][]string, 0, len(n.Content))
	for _, c := range n.Content {
		names, err := decodeNames(c)
		if err != nil {
			return nil, err
		}
		if len(names) > 0 {
			out = append(out, names)
		}
	}
	return out, nil
}

func decodeAliases(n *yaml.Node) ([]Alias, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: as must be a mapping", n.Line)
	}
	out := make([]Alias, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, Alias{From: n.Content[i].Value, To: n.Content[i+1].Value})
	}
	return out, nil
}

func decodeVirtual(n *yaml.Node) (VirtualColumns, error) {
	var vc VirtualColumns
	if isNull(n) {
		return vc, nil
	}
	if n.Kind != yaml.MappingNode {
		return vc, fmt.Errorf("line %d: virtual_columns must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if val.Kind == yaml.MappingNode {
			m := make(map[string]schema.FieldType, len(val.Content)/2)
			for j := 0; j+1 < len(val.Content); j += 2 {
				ft, err := virtualType(val.Content[j+1])
				if err != nil {
					return vc, err
				}
				m[val.Content[j].Value] = ft
			}
			if vc.Paths == nil {
				vc.Paths = make(map[string]map[string]schema.FieldType)
			}
			vc.Paths[key] = m
			continue
		}
		ft, err := virtualType(val)
		if err != nil {
			return vc, err
		}
		if vc.Types == nil {
			vc.Types = make(map[string]schema.FieldType)
		}
		vc.Types[key] = ft
	}
	return vc, nil
}

func virtualType(n *yaml.Node) (schema.FieldType, error) {
	ft := schema.FieldType(strings.TrimPrefix(n.Value, ":"))
	if !ft.Valid() {
		return "", fmt.Errorf("line %d: unknown virtual column type %q", n.Line, n.Value)
	}
	return ft, nil
}

// MarshalYAML renders the template in the same shape it is read from.
func (t *Template) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, scalar(key), val)
	}

	uniques := seq()
	for _, u := range t.Uniques {
		if len(u) == 1 {
			uniques.Content = append(uniques.Content, scalar(u[0]))
			continue
		}
		uniques.Content = append(uniques.Content, flowNames(u))
	}
	add("uniques", uniques)
	add("required", flowNames(t.Required))
	add("all", itemsNode(t.All))

	as := &yaml.Node{Kind: yaml.MappingNode}
	for _, a := range t.As {
		as.Content = append(as.Content, scalar(a.From), scalar(a.To))
	}
	if len(t.As) == 0 {
		as.Style = yaml.FlowStyle
	}
	add("as", as)
	return root, nil
}

func scalar(s string) *yaml.Node { return &yaml.Node{Kind: yaml.ScalarNode, Value: s} }
func seq() *yaml.Node            { return &yaml.Node{Kind: yaml.SequenceNode} }

func flowNames(names []string) *yaml.Node {
	n := seq()
	n.Style = yaml.FlowStyle
	for _, s := range names {
		n.Content = append(n.Content, scalar(s))
	}
	return n
}

func itemsNode(items []Item) *yaml.Node {
	n := seq()
	flat := true
	for _, it := range items {
		switch it.Kind {
		case ItemColumn:
			n.Content = append(n.Content, scalar(it.Name))
		case ItemInherit:
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"})
		case ItemAssoc:
			flat = false
			m := &yaml.Node{Kind: yaml.MappingNode}
			m.Content = append(m.Content, scalar(it.Name), itemsNode(it.Sub))
			n.Content = append(n.Content, m)
		}
	}
	if flat {
		n.Style = yaml.FlowStyle
	}
	return n
}

// RowReader yields rows of cells. Read returns io.EOF after the last row.
type RowReader interface {
	Read() ([]string, error)
}

// Rows is an in-memory RowReader.
type Rows struct {
	rows [][]string
	pos  int
}

// NewRows returns a RowReader over rows.
func NewRows(rows [][]string) *Rows { return &Rows{rows: rows} }

func (r *Rows) Read() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

// TemplateSource supplies the default template of an entity type, used when
// a nested template inherits with null.
type TemplateSource interface {
	DefaultTemplate(et *schema.EntityType) (*Template, bool)
}
