package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// Exporter flattens records and their associations into rows.
type Exporter struct {
	st       store.Store
	meta     schema.MetadataProvider
	defaults TemplateSource
	opts     ExportOptions
}

// NewExporter returns an exporter reading from st.
func NewExporter(st store.Store, meta schema.MetadataProvider, defaults TemplateSource, opts ExportOptions) *Exporter {
	return &Exporter{st: st, meta: meta, defaults: defaults, opts: opts}
}

// Export returns the header row followed, when withData is set, by one row
// per joined record combination.
func (x *Exporter) Export(ctx context.Context, et *schema.EntityType, tmpl *Template, withData bool) ([][]string, error) {
	res, err := NewResolutionCache(x.meta, x.defaults).Resolve(et, tmpl)
	if err != nil {
		return nil, err
	}

	rows := [][]string{Headers(res, tmpl)}
	if !withData {
		return rows, nil
	}

	jq, err := x.st.Join(et, res.Joins, store.JoinOptions{Inner: x.opts.Inner || !x.st.SupportsOuterJoin()})
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", et.Name, err)
	}
	aliases := jq.Aliases()

	projection := make([]string, len(res.Columns))
	types := make([]schema.FieldType, len(res.Columns))
	for i, c := range res.Columns {
		projection[i] = c.SQL(aliases)
		types[i] = c.Type(tmpl.VirtualColumns)
	}

	raw, err := jq.Select(ctx, projection, exportOrder(et, res.Joins, aliases))
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", et.Name, err)
	}
	for _, values := range raw {
		out := make([]string, len(values))
		for i, v := range values {
			decoded, err := entity.Decode(types[i], v)
			if err != nil {
				return nil, fmt.Errorf("export %s column %s: %w", et.Name, res.Columns[i].Sym(), err)
			}
			out[i] = entity.Present(types[i], decoded)
		}
		rows = append(rows, out)
	}

	logging.FromContext(ctx).Info("export finished", "entity", et.Name, "rows", len(raw))
	return rows, nil
}

// Headers renders the column titles of a resolution, with required columns
// starred and aliases applied in reverse.
func Headers(res *Resolution, tmpl *Template) []string {
	out := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		title := c.Title()
		for _, a := range tmpl.As {
			if a.To != "" && strings.HasPrefix(title, a.To) {
				title = a.From + title[len(a.To):]
				break
			}
		}
		if tmpl.IsRequired(c.Sym()) {
			title = "* " + title
		}
		out[i] = title
	}
	return out
}

// exportOrder sorts by the root key, then by the key of each collection hop
// in the order the template reaches them.
func exportOrder(et *schema.EntityType, plan schema.JoinPlan, aliases map[string]string) []string {
	order := []string{store.QuoteIdent(aliases[""]) + "." + store.QuoteIdent(et.PrimaryKey)}
	var walk func(et *schema.EntityType, plan schema.JoinPlan, path []string)
	walk = func(et *schema.EntityType, plan schema.JoinPlan, path []string) {
		for _, j := range plan {
			a := et.Association(j.Name)
			if a == nil || a.TargetType == nil {
				continue
			}
			sub := appendPath(path, j.Name)
			if a.Kind.Collection() {
				if alias, ok := aliases[store.PathKey(sub)]; ok {
					order = append(order, store.QuoteIdent(alias)+"."+store.QuoteIdent(a.TargetType.PrimaryKey))
				}
			}
			walk(a.TargetType, j.Nested, sub)
		}
	}
	walk(et, plan, nil)
	return order
}
