package core

import (
	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// Resolution is a template flattened against the schema: its columns in
// template order and the joins they need.
type Resolution struct {
	Columns []*Column
	Joins   schema.JoinPlan
}

// Column returns the first column with the given symbol.
func (r *Resolution) Column(sym string) *Column {
	for _, c := range r.Columns {
		if c.Sym() == sym {
			return c
		}
	}
	return nil
}

// Resolve walks tmpl from the root entity et. Each level returns its own
// columns and join nodes; nothing is shared between calls.
func Resolve(meta schema.MetadataProvider, defaults TemplateSource, et *schema.EntityType, tmpl *Template) (*Resolution, error) {
	r := &resolver{meta: meta, defaults: defaults, expanding: map[*Template]bool{tmpl: true}}
	cols, joins, err := r.items(et, tmpl.All, nil, nil, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Sym()] {
			return nil, &DuplicateColumnError{Sym: c.Sym()}
		}
		seen[c.Sym()] = true
	}
	return &Resolution{Columns: cols, Joins: joins}, nil
}

type resolver struct {
	meta     schema.MetadataProvider
	defaults TemplateSource

	// templates currently being expanded on the path from the root
	expanding map[*Template]bool
}

func (r *resolver) items(owner *schema.EntityType, items []Item, path []string, assocs []*schema.Association, inherited bool) ([]*Column, schema.JoinPlan, error) {
	var (
		cols  []*Column
		joins schema.JoinPlan
	)
	for _, it := range items {
		switch it.Kind {
		case ItemColumn:
			cols = append(cols, newColumn(it.Name, path, assocs, owner))

		case ItemInherit:
			// Nothing to inherit at the root, and an inherited template
			// cannot inherit itself again.
			if len(path) == 0 || inherited {
				continue
			}
			var def *Template
			if r.defaults != nil {
				def, _ = r.defaults.DefaultTemplate(owner)
			}
			if def == nil {
				return nil, nil, &MissingDefaultTemplateError{Entity: owner.Name, Path: path}
			}
			if r.expanding[def] {
				return nil, nil, &TemplateCycleError{Entity: owner.Name, Path: path}
			}
			r.expanding[def] = true
			sub, subJoins, err := r.items(owner, def.All, path, assocs, true)
			delete(r.expanding, def)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, sub...)
			joins = joins.Merge(subJoins)

		case ItemAssoc:
			a, ok := r.meta.Association(owner, it.Name)
			if !ok {
				return nil, nil, &UnknownAssociationError{Entity: owner.Name, Name: it.Name}
			}
			if a.TargetType == nil {
				return nil, nil, &UnknownAssociationError{Entity: owner.Name, Name: it.Name, Reason: "is polymorphic and cannot be traversed"}
			}
			subPath := append(append([]string(nil), path...), it.Name)
			subAssocs := append(append([]*schema.Association(nil), assocs...), a)
			sub, subJoins, err := r.items(a.TargetType, it.Sub, subPath, subAssocs, false)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, sub...)
			joins = joins.Merge(schema.JoinPlan{{Name: it.Name, Nested: subJoins}})
		}
	}
	return cols, joins, nil
}

// ResolutionCache memoises resolutions and unique keys for the length of
// one import or export call.
type ResolutionCache struct {
	meta     schema.MetadataProvider
	defaults TemplateSource

	resolved map[resolutionKey]*Resolution
}

type resolutionKey struct {
	et   *schema.EntityType
	tmpl *Template
}

// NewResolutionCache returns an empty cache.
func NewResolutionCache(meta schema.MetadataProvider, defaults TemplateSource) *ResolutionCache {
	return &ResolutionCache{
		meta:     meta,
		defaults: defaults,
		resolved: make(map[resolutionKey]*Resolution),
	}
}

// Resolve is the memoised form of the package-level Resolve.
func (c *ResolutionCache) Resolve(et *schema.EntityType, tmpl *Template) (*Resolution, error) {
	k := resolutionKey{et, tmpl}
	if r, ok := c.resolved[k]; ok {
		return r, nil
	}
	r, err := Resolve(c.meta, c.defaults, et, tmpl)
	if err != nil {
		return nil, err
	}
	c.resolved[k] = r
	return r, nil
}
