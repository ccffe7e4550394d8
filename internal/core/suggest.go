package core

import (
	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// MaxSuggestDepth bounds Suggest when hops is negative.
const MaxSuggestDepth = 8

var timestampFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// link identifies a foreign key by the column and the entity holding it.
// Suggest never rides a link it already came in on.
type link struct {
	fk     string
	holder *schema.EntityType
}

// Suggest proposes a template for et: its own fields plus one unique
// column of every belongs-to target. With hops > 0 associated entities are
// expanded that many levels; a negative hops expands as far as possible.
// doHasMany includes has_one and has_many associations as well.
func Suggest(et *schema.EntityType, hops int, doHasMany bool) *Template {
	if hops < 0 {
		hops = MaxSuggestDepth
	}
	items, required := suggestItems(et, hops, doHasMany, nil, "")
	return &Template{
		All:      items,
		Uniques:  [][]string{{suggestUnique(et, "")}},
		Required: required,
	}
}

func suggestItems(et *schema.EntityType, hops int, doHasMany bool, poison []link, path string) ([]Item, []string) {
	var (
		items    []Item
		required []string
	)
	for _, f := range et.Fields {
		if f.Virtual || f.ForeignKey || f.Name == et.PrimaryKey || timestampFields[f.Name] {
			continue
		}
		items = append(items, Col(f.Name))
		if f.Required {
			required = append(required, path+f.Name)
		}
	}

	for _, a := range et.Assocs {
		target := a.TargetType
		if target == nil {
			continue
		}
		var (
			in     link
			isMany bool
		)
		switch a.Kind {
		case schema.BelongsTo:
			in = link{a.ForeignKey, et}
		case schema.HasOne, schema.HasMany:
			if !doHasMany {
				continue
			}
			in = link{a.ForeignKey, target}
			isMany = true
		default:
			continue
		}
		if poisoned(poison, in) {
			continue
		}

		sub := path + a.Name + "_"
		if hops == 0 {
			excluded := ""
			if isMany {
				excluded = a.ForeignKey
			}
			items = append(items, Assoc(a.Name, Col(suggestUnique(target, excluded))))
			for _, f := range target.Fields {
				if f.Required && !f.Virtual {
					required = append(required, sub+f.Name)
				}
			}
			continue
		}

		next := append([]link(nil), poison...)
		if isMany {
			next = append(next, in)
		} else {
			for _, bt := range et.BelongsTos() {
				if bt.TargetType == target {
					next = append(next, link{bt.ForeignKey, et})
				}
			}
		}
		nested, req := suggestItems(target, hops-1, doHasMany, next, sub)
		items = append(items, Assoc(a.Name, nested...))
		required = append(required, req...)
	}
	return items, required
}

func poisoned(poison []link, l link) bool {
	for _, p := range poison {
		if p == l {
			return true
		}
	}
	return false
}

// suggestUnique picks the column most likely to identify a record: the first
// required string, the first string, the first required column, the first
// column, and finally the primary key.
func suggestUnique(et *schema.EntityType, excluded string) string {
	var fields []*schema.Field
	for _, f := range et.Fields {
		if !f.Virtual && f.Name != excluded {
			fields = append(fields, f)
		}
	}
	usable := func(f *schema.Field) bool {
		return f.Name != et.PrimaryKey && !timestampFields[f.Name]
	}

	for _, pick := range []func(*schema.Field) bool{
		func(f *schema.Field) bool { return f.Required && f.Type == schema.TypeString },
		func(f *schema.Field) bool { return f.Type == schema.TypeString },
		func(f *schema.Field) bool { return f.Required && usable(f) },
		usable,
	} {
		for _, f := range fields {
			if pick(f) {
				return f.Name
			}
		}
	}
	return et.PrimaryKey
}
