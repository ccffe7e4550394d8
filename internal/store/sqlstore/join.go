package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// maxAliasLen is the PostgreSQL identifier limit.
const maxAliasLen = 63

// joinQuery is a FROM clause with its table aliases.
type joinQuery struct {
	s       *session
	from    string
	args    *args
	aliases map[string]string
}

// joinBuilder names tables the way ActiveRecord does: the first use of a
// table keeps its own name, later uses are called "<association>_<parent>",
// numbered when that is taken as well.
type joinBuilder struct {
	kind    string
	used    map[string]bool
	aliases map[string]string
	clauses []string
	args    *args
}

func (s *session) Join(et *schema.EntityType, plan schema.JoinPlan, opts store.JoinOptions) (store.JoinQuery, error) {
	b := &joinBuilder{
		kind:    "LEFT OUTER JOIN",
		used:    map[string]bool{et.Table: true},
		aliases: map[string]string{"": et.Table},
		args:    &args{d: s.d},
	}
	if opts.Inner {
		b.kind = "INNER JOIN"
	}
	if err := b.walk(et, et.Table, nil, plan); err != nil {
		return nil, err
	}

	from := q(et.Table)
	if len(b.clauses) > 0 {
		from += " " + strings.Join(b.clauses, " ")
	}
	return &joinQuery{s: s, from: from, args: b.args, aliases: b.aliases}, nil
}

func (b *joinBuilder) alias(table, assoc, parent string) string {
	name := table
	if b.used[name] {
		name = schema.Plural(assoc) + "_" + parent
		if len(name) > maxAliasLen {
			name = name[:maxAliasLen]
		}
		base := name
		for i := 2; b.used[name]; i++ {
			suffix := "_" + strconv.Itoa(i)
			if len(base)+len(suffix) > maxAliasLen {
				base = base[:maxAliasLen-len(suffix)]
			}
			name = base + suffix
		}
	}
	b.used[name] = true
	return name
}

func (b *joinBuilder) join(table, alias string, conds ...string) {
	target := q(table)
	if alias != table {
		target += " " + q(alias)
	}
	b.clauses = append(b.clauses, fmt.Sprintf("%s %s ON %s", b.kind, target, strings.Join(conds, " AND ")))
}

func col(alias, name string) string { return q(alias) + "." + q(name) }

func (b *joinBuilder) walk(et *schema.EntityType, parent string, path []string, plan schema.JoinPlan) error {
	for _, j := range plan {
		a := et.Association(j.Name)
		if a == nil {
			return fmt.Errorf("%s has no association %q", et.Name, j.Name)
		}
		target := a.TargetType
		if target == nil {
			return fmt.Errorf("%s.%s: %w", et.Name, a.Name, store.ErrUnsupportedJoin)
		}

		var alias string
		switch a.Kind {
		case schema.BelongsTo:
			alias = b.alias(target.Table, a.Name, parent)
			b.join(target.Table, alias, col(alias, target.PrimaryKey)+" = "+col(parent, a.ForeignKey))

		case schema.HasOne, schema.HasMany:
			alias = b.alias(target.Table, a.Name, parent)
			conds := []string{col(alias, a.ForeignKey) + " = " + col(parent, et.PrimaryKey)}
			if a.ForeignType != "" {
				conds = append(conds, col(alias, a.ForeignType)+" = "+b.args.add(et.Name))
			}
			b.join(target.Table, alias, conds...)

		case schema.HasAndBelongsToMany:
			mid := b.alias(a.JoinTable, a.Name+"_join", parent)
			b.join(a.JoinTable, mid, col(mid, a.ForeignKey)+" = "+col(parent, et.PrimaryKey))
			alias = b.alias(target.Table, a.Name, parent)
			b.join(target.Table, alias, col(alias, target.PrimaryKey)+" = "+col(mid, a.AssociationForeignKey))

		case schema.HasManyThrough:
			through, source := a.ThroughAssoc(), a.SourceAssoc()
			if through == nil || source == nil {
				return fmt.Errorf("%s.%s: unresolved through association", et.Name, a.Name)
			}
			mid := b.alias(through.TargetType.Table, through.Name, parent)
			conds := []string{col(mid, through.ForeignKey) + " = " + col(parent, et.PrimaryKey)}
			if through.ForeignType != "" {
				conds = append(conds, col(mid, through.ForeignType)+" = "+b.args.add(et.Name))
			}
			b.join(through.TargetType.Table, mid, conds...)

			alias = b.alias(target.Table, a.Name, parent)
			conds = []string{col(alias, target.PrimaryKey) + " = " + col(mid, source.ForeignKey)}
			if source.Polymorphic {
				conds = append(conds, col(mid, source.ForeignType)+" = "+b.args.add(target.Name))
			}
			b.join(target.Table, alias, conds...)

		default:
			return fmt.Errorf("%s.%s: %w", et.Name, a.Name, store.ErrUnsupportedJoin)
		}

		sub := append(append([]string(nil), path...), j.Name)
		b.aliases[store.PathKey(sub)] = alias
		if err := b.walk(target, alias, sub, j.Nested); err != nil {
			return err
		}
	}
	return nil
}

func (jq *joinQuery) Aliases() map[string]string {
	out := make(map[string]string, len(jq.aliases))
	for k, v := range jq.aliases {
		out[k] = v
	}
	return out
}

func (jq *joinQuery) Select(ctx context.Context, projection, orderBy []string) ([][]any, error) {
	query := "SELECT " + strings.Join(projection, ", ") + " FROM " + jq.from
	if len(orderBy) > 0 {
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	}
	r, err := jq.s.c.query(ctx, query, jq.args.vals...)
	if err != nil {
		return nil, fmt.Errorf("export query: %w", err)
	}
	return collect(r)
}
