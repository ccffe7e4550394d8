package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// DDL returns the CREATE statements for every table the registry implies,
// including has_and_belongs_to_many join tables. Statements are idempotent.
func (s *Store) DDL(reg *schema.Registry) []string {
	return ddl(s.d, reg)
}

func ddl(d dialect, reg *schema.Registry) []string {
	var (
		stmts   []string
		indexes []string
		joins   = map[string]*schema.Association{}
	)

	for _, et := range reg.Entities() {
		cols := []string{q(et.PrimaryKey) + " " + d.primaryKey()}
		for _, f := range et.StoredFields() {
			if f.Name == et.PrimaryKey {
				continue
			}
			cols = append(cols, q(f.Name)+" "+d.columnType(f.Type))
			if f.ForeignKey && f.Type == schema.TypeInteger {
				indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
					q("idx_"+et.Table+"_"+f.Name), q(et.Table), q(f.Name)))
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			q(et.Table), strings.Join(cols, ",\n\t")))

		for _, a := range et.Assocs {
			if a.Kind == schema.HasAndBelongsToMany {
				if _, ok := joins[a.JoinTable]; !ok {
					joins[a.JoinTable] = a
				}
			}
		}
	}

	names := make([]string, 0, len(joins))
	for name := range joins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := joins[name]
		keyType := d.columnType(schema.TypeInteger)
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s %s NOT NULL,\n\t%s %s NOT NULL\n)",
			q(name), q(a.ForeignKey), keyType, q(a.AssociationForeignKey), keyType))
		indexes = append(indexes, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			q("idx_"+name+"_pair"), q(name), q(a.ForeignKey), q(a.AssociationForeignKey)))
	}
	return append(stmts, indexes...)
}

// CreateSchema executes DDL in one transaction.
func (s *Store) CreateSchema(ctx context.Context, reg *schema.Registry) error {
	stmts := s.DDL(reg)
	return s.InTx(ctx, func(tx store.Tx) error {
		t := tx.(*txSession)
		for _, stmt := range stmts {
			if _, err := t.c.exec(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		return nil
	})
}
