package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
	"github.com/JonMunkholm/rowgraph/internal/store/sqlstore"
)

const testSchema = `
entities:
  - name: Parent
    fields:
      - {name: firstname}
      - {name: lastname}
      - {name: address}
    associations:
      - {name: children, kind: has_many, target: Child}
  - name: Child
    table: children
    fields:
      - {name: firstname}
      - {name: lastname}
      - {name: dateofbirth, type: date}
    associations:
      - {name: parent, kind: belongs_to}

  - name: Fluxor
    fields:
      - {name: name}
    associations:
      - {name: widget, kind: belongs_to, optional: true}
  - name: Widget
    fields:
      - {name: name, exclude: [Biglet]}
      - {name: a_text, type: text}
      - {name: an_integer, type: integer}
      - {name: a_float, type: float}
      - {name: a_decimal, type: decimal}
      - {name: a_datetime, type: datetime}
      - {name: a_time, type: time}
      - {name: a_date, type: date}
      - {name: a_boolean, type: boolean}
    associations:
      - {name: wotsit, kind: has_one}
      - {name: fluxors, kind: has_many}
  - name: Wotsit
    fields:
      - {name: name}
    associations:
      - {name: widget, kind: belongs_to}

  - name: Recipe
    fields:
      - {name: name}
    associations:
      - {name: ingredient_recipes, kind: has_many}
      - {name: ingredients, kind: through, through: ingredient_recipes}
      - {name: tags, kind: habtm}
  - name: Ingredient
    fields:
      - {name: name}
  - name: IngredientRecipe
    associations:
      - {name: recipe, kind: belongs_to}
      - {name: ingredient, kind: belongs_to}
  - name: Tag
    fields:
      - {name: label}

  - name: Country
    table: countries
    reference: true
    fields:
      - {name: name}
  - name: City
    table: cities
    fields:
      - {name: name}
    associations:
      - {name: country, kind: belongs_to, optional: true}

  - name: Subscriber
    fields:
      - {name: email, normalize: downcase, required: true}
`

type fixture struct {
	ctx       context.Context
	st        *sqlstore.Store
	reg       *schema.Registry
	templates *TemplateRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg, err := schema.Load(strings.NewReader(testSchema))
	require.NoError(t, err)

	st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "core.db"), sqlstore.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateSchema(ctx, reg))
	return &fixture{ctx: ctx, st: st, reg: reg, templates: NewTemplateRegistry()}
}

func (f *fixture) entity(t *testing.T, name string) *schema.EntityType {
	t.Helper()
	et, ok := f.reg.Entity(name)
	require.True(t, ok, name)
	return et
}

func (f *fixture) importer(opts Options) *Importer {
	return NewImporter(f.st, f.reg, f.templates, opts)
}

// importCSV runs an import of csv, one row per line.
func (f *fixture) importCSV(t *testing.T, name string, tmpl *Template, csv string) (*Result, error) {
	t.Helper()
	return f.importer(Options{}).Import(f.ctx, f.entity(t, name), tmpl, NewRows(parseCSV(csv)))
}

func (f *fixture) count(t *testing.T, name string) int64 {
	t.Helper()
	n, err := f.st.Count(f.ctx, f.entity(t, name), nil)
	require.NoError(t, err)
	return n
}

func (f *fixture) find(t *testing.T, name string, crit store.Criteria) *entity.Entity {
	t.Helper()
	e, err := f.st.FindLatest(f.ctx, f.entity(t, name), crit)
	require.NoError(t, err)
	return e
}

// names lists the values of field for each record, in id order.
func names(es []*entity.Entity, field string) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String(field)
	}
	return out
}

func rowNumbers(keys []RowKey) []int {
	out := make([]int, len(keys))
	for i, k := range keys {
		out[i] = k.Row
	}
	return out
}

// parseCSV splits a plain fixture with no quoting.
func parseCSV(s string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		rows = append(rows, strings.Split(strings.TrimSpace(line), ","))
	}
	return rows
}

func simpsonsTemplate() *Template {
	return &Template{
		All: []Item{
			Col("firstname"), Col("lastname"), Col("address"),
			Assoc("children", Cols("firstname", "lastname", "dateofbirth")...),
		},
		Uniques: [][]string{{"firstname"}, {"children_firstname"}},
	}
}

const simpsonsCSV = `
Firstname,Lastname,Address,Children Firstname,Children Lastname,Children Dateofbirth
Homer,Simpson,742 Evergreen Terrace,Bart,Simpson,2002-11-11
Homer,Simpson,742 Evergreen Terrace,Lisa,Simpson,2004-05-09
Marge,Simpson,742 Evergreen Terrace,Bart,Simpson,2002-11-11
Marge,Simpson,742 Evergreen Terrace,Lisa,Simpson,2004-05-09
Clancey,Wiggum,732 Evergreen Terrace,Ralph,Wiggum,2003-01-12
`
