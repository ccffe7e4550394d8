package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

const testSchema = `
entities:
  - name: Parent
    fields:
      - {name: firstname}
      - {name: lastname}
    associations:
      - {name: children, kind: has_many, target: Child}
  - name: Child
    table: children
    fields:
      - {name: firstname}
      - {name: dateofbirth, type: date}
      - {name: good, type: boolean}
    associations:
      - {name: parent, kind: belongs_to}
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
      - {name: cost, type: decimal}
  - name: IngredientRecipe
    associations:
      - {name: recipe, kind: belongs_to}
      - {name: ingredient, kind: belongs_to}
  - name: Tag
    fields:
      - {name: label}
`

type fixture struct {
	ctx context.Context
	st  *Store
	reg *schema.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg, err := schema.Load(strings.NewReader(testSchema))
	require.NoError(t, err)

	st, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "store.db"), PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateSchema(ctx, reg))
	return &fixture{ctx: ctx, st: st, reg: reg}
}

func (f *fixture) entity(t *testing.T, name string) *schema.EntityType {
	t.Helper()
	et, ok := f.reg.Entity(name)
	require.True(t, ok, name)
	return et
}

func (f *fixture) create(t *testing.T, name string, fields map[string]string) *entity.Entity {
	t.Helper()
	e := entity.New(f.entity(t, name))
	for k, v := range fields {
		require.NoError(t, e.Assign(k, v))
	}
	require.NoError(t, f.st.Save(f.ctx, e))
	return e
}

func TestCreateSchema_Idempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.CreateSchema(f.ctx, f.reg))

	stmts := f.st.DDL(f.reg)
	joined := strings.Join(stmts, "\n")
	assert.Contains(t, joined, `CREATE TABLE IF NOT EXISTS "recipes_tags"`)
	assert.Contains(t, joined, `"parent_id" INTEGER`)
	assert.Contains(t, joined, `"dateofbirth" DATE`)
}

func TestSave_InsertAndUpdate(t *testing.T) {
	f := newFixture(t)
	child := f.entity(t, "Child")

	e := f.create(t, "Child", map[string]string{"firstname": "Bart", "dateofbirth": "2002-11-11", "good": "no"})
	require.False(t, e.NewRecord())

	got, err := f.st.Get(f.ctx, child, e.ID())
	require.NoError(t, err)
	assert.Equal(t, "Bart", got.Get("firstname"))
	assert.Equal(t, "2002-11-11", got.String("dateofbirth"))
	assert.Equal(t, false, got.Get("good"))

	require.NoError(t, got.Assign("good", "yes"))
	require.NoError(t, f.st.Save(f.ctx, got))

	again, err := f.st.Get(f.ctx, child, e.ID())
	require.NoError(t, err)
	assert.Equal(t, true, again.Get("good"))

	_, err = f.st.Get(f.ctx, child, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindLatest_HighestKeyWins(t *testing.T) {
	f := newFixture(t)
	child := f.entity(t, "Child")

	f.create(t, "Child", map[string]string{"firstname": "Lisa"})
	second := f.create(t, "Child", map[string]string{"firstname": "Lisa"})
	f.create(t, "Child", map[string]string{"firstname": "Ralph"})

	got, err := f.st.FindLatest(f.ctx, child, store.Criteria{"firstname": "Lisa"})
	require.NoError(t, err)
	assert.Equal(t, second.ID(), got.ID())

	_, err = f.st.FindLatest(f.ctx, child, store.Criteria{"firstname": "Maggie"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err = f.st.FindLatest(f.ctx, child, store.Criteria{"dateofbirth": nil, "firstname": "Ralph"})
	require.NoError(t, err)
	assert.Equal(t, "Ralph", got.Get("firstname"))

	_, err = f.st.FindLatest(f.ctx, child, store.Criteria{"nickname": "El Barto"})
	assert.Error(t, err)
}

func TestPluckAndCount(t *testing.T) {
	f := newFixture(t)
	parent := f.entity(t, "Parent")

	homer := f.create(t, "Parent", map[string]string{"firstname": "Homer", "lastname": "Simpson"})
	marge := f.create(t, "Parent", map[string]string{"firstname": "Marge", "lastname": "Simpson"})

	rows, err := f.st.Pluck(f.ctx, parent, "firstname")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{homer.ID(), "Homer"}, {marge.ID(), "Marge"}}, rows)

	n, err := f.st.Count(f.ctx, parent, store.Criteria{"lastname": "Simpson"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFindPrefix_EscapesWildcards(t *testing.T) {
	f := newFixture(t)
	tag := f.entity(t, "Tag")

	f.create(t, "Tag", map[string]string{"label": "100% beef"})
	f.create(t, "Tag", map[string]string{"label": "1000 island"})

	found, err := f.st.FindPrefix(f.ctx, tag, "label", "100%", 2)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100% beef", found[0].Get("label"))

	found, err = f.st.FindPrefix(f.ctx, tag, "label", "100", 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestChildren(t *testing.T) {
	f := newFixture(t)
	parentType := f.entity(t, "Parent")
	recipeType := f.entity(t, "Recipe")
	joinType := f.entity(t, "IngredientRecipe")

	homer := f.create(t, "Parent", map[string]string{"firstname": "Homer"})
	for _, name := range []string{"Bart", "Lisa"} {
		c := entity.New(f.entity(t, "Child"))
		require.NoError(t, c.Assign("firstname", name))
		c.SetParent(c.Type.Association("parent"), homer)
		require.NoError(t, f.st.Save(f.ctx, c))
	}

	kids, err := f.st.Children(f.ctx, parentType.Association("children"), homer)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "Bart", kids[0].Get("firstname"))
	assert.Equal(t, "Lisa", kids[1].Get("firstname"))

	soup := f.create(t, "Recipe", map[string]string{"name": "Soup"})
	leek := f.create(t, "Ingredient", map[string]string{"name": "Leek", "cost": "1.50"})
	link := entity.New(joinType)
	link.SetParent(joinType.Association("recipe"), soup)
	link.SetParent(joinType.Association("ingredient"), leek)
	require.NoError(t, f.st.Save(f.ctx, link))

	ingredients, err := f.st.Children(f.ctx, recipeType.Association("ingredients"), soup)
	require.NoError(t, err)
	require.Len(t, ingredients, 1)
	assert.Equal(t, "Leek", ingredients[0].Get("name"))
	assert.Equal(t, "1.5", ingredients[0].Get("cost"))

	hot := f.create(t, "Tag", map[string]string{"label": "hot"})
	tags := recipeType.Association("tags")
	linked, err := f.st.Linked(f.ctx, tags, soup.ID(), hot.ID())
	require.NoError(t, err)
	assert.False(t, linked)

	require.NoError(t, f.st.Link(f.ctx, tags, soup.ID(), hot.ID()))
	err = f.st.Link(f.ctx, tags, soup.ID(), hot.ID())
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := f.st.Children(f.ctx, tags, soup)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hot", got[0].Get("label"))

	none, err := f.st.Children(f.ctx, tags, entity.New(recipeType))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJoin_AliasesAndSelect(t *testing.T) {
	f := newFixture(t)
	parentType := f.entity(t, "Parent")

	homer := f.create(t, "Parent", map[string]string{"firstname": "Homer"})
	f.create(t, "Parent", map[string]string{"firstname": "Ned"})
	for _, name := range []string{"Bart", "Lisa"} {
		c := entity.New(f.entity(t, "Child"))
		require.NoError(t, c.Assign("firstname", name))
		c.SetParent(c.Type.Association("parent"), homer)
		require.NoError(t, f.st.Save(f.ctx, c))
	}

	plan := schema.JoinPlan{{Name: "children", Nested: schema.JoinPlan{{Name: "parent"}}}}
	jq, err := f.st.Join(parentType, plan, store.JoinOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"":                 "parents",
		"children_":        "children",
		"children_parent_": "parents_children",
	}, jq.Aliases())

	rows, err := jq.Select(f.ctx,
		[]string{`"parents"."firstname"`, `"children"."firstname"`, `"parents_children"."firstname"`},
		[]string{`"parents"."id"`, `"children"."id"`})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"Homer", "Bart", "Homer"}, rows[0])
	assert.Equal(t, []any{"Homer", "Lisa", "Homer"}, rows[1])
	assert.Equal(t, []any{"Ned", nil, nil}, rows[2], "outer join keeps childless parents")

	inner, err := f.st.Join(parentType, plan, store.JoinOptions{Inner: true})
	require.NoError(t, err)
	rows, err = inner.Select(f.ctx, []string{`"parents"."firstname"`}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = f.st.Join(parentType, schema.JoinPlan{{Name: "pets"}}, store.JoinOptions{})
	assert.Error(t, err)
}

func TestInTx_RollbackAndSavepoints(t *testing.T) {
	f := newFixture(t)
	tag := f.entity(t, "Tag")
	boom := errors.New("boom")

	err := f.st.InTx(f.ctx, func(tx store.Tx) error {
		e := entity.New(tag)
		e.Set("label", "lost")
		require.NoError(t, tx.Save(f.ctx, e))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := f.st.Count(f.ctx, tag, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = f.st.InTx(f.ctx, func(tx store.Tx) error {
		for i, label := range []string{"kept", "dropped"} {
			sp := "row_" + label
			require.NoError(t, tx.Savepoint(f.ctx, sp))
			e := entity.New(tag)
			e.Set("label", label)
			require.NoError(t, tx.Save(f.ctx, e))
			if i == 1 {
				require.NoError(t, tx.RollbackTo(f.ctx, sp))
			}
			require.NoError(t, tx.Release(f.ctx, sp))
		}
		return nil
	})
	require.NoError(t, err)

	all, err := f.st.FindAll(f.ctx, tag, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Get("label"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", PoolOptions{})
	assert.Error(t, err)
}
