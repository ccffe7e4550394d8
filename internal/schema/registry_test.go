package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kitchenYAML = `
entities:
  - name: Parent
    fields:
      - {name: firstname, type: string, required: true}
      - {name: lastname}
      - {name: address}
    associations:
      - {name: children, kind: has_many, target: Child}
  - name: Child
    table: children
    fields:
      - {name: firstname}
      - {name: dateofbirth, type: date}
    associations:
      - {name: parent, kind: belongs_to}
  - name: Recipe
    fields:
      - {name: name}
    associations:
      - {name: ingredient_recipes, kind: has_many}
      - {name: ingredients, kind: through, through: ingredient_recipes}
  - name: Ingredient
    fields:
      - {name: name}
  - name: IngredientRecipe
    associations:
      - {name: recipe, kind: belongs_to}
      - {name: ingredient, kind: belongs_to}
  - name: Foo
    associations:
      - {name: bars, kind: habtm}
  - name: Bar
  - name: Widget
    associations:
      - {name: whatchamajiggers, kind: has_many, as: owner}
  - name: Whatchamajigger
    fields:
      - {name: name}
    associations:
      - {name: owner, kind: belongs_to, polymorphic: true, optional: true}
`

func loadKitchen(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load(strings.NewReader(kitchenYAML))
	require.NoError(t, err)
	return reg
}

func TestLoad_Conventions(t *testing.T) {
	reg := loadKitchen(t)

	parent, ok := reg.Entity("Parent")
	require.True(t, ok)
	assert.Equal(t, "parents", parent.Table)
	assert.Equal(t, "id", parent.PrimaryKey)
	assert.Equal(t, TypeString, parent.Field("lastname").Type)

	children, ok := reg.Association(parent, "children")
	require.True(t, ok)
	assert.Equal(t, HasMany, children.Kind)
	assert.Equal(t, "parent_id", children.ForeignKey)
	assert.Equal(t, "parent", children.Inverse)

	child, ok := reg.Entity("children")
	require.True(t, ok, "lookup by table name")
	fk := child.Field("parent_id")
	require.NotNil(t, fk)
	assert.True(t, fk.ForeignKey)
	assert.Equal(t, TypeInteger, fk.Type)
}

func TestLoad_Through(t *testing.T) {
	reg := loadKitchen(t)
	recipe, _ := reg.Entity("Recipe")

	a := recipe.Association("ingredients")
	require.NotNil(t, a)
	assert.Equal(t, "Ingredient", a.TargetType.Name)
	assert.Equal(t, "ingredient", a.Source)
	assert.Equal(t, "ingredient_recipes", a.ThroughAssoc().Name)
	assert.Equal(t, "ingredient_id", a.SourceAssoc().ForeignKey)

	join, _ := reg.Entity("IngredientRecipe")
	assert.Equal(t, "ingredient_recipes", join.Table)
}

func TestLoad_HABTMAndPolymorphic(t *testing.T) {
	reg := loadKitchen(t)

	foo, _ := reg.Entity("Foo")
	bars := foo.Association("bars")
	assert.Equal(t, "bars_foos", bars.JoinTable)
	assert.Equal(t, "foo_id", bars.ForeignKey)
	assert.Equal(t, "bar_id", bars.AssociationForeignKey)

	widget, _ := reg.Entity("Widget")
	w := widget.Association("whatchamajiggers")
	assert.Equal(t, "owner_id", w.ForeignKey)
	assert.Equal(t, "owner_type", w.ForeignType)
	assert.Equal(t, "owner", w.Inverse)

	wj, _ := reg.Entity("Whatchamajigger")
	owner := wj.Association("owner")
	assert.Nil(t, owner.TargetType)
	assert.NotNil(t, wj.Field("owner_type"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown target",
			doc:  "entities:\n  - name: A\n    associations:\n      - {name: b, kind: belongs_to}\n",
			want: `unknown target entity "B"`,
		},
		{
			name: "unknown kind",
			doc:  "entities:\n  - name: A\n    associations:\n      - {name: b, kind: owns}\n",
			want: "unknown association kind",
		},
		{
			name: "bad field type",
			doc:  "entities:\n  - name: A\n    fields:\n      - {name: x, type: blob}\n",
			want: `unknown field type "blob"`,
		},
		{
			name: "duplicate",
			doc:  "entities:\n  - name: A\n  - name: A\n",
			want: "already registered",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTitleize(t *testing.T) {
	tests := map[string]string{
		"firstname":           "Firstname",
		"children_firstname":  "Children Firstname",
		"widget_a_text":       "Widget A Text",
		"widget_an_integer":   "Widget An Integer",
		"widget_id":           "Widget",
		"Widget Wotsit Name":  "Widget Wotsit Name",
		"  children   name  ": "Children Name",
		"FirstName":           "First Name",
		"parent_1_firstname":  "Parent 1 Firstname",
		"CHILDREN FIRSTNAME":  "Children Firstname",
	}
	for in, want := range tests {
		assert.Equal(t, want, Titleize(in), "Titleize(%q)", in)
	}
}

func TestInflection(t *testing.T) {
	assert.Equal(t, "ingredient_recipe", Snake("IngredientRecipe"))
	assert.Equal(t, "IngredientRecipe", Camel("ingredient_recipe"))
	assert.Equal(t, "children", Plural("child"))
	assert.Equal(t, "categories", Plural("category"))
	assert.Equal(t, "keys", Plural("key"))
	assert.Equal(t, "child", Singular("children"))
	assert.Equal(t, "wotsit", Singular("wotsits"))
}

func TestJoinPlan(t *testing.T) {
	a := JoinPlan{{Name: "widget", Nested: JoinPlan{{Name: "wotsit"}}}}
	b := JoinPlan{{Name: "widget", Nested: JoinPlan{{Name: "fluxors"}}}, {Name: "owner"}}

	merged := JoinPlan(nil).Merge(a).Merge(b)
	assert.Equal(t, "{widget{wotsit,fluxors},owner}", merged.String())
	assert.Equal(t, "{widget{wotsit}}", a.String(), "merge must not alias its inputs")
}
