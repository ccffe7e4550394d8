package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syms(res *Resolution) []string {
	out := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		out[i] = c.Sym()
	}
	return out
}

func titles(res *Resolution) []string {
	out := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		out[i] = c.Title()
	}
	return out
}

func TestResolve_NestedColumns(t *testing.T) {
	f := newFixture(t)

	res, err := Resolve(f.reg, f.templates, f.entity(t, "Fluxor"), fluxorTemplate())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"name", "widget_name", "widget_a_text", "widget_an_integer", "widget_a_float", "widget_a_decimal",
		"widget_a_datetime", "widget_a_time", "widget_a_date", "widget_a_boolean", "widget_wotsit_name",
	}, syms(res))
	assert.Equal(t, "Widget Wotsit Name", res.Column("widget_wotsit_name").Title())
	assert.Equal(t, []string{"widget", "wotsit"}, res.Column("widget_wotsit_name").Path())
	assert.Equal(t, f.entity(t, "Wotsit"), res.Column("widget_wotsit_name").Owner)
	assert.Nil(t, res.Column("missing"))

	require.Len(t, res.Joins, 1)
	widget := res.Joins.Child("widget")
	require.NotNil(t, widget)
	assert.NotNil(t, widget.Nested.Child("wotsit"))
}

func TestResolve_InheritsDefaultTemplate(t *testing.T) {
	f := newFixture(t)
	// The null inside the default is ignored rather than recursing.
	f.templates.Register("Child", &Template{All: []Item{Col("firstname"), Col("dateofbirth"), Inherit()}})

	tmpl := &Template{All: []Item{Inherit(), Col("firstname"), Assoc("children", Inherit())}}
	res, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)
	require.NoError(t, err)

	assert.Equal(t, []string{"firstname", "children_firstname", "children_dateofbirth"}, syms(res))
	assert.Equal(t, []string{"Firstname", "Children Firstname", "Children Dateofbirth"}, titles(res))
}

func TestResolve_Errors(t *testing.T) {
	f := newFixture(t)

	t.Run("missing default template", func(t *testing.T) {
		tmpl := &Template{All: []Item{Col("firstname"), Assoc("children", Inherit())}}
		_, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)

		var missing *MissingDefaultTemplateError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "Child", missing.Entity)
		assert.Equal(t, []string{"children"}, missing.Path)
		assert.Equal(t, "TPL002", MapError(err).Code)
	})

	t.Run("defaults inherit each other", func(t *testing.T) {
		f := newFixture(t)
		f.templates.Register("Parent", &Template{All: []Item{Col("firstname"), Assoc("children", Inherit())}})
		f.templates.Register("Child", &Template{All: []Item{Col("firstname"), Assoc("parent", Inherit())}})

		tmpl := &Template{All: []Item{Col("firstname"), Assoc("children", Inherit())}}
		_, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)

		var cycle *TemplateCycleError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, "Child", cycle.Entity)
		assert.Equal(t, []string{"children", "parent", "children"}, cycle.Path)
		assert.Equal(t, "TPL005", MapError(err).Code)
	})

	t.Run("registered default used as the root", func(t *testing.T) {
		f := newFixture(t)
		tmpl := &Template{All: []Item{Col("firstname"), Assoc("children", Col("firstname"), Assoc("parent", Inherit()))}}
		f.templates.Register("Parent", tmpl)

		_, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)
		var cycle *TemplateCycleError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, "Parent", cycle.Entity)
	})

	t.Run("sibling associations share a default", func(t *testing.T) {
		f := newFixture(t)
		f.templates.Register("Child", &Template{All: []Item{Col("firstname"), Assoc("parent", Col("lastname"))}})

		tmpl := &Template{All: []Item{Col("firstname"), Assoc("children", Inherit(), Assoc("parent", Col("address")))}}
		res, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)
		require.NoError(t, err)
		assert.Equal(t, []string{"firstname", "children_firstname", "children_parent_lastname", "children_parent_address"}, syms(res))
	})

	t.Run("unknown association", func(t *testing.T) {
		tmpl := &Template{All: []Item{Col("firstname"), Assoc("pets", Col("name"))}}
		_, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)

		var unknown *UnknownAssociationError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "Parent", unknown.Entity)
		assert.Equal(t, "pets", unknown.Name)
		assert.Equal(t, "TPL001", MapError(err).Code)
	})

	t.Run("duplicate column", func(t *testing.T) {
		tmpl := &Template{All: Cols("firstname", "lastname", "firstname")}
		_, err := Resolve(f.reg, f.templates, f.entity(t, "Parent"), tmpl)

		var dup *DuplicateColumnError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "firstname", dup.Sym)
	})
}

func TestResolutionCache(t *testing.T) {
	f := newFixture(t)
	cache := NewResolutionCache(f.reg, f.templates)
	tmpl := simpsonsTemplate()

	a, err := cache.Resolve(f.entity(t, "Parent"), tmpl)
	require.NoError(t, err)
	b, err := cache.Resolve(f.entity(t, "Parent"), tmpl)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := cache.Resolve(f.entity(t, "Parent"), simpsonsTemplate())
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}
