package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rowgraph/internal/schema"
)

const widgetYAML = `
entities:
  - name: Widget
    fields:
      - {name: name, required: true, exclude: [Biglet]}
      - {name: code, normalize: upcase}
      - {name: an_integer, type: integer}
      - {name: a_boolean, type: boolean}
      - {name: label, virtual: true}
  - name: Wotsit
    fields:
      - {name: name}
    associations:
      - {name: widget, kind: belongs_to}
  - name: Gizmo
    associations:
      - {name: owner, kind: belongs_to, polymorphic: true, optional: true}
`

func widgetTypes(t *testing.T) (*schema.Registry, *schema.EntityType, *schema.EntityType) {
	t.Helper()
	reg, err := schema.Load(strings.NewReader(widgetYAML))
	require.NoError(t, err)
	require.NoError(t, reg.SetCompute("Widget", "label", func(get func(string) any) any {
		return "widget:" + Format(schema.TypeString, get("name"))
	}))
	w, _ := reg.Entity("Widget")
	ws, _ := reg.Entity("Wotsit")
	return reg, w, ws
}

func TestAssign_TypedValues(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := New(widget)

	require.NoError(t, e.Assign("name", " Budget Widget "))
	require.NoError(t, e.Assign("an_integer", "420"))
	require.NoError(t, e.Assign("a_boolean", "F"))

	assert.Equal(t, "Budget Widget", e.Get("name"))
	assert.Equal(t, int64(420), e.Get("an_integer"))
	assert.Equal(t, false, e.Get("a_boolean"))
	assert.Equal(t, "widget:Budget Widget", e.Get("label"))
	assert.True(t, e.NewRecord())
	assert.Nil(t, e.Get("id"))
}

func TestAssign_BlankBooleanLeavesValue(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := FromRow(widget, 7, map[string]any{"name": "Squidget", "a_boolean": true})

	require.NoError(t, e.Assign("a_boolean", "  "))
	assert.Equal(t, true, e.Get("a_boolean"))
	assert.False(t, e.Changed())
}

func TestAssign_ParseError(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := New(widget)

	err := e.Assign("an_integer", "lots")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "an_integer", pe.Field)
	assert.Equal(t, `Integer value "lots" in column 2 not recognized`, pe.Message(2))

	assert.Error(t, e.Assign("nope", "x"))
}

func TestSet_ChangeTracking(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := FromRow(widget, 3, map[string]any{"name": "Budget Widget", "an_integer": int64(100)})

	e.Set("an_integer", int64(100))
	assert.False(t, e.Changed(), "same value is not a change")

	e.Set("an_integer", int64(420))
	assert.Equal(t, []string{"an_integer"}, e.ChangedFields())

	e.MarkSaved(3)
	assert.False(t, e.Changed())
	assert.Equal(t, int64(3), e.ID())
	assert.False(t, e.NewRecord())
}

func TestMatches(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := FromRow(widget, 1, map[string]any{"name": "Budget Widget", "an_integer": int64(420), "a_boolean": false})

	assert.True(t, e.Matches(map[string]string{"name": "Budget Widget"}))
	assert.True(t, e.Matches(map[string]string{"an_integer": "420.0", "a_boolean": "F"}))
	assert.False(t, e.Matches(map[string]string{"name": "Squidget Widget"}))
	assert.True(t, e.Matches(map[string]string{"id": "1"}))
	assert.True(t, e.Matches(map[string]string{"label": "widget:Budget Widget"}))
}

func TestValidate(t *testing.T) {
	_, widget, wotsit := widgetTypes(t)

	t.Run("required", func(t *testing.T) {
		err := New(widget).Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"can't be blank"}, verr.Fields["name"])
	})

	t.Run("excluded value", func(t *testing.T) {
		e := New(widget)
		e.Set("name", "Biglet")
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name is reserved")
	})

	t.Run("mandatory parent", func(t *testing.T) {
		w := New(wotsit)
		w.Set("name", "Mr. Wotsit")
		err := w.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "widget must exist")

		w.SetParent(wotsit.Association("widget"), New(widget))
		assert.NoError(t, w.Validate(), "an unsaved parent satisfies the link")
	})

	t.Run("valid", func(t *testing.T) {
		e := New(widget)
		e.Set("name", "Squidget Widget")
		assert.NoError(t, e.Validate())
	})
}

func TestSyncForeignKeys(t *testing.T) {
	reg, widget, wotsit := widgetTypes(t)

	parent := New(widget)
	child := New(wotsit)
	child.SetParent(wotsit.Association("widget"), parent)
	assert.Nil(t, child.Get("widget_id"), "unsaved parent has no key yet")

	parent.MarkSaved(12)
	child.SyncForeignKeys()
	assert.Equal(t, int64(12), child.Get("widget_id"))
	assert.Same(t, parent, child.Parent("widget"))

	gizmo, _ := reg.Entity("Gizmo")
	g := New(gizmo)
	g.SetParent(gizmo.Association("owner"), parent)
	assert.Equal(t, int64(12), g.Get("owner_id"))
	assert.Equal(t, "Widget", g.Get("owner_type"))
}

func TestNormalize(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	e := New(widget)
	e.Set("code", "abc-1")
	e.Normalize()
	assert.Equal(t, "ABC-1", e.Get("code"))
}

func TestSetters_Cached(t *testing.T) {
	_, widget, _ := widgetTypes(t)
	a := Setters(widget)
	b := Setters(widget)
	assert.Len(t, a, len(widget.Fields))
	assert.Equal(t, len(a), len(b))
	_, ok := a["an_integer"]
	assert.True(t, ok)
}
