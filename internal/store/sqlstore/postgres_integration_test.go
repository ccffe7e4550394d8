//go:build integration

package sqlstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rowgraph"),
		postgres.WithUsername("rowgraph"),
		postgres.WithPassword("rowgraph"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := Open(ctx, DriverPostgres, url, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgres_RoundTrip(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	reg, err := schema.Load(strings.NewReader(testSchema))
	require.NoError(t, err)
	require.NoError(t, st.CreateSchema(ctx, reg))
	require.NoError(t, st.CreateSchema(ctx, reg))

	parentType, _ := reg.Entity("Parent")
	childType, _ := reg.Entity("Child")
	recipeType, _ := reg.Entity("Recipe")
	tagType, _ := reg.Entity("Tag")

	homer := entity.New(parentType)
	require.NoError(t, homer.Assign("firstname", "Homer"))
	require.NoError(t, st.Save(ctx, homer))

	bart := entity.New(childType)
	require.NoError(t, bart.Assign("firstname", "Bart"))
	require.NoError(t, bart.Assign("dateofbirth", "2002-11-11"))
	require.NoError(t, bart.Assign("good", "n"))
	bart.SetParent(childType.Association("parent"), homer)
	require.NoError(t, st.Save(ctx, bart))

	got, err := st.FindLatest(ctx, childType, store.Criteria{"firstname": "Bart", "parent_id": homer.ID()})
	require.NoError(t, err)
	assert.Equal(t, "2002-11-11", got.String("dateofbirth"))
	assert.Equal(t, false, got.Get("good"))

	jq, err := st.Join(parentType, schema.JoinPlan{{Name: "children"}}, store.JoinOptions{})
	require.NoError(t, err)
	rows, err := jq.Select(ctx, []string{`"children"."dateofbirth"`}, []string{`"parents"."id"`})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, err := entity.Decode(schema.TypeDate, rows[0][0])
	require.NoError(t, err)
	assert.Equal(t, "2002-11-11", entity.Format(schema.TypeDate, v))

	soup := entity.New(recipeType)
	soup.Set("name", "Soup")
	require.NoError(t, st.Save(ctx, soup))
	hot := entity.New(tagType)
	hot.Set("label", "hot")
	require.NoError(t, st.Save(ctx, hot))

	tags := recipeType.Association("tags")
	require.NoError(t, st.Link(ctx, tags, soup.ID(), hot.ID()))
	assert.ErrorIs(t, st.Link(ctx, tags, soup.ID(), hot.ID()), store.ErrDuplicate)
}
