package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/router"
)

func usersMapping(t *testing.T) *mapping.Mapping {
	t.Helper()
	m, err := mapping.ParseFile([]byte(`
name = "users"
version = 1
columns = ["id", "name", "status"]

[source]
schema = "public"
relation = "users"

[id]
column = "id"
type = "uint"

[membership]
mode = "dsl"
expr = "status = 'active'"

[target]
namespace = "users"

[versioning]
mode = "source_lsn"
`))
	require.NoError(t, err)
	return m
}

func newRegistryWith(m *mapping.Mapping) *mapping.Registry {
	reg := mapping.NewRegistry()
	reg.Load(m)
	return reg
}

func TestRouterInsertIn(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op:       change.OpInsert,
		Schema:   "public",
		Relation: "users",
		New: change.Row{
			"id":     change.Int(1),
			"name":   change.String("A"),
			"status": change.String("active"),
		},
		LSN: 10,
	}

	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, routed, 1)
	require.Equal(t, router.KindTransform, routed[0].Kind)
}

func TestRouterInsertOut(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpInsert, Schema: "public", Relation: "users",
		New: change.Row{"id": change.Int(1), "status": change.String("inactive")},
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Empty(t, routed)
}

func TestRouterUpdateInToOutEmitsSyntheticDelete(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpUpdate, Schema: "public", Relation: "users",
		Old: change.Row{"id": change.Int(1), "status": change.String("active")},
		New: change.Row{"id": change.Int(1), "status": change.String("inactive")},
		LSN: 20,
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, routed, 1)
	require.Equal(t, router.KindSyntheticDelete, routed[0].Kind)
	require.Equal(t, "1", routed[0].DeleteID.Raw)
	require.Equal(t, change.LSN(20), routed[0].DeleteLSN)
}

func TestRouterUpdateOutToInEmitsUpsert(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpUpdate, Schema: "public", Relation: "users",
		Old: change.Row{"id": change.Int(1), "status": change.String("inactive")},
		New: change.Row{"id": change.Int(1), "status": change.String("active")},
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, routed, 1)
	require.Equal(t, router.KindTransform, routed[0].Kind)
}

func TestRouterUpdateOutToOutDrops(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpUpdate, Schema: "public", Relation: "users",
		Old: change.Row{"id": change.Int(1), "status": change.String("inactive")},
		New: change.Row{"id": change.Int(1), "status": change.String("disabled")},
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Empty(t, routed)
}

func TestRouterDeleteInEmitsDelete(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpDelete, Schema: "public", Relation: "users",
		Old: change.Row{"id": change.Int(1), "status": change.String("active")},
		LSN: 30,
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, routed, 1)
	require.Equal(t, router.KindSyntheticDelete, routed[0].Kind)
}

func TestRouterDeleteOutDrops(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpDelete, Schema: "public", Relation: "users",
		Old: change.Row{"id": change.Int(1), "status": change.String("inactive")},
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Empty(t, routed)
}

func TestRouterNoMatchingMappingReturnsEmpty(t *testing.T) {
	m := usersMapping(t)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{Op: change.OpInsert, Schema: "public", Relation: "other_table"}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Empty(t, routed)
}

// Scenario 5 from spec.md 8: predicate on a two-column guard.
func TestRouterScenario5DeletedAtAndArchivedGuard(t *testing.T) {
	m, err := mapping.ParseFile([]byte(`
name = "docs"
version = 1
columns = ["id", "archived", "deleted_at"]

[source]
schema = "public"
relation = "docs"

[id]
column = "id"
type = "uint"

[membership]
mode = "dsl"
expr = "deleted_at IS NULL AND archived = false"

[target]
namespace = "docs"

[versioning]
mode = "source_lsn"
`))
	require.NoError(t, err)
	r := router.New(newRegistryWith(m), nil)

	c := change.Change{
		Op: change.OpUpdate, Schema: "public", Relation: "docs",
		Old: change.Row{"id": change.Int(1), "archived": change.Bool(false), "deleted_at": change.Null()},
		New: change.Row{"id": change.Int(1), "archived": change.Bool(true), "deleted_at": change.Null()},
	}
	routed, err := r.Dispatch(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, routed, 1)
	require.Equal(t, router.KindSyntheticDelete, routed[0].Kind)
}
