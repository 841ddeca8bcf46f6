package dlq_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/dlq"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

func usersMapping() *mapping.Mapping {
	return &mapping.Mapping{
		Name:           "users",
		Version:        1,
		SourceSchema:   "public",
		SourceRelation: "users",
		ID:             mapping.ID{Column: "id", Type: mapping.IDTypeUint},
		Columns:        []string{"plan"},
		Membership:     mapping.Membership{Mode: mapping.MembershipAll},
		Target:         mapping.Target{Namespace: "users-ns"},
	}
}

func registryWith(m *mapping.Mapping) *mapping.Registry {
	reg := mapping.NewRegistry()
	reg.Load(m)
	return reg
}

type fakeStore struct {
	entries map[int64]state.DLQEntry
	deleted []int64
	retried map[int64]int
}

func newFakeStore(entries ...state.DLQEntry) *fakeStore {
	s := &fakeStore{entries: map[int64]state.DLQEntry{}, retried: map[int64]int{}}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeStore) ListDLQ(_ context.Context, mappingName string, limit int) ([]state.DLQEntry, error) {
	var out []state.DLQEntry
	for _, e := range s.entries {
		if mappingName == "" || e.MappingName == mappingName {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetDLQ(_ context.Context, id int64) (state.DLQEntry, bool, error) {
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *fakeStore) IncrementRetry(_ context.Context, id int64) error {
	s.retried[id]++
	e := s.entries[id]
	e.RetryCount++
	s.entries[id] = e
	return nil
}

func (s *fakeStore) DeleteDLQ(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	delete(s.entries, id)
	return nil
}

func (s *fakeStore) ClearDLQ(_ context.Context, mappingName string, id *int64) error {
	switch {
	case id != nil:
		delete(s.entries, *id)
	case mappingName != "":
		for k, e := range s.entries {
			if e.MappingName == mappingName {
				delete(s.entries, k)
			}
		}
	default:
		s.entries = map[int64]state.DLQEntry{}
	}
	return nil
}

type fakeTarget struct {
	fail bool
}

func (f *fakeTarget) Apply(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
	out := make([]writer.RowOutcome, len(actions))
	for i, a := range actions {
		if f.fail {
			out[i] = writer.RowOutcome{Action: a, Failure: change.NewClassifiedError(change.KindTargetPermanent, "users", a.LSN, nil, errRetryFailed)}
		} else {
			out[i] = writer.RowOutcome{Action: a, Written: true}
		}
	}
	return out, nil
}

var errRetryFailed = entryError("still rejected")

type entryError string

func (e entryError) Error() string { return string(e) }

func frozenEntry(t *testing.T, id int64, mappingName string) state.DLQEntry {
	t.Helper()
	raw, err := dlq.Freeze(transform.Item{
		Change: change.Change{
			Op:       change.OpInsert,
			Schema:   "public",
			Relation: "users",
			New:      change.Row{"id": change.Int(1), "plan": change.String("pro")},
			LSN:      change.LSNZero,
		},
		ID: action.NewID("1"),
	})
	require.NoError(t, err)
	return state.DLQEntry{ID: id, MappingName: mappingName, EventJSON: raw, ErrorKind: change.KindTargetValidation}
}

func TestManagerRetryByIDDeletesOnSuccess(t *testing.T) {
	m := usersMapping()
	store := newFakeStore(frozenEntry(t, 1, "users"))

	mgr := &dlq.Manager{
		Store:       store,
		Registry:    registryWith(m),
		Transformer: transform.Identity{},
		Writer:      writer.New(&fakeTarget{fail: false}),
	}

	require.NoError(t, mgr.RetryByID(context.Background(), 1))
	require.Contains(t, store.deleted, int64(1))
	_, found, _ := store.GetDLQ(context.Background(), 1)
	require.False(t, found)
}

func TestManagerRetryByIDIncrementsOnFailure(t *testing.T) {
	m := usersMapping()
	store := newFakeStore(frozenEntry(t, 2, "users"))

	mgr := &dlq.Manager{
		Store:       store,
		Registry:    registryWith(m),
		Transformer: transform.Identity{},
		Writer:      writer.New(&fakeTarget{fail: true}),
	}

	require.Error(t, mgr.RetryByID(context.Background(), 2))
	require.Equal(t, 1, store.retried[2])
	_, found, _ := store.GetDLQ(context.Background(), 2)
	require.True(t, found)
}

func TestManagerRetryByIDTransformFailureIncrementsRetryNotBatched(t *testing.T) {
	m := usersMapping()
	store := newFakeStore(frozenEntry(t, 4, "users"))
	target := &fakeTarget{}

	mgr := &dlq.Manager{
		Store:       store,
		Registry:    registryWith(m),
		Transformer: failingTransformer{},
		Writer:      writer.New(target),
	}

	require.Error(t, mgr.RetryByID(context.Background(), 4))
	require.Equal(t, 1, store.retried[4])
	_, found, _ := store.GetDLQ(context.Background(), 4)
	require.True(t, found, "entry must stay in the DLQ rather than being deleted as if it wrote successfully")
}

type failingTransformer struct{}

func (failingTransformer) Transform(_ context.Context, _ transform.InvocationContext, _ *mapping.Mapping, _ []transform.Item) ([]action.Action, error) {
	return nil, errRetryFailed
}

func TestManagerRetryByIDUnknownMappingFails(t *testing.T) {
	store := newFakeStore(frozenEntry(t, 3, "ghost"))
	mgr := &dlq.Manager{
		Store:       store,
		Registry:    mapping.NewRegistry(),
		Transformer: transform.Identity{},
		Writer:      writer.New(&fakeTarget{}),
	}
	require.Error(t, mgr.RetryByID(context.Background(), 3))
}

func TestManagerRetryByMappingRetriesAllEntries(t *testing.T) {
	m := usersMapping()
	store := newFakeStore(frozenEntry(t, 10, "users"), frozenEntry(t, 11, "users"))

	mgr := &dlq.Manager{
		Store:       store,
		Registry:    registryWith(m),
		Transformer: transform.Identity{},
		Writer:      writer.New(&fakeTarget{fail: false}),
	}

	n, err := mgr.RetryByMapping(context.Background(), "users")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Empty(t, store.entries)
}

func TestManagerListDefaultsLimit(t *testing.T) {
	store := newFakeStore(frozenEntry(t, 20, "users"))
	mgr := &dlq.Manager{Store: store}
	out, err := mgr.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestManagerClearByID(t *testing.T) {
	store := newFakeStore(frozenEntry(t, 30, "users"))
	mgr := &dlq.Manager{Store: store}
	id := int64(30)
	require.NoError(t, mgr.Clear(context.Background(), "", &id))
	require.Empty(t, store.entries)
}
