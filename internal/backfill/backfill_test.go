package backfill_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/backfill"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/predicate"
	"github.com/lucasgelfond/puffgres/internal/router"
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

func newRegistry(m *mapping.Mapping) *mapping.Registry {
	reg := mapping.NewRegistry()
	reg.Load(m)
	return reg
}

type fakeReader struct {
	pages [][]change.Row
	calls int
}

func (f *fakeReader) FetchPage(_ context.Context, _, _, _, _ string, _ int) ([]change.Row, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

type fakeCursors struct {
	cursor state.BackfillCursor
	found  bool
	dlq    []state.DLQEntry
	saves  int
}

func (f *fakeCursors) ReadBackfillCursor(_ context.Context, _ string) (state.BackfillCursor, bool, error) {
	return f.cursor, f.found, nil
}
func (f *fakeCursors) SaveBackfillCursor(_ context.Context, c state.BackfillCursor) error {
	f.cursor = c
	f.found = true
	f.saves++
	return nil
}
func (f *fakeCursors) AppendDLQ(_ context.Context, e state.DLQEntry) error {
	f.dlq = append(f.dlq, e)
	return nil
}

type fakeTarget struct {
	apply func(ctx context.Context, namespace string, actions []action.Action) ([]writer.RowOutcome, error)
	calls int
}

func (f *fakeTarget) Apply(ctx context.Context, namespace string, actions []action.Action) ([]writer.RowOutcome, error) {
	f.calls++
	return f.apply(ctx, namespace, actions)
}

func row(id int64, plan string) change.Row {
	return change.Row{"id": change.Int(id), "plan": change.String(plan)}
}

func allWrittenTarget() *fakeTarget {
	return &fakeTarget{
		apply: func(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
			out := make([]writer.RowOutcome, len(actions))
			for i, a := range actions {
				out[i] = writer.RowOutcome{Action: a, Written: true}
			}
			return out, nil
		},
	}
}

func newEngine(reader *fakeReader, cursors *fakeCursors, target *fakeTarget, reg *mapping.Registry) *backfill.Engine {
	return &backfill.Engine{
		Reader:      reader,
		Cursors:     cursors,
		Router:      router.New(reg, nil),
		Transformer: transform.Identity{},
		Writer:      writer.New(target),
		BatchSize:   2,
	}
}

func TestEngineRunPagesThroughWholeRelationAndMarksDone(t *testing.T) {
	m := usersMapping()
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(1, "free"), row(2, "pro")},
		{row(3, "pro")},
	}}
	cursors := &fakeCursors{}
	target := allWrittenTarget()

	e := newEngine(reader, cursors, target, reg)
	require.NoError(t, e.Run(context.Background(), m, false))

	require.Equal(t, state.BackfillStatusDone, cursors.cursor.Status)
	require.Equal(t, "3", cursors.cursor.LastID)
	require.EqualValues(t, 3, cursors.cursor.ProcessedRows)
	require.Empty(t, cursors.dlq)
	require.Equal(t, 2, reader.calls) // both pages consumed, no third empty-page probe needed since page 2 < batchSize
}

func TestEngineResumeStartsFromPersistedCursor(t *testing.T) {
	m := usersMapping()
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(4, "pro")},
	}}
	cursors := &fakeCursors{
		found:  true,
		cursor: state.BackfillCursor{MappingName: "users", LastID: "3", Status: state.BackfillStatusRunning, ProcessedRows: 3},
	}
	target := allWrittenTarget()

	e := newEngine(reader, cursors, target, reg)
	require.NoError(t, e.Run(context.Background(), m, true))

	require.Equal(t, state.BackfillStatusDone, cursors.cursor.Status)
	require.Equal(t, "4", cursors.cursor.LastID)
	require.EqualValues(t, 4, cursors.cursor.ProcessedRows)
}

func TestEngineResumeIgnoresAlreadyDoneCursorAndRestarts(t *testing.T) {
	m := usersMapping()
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(1, "free")},
	}}
	cursors := &fakeCursors{
		found:  true,
		cursor: state.BackfillCursor{MappingName: "users", LastID: "99", Status: state.BackfillStatusDone},
	}
	target := allWrittenTarget()

	e := newEngine(reader, cursors, target, reg)
	require.NoError(t, e.Run(context.Background(), m, true))
	require.Equal(t, "1", cursors.cursor.LastID)
}

func TestEngineRowsFailingMembershipStillAdvanceCursorWithoutWriting(t *testing.T) {
	m := usersMapping()
	expr, err := predicate.Parse(`plan = 'enterprise'`)
	require.NoError(t, err)
	m.Membership = mapping.Membership{Mode: mapping.MembershipDSL, Expr: expr, Raw: `plan = 'enterprise'`}
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(1, "free"), row(2, "pro")},
	}}
	cursors := &fakeCursors{}
	target := allWrittenTarget()

	e := newEngine(reader, cursors, target, reg)
	require.NoError(t, e.Run(context.Background(), m, false))

	require.Equal(t, "2", cursors.cursor.LastID)
	require.Equal(t, state.BackfillStatusDone, cursors.cursor.Status)
	require.Equal(t, 0, target.calls)
}

func TestEngineWriterFailuresGoToDLQNotFatal(t *testing.T) {
	m := usersMapping()
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(1, "free"), row(2, "pro")},
	}}
	cursors := &fakeCursors{}
	target := &fakeTarget{
		apply: func(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
			out := make([]writer.RowOutcome, len(actions))
			for i, a := range actions {
				out[i] = writer.RowOutcome{
					Action:  a,
					Failure: change.NewClassifiedError(change.KindTargetValidation, "users", a.LSN, nil, errBoom),
				}
			}
			return out, nil
		},
	}

	e := newEngine(reader, cursors, target, reg)
	require.NoError(t, e.Run(context.Background(), m, false))

	require.Len(t, cursors.dlq, 2)
	require.Equal(t, change.KindTargetValidation, cursors.dlq[0].ErrorKind)
	require.Equal(t, change.LSNZero, cursors.dlq[0].LSN)
	require.Equal(t, state.BackfillStatusDone, cursors.cursor.Status)
}

func TestEngineTransformFailuresGoToDLQNotBatched(t *testing.T) {
	m := usersMapping()
	reg := newRegistry(m)

	reader := &fakeReader{pages: [][]change.Row{
		{row(1, "free"), row(2, "pro")},
	}}
	cursors := &fakeCursors{}
	target := allWrittenTarget()

	e := newEngine(reader, cursors, target, reg)
	e.Transformer = failingTransformer{}
	require.NoError(t, e.Run(context.Background(), m, false))

	require.Equal(t, 0, target.calls)
	require.Len(t, cursors.dlq, 2)
	for _, entry := range cursors.dlq {
		require.Equal(t, change.KindTransform, entry.ErrorKind)
		require.NotEmpty(t, entry.EventJSON)
	}
	require.Equal(t, state.BackfillStatusDone, cursors.cursor.Status)
}

type failingTransformer struct{}

func (failingTransformer) Transform(_ context.Context, _ transform.InvocationContext, _ *mapping.Mapping, _ []transform.Item) ([]action.Action, error) {
	return nil, errBoom
}

var errBoom = requireError{}

type requireError struct{}

func (requireError) Error() string { return "boom" }
