package writer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

type fakeTarget struct {
	apply func(ctx context.Context, namespace string, actions []action.Action) ([]writer.RowOutcome, error)
	calls int
}

func (f *fakeTarget) Apply(ctx context.Context, namespace string, actions []action.Action) ([]writer.RowOutcome, error) {
	f.calls++
	return f.apply(ctx, namespace, actions)
}

func onesBatch(n int) batch.Batch {
	acts := make([]action.Action, n)
	for i := range acts {
		id := action.NewID(string(rune('a' + i)))
		acts[i] = action.Upsert(id, map[string]change.Value{"v": change.Int(int64(i))}, "__source_lsn", int64(i), change.LSN(i))
	}
	return batch.Batch{Namespace: "ns", Actions: acts, MaxLSN: change.LSN(n - 1)}
}

func TestWriterAllWrittenOnSuccess(t *testing.T) {
	target := &fakeTarget{apply: func(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
		out := make([]writer.RowOutcome, len(actions))
		for i, a := range actions {
			out[i] = writer.RowOutcome{Action: a, Written: true}
		}
		return out, nil
	}}

	w := writer.New(target)
	result, err := w.Write(context.Background(), onesBatch(3))
	require.NoError(t, err)
	require.Len(t, result.Written, 3)
	require.Empty(t, result.Failed)
	require.True(t, result.AllResolved(onesBatch(3)))
}

func TestWriterPermanentFailsWholeBatch(t *testing.T) {
	target := &fakeTarget{apply: func(_ context.Context, _ string, _ []action.Action) ([]writer.RowOutcome, error) {
		return nil, &writer.StatusError{Status: 404, Body: "namespace not found"}
	}}

	w := writer.New(target)
	result, err := w.Write(context.Background(), onesBatch(3))
	require.NoError(t, err)
	require.Empty(t, result.Written)
	require.Len(t, result.Failed, 3)
	for _, o := range result.Failed {
		require.Equal(t, change.KindTargetPermanent, o.Failure.Kind)
	}
}

func TestWriterTransientFailsWholeBatchAfterTransportExhausted(t *testing.T) {
	target := &fakeTarget{apply: func(_ context.Context, _ string, _ []action.Action) ([]writer.RowOutcome, error) {
		return nil, &writer.StatusError{Status: 503, Body: "unavailable"}
	}}

	w := writer.New(target)
	result, err := w.Write(context.Background(), onesBatch(2))
	require.NoError(t, err)
	require.Empty(t, result.Written)
	require.Len(t, result.Failed, 2)
	for _, o := range result.Failed {
		require.Equal(t, change.KindTargetTransient, o.Failure.Kind)
	}
}

func TestWriterBisectsOnValidationUntilRowIsolated(t *testing.T) {
	// Row "c" (index 2) is the one that always fails validation;
	// everything else succeeds once isolated into a sub-batch without it.
	target := &fakeTarget{apply: func(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
		for _, a := range actions {
			if a.ID.Raw == "c" {
				return nil, &writer.StatusError{Status: 422, Body: "bad row"}
			}
		}
		out := make([]writer.RowOutcome, len(actions))
		for i, a := range actions {
			out[i] = writer.RowOutcome{Action: a, Written: true}
		}
		return out, nil
	}}

	w := writer.New(target)
	b := onesBatch(4) // ids a, b, c, d
	result, err := w.Write(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, result.Written, 3)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "c", result.Failed[0].Action.ID.Raw)
	require.Equal(t, change.KindTargetValidation, result.Failed[0].Failure.Kind)
	require.Greater(t, target.calls, 1)
}

func TestWriterConditionalMismatchCountsAsWritten(t *testing.T) {
	target := &fakeTarget{apply: func(_ context.Context, _ string, actions []action.Action) ([]writer.RowOutcome, error) {
		out := make([]writer.RowOutcome, len(actions))
		for i, a := range actions {
			out[i] = writer.RowOutcome{Action: a, Written: true, Skipped: true}
		}
		return out, nil
	}}

	w := writer.New(target)
	result, err := w.Write(context.Background(), onesBatch(2))
	require.NoError(t, err)
	require.Len(t, result.Written, 2)
	require.Empty(t, result.Failed)
}

func TestClassifyHTTPStatus(t *testing.T) {
	require.Equal(t, writer.ClassTransient, writer.ClassifyHTTPStatus(429))
	require.Equal(t, writer.ClassTransient, writer.ClassifyHTTPStatus(503))
	require.Equal(t, writer.ClassPermanent, writer.ClassifyHTTPStatus(404))
	require.Equal(t, writer.ClassPermanent, writer.ClassifyHTTPStatus(401))
	require.Equal(t, writer.ClassValidation, writer.ClassifyHTTPStatus(422))
}
