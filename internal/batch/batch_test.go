package batch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
)

func TestBatcherFlushesOnMaxRows(t *testing.T) {
	b := batch.New("users", batch.Bounds{MaxRows: 2, MaxBytes: 1 << 20, MaxAge: time.Hour})

	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"n": change.Int(1)}, "__source_lsn", 10, 10))
	require.False(t, b.ShouldFlush())

	b.Add(action.Upsert(action.NewID("2"), map[string]change.Value{"n": change.Int(2)}, "__source_lsn", 20, 20))
	require.True(t, b.ShouldFlush())

	flushed := b.Flush()
	require.Equal(t, "users", flushed.Namespace)
	require.Len(t, flushed.Actions, 2)
	require.Equal(t, change.LSN(20), flushed.MaxLSN)
	require.False(t, b.ShouldFlush())
	require.Equal(t, 0, b.Len())
}

func TestBatcherLastWriteWinsPreservesFirstSeenOrder(t *testing.T) {
	b := batch.New("users", batch.DefaultBounds())

	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"v": change.Int(1)}, "__source_lsn", 10, 10))
	b.Add(action.Upsert(action.NewID("2"), map[string]change.Value{"v": change.Int(1)}, "__source_lsn", 11, 11))
	// id "1" updated again later in the batch; last write wins, but its
	// position stays where it was first seen.
	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"v": change.Int(99)}, "__source_lsn", 30, 30))

	flushed := b.Flush()
	require.Len(t, flushed.Actions, 2)
	require.Equal(t, "1", flushed.Actions[0].ID.Raw)
	require.Equal(t, "2", flushed.Actions[1].ID.Raw)

	v, ok := flushed.Actions[0].Doc["v"].AsInt()
	require.True(t, ok)
	require.Equal(t, int64(99), v)
	require.Equal(t, change.LSN(30), flushed.Actions[0].LSN)
	require.Equal(t, change.LSN(30), flushed.MaxLSN)
}

func TestBatcherIgnoresSkipAndPermanentFailureButAdvancesMaxLSN(t *testing.T) {
	b := batch.New("users", batch.DefaultBounds())

	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"v": change.Int(1)}, "__source_lsn", 10, 10))
	b.Add(action.Skip(20))
	b.Add(action.PermanentFailure(change.KindTransform, "boom", nil, 30))

	flushed := b.Flush()
	require.Len(t, flushed.Actions, 1)
	require.Equal(t, "1", flushed.Actions[0].ID.Raw)
	require.Equal(t, change.LSN(30), flushed.MaxLSN)
}

func TestBatcherFlushesOnMaxBytes(t *testing.T) {
	b := batch.New("users", batch.Bounds{MaxRows: 1000, MaxBytes: 1, MaxAge: time.Hour})
	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"v": change.String("x")}, "__source_lsn", 1, 1))
	require.True(t, b.ShouldFlush())
}

func TestBatcherFlushesOnMaxAge(t *testing.T) {
	b := batch.New("users", batch.Bounds{MaxRows: 1000, MaxBytes: 1 << 20, MaxAge: time.Millisecond})
	b.Add(action.Upsert(action.NewID("1"), map[string]change.Value{"v": change.Int(1)}, "__source_lsn", 1, 1))
	require.False(t, b.ShouldFlush())
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.ShouldFlush())
}

func TestBatcherDeleteActionCarriesNoBytes(t *testing.T) {
	b := batch.New("users", batch.Bounds{MaxRows: 1000, MaxBytes: 1 << 20, MaxAge: time.Hour})
	b.Add(action.Delete(action.NewID("1"), "__source_lsn", 5, 5))
	require.False(t, b.ShouldFlush())
	flushed := b.Flush()
	require.Len(t, flushed.Actions, 1)
	require.Equal(t, action.OpDelete, flushed.Actions[0].Op)
}
