// Run and newRunner round-trip through *state.Store and a live
// Source/Writer the same way internal/state's Store methods round-trip
// through the reserved __puffgres_* tables -- exercised by integration
// tests against a real Postgres instance rather than here. What
// follows covers the aggregation logic that doesn't touch the
// database: the ack-cursor minimum and the queue-capacity defaults.
package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/change"
)

type fakeAckSource struct {
	acked []change.LSN
}

func (f *fakeAckSource) Changes(ctx context.Context, fromLSN change.LSN) (<-chan change.Change, error) {
	panic("not used by this test")
}

func (f *fakeAckSource) Ack(ctx context.Context, lsn change.LSN) error {
	f.acked = append(f.acked, lsn)
	return nil
}

func (f *fakeAckSource) EnsureSlot(ctx context.Context, create bool) error { return nil }
func (f *fakeAckSource) Err() error                                        { return nil }

func TestRecordConfirmedAcksMinimumAcrossMappings(t *testing.T) {
	src := &fakeAckSource{}
	e := &Engine{Source: src, confirmed: make(map[string]change.LSN)}

	e.recordConfirmed(context.Background(), "orders", change.LSN(100))
	require.Equal(t, []change.LSN{change.LSN(100)}, src.acked)

	e.recordConfirmed(context.Background(), "users", change.LSN(40))
	require.Equal(t, change.LSN(40), src.acked[len(src.acked)-1])

	e.recordConfirmed(context.Background(), "orders", change.LSN(200))
	require.Equal(t, change.LSN(40), src.acked[len(src.acked)-1])

	e.recordConfirmed(context.Background(), "users", change.LSN(250))
	require.Equal(t, change.LSN(200), src.acked[len(src.acked)-1])
}

func TestQueueCapUsesConfiguredOverDefault(t *testing.T) {
	require.Equal(t, 512, queueCap(512, 1024))
	require.Equal(t, 1024, queueCap(0, 1024))
	require.Equal(t, 256, queueCap(-1, 256))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1024, cfg.SourceQueueCapacity)
	require.Equal(t, 256, cfg.MappingQueueCapacity)
	require.Equal(t, 100, cfg.TransformBatchSize)
	require.False(t, cfg.Strict)
}
