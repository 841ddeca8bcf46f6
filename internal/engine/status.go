package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/state"
)

// MappingStatus summarizes one mapping's durable progress for the
// `status` CLI command (spec.md 6).
type MappingStatus struct {
	Name          string
	Namespace     string
	CheckpointLSN change.LSN
	EventsTotal   int64
	Backfill      *state.BackfillCursor
	PendingDLQ    int
}

// Status reports the current state of every applied mapping.
func (e *Engine) Status(ctx context.Context) ([]MappingStatus, error) {
	mappings := e.Registry.All()
	out := make([]MappingStatus, 0, len(mappings))

	for _, m := range mappings {
		st := MappingStatus{Name: m.Name, Namespace: m.Target.Namespace}

		cp, found, err := e.Store.ReadCheckpoint(ctx, m.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: reading checkpoint for mapping %s", m.Name)
		}
		if found {
			st.CheckpointLSN = cp.LSN
			st.EventsTotal = cp.EventsProcessed
		}

		if cursor, found, err := e.Store.ReadBackfillCursor(ctx, m.Name); err != nil {
			return nil, errors.Wrapf(err, "engine: reading backfill cursor for mapping %s", m.Name)
		} else if found {
			st.Backfill = &cursor
		}

		pending, err := e.Store.PendingDLQCount(ctx, m.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: counting pending dlq for mapping %s", m.Name)
		}
		st.PendingDLQ = pending

		out = append(out, st)
	}

	return out, nil
}
