// The Store's methods all round-trip through the reserved
// __puffgres_* tables in the source Postgres database, the same way
// internal/sinktest/all.Fixture's Appliers/Configs/Memo require a
// live CockroachDB instance -- so this package's read/write behavior
// needs a real Postgres instance and is not tested here. What follows
// covers the logic that doesn't touch the database.
package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/state"
)

func TestBackfillStatusConstants(t *testing.T) {
	require.Equal(t, "pending", state.BackfillStatusPending)
	require.Equal(t, "running", state.BackfillStatusRunning)
	require.Equal(t, "done", state.BackfillStatusDone)
}

func TestDLQEntryCarriesClassifiedErrorKind(t *testing.T) {
	e := state.DLQEntry{
		MappingName: "users",
		LSN:         change.LSN(42),
		ErrorKind:   change.KindTargetValidation,
	}
	require.Equal(t, "TargetValidation", e.ErrorKind.String())
	require.Equal(t, change.LSN(42), e.LSN)
}
