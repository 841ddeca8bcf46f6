package mapping_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/mapping"
)

const validMappingTOML = `
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
`

func TestParseFileValid(t *testing.T) {
	m, err := mapping.ParseFile([]byte(validMappingTOML))
	require.NoError(t, err)
	require.Equal(t, "users", m.Name)
	require.Equal(t, 1, m.Version)
	require.Equal(t, mapping.MembershipDSL, m.Membership.Mode)
	require.NotEmpty(t, m.ContentHash)
}

func TestParseFileRejectsUnknownKeys(t *testing.T) {
	_, err := mapping.ParseFile([]byte(validMappingTOML + "\nbogus_key = 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestContentHashStableAcrossWhitespace(t *testing.T) {
	m1, err := mapping.ParseFile([]byte(validMappingTOML))
	require.NoError(t, err)

	reindented := `
name    =   "users"
version = 1
columns = ["id", "name", "status"]

[source]
  schema   = "public"
  relation = "users"

[id]
  column = "id"
  type   = "uint"

[membership]
  mode = "dsl"
  expr = "status = 'active'"

[target]
  namespace = "users"

[versioning]
  mode = "source_lsn"
`
	m2, err := mapping.ParseFile([]byte(reindented))
	require.NoError(t, err)
	require.Equal(t, m1.ContentHash, m2.ContentHash)
}

func TestContentHashChangesWithSemantics(t *testing.T) {
	m1, err := mapping.ParseFile([]byte(validMappingTOML))
	require.NoError(t, err)

	changed := `
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
expr = "status = 'inactive'"

[target]
namespace = "users"

[versioning]
mode = "source_lsn"
`
	m2, err := mapping.ParseFile([]byte(changed))
	require.NoError(t, err)
	require.NotEqual(t, m1.ContentHash, m2.ContentHash)
}

type fakeRecorder struct {
	hashes map[string]string
}

func (f *fakeRecorder) key(name string, version int) string {
	return name
}

func (f *fakeRecorder) RecordedHash(_ context.Context, name string, version int) (string, bool, error) {
	h, ok := f.hashes[f.key(name, version)]
	return h, ok, nil
}

func (f *fakeRecorder) Record(_ context.Context, name string, version int, hash string) error {
	if f.hashes == nil {
		f.hashes = make(map[string]string)
	}
	f.hashes[f.key(name, version)] = hash
	return nil
}

func TestRegistryApplyRefusesHashDrift(t *testing.T) {
	reg := mapping.NewRegistry()
	rec := &fakeRecorder{}

	m1, err := mapping.ParseFile([]byte(validMappingTOML))
	require.NoError(t, err)
	require.NoError(t, reg.Apply(context.Background(), rec, m1))

	// Re-applying the identical mapping succeeds (same hash).
	require.NoError(t, reg.Apply(context.Background(), rec, m1))

	// A semantically different mapping under the same (name, version)
	// must be refused.
	drifted, err := mapping.ParseFile([]byte(`
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
mode = "all"

[target]
namespace = "users"

[versioning]
mode = "source_lsn"
`))
	require.NoError(t, err)
	err = reg.Apply(context.Background(), rec, drifted)
	require.Error(t, err)
	require.Contains(t, err.Error(), "content hash drift")
}

func TestRegistryForSource(t *testing.T) {
	reg := mapping.NewRegistry()
	m, err := mapping.ParseFile([]byte(validMappingTOML))
	require.NoError(t, err)
	reg.Load(m)

	found := reg.ForSource("public", "users")
	require.Len(t, found, 1)
	require.Equal(t, "users", found[0].Name)

	require.Empty(t, reg.ForSource("public", "other"))
}
