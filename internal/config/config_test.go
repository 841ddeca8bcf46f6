package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PUFFGRES_SOURCE_DSN",
		"PUFFGRES_SOURCE_REPLICATION_DSN",
		"PUFFGRES_TURBOPUFFER_API_KEY",
		"PUFFGRES_TURBOPUFFER_BASE_URL",
		"PUFFGRES_LOG_LEVEL",
		"PUFFGRES_NAMESPACE_PREFIX",
		"PUFFGRES_MAPPINGS_DIR",
		"PUFFGRES_TRANSFORM_TIMEOUT_MS",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestFromEnvRequiresSourceDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUFFGRES_TURBOPUFFER_API_KEY", "key")

	_, err := config.FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PUFFGRES_SOURCE_DSN")
}

func TestFromEnvRequiresTurbopufferKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUFFGRES_SOURCE_DSN", "postgres://localhost/db")

	_, err := config.FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PUFFGRES_TURBOPUFFER_API_KEY")
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUFFGRES_SOURCE_DSN", "postgres://localhost/db")
	t.Setenv("PUFFGRES_TURBOPUFFER_API_KEY", "key")

	c, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db", c.SourceDSN)
	require.Equal(t, c.SourceDSN, c.SourceReplicationDSN)
	require.Equal(t, "https://api.turbopuffer.com", c.TurbopufferBaseURL)
	require.Equal(t, "info", c.LogLevel)
	require.Equal(t, "mappings", c.MappingsDir)
	require.Equal(t, 60*time.Second, c.TransformTimeout)
}

func TestFromEnvOverridesAndReplicationDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUFFGRES_SOURCE_DSN", "postgres://localhost/db")
	t.Setenv("PUFFGRES_SOURCE_REPLICATION_DSN", "postgres://localhost/db?replication=database")
	t.Setenv("PUFFGRES_TURBOPUFFER_API_KEY", "key")
	t.Setenv("PUFFGRES_TRANSFORM_TIMEOUT_MS", "500")

	c, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db?replication=database", c.SourceReplicationDSN)
	require.Equal(t, 500*time.Millisecond, c.TransformTimeout)
}

func TestFromEnvInvalidTransformTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUFFGRES_SOURCE_DSN", "postgres://localhost/db")
	t.Setenv("PUFFGRES_TURBOPUFFER_API_KEY", "key")
	t.Setenv("PUFFGRES_TRANSFORM_TIMEOUT_MS", "not-a-number")

	_, err := config.FromEnv()
	require.Error(t, err)
}

func TestNamespacePrefix(t *testing.T) {
	c := &config.Config{NamespacePrefix: "dev_"}
	require.Equal(t, "dev_users", c.Namespace("users"))

	c = &config.Config{}
	require.Equal(t, "users", c.Namespace("users"))
}
