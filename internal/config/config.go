// Package config reads the process-wide configuration from
// environment variables (spec.md 6), mirroring the teacher's
// server.Config composition pattern (internal/source/server's
// bind-a-struct-of-flags discipline, adapted from pflag-bound CLI
// flags to env vars since puffgres has no long-running HTTP server to
// configure) without pulling in the teacher's CDC-server-specific
// fields (TLS, bind address) this spec has no use for.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config is the environment-driven configuration shared by every
// puffgres CLI command.
type Config struct {
	// SourceDSN is the Postgres connection string used for plain
	// queries: slot administration, the poll adapter, backfill page
	// reads, the state store, and MembershipLookup/transform row
	// lookups.
	SourceDSN string

	// SourceReplicationDSN is a second Postgres connection string with
	// replication=database set, required only by the streaming
	// adapter (run --stream). Falls back to SourceDSN, copied
	// unchanged, if unset; no replication=database parameter is added.
	SourceReplicationDSN string

	// TurbopufferAPIKey authenticates every write to the target index.
	TurbopufferAPIKey string

	// TurbopufferBaseURL is the turbopuffer API root; overridable for
	// tests against a local fake.
	TurbopufferBaseURL string

	// LogLevel selects logrus's verbosity (spec.md 6: "log-level
	// selector").
	LogLevel string

	// NamespacePrefix isolates dev/prod namespaces sharing one
	// turbopuffer account (spec.md 6: "optional base-namespace prefix
	// for dev/prod isolation"). Config.Namespace prepends it to a
	// namespace; no command calls Namespace, so mappings are written
	// to their target.namespace as declared, without the prefix.
	NamespacePrefix string

	// MappingsDir is where `apply` and `run` look for *.toml mapping
	// files.
	MappingsDir string

	// TransformTimeout is read from PUFFGRES_TRANSFORM_TIMEOUT_MS
	// (default 60s). It is not passed to the engine, so
	// Transformer.Transform calls run without this bound.
	TransformTimeout time.Duration
}

const (
	envSourceDSN            = "PUFFGRES_SOURCE_DSN"
	envSourceReplicationDSN = "PUFFGRES_SOURCE_REPLICATION_DSN"
	envTurbopufferAPIKey    = "PUFFGRES_TURBOPUFFER_API_KEY"
	envTurbopufferBaseURL   = "PUFFGRES_TURBOPUFFER_BASE_URL"
	envLogLevel             = "PUFFGRES_LOG_LEVEL"
	envNamespacePrefix      = "PUFFGRES_NAMESPACE_PREFIX"
	envMappingsDir          = "PUFFGRES_MAPPINGS_DIR"
	envTransformTimeoutMS   = "PUFFGRES_TRANSFORM_TIMEOUT_MS"

	defaultTurbopufferBaseURL = "https://api.turbopuffer.com"
	defaultMappingsDir        = "mappings"
	defaultTransformTimeout   = 60 * time.Second
)

// FromEnv builds a Config from the process environment, failing fast
// on the two variables every command needs (spec.md 6: source
// connection string, target API key).
func FromEnv() (*Config, error) {
	c := &Config{
		SourceDSN:            os.Getenv(envSourceDSN),
		SourceReplicationDSN: os.Getenv(envSourceReplicationDSN),
		TurbopufferAPIKey:    os.Getenv(envTurbopufferAPIKey),
		TurbopufferBaseURL:   getenvDefault(envTurbopufferBaseURL, defaultTurbopufferBaseURL),
		LogLevel:             getenvDefault(envLogLevel, "info"),
		NamespacePrefix:      os.Getenv(envNamespacePrefix),
		MappingsDir:          getenvDefault(envMappingsDir, defaultMappingsDir),
		TransformTimeout:     defaultTransformTimeout,
	}

	if raw := os.Getenv(envTransformTimeoutMS); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "config: invalid %s", envTransformTimeoutMS)
		}
		c.TransformTimeout = time.Duration(ms) * time.Millisecond
	}

	if c.SourceDSN == "" {
		return nil, errors.Errorf("config: %s is required", envSourceDSN)
	}
	if c.TurbopufferAPIKey == "" {
		return nil, errors.Errorf("config: %s is required", envTurbopufferAPIKey)
	}
	if c.SourceReplicationDSN == "" {
		c.SourceReplicationDSN = c.SourceDSN
	}

	return c, nil
}

// Namespace applies the configured dev/prod prefix to a mapping's
// declared target namespace.
func (c *Config) Namespace(namespace string) string {
	if c.NamespacePrefix == "" {
		return namespace
	}
	return c.NamespacePrefix + namespace
}

// ConfigureLogging sets logrus's global level and formatter from
// c.LogLevel, falling back to info on an unrecognized value rather
// than failing the process over a typo'd env var.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
