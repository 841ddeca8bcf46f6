package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/config"
	"github.com/lucasgelfond/puffgres/internal/engine"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/source"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/util/stopper"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

// app bundles the components every subcommand needs after loading
// configuration and connecting to the source database.
type app struct {
	cfg        *config.Config
	stopper    *stopper.Context
	adminPool  *pgxpool.Pool
	store      *state.Store
	registry   *mapping.Registry
	transforms *transform.Registry
	strict     bool
}

// newApp loads config, opens the admin connection pool and state
// store, and applies every mapping file under cfg.MappingsDir. Every
// subcommand but `apply` itself and `init` shares this bootstrap so a mapping's
// content-hash drift is caught uniformly regardless of which command
// is run.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, userErr(err)
	}
	cfg.ConfigureLogging()

	a, err := newAppWithoutApply(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mappings, err := loadMappingsDir(cfg.MappingsDir)
	if err != nil {
		return nil, userErr(err)
	}
	if _, err := a.buildEngine(nil).Apply(ctx, mappings, false); err != nil {
		return nil, err
	}

	return a, nil
}

// newAppWithoutApply performs the same bootstrap as newApp but does
// not register mapping files, for the `apply` command itself, which
// controls that step (and its --dry-run flag) directly.
func newAppWithoutApply(ctx context.Context, cfg *config.Config) (*app, error) {
	sctx := stopper.WithContext(ctx)

	store, err := state.Open(sctx, cfg.SourceDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(sctx); err != nil {
		return nil, err
	}

	adminCfg, err := pgxpool.ParseConfig(cfg.SourceDSN)
	if err != nil {
		return nil, errors.Wrap(err, "puffgres: parsing source DSN")
	}
	adminPool, err := pgxpool.NewWithConfig(sctx, adminCfg)
	if err != nil {
		return nil, errors.Wrap(err, "puffgres: opening admin pool")
	}

	return &app{
		cfg:        cfg,
		stopper:    sctx,
		adminPool:  adminPool,
		store:      store,
		registry:   mapping.NewRegistry(),
		transforms: transform.NewRegistry(),
	}, nil
}

func (a *app) close() {
	a.adminPool.Close()
	_ = a.stopper.Stop(0)
}

// buildEngine builds an *engine.Engine over the app's already-open
// components. src may be nil for commands (apply, status, dlq,
// backfill) that never call Engine.Run.
func (a *app) buildEngine(src source.Source) *engine.Engine {
	target := writer.NewTurbopufferClient(a.cfg.TurbopufferBaseURL, a.cfg.TurbopufferAPIKey)
	w := writer.New(target)
	lookup := engine.NewPgRowFetcher(a.adminPool)

	ecfg := engine.DefaultConfig()
	ecfg.Strict = a.strict
	ecfg.Env = envMap()
	return engine.New(a.registry, a.transforms, a.store, src, lookup, w, ecfg)
}

// envMap snapshots the process environment for Transformer invocations
// (spec.md 4.6: transforms may read configured environment variables).
func envMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

// latestMapping looks up the currently applied (latest-version)
// mapping by name.
func latestMapping(a *app, name string) (*mapping.Mapping, bool) {
	for _, m := range a.registry.All() {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// loadMappingsDir parses every *.toml file directly under dir into a
// Mapping (spec.md 6).
func loadMappingsDir(dir string) ([]*mapping.Mapping, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading mappings directory %q", dir)
	}

	var out []*mapping.Mapping
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading mapping file %s", path)
		}
		m, err := mapping.ParseFile(text)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing mapping file %s", path)
		}
		out = append(out, m)
	}
	return out, nil
}
