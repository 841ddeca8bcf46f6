// Package engine wires the pipeline's stages together (spec.md 5):
// one source task, a single-threaded router task, and one goroutine
// per mapping carrying out that mapping's serial
// Transform->Batch->Write->Checkpoint cycle, all tracked by a
// stopper.Context so shutdown drains in-flight work before the
// process exits.
package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/router"
	"github.com/lucasgelfond/puffgres/internal/source"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/util/diag"
	"github.com/lucasgelfond/puffgres/internal/util/stopper"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

// Config bounds the engine's queues and per-mapping batching/transform
// cadence (spec.md 5).
type Config struct {
	// SourceQueueCapacity bounds the source->router channel (spec.md
	// 5 default: 1024).
	SourceQueueCapacity int
	// MappingQueueCapacity bounds each per-mapping channel (spec.md 5
	// default: 256).
	MappingQueueCapacity int
	// TransformBatchSize is the largest number of pending
	// KindTransform items a mapping runner accumulates before invoking
	// the Transformer early, ahead of the age-based tick.
	TransformBatchSize int
	// TickInterval is how often a mapping runner reconsiders its
	// pending transform buffer and open batch against their age
	// bounds.
	TickInterval time.Duration
	// Strict inverts checkpoint-advance behavior: a pending DLQ entry
	// for a mapping blocks that mapping's checkpoint from advancing
	// (spec.md 7).
	Strict bool
	// Env is passed to every Transformer invocation (spec.md 4.6).
	Env map[string]string
	// HTTPClient is the escape hatch a Transformer may use for
	// outbound calls; nil disables it. GojaExecutor scripts do not see
	// it.
	HTTPClient *http.Client
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		SourceQueueCapacity:  1024,
		MappingQueueCapacity: 256,
		TransformBatchSize:   100,
		TickInterval:         100 * time.Millisecond,
	}
}

// Engine owns every long-lived pipeline component and drives the
// Source->Router->per-mapping-pipeline dataflow described in spec.md
// 2 and 5.
type Engine struct {
	Registry   *mapping.Registry
	Transforms *transform.Registry
	Store      *state.Store
	Source     source.Source
	Lookup     *PgRowFetcher
	Writer     *writer.Writer
	Config     Config
	Diag       *diag.Diagnostics

	confirmedMu sync.Mutex
	confirmed   map[string]change.LSN
}

// New constructs an Engine. cfg's zero value is not usable directly;
// callers should start from DefaultConfig. A diag.Diagnostics registry
// is built with a "state_store" check wired to Store.Ping, so `status`
// and other callers can ask Healthy without duplicating Open's own
// ping-retry loop (spec.md 4.11: "state-store unreachable -> engine
// halts").
func New(registry *mapping.Registry, transforms *transform.Registry, store *state.Store, src source.Source, lookup *PgRowFetcher, w *writer.Writer, cfg Config) *Engine {
	d, _ := diag.New(context.Background())
	d.Register("state_store", func(ctx context.Context) error {
		return store.Ping(ctx)
	})
	return &Engine{
		Registry:   registry,
		Transforms: transforms,
		Store:      store,
		Source:     src,
		Lookup:     lookup,
		Writer:     w,
		Config:     cfg,
		Diag:       d,
		confirmed:  make(map[string]change.LSN),
	}
}

// Healthy reports whether every registered diagnostic check currently
// passes.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.Diag.Healthy(ctx)
}

// Run starts the full pipeline and blocks until ctx is stopped or a
// fatal error occurs. createSlot controls whether EnsureSlot is
// allowed to create a missing replication slot (run --create-slot).
func (e *Engine) Run(ctx *stopper.Context, createSlot bool) error {
	mappings := e.Registry.All()
	if len(mappings) == 0 {
		return errors.New("engine: no mappings applied; run `puffgres apply` first")
	}

	if err := e.Source.EnsureSlot(ctx, createSlot); err != nil {
		return errors.Wrap(err, "engine: ensuring replication slot")
	}

	fromLSN, err := e.minCheckpoint(ctx, mappings)
	if err != nil {
		return errors.Wrap(err, "engine: reading checkpoints")
	}

	sourceCh, err := e.Source.Changes(ctx, fromLSN)
	if err != nil {
		return errors.Wrap(err, "engine: starting source")
	}

	routerQueue := make(chan change.Change, queueCap(e.Config.SourceQueueCapacity, 1024))
	ctx.Go(func() error {
		defer close(routerQueue)
		for {
			select {
			case c, ok := <-sourceCh:
				if !ok {
					return e.Source.Err()
				}
				select {
				case routerQueue <- c:
				case <-ctx.Stopping():
					return nil
				}
			case <-ctx.Stopping():
				return nil
			}
		}
	})

	mappingQueues := make(map[string]chan router.Routed, len(mappings))
	for _, m := range mappings {
		mappingQueues[m.Name] = make(chan router.Routed, queueCap(e.Config.MappingQueueCapacity, 256))
	}

	rtr := router.New(e.Registry, e.Lookup)
	ctx.Go(func() error {
		defer func() {
			for _, q := range mappingQueues {
				close(q)
			}
		}()
		for {
			select {
			case c, ok := <-routerQueue:
				if !ok {
					return nil
				}
				routed, err := rtr.Dispatch(ctx, c)
				if err != nil {
					log.WithError(err).Error("engine: routing change")
					continue
				}
				for _, r := range routed {
					q, ok := mappingQueues[r.Mapping.Name]
					if !ok {
						continue
					}
					select {
					case q <- r:
					case <-ctx.Stopping():
						return nil
					}
				}
			case <-ctx.Stopping():
				return nil
			}
		}
	})

	for _, m := range mappings {
		m := m
		run, err := e.newRunner(m, mappingQueues[m.Name])
		if err != nil {
			return errors.Wrapf(err, "engine: preparing runner for mapping %s", m.Name)
		}
		ctx.Go(func() error { return run.run(ctx) })
	}

	<-ctx.Stopping()
	return ctx.Err()
}

// minCheckpoint returns the lowest stored checkpoint LSN across
// mappings, or LSNZero if any mapping has never been checkpointed -- the
// seed position handed to the Source so a mapping applied after
// others have already advanced still sees every change from its own
// start (spec.md 4.9).
func (e *Engine) minCheckpoint(ctx *stopper.Context, mappings []*mapping.Mapping) (change.LSN, error) {
	var min change.LSN
	seen := false
	for _, m := range mappings {
		cp, found, err := e.Store.ReadCheckpoint(ctx, m.Name)
		if err != nil {
			return 0, err
		}
		if !found {
			return change.LSNZero, nil
		}
		if !seen || cp.LSN < min {
			min = cp.LSN
			seen = true
		}
	}
	return min, nil
}

// recordConfirmed updates mappingName's durably-checkpointed LSN and
// acks the Source with the minimum across every mapping (spec.md
// 4.9: "the Source adapter's ack cursor is the minimum of confirmed
// LSNs across active mappings").
func (e *Engine) recordConfirmed(ctx context.Context, mappingName string, lsn change.LSN) {
	e.confirmedMu.Lock()
	e.confirmed[mappingName] = lsn
	var min change.LSN
	first := true
	for _, v := range e.confirmed {
		if first || v < min {
			min = v
			first = false
		}
	}
	e.confirmedMu.Unlock()

	if first {
		return
	}
	if err := e.Source.Ack(ctx, min); err != nil {
		log.WithError(err).Warn("engine: acking source")
	}
}

func queueCap(configured, def int) int {
	if configured <= 0 {
		return def
	}
	return configured
}
