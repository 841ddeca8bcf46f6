// Package diag implements a small health-check registry, grounded on
// the teacher's diag.New(ctx)/diag.Diagnostics surface: components
// register a named check and the engine aggregates them for a status
// report or an HTTP health endpoint.
package diag

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Check is a named health probe. It should return quickly and must
// not block on long-running work.
type Check func(ctx context.Context) error

// Diagnostics aggregates named health checks registered by the
// engine's components (source, writer, state store, ...).
type Diagnostics struct {
	mu     sync.Mutex
	checks map[string]Check
}

// New constructs a Diagnostics registry. The context parameter is
// accepted to mirror the teacher's constructor shape and to allow
// future checks to be deregistered on cancellation; the returned
// cleanup function is a no-op today.
func New(_ context.Context) (*Diagnostics, func()) {
	d := &Diagnostics{checks: make(map[string]Check)}
	return d, func() {}
}

// Register adds a named check, replacing any previous check with the
// same name.
func (d *Diagnostics) Register(name string, check Check) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks[name] = check
}

// Result is the outcome of a single named check.
type Result struct {
	Name string
	Err  error
}

// RunAll executes every registered check and returns their results in
// an unspecified order.
func (d *Diagnostics) RunAll(ctx context.Context) []Result {
	d.mu.Lock()
	names := make([]string, 0, len(d.checks))
	fns := make([]Check, 0, len(d.checks))
	for name, fn := range d.checks {
		names = append(names, name)
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	results := make([]Result, len(names))
	for i := range names {
		results[i] = Result{Name: names[i], Err: fns[i](ctx)}
	}
	return results
}

// Healthy reports whether every registered check currently passes.
func (d *Diagnostics) Healthy(ctx context.Context) error {
	for _, r := range d.RunAll(ctx) {
		if r.Err != nil {
			return errors.Wrapf(r.Err, "check %q failed", r.Name)
		}
	}
	return nil
}
