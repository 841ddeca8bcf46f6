package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/mapping"
)

// ApplyResult reports what Apply would do (or did) for one mapping
// file, used by both `apply` and `apply --dry-run`.
type ApplyResult struct {
	Name        string
	Version     int
	ContentHash string
	// Changed is false when the mapping's content hash already matched
	// a previously recorded one (a no-op re-apply).
	Changed bool
}

// Apply validates and registers mapping files against the state
// store's recorded content hashes (spec.md 4.3, 8). When dryRun is
// true, no state is written and the registry is left untouched; the
// hash-drift check still runs, so a dry run still catches an illegal
// edit to an already-applied mapping.
func (e *Engine) Apply(ctx context.Context, mappings []*mapping.Mapping, dryRun bool) ([]ApplyResult, error) {
	out := make([]ApplyResult, 0, len(mappings))

	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return nil, errors.Wrapf(err, "engine: validating mapping %s", m.Name)
		}

		recordedHash, found, err := e.Store.RecordedHash(ctx, m.Name, m.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: checking recorded hash for mapping %s", m.Name)
		}
		if found && recordedHash != m.ContentHash {
			return nil, errors.Errorf(
				"engine: content hash drift for %s v%d: recorded=%s on-disk=%s; refusing to apply",
				m.Name, m.Version, recordedHash, m.ContentHash)
		}

		if dryRun {
			out = append(out, ApplyResult{Name: m.Name, Version: m.Version, ContentHash: m.ContentHash, Changed: !found})
			continue
		}

		if err := e.Registry.Apply(ctx, e.Store, m); err != nil {
			return nil, err
		}

		if m.Transform != nil {
			if err := e.Transforms.Apply(ctx, e.Store, m.Name, m.Version, m.Transform.SourceText); err != nil {
				return nil, err
			}
		}

		out = append(out, ApplyResult{Name: m.Name, Version: m.Version, ContentHash: m.ContentHash, Changed: !found})
	}

	return out, nil
}
