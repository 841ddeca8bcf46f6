package mapping

import (
	"context"

	"github.com/pkg/errors"
)

// Recorder is the subset of the state store's migration bookkeeping
// that the registry needs at apply time (spec.md 4.3, 6:
// __puffgres_migrations). Defined locally, rather than importing
// internal/state, to avoid a cycle: internal/state depends on
// internal/mapping for the Mapping type it persists.
type Recorder interface {
	// RecordedHash returns the content hash previously recorded for
	// (name, version), and whether any row exists at all.
	RecordedHash(ctx context.Context, name string, version int) (hash string, found bool, err error)
	// Record persists the mapping's (name, version, content_hash).
	Record(ctx context.Context, name string, version int, hash string) error
}

// Registry holds canonicalized mappings by (name, version), the unit
// of immutability spec.md 3 requires.
type Registry struct {
	byNameVersion map[string]map[int]*Mapping
	bySource      map[string][]*Mapping // keyed by "schema.relation"
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byNameVersion: make(map[string]map[int]*Mapping),
		bySource:      make(map[string][]*Mapping),
	}
}

// Apply validates a mapping against any previously recorded content
// hash for the same (name, version) and, if it differs, refuses to
// proceed (spec.md 3, 8: "apply is refused if content_hash of any
// already-recorded (name, version) differs from the on-disk text's
// hash"). On success the mapping is registered in-memory and recorded
// via rec.
func (r *Registry) Apply(ctx context.Context, rec Recorder, m *Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}

	recordedHash, found, err := rec.RecordedHash(ctx, m.Name, m.Version)
	if err != nil {
		return errors.Wrap(err, "mapping: checking recorded content hash")
	}
	if found && recordedHash != m.ContentHash {
		return errors.Errorf(
			"mapping: content hash drift for %s v%d: recorded=%s on-disk=%s; refusing to apply",
			m.Name, m.Version, recordedHash, m.ContentHash)
	}

	if err := rec.Record(ctx, m.Name, m.Version, m.ContentHash); err != nil {
		return errors.Wrap(err, "mapping: recording applied mapping")
	}

	r.put(m)
	return nil
}

// Load registers a mapping without the state-store drift check. Only
// tests call it; the CLI registers mappings through Apply.
func (r *Registry) Load(m *Mapping) {
	r.put(m)
}

func (r *Registry) put(m *Mapping) {
	if _, ok := r.byNameVersion[m.Name]; !ok {
		r.byNameVersion[m.Name] = make(map[int]*Mapping)
	}
	r.byNameVersion[m.Name][m.Version] = m

	key := m.SourceSchema + "." + m.SourceRelation
	for i, existing := range r.bySource[key] {
		if existing.Name == m.Name {
			r.bySource[key][i] = m
			return
		}
	}
	r.bySource[key] = append(r.bySource[key], m)
}

// Get returns a specific (name, version) mapping.
func (r *Registry) Get(name string, version int) (*Mapping, bool) {
	byVersion, ok := r.byNameVersion[name]
	if !ok {
		return nil, false
	}
	m, ok := byVersion[version]
	return m, ok
}

// ForSource returns every current mapping whose source relation
// matches (schema, relation), the router's primary lookup (spec.md
// 4.5: "the router computes the set of mappings whose source equals
// (schema, relation)").
func (r *Registry) ForSource(schema, relation string) []*Mapping {
	return r.bySource[schema+"."+relation]
}

// All returns every currently registered mapping (one per name, the
// latest applied version), in an unspecified order.
func (r *Registry) All() []*Mapping {
	var out []*Mapping
	for _, byVersion := range r.byNameVersion {
		var latest *Mapping
		for _, m := range byVersion {
			if latest == nil || m.Version > latest.Version {
				latest = m
			}
		}
		out = append(out, latest)
	}
	return out
}
