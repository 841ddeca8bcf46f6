package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Recorder is the subset of the state store's transform bookkeeping
// this package needs (spec.md 6: __puffgres_transforms). Kept local
// to avoid a cycle with internal/state, matching the same convention
// used by internal/mapping's Recorder interface.
type Recorder interface {
	RecordedTransformHash(ctx context.Context, mappingName string, version int) (hash string, found bool, err error)
	RecordTransform(ctx context.Context, mappingName string, version int, sourceText, hash string) error
}

// Registry interns transform source text by (mapping, version) and
// enforces the immutability rule from spec.md 4.6: "Transform source
// text is interned at apply time with its content hash; a hash
// mismatch at runtime is fatal for that mapping."
type Registry struct {
	entries map[string]entry
}

type entry struct {
	sourceText string
	hash       string
}

// NewRegistry constructs an empty transform Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// ContentHash returns the canonical hash of a transform's source
// text, computed over the same whitespace/comment-insensitive
// normalization internal/mapping uses for mapping files, so renaming
// indentation or adding a comment in a user transform does not count
// as a semantic change.
func ContentHash(sourceText string) string {
	normalized := normalizeSource(sourceText)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeSource(src string) string {
	lines := strings.Split(src, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// Apply registers sourceText for (mappingName, version), refusing to
// proceed if a previously recorded hash for the same (mapping,
// version) differs (spec.md 4.6's immutability rule, mirrored from
// internal/mapping.Registry.Apply).
func (r *Registry) Apply(ctx context.Context, rec Recorder, mappingName string, version int, sourceText string) error {
	hash := ContentHash(sourceText)

	recorded, found, err := rec.RecordedTransformHash(ctx, mappingName, version)
	if err != nil {
		return errors.Wrap(err, "transform: checking recorded content hash")
	}
	if found && recorded != hash {
		return errors.Errorf(
			"transform: content hash drift for %s v%d: recorded=%s on-disk=%s; refusing to apply",
			mappingName, version, recorded, hash)
	}

	if err := rec.RecordTransform(ctx, mappingName, version, sourceText, hash); err != nil {
		return errors.Wrap(err, "transform: recording applied transform")
	}

	r.entries[key(mappingName, version)] = entry{sourceText: sourceText, hash: hash}
	return nil
}

// Executor returns a GojaExecutor for (mappingName, version),
// verifying its interned hash still matches, and an error if the
// transform was never applied or has drifted (spec.md 4.6: "a hash
// mismatch at runtime is fatal for that mapping").
func (r *Registry) Executor(mappingName string, version int) (GojaExecutor, error) {
	e, ok := r.entries[key(mappingName, version)]
	if !ok {
		return GojaExecutor{}, errors.Errorf("transform: no transform registered for %s v%d", mappingName, version)
	}
	if ContentHash(e.sourceText) != e.hash {
		return GojaExecutor{}, errors.Errorf("transform: content hash drift detected at runtime for %s v%d", mappingName, version)
	}
	return GojaExecutor{SourceText: e.sourceText}, nil
}

func key(mappingName string, version int) string {
	return mappingName + "@" + strconv.Itoa(version)
}
