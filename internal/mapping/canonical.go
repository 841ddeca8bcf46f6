package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// canonicalize produces a deterministic textual form of a Mapping so
// that ContentHash is stable regardless of key ordering in the
// on-disk TOML (spec.md 4.3: "canonicalization fixes key ordering so
// content_hash is deterministic").
func canonicalize(m *Mapping) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "name=%s\n", m.Name)
	fmt.Fprintf(&sb, "version=%d\n", m.Version)
	fmt.Fprintf(&sb, "source.schema=%s\n", m.SourceSchema)
	fmt.Fprintf(&sb, "source.relation=%s\n", m.SourceRelation)
	fmt.Fprintf(&sb, "id.column=%s\n", m.ID.Column)
	fmt.Fprintf(&sb, "id.type=%d\n", m.ID.Type)

	cols := append([]string(nil), m.Columns...)
	sort.Strings(cols)
	fmt.Fprintf(&sb, "columns=%s\n", strings.Join(cols, ","))

	fmt.Fprintf(&sb, "membership.mode=%d\n", m.Membership.Mode)
	if m.Membership.Mode == MembershipDSL {
		fmt.Fprintf(&sb, "membership.expr=%s\n", normalizeDSLText(m.Membership.Raw))
	}

	if m.Transform != nil {
		fmt.Fprintf(&sb, "transform.source=%s\n", normalizeTransformText(m.Transform.SourceText))
	}

	fmt.Fprintf(&sb, "target.namespace=%s\n", m.Target.Namespace)
	fmt.Fprintf(&sb, "versioning.mode=%d\n", m.Versioning.Mode)
	if m.Versioning.Mode == VersioningColumn {
		fmt.Fprintf(&sb, "versioning.column=%s\n", m.Versioning.Column)
	}

	return sb.String()
}

// normalizeDSLText strips comments and collapses whitespace so
// cosmetic edits to a predicate (re-indentation, trailing comments)
// don't change the content hash, per spec.md 4.3 ("comment/whitespace
// stripped, keys sorted").
func normalizeDSLText(s string) string {
	return strings.Join(strings.Fields(stripLineComments(s)), " ")
}

func normalizeTransformText(s string) string {
	return strings.Join(strings.Fields(stripLineComments(s)), " ")
}

func stripLineComments(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// ContentHash computes the stable hash over a Mapping's canonical
// serialization (spec.md 3: "content_hash: stable hash over the
// canonical serialization; recorded at apply time").
func ContentHash(m *Mapping) string {
	sum := sha256.Sum256([]byte(canonicalize(m)))
	return hex.EncodeToString(sum[:])
}
