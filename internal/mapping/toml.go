package mapping

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/predicate"
)

// fileFormat mirrors the TOML sections enumerated in spec.md 3 and 6.
// Field names are deliberately explicit (rather than inline structs)
// so that ParseFile's meta.Undecoded() check can report every unknown
// key.
type fileFormat struct {
	Name    string `toml:"name"`
	Version int    `toml:"version"`

	Source struct {
		Schema   string `toml:"schema"`
		Relation string `toml:"relation"`
	} `toml:"source"`

	ID struct {
		Column string `toml:"column"`
		Type   string `toml:"type"`
	} `toml:"id"`

	Columns []string `toml:"columns"`

	Membership struct {
		Mode string `toml:"mode"`
		Expr string `toml:"expr"`
	} `toml:"membership"`

	Transform struct {
		Source string `toml:"source"`
	} `toml:"transform"`

	Target struct {
		Namespace string `toml:"namespace"`
	} `toml:"target"`

	Versioning struct {
		Mode   string `toml:"mode"`
		Column string `toml:"column"`
	} `toml:"versioning"`
}

// ParseFile decodes a mapping file's TOML text into a Mapping,
// rejecting unknown keys (spec.md 6: "unknown keys rejected") and
// parsing the embedded predicate DSL eagerly so a malformed predicate
// fails at parse time rather than at first evaluation.
func ParseFile(text []byte) (*Mapping, error) {
	var ff fileFormat
	meta, err := toml.NewDecoder(bytes.NewReader(text)).Decode(&ff)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: invalid TOML")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("mapping: unknown keys: %v", keys)
	}

	if ff.Name == "" {
		return nil, errors.New("mapping: name is required")
	}
	if ff.Version <= 0 {
		return nil, errors.New("mapping: version is required and must be positive")
	}

	m := &Mapping{
		Name:           ff.Name,
		Version:        ff.Version,
		SourceSchema:   ff.Source.Schema,
		SourceRelation: ff.Source.Relation,
		Columns:        ff.Columns,
		Target:         Target{Namespace: ff.Target.Namespace},
	}

	idType, err := parseIDType(ff.ID.Type)
	if err != nil {
		return nil, err
	}
	m.ID = ID{Column: ff.ID.Column, Type: idType}

	mode, err := parseMembershipMode(ff.Membership.Mode)
	if err != nil {
		return nil, err
	}
	m.Membership = Membership{Mode: mode, Raw: ff.Membership.Expr}
	if mode == MembershipDSL {
		expr, err := predicate.Parse(ff.Membership.Expr)
		if err != nil {
			return nil, errors.Wrap(err, "mapping: invalid membership.expr")
		}
		m.Membership.Expr = expr
	}

	if ff.Transform.Source != "" {
		m.Transform = &TransformRef{SourceText: ff.Transform.Source}
	}

	vmode, err := parseVersioningMode(ff.Versioning.Mode)
	if err != nil {
		return nil, err
	}
	m.Versioning = Versioning{Mode: vmode, Column: ff.Versioning.Column}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	m.ContentHash = ContentHash(m)
	return m, nil
}

func parseIDType(s string) (IDType, error) {
	switch s {
	case "", "uint":
		return IDTypeUint, nil
	case "int":
		return IDTypeInt, nil
	case "uuid":
		return IDTypeUUID, nil
	case "string":
		return IDTypeString, nil
	default:
		return 0, fmt.Errorf("mapping: unknown id.type %q", s)
	}
}

func parseMembershipMode(s string) (MembershipMode, error) {
	switch s {
	case "", "all":
		return MembershipAll, nil
	case "dsl":
		return MembershipDSL, nil
	case "view":
		return MembershipView, nil
	case "lookup":
		return MembershipLookup, nil
	default:
		return 0, fmt.Errorf("mapping: unknown membership.mode %q", s)
	}
}

func parseVersioningMode(s string) (VersioningMode, error) {
	switch s {
	case "", "source_lsn":
		return VersioningSourceLSN, nil
	case "column":
		return VersioningColumn, nil
	default:
		return 0, fmt.Errorf("mapping: unknown versioning.mode %q", s)
	}
}
