// Package router implements the membership dispatch from spec.md 4.5:
// for each incoming Change it finds every mapping whose source
// matches, evaluates the four-way membership matrix, and decides
// whether the result should be handed to the Transformer, turned
// directly into a delete action, or dropped.
package router

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
)

// RowFetcher re-reads the current row for a mapping in MembershipLookup
// mode (spec.md 4.5: "the current row is re-read from the source by
// primary key before predicate evaluation").
type RowFetcher interface {
	FetchRow(ctx context.Context, schema, relation string, idColumn string, idValue change.Value) (row change.Row, found bool, err error)
}

// Kind classifies what a Router decided to do with one (mapping,
// change) pair.
type Kind int

const (
	// KindNone means the change does not affect the mapping's target
	// namespace at all.
	KindNone Kind = iota
	// KindTransform means the event must be handed to the
	// Transformer to produce an upsert (or a transform-level skip).
	KindTransform
	// KindSyntheticDelete means the router itself determined the row
	// left the mapping's membership; the Batcher receives a Delete
	// action directly, bypassing the Transformer.
	KindSyntheticDelete
)

// Routed is one decision for one mapping.
type Routed struct {
	Mapping *mapping.Mapping
	Kind    Kind

	// Change is the original event, valid when Kind == KindTransform.
	Change change.Change

	// DeleteID, DeleteLSN, DeleteVersionAttribute, and
	// DeleteVersionToken are valid when Kind == KindSyntheticDelete.
	DeleteID               action.ID
	DeleteLSN              change.LSN
	DeleteVersionAttribute string
	DeleteVersionToken     int64
}

// Router dispatches one Change to every mapping whose source relation
// matches.
type Router struct {
	registry *mapping.Registry
	lookup   RowFetcher
}

// New constructs a Router. lookup may be nil if no mapping uses
// MembershipLookup.
func New(registry *mapping.Registry, lookup RowFetcher) *Router {
	return &Router{registry: registry, lookup: lookup}
}

// Dispatch computes the routing decision for every mapping whose
// source matches c's (schema, relation). A single change may fan out
// to multiple mappings (spec.md 4.5).
func (r *Router) Dispatch(ctx context.Context, c change.Change) ([]Routed, error) {
	mappings := r.registry.ForSource(c.Schema, c.Relation)
	if len(mappings) == 0 {
		return nil, nil
	}

	out := make([]Routed, 0, len(mappings))
	for _, m := range mappings {
		routed, err := r.route(ctx, m, c)
		if err != nil {
			return nil, errors.Wrapf(err, "routing mapping %s", m.Name)
		}
		if routed.Kind != KindNone {
			out = append(out, routed)
		}
	}
	return out, nil
}

func (r *Router) route(ctx context.Context, m *mapping.Mapping, c change.Change) (Routed, error) {
	switch c.Op {
	case change.OpInsert:
		isIn, err := r.memberOf(ctx, m, c.New)
		if err != nil {
			return Routed{}, err
		}
		if !isIn {
			return Routed{Kind: KindNone}, nil
		}
		return Routed{Mapping: m, Kind: KindTransform, Change: c}, nil

	case change.OpDelete:
		wasIn, err := r.memberOf(ctx, m, c.Old)
		if err != nil {
			return Routed{}, err
		}
		if !wasIn {
			return Routed{Kind: KindNone}, nil
		}
		id, err := mapping.ExtractID(m, c.Old)
		if err != nil {
			return Routed{}, err
		}
		return Routed{Mapping: m, Kind: KindSyntheticDelete, DeleteID: id, DeleteLSN: c.LSN,
			DeleteVersionAttribute: mapping.VersionAttribute(m),
			DeleteVersionToken:     mapping.VersionToken(m, c.Old, c.LSN)}, nil

	case change.OpUpdate:
		wasIn, err := r.memberOf(ctx, m, c.Old)
		if err != nil {
			return Routed{}, err
		}
		isIn, err := r.memberOf(ctx, m, c.New)
		if err != nil {
			return Routed{}, err
		}
		switch {
		case wasIn && isIn:
			return Routed{Mapping: m, Kind: KindTransform, Change: c}, nil
		case wasIn && !isIn:
			id, err := mapping.ExtractID(m, c.Old)
			if err != nil {
				return Routed{}, err
			}
			return Routed{Mapping: m, Kind: KindSyntheticDelete, DeleteID: id, DeleteLSN: c.LSN,
				DeleteVersionAttribute: mapping.VersionAttribute(m),
				DeleteVersionToken:     mapping.VersionToken(m, c.Old, c.LSN)}, nil
		case !wasIn && isIn:
			return Routed{Mapping: m, Kind: KindTransform, Change: c}, nil
		default:
			return Routed{Kind: KindNone}, nil
		}

	default:
		return Routed{}, errors.Errorf("unknown op %v", c.Op)
	}
}

// memberOf evaluates m's membership predicate against row.
func (r *Router) memberOf(ctx context.Context, m *mapping.Mapping, row change.Row) (bool, error) {
	switch m.Membership.Mode {
	case mapping.MembershipAll, mapping.MembershipView:
		return true, nil
	case mapping.MembershipDSL:
		return evaluate(m, row), nil
	case mapping.MembershipLookup:
		return r.memberOfLookup(ctx, m, row)
	default:
		return false, errors.Errorf("mapping %s: unknown membership mode", m.Name)
	}
}

func (r *Router) memberOfLookup(ctx context.Context, m *mapping.Mapping, row change.Row) (bool, error) {
	if r.lookup == nil {
		return false, errors.Errorf("mapping %s: membership.mode=lookup requires a row fetcher", m.Name)
	}
	idVal, ok := row.Get(m.ID.Column)
	if !ok {
		return false, nil
	}
	fresh, found, err := r.lookup.FetchRow(ctx, m.SourceSchema, m.SourceRelation, m.ID.Column, idVal)
	if err != nil {
		return false, errors.Wrapf(err, "mapping %s: lookup fetch", m.Name)
	}
	if !found {
		return false, nil
	}
	if m.Membership.Expr == nil {
		return true, nil
	}
	return evaluate(m, fresh), nil
}
