package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/backfill"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// PgRowFetcher implements router.RowFetcher and transform.RowLookup
// by reading a single current row from the source database over the
// same *pgxpool.Pool the live source adapter and backfill reader use.
// It satisfies both interfaces with one method since they're
// structurally identical (spec.md 4.5's lookup-mode re-read and
// 4.6's transform row-lookup escape hatch are the same operation).
type PgRowFetcher struct {
	pool *pgxpool.Pool
}

// NewPgRowFetcher returns a PgRowFetcher reading over pool.
func NewPgRowFetcher(pool *pgxpool.Pool) *PgRowFetcher {
	return &PgRowFetcher{pool: pool}
}

// FetchRow implements router.RowFetcher and transform.RowLookup.
func (f *PgRowFetcher) FetchRow(ctx context.Context, schema, relation string, idColumn string, idValue change.Value) (change.Row, bool, error) {
	table := backfill.QuoteIdent(schema) + "." + backfill.QuoteIdent(relation)
	col := backfill.QuoteIdent(idColumn)

	raw, err := nativeParam(idValue)
	if err != nil {
		return nil, false, errors.Wrapf(err, "engine: rendering id value for %s.%s lookup", schema, relation)
	}

	rows, err := f.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", table, col), raw)
	if err != nil {
		return nil, false, errors.Wrapf(err, "engine: looking up %s.%s", schema, relation)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}

	fields := rows.FieldDescriptions()
	values, err := rows.Values()
	if err != nil {
		return nil, false, errors.Wrapf(err, "engine: reading %s.%s lookup row", schema, relation)
	}

	row := make(change.Row, len(fields))
	for i, fd := range fields {
		row[string(fd.Name)] = backfill.NativeToValue(values[i])
	}
	return row, true, nil
}

// nativeParam is the inverse of backfill.NativeToValue: it unwraps a
// change.Value back into the Go-native form pgx expects as a query
// parameter, for the handful of kinds a primary-key column can
// actually carry.
func nativeParam(v change.Value) (interface{}, error) {
	switch v.Kind() {
	case change.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case change.KindFloat:
		fl, _ := v.AsFloat()
		return fl, nil
	case change.KindString:
		s, _ := v.AsString()
		return s, nil
	case change.KindUUID:
		u, _ := v.AsUUID()
		return u, nil
	default:
		return nil, errors.Errorf("engine: id value of kind %v is not a supported lookup key", v.Kind())
	}
}
