package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// PgPageReader implements PageReader by issuing a keyset-paginated
// SELECT * against the source relation over a *pgxpool.Pool, the same
// connection pool the live source adapters use. It reads every column
// rather than only the mapping's declared ones, since membership
// predicates and lookup transforms may reference columns outside
// Mapping.Columns.
type PgPageReader struct {
	pool *pgxpool.Pool
}

// NewPgPageReader returns a PgPageReader reading over pool.
func NewPgPageReader(pool *pgxpool.Pool) *PgPageReader {
	return &PgPageReader{pool: pool}
}

// FetchPage implements PageReader.
func (r *PgPageReader) FetchPage(ctx context.Context, schema, relation, idColumn, afterID string, limit int) ([]change.Row, error) {
	table := QuoteIdent(schema) + "." + QuoteIdent(relation)
	col := QuoteIdent(idColumn)

	var rows pgx.Rows
	var err error
	if afterID == "" {
		rows, err = r.pool.Query(ctx,
			fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC LIMIT $1", table, col), limit)
	} else {
		rows, err = r.pool.Query(ctx,
			fmt.Sprintf("SELECT * FROM %s WHERE %s > $1 ORDER BY %s ASC LIMIT $2", table, col, col),
			afterID, limit)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "backfill: querying %s.%s", schema, relation)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []change.Row

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "backfill: reading %s.%s row", schema, relation)
		}
		row := make(change.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = NativeToValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QuoteIdent double-quotes a Postgres identifier, escaping embedded
// quotes, so schema/table/column names pulled from a Mapping can be
// interpolated into a query safely. Exported so internal/engine's
// single-row lookup (MembershipLookup, transform RowLookup) can reuse
// it rather than carrying a second copy of the same escaping rule.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// NativeToValue maps a value as decoded by pgx's default type
// mapping onto the engine's closed change.Value union. pgx v5 decodes
// most scalar Postgres types into their natural Go equivalent (int64,
// float64, bool, string, time.Time, [16]byte for uuid); anything else
// falls back to its fmt.Sprintf string form rather than failing the
// row, matching wal2json.go's same fallback for unrecognized types.
// Exported for internal/engine's row-lookup adapter.
func NativeToValue(v interface{}) change.Value {
	switch x := v.(type) {
	case nil:
		return change.Null()
	case bool:
		return change.Bool(x)
	case int16:
		return change.Int(int64(x))
	case int32:
		return change.Int(int64(x))
	case int64:
		return change.Int(x)
	case float32:
		return change.Float(float64(x))
	case float64:
		return change.Float(x)
	case string:
		return change.String(x)
	case []byte:
		return change.Binary(x)
	case time.Time:
		return change.Timestamp(x)
	case [16]byte:
		return change.UUID(uuid.UUID(x))
	case uuid.UUID:
		return change.UUID(x)
	case fmt.Stringer:
		return change.String(x.String())
	default:
		return change.String(fmt.Sprintf("%v", x))
	}
}
