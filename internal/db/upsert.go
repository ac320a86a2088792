package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig describes a partition replacement.
type ReplaceConfig struct {
	Table     string // target table, optionally schema-qualified
	Columns   []string
	KeyColumn string // rows with KeyColumn = KeyValue are replaced
	KeyValue  any
	BatchSize int
}

// ReplacePartition deletes every row matching the key and COPYs rows in
// their place, in one transaction. Readers see either the old partition or
// the new one.
func ReplacePartition(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (deleted, inserted int64, err error) {
	if len(cfg.Columns) == 0 {
		return 0, 0, eris.New("db: replace: no columns specified")
	}
	if cfg.KeyColumn == "" {
		return 0, 0, eris.New("db: replace: no key column specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", sanitizeTable(cfg.Table), pgx.Identifier{cfg.KeyColumn}.Sanitize())
	tag, err := tx.Exec(ctx, del, cfg.KeyValue)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}
	deleted = tag.RowsAffected()

	inserted, err = CopyBatches(ctx, tx, identifier(cfg.Table), cfg.Columns, rows, cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return deleted, inserted, nil
}

// identifier splits a schema-qualified name.
func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	return pgx.Identifier(parts)
}

// sanitizeTable handles schema-qualified table names like "landuse.psegs".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// SanitizeTable quotes a possibly schema-qualified table name.
func SanitizeTable(table string) string {
	return sanitizeTable(table)
}
