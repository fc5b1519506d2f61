package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// BulkUpsert copies rows into a temporary staging table and merges them into
// the target with INSERT ... ON CONFLICT DO UPDATE. conflictCols name the
// target's unique key; every other column is updated on conflict.
func BulkUpsert(ctx context.Context, pool Pool, table string, columns, conflictCols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: begin upsert transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tmp := "staging_" + sanitizeTable(table)
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tmp}.Sanitize(), pgx.Identifier{table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: create staging table for %s", table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", tmp)
	}

	updates := make([]string, 0, len(columns))
	conflict := make(map[string]bool, len(conflictCols))
	for _, c := range conflictCols {
		conflict[c] = true
	}
	for _, c := range columns {
		if conflict[c] {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	mergeSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		quoteAndJoin(columns),
		quoteAndJoin(columns),
		pgx.Identifier{tmp}.Sanitize(),
		quoteAndJoin(conflictCols),
		strings.Join(updates, ", "),
	)
	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge staging into %s", table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: commit upsert transaction")
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	var b strings.Builder
	for _, r := range table {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
