package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"redemption-feed/internal/storage/postgres"
)

const postgresLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RunPostgresMigrations applies the embedded files not yet recorded in
// schema_migrations. Each file runs in its own transaction together with
// its ledger row.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	if _, err := pool.Exec(ctx, postgresLedger); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil // already applied
			}
			_, err = tx.Exec(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
