package migrations

import (
	"context"
	"fmt"

	"trading-desk/internal/storage/postgres"
)

// RunPostgresMigrations applies the ticket and catalog schema. Every file is
// idempotent, so it runs on each start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	scripts, err := readScripts(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.name, err)
		}
	}
	return nil
}
