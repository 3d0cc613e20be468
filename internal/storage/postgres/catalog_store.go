package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// CatalogStore keeps the item value table in PostgreSQL.
type CatalogStore struct {
	pool *Pool
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(pool *Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CatalogSource = (*CatalogStore)(nil)

// ReplaceAll swaps the whole table for entries in one transaction.
// Entries with an empty name are rejected; a repeated name keeps the last row.
func (s *CatalogStore) ReplaceAll(ctx context.Context, entries []domain.CatalogEntry) error {
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	err := s.replaceAll(ctx, entries)
	observe("catalog_replace", start, err)
	return err
}

func (s *CatalogStore) replaceAll(ctx context.Context, entries []domain.CatalogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM catalog_items`); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	query := `
		INSERT INTO catalog_items (name, cash_value, duped_value, item_type, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			cash_value  = EXCLUDED.cash_value,
			duped_value = EXCLUDED.duped_value,
			item_type   = EXCLUDED.item_type,
			updated_at  = EXCLUDED.updated_at
	`
	for _, e := range entries {
		_, err := tx.Exec(ctx, query,
			strings.TrimSpace(e.Name),
			e.CashValue,
			e.DupedValue,
			e.Type,
		)
		if err != nil {
			return fmt.Errorf("insert catalog item %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadCatalog returns every entry ordered by name ASC.
func (s *CatalogStore) LoadCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	query := `
		SELECT name, cash_value, duped_value, item_type
		FROM catalog_items
		ORDER BY name ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	observe("catalog_load", start, err)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	var entries []domain.CatalogEntry
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.Name, &e.CashValue, &e.DupedValue, &e.Type); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return entries, nil
}
