package storage

import (
	"context"
	"time"

	"trading-desk/internal/domain"
)

// TicketStore provides access to persisted ticket state.
// Exactly one record exists per channel; Save is a full-state overwrite.
type TicketStore interface {
	// Save writes the full ticket, replacing any record for the same channel.
	Save(ctx context.Context, t *domain.Ticket) error

	// Get retrieves the ticket of a channel. Returns ErrNotFound if not exists.
	Get(ctx context.Context, channelID string) (*domain.Ticket, error)

	// Delete removes the ticket of a channel. Deleting a missing ticket is not an error.
	Delete(ctx context.Context, channelID string) error

	// List returns all tickets ordered by channel id ASC.
	List(ctx context.Context) ([]*domain.Ticket, error)
}

// DealStore provides access to the append-only deal ledger.
type DealStore interface {
	// Insert adds a new deal. Returns ErrDuplicateKey if deal_id exists.
	Insert(ctx context.Context, d *domain.Deal) error

	// GetByID retrieves a deal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, dealID string) (*domain.Deal, error)

	// GetByTimeRange retrieves deals decided within [start, end] (inclusive), ordered by decided_at ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Deal, error)
}

// CatalogSource provides the item value table.
type CatalogSource interface {
	// LoadCatalog returns every catalog entry.
	LoadCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
}
