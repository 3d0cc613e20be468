package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// TicketStore implements storage.TicketStore using PostgreSQL.
// The full ticket is kept as one jsonb document per channel.
type TicketStore struct {
	pool *Pool
}

// NewTicketStore creates a new TicketStore.
func NewTicketStore(pool *Pool) *TicketStore {
	return &TicketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TicketStore = (*TicketStore)(nil)

// Save upserts the full ticket of a channel.
func (s *TicketStore) Save(ctx context.Context, t *domain.Ticket) error {
	if t == nil || t.ChannelID == "" {
		return storage.ErrInvalidInput
	}
	state, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", t.ChannelID, err)
	}

	query := `
		INSERT INTO tickets (channel_id, owner_id, step, state, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id) DO UPDATE SET
			owner_id   = EXCLUDED.owner_id,
			step       = EXCLUDED.step,
			state      = EXCLUDED.state,
			opened_at  = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at
	`

	start := time.Now()
	_, err = s.pool.Exec(ctx, query,
		t.ChannelID,
		t.OwnerID,
		t.Step().String(),
		state,
		t.OpenedAt,
		t.UpdatedAt,
	)
	observe("ticket_save", start, err)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// Get retrieves the ticket of a channel. Returns ErrNotFound if not exists.
func (s *TicketStore) Get(ctx context.Context, channelID string) (*domain.Ticket, error) {
	query := `SELECT state FROM tickets WHERE channel_id = $1`

	start := time.Now()
	t, err := scanTicket(s.pool.QueryRow(ctx, query, channelID))
	observe("ticket_get", start, err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Delete removes the ticket of a channel.
func (s *TicketStore) Delete(ctx context.Context, channelID string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE channel_id = $1`, channelID)
	observe("ticket_delete", start, err)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

// List returns all tickets ordered by channel id ASC.
func (s *TicketStore) List(ctx context.Context) ([]*domain.Ticket, error) {
	query := `SELECT state FROM tickets ORDER BY channel_id ASC`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	observe("ticket_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket rows: %w", err)
	}
	return tickets, nil
}

// scanTicket decodes the state column of a single row.
func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var state []byte
	if err := row.Scan(&state); err != nil {
		return nil, err
	}
	var t domain.Ticket
	if err := json.Unmarshal(state, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}
