package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// DealStore implements storage.DealStore using ClickHouse.
type DealStore struct {
	conn *Conn
}

// NewDealStore creates a new DealStore.
func NewDealStore(conn *Conn) *DealStore {
	return &DealStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DealStore = (*DealStore)(nil)

const dealColumns = `
	deal_id, channel_id, owner_id, account_id, method, outcome, reason, decided_by,
	total_value, rate, total_robux, after_tax, item_count, items, decided_at
`

// Insert adds a new deal. Returns ErrDuplicateKey if deal_id exists.
func (s *DealStore) Insert(ctx context.Context, d *domain.Deal) error {
	if d == nil || d.DealID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse the row; the ledger is append-only.
	exists, err := s.exists(ctx, d.DealID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	items, err := json.Marshal(d.Items)
	if err != nil {
		return fmt.Errorf("encode deal items: %w", err)
	}

	query := `INSERT INTO deals (` + dealColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	err = s.conn.Exec(ctx, query,
		d.DealID, d.ChannelID, d.OwnerID, d.AccountID,
		string(d.Method), string(d.Outcome), d.Reason, d.DecidedBy,
		d.TotalValue, uint16(d.Rate), d.TotalRobux, d.AfterTax, uint32(d.ItemCount),
		string(items), d.DecidedAt.UTC(),
	)
	observe("deal_insert", start, err)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// GetByID retrieves a deal by its ID. Returns ErrNotFound if not exists.
func (s *DealStore) GetByID(ctx context.Context, dealID string) (*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals FINAL WHERE deal_id = ? LIMIT 1`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, dealID)
	observe("deal_get", start, err)
	if err != nil {
		return nil, fmt.Errorf("query deal: %w", err)
	}
	defer rows.Close()

	deals, err := scanDeals(rows)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return nil, storage.ErrNotFound
	}
	return deals[0], nil
}

// GetByTimeRange retrieves deals decided within [start, end] (inclusive), ordered by decided_at ASC.
func (s *DealStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals FINAL
		WHERE decided_at >= ? AND decided_at <= ?
		ORDER BY decided_at ASC, deal_id ASC
	`

	began := time.Now()
	rows, err := s.conn.Query(ctx, query, start.UTC(), end.UTC())
	observe("deal_range", began, err)
	if err != nil {
		return nil, fmt.Errorf("query deals by time range: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

func (s *DealStore) exists(ctx context.Context, dealID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM deals FINAL WHERE deal_id = ?`, dealID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows used for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDeals(rows chRows) ([]*domain.Deal, error) {
	var deals []*domain.Deal

	for rows.Next() {
		var (
			d         domain.Deal
			method    string
			outcome   string
			rate      uint16
			itemCount uint32
			items     string
		)
		err := rows.Scan(
			&d.DealID, &d.ChannelID, &d.OwnerID, &d.AccountID,
			&method, &outcome, &d.Reason, &d.DecidedBy,
			&d.TotalValue, &rate, &d.TotalRobux, &d.AfterTax, &itemCount,
			&items, &d.DecidedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan deal row: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &d.Items); err != nil {
			return nil, fmt.Errorf("decode deal %s items: %w", d.DealID, err)
		}
		d.Method = domain.PaymentMethod(method)
		d.Outcome = domain.Outcome(outcome)
		d.Rate = int(rate)
		d.ItemCount = int(itemCount)
		d.DecidedAt = d.DecidedAt.UTC()
		deals = append(deals, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deal rows: %w", err)
	}
	return deals, nil
}
