package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// DealStore is an in-memory implementation of storage.DealStore.
type DealStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Deal // keyed by deal_id
}

// NewDealStore creates a new in-memory deal store.
func NewDealStore() *DealStore {
	return &DealStore{
		data: make(map[string]*domain.Deal),
	}
}

// Insert adds a new deal. Returns ErrDuplicateKey if deal_id exists.
func (s *DealStore) Insert(_ context.Context, d *domain.Deal) error {
	if d == nil || d.DealID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DealID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[d.DealID] = cloneDeal(d)
	return nil
}

// GetByID retrieves a deal by its ID. Returns ErrNotFound if not exists.
func (s *DealStore) GetByID(_ context.Context, dealID string) (*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[dealID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneDeal(d), nil
}

// GetByTimeRange retrieves deals decided within [start, end], ordered by decided_at ASC.
func (s *DealStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Deal
	for _, d := range s.data {
		if d.DecidedAt.Before(start) || d.DecidedAt.After(end) {
			continue
		}
		result = append(result, cloneDeal(d))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].DecidedAt.Equal(result[j].DecidedAt) {
			return result[i].DealID < result[j].DealID
		}
		return result[i].DecidedAt.Before(result[j].DecidedAt)
	})

	return result, nil
}

func cloneDeal(d *domain.Deal) *domain.Deal {
	c := *d
	c.Items = domain.CloneItems(d.Items)
	return &c
}

var _ storage.DealStore = (*DealStore)(nil)
