package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// TicketStore is an in-memory implementation of storage.TicketStore.
// Tickets are held in their persisted JSON form so callers never share stage pointers.
type TicketStore struct {
	mu   sync.RWMutex
	data map[string][]byte // keyed by channel_id
}

// NewTicketStore creates a new in-memory ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		data: make(map[string][]byte),
	}
}

// Save writes the full ticket, replacing any record for the same channel.
func (s *TicketStore) Save(_ context.Context, t *domain.Ticket) error {
	if t == nil || t.ChannelID == "" {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", t.ChannelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[t.ChannelID] = raw
	return nil
}

// Get retrieves the ticket of a channel. Returns ErrNotFound if not exists.
func (s *TicketStore) Get(_ context.Context, channelID string) (*domain.Ticket, error) {
	s.mu.RLock()
	raw, exists := s.data[channelID]
	s.mu.RUnlock()

	if !exists {
		return nil, storage.ErrNotFound
	}
	return decodeTicket(raw)
}

// Delete removes the ticket of a channel.
func (s *TicketStore) Delete(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, channelID)
	return nil
}

// List returns all tickets ordered by channel id ASC.
func (s *TicketStore) List(_ context.Context) ([]*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Ticket, 0, len(s.data))
	for _, raw := range s.data {
		t, err := decodeTicket(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ChannelID < result[j].ChannelID
	})

	return result, nil
}

func decodeTicket(raw []byte) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

var _ storage.TicketStore = (*TicketStore)(nil)
