// Package file keeps tickets as one JSON document per channel on local disk.
// Every write goes through an atomic rename, so a crash leaves either the old
// or the new document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

const ext = ".json"

var validChannelID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TicketStore implements storage.TicketStore on a directory.
type TicketStore struct {
	dir string
	mu  sync.RWMutex
}

// NewTicketStore creates the directory if needed and returns a store over it.
func NewTicketStore(dir string) (*TicketStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ticket dir: %w", err)
	}
	return &TicketStore{dir: dir}, nil
}

func (s *TicketStore) path(channelID string) (string, error) {
	if !validChannelID.MatchString(channelID) {
		return "", fmt.Errorf("%w: channel id %q", storage.ErrInvalidInput, channelID)
	}
	return filepath.Join(s.dir, channelID+ext), nil
}

// Save atomically replaces the document of the ticket's channel.
func (s *TicketStore) Save(_ context.Context, t *domain.Ticket) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	path, err := s.path(t.ChannelID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", t.ChannelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write ticket %s: %w", t.ChannelID, err)
	}
	return nil
}

// Get reads the ticket of a channel. Returns ErrNotFound if not exists.
func (s *TicketStore) Get(_ context.Context, channelID string) (*domain.Ticket, error) {
	path, err := s.path(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ticket %s: %w", channelID, err)
	}
	return decode(raw, channelID)
}

// Delete removes the document of a channel. A missing document is not an error.
func (s *TicketStore) Delete(_ context.Context, channelID string) error {
	path, err := s.path(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete ticket %s: %w", channelID, err)
	}
	return nil
}

// List reads every document, ordered by channel id ASC. Temporary files left
// by an interrupted write are skipped.
func (s *TicketStore) List(_ context.Context) ([]*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read ticket dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ext))
	}
	sort.Strings(names)

	tickets := make([]*domain.Ticket, 0, len(names))
	for _, channelID := range names {
		raw, err := os.ReadFile(filepath.Join(s.dir, channelID+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read ticket %s: %w", channelID, err)
		}
		t, err := decode(raw, channelID)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func decode(raw []byte, channelID string) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", channelID, err)
	}
	return &t, nil
}

var _ storage.TicketStore = (*TicketStore)(nil)
