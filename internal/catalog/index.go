// Package catalog holds the in-memory item index and the static tables
// (aliases, type hints, type priority, desk lists) that drive matching.
package catalog

import (
	"sort"
	"strings"

	"trading-desk/internal/domain"
)

// Index is an immutable name -> entry table with a stable, name-ascending scan order.
type Index struct {
	entries map[string]domain.CatalogEntry
	names   []string
}

// NewIndex builds an index. Later entries with the same name replace earlier ones.
func NewIndex(entries []domain.CatalogEntry) *Index {
	idx := &Index{entries: make(map[string]domain.CatalogEntry, len(entries))}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		e.Name = name
		idx.entries[name] = e
	}
	idx.names = make([]string, 0, len(idx.entries))
	for name := range idx.entries {
		idx.names = append(idx.names, name)
	}
	sort.Strings(idx.names)
	return idx
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.names)
}

// Lookup returns the entry with exactly this name.
func (idx *Index) Lookup(name string) (domain.CatalogEntry, bool) {
	e, ok := idx.entries[name]
	return e, ok
}

// Names returns all entry names in ascending order. The slice must not be modified.
func (idx *Index) Names() []string {
	return idx.names
}

// Entries returns all entries in ascending name order.
func (idx *Index) Entries() []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, len(idx.names))
	for i, name := range idx.names {
		out[i] = idx.entries[name]
	}
	return out
}

// FirstContaining returns the first name (ascending) that contains sub.
func (idx *Index) FirstContaining(sub string) (string, bool) {
	for _, name := range idx.names {
		if strings.Contains(name, sub) {
			return name, true
		}
	}
	return "", false
}
