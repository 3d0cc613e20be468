package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// fileRow is one value of the catalog JSON object, keyed by display name.
type fileRow struct {
	CashValue  rawValue `json:"Cash Value"`
	DupedValue rawValue `json:"Duped Value"`
	Type       string   `json:"Type"`
}

// rawValue accepts a JSON string, number or null and keeps its text form.
type rawValue string

func (v *rawValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = rawValue(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("catalog value %s: %w", b, err)
		}
		*v = rawValue(n.String())
	}
	return nil
}

// ParseCatalog decodes the catalog JSON object into entries.
func ParseCatalog(data []byte) ([]domain.CatalogEntry, error) {
	var rows map[string]fileRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	entries := make([]domain.CatalogEntry, 0, len(rows))
	for name, row := range rows {
		entries = append(entries, domain.CatalogEntry{
			Name:       name,
			CashValue:  string(row.CashValue),
			DupedValue: string(row.DupedValue),
			Type:       row.Type,
		})
	}
	return entries, nil
}

// FileSource reads the catalog from a JSON file on every load.
type FileSource struct {
	path string
}

// NewFileSource creates a catalog source backed by a JSON file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadCatalog reads and decodes the catalog file.
func (s *FileSource) LoadCatalog(_ context.Context) ([]domain.CatalogEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

var _ storage.CatalogSource = (*FileSource)(nil)

// Load builds an index from any catalog source.
func Load(ctx context.Context, src storage.CatalogSource) (*Index, error) {
	entries, err := src.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(entries), nil
}
