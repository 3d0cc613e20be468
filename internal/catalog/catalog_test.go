package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-desk/internal/domain"
)

func TestFileSource_LoadCatalog(t *testing.T) {
	idx, err := Load(context.Background(), NewFileSource(filepath.Join("testdata", "items.json")))
	require.NoError(t, err)

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, []string{
		"HyperPurple Level 5 2023 (HyperChrome)",
		"Torpedo (Vehicle)",
		"Widget (Rim)",
		"Widget (Spoiler)",
	}, idx.Names())

	torpedo, ok := idx.Lookup("Torpedo (Vehicle)")
	require.True(t, ok)
	assert.Equal(t, "48 000 000", torpedo.CashValue)
	assert.Equal(t, "30,000,000", torpedo.DupedValue)

	spoiler, ok := idx.Lookup("Widget (Spoiler)")
	require.True(t, ok)
	assert.Equal(t, "4000000", spoiler.CashValue, "numeric JSON values keep their text")
	assert.Equal(t, "", spoiler.DupedValue, "null becomes empty")
	assert.Equal(t, "Spoiler", spoiler.ItemType(), "type falls back to the qualifier")
}

func TestFileSource_Missing(t *testing.T) {
	_, err := NewFileSource(filepath.Join("testdata", "nope.json")).LoadCatalog(context.Background())
	assert.Error(t, err)
}

func TestIndex_FirstContaining(t *testing.T) {
	idx := NewIndex([]domain.CatalogEntry{
		{Name: "b HyperRed Level 2"},
		{Name: "a HyperRed Level 2"},
		{Name: "  "},
	})

	assert.Equal(t, 2, idx.Len(), "blank names are skipped")

	name, ok := idx.FirstContaining("HyperRed Level 2")
	require.True(t, ok)
	assert.Equal(t, "a HyperRed Level 2", name, "scan order is ascending by name")

	_, ok = idx.FirstContaining("HyperBlue")
	assert.False(t, ok)
}

func TestLoadAliases(t *testing.T) {
	a, err := LoadAliases(filepath.Join("testdata", "aliases.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"HyperPurple Level 5", "HyperShift Level 3"}, a.LeveledNames())

	name, ok := a.ResolveAlias("  PURPLE   5 ")
	require.True(t, ok)
	assert.Equal(t, "HyperPurple Level 5", name)

	name, ok = a.ResolveAlias("hypershift level 3")
	require.True(t, ok, "canonical names resolve to themselves")
	assert.Equal(t, "HyperShift Level 3", name)

	_, ok = a.ResolveAlias("purple 6")
	assert.False(t, ok)

	typ, matched, ok := a.DetectType("Widget RIM")
	require.True(t, ok)
	assert.Equal(t, "Rim", typ)
	assert.Equal(t, "rim", matched)

	assert.Equal(t, 1, a.Rank("HyperChrome"))
	assert.Equal(t, 3, a.Rank("rim"))
	assert.Equal(t, 5, a.Rank("Furniture"), "unlisted types rank last")
}

func TestParseAliases_DefaultPriority(t *testing.T) {
	a, err := ParseAliases([]byte("leveled: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, a.Priority)
	assert.Less(t, a.Rank("Rim"), a.Rank("Spoiler"))
}

func TestParseAliases_Invalid(t *testing.T) {
	_, err := ParseAliases([]byte("types:\n  - match: [rim]\n"))
	assert.Error(t, err)

	_, err = ParseAliases([]byte("leveled: [unclosed"))
	assert.Error(t, err)
}

func TestLoadDesk(t *testing.T) {
	d, err := LoadDesk(filepath.Join("testdata", "desk.json"))
	require.NoError(t, err)

	assert.Contains(t, d.ObtainableSet(), "Camaro")
	assert.Contains(t, d.ExceptionSet(), "Torpedo (Vehicle)")
	assert.Equal(t, []string{"1300798850788757564"}, d.SupportRoles)

	empty, err := LoadDesk(filepath.Join("testdata", "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, empty.Obtainable)
}
