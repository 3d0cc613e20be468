package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPriority is the type ranking used when the alias file omits one.
// Earlier types win ambiguous matches.
var DefaultPriority = []string{
	"HyperChrome",
	"Vehicle",
	"Rim",
	"Spoiler",
	"Body Color",
	"Texture",
	"Tire Sticker",
	"Tire Style",
	"Drift",
	"Furniture",
	"Horn",
	"Weapon Skin",
}

// TypeHint maps a type label to substrings that indicate it inside user input.
type TypeHint struct {
	Type  string   `yaml:"type"`
	Match []string `yaml:"match"`
}

// Aliases is the static alias configuration.
//
//	leveled:
//	  HyperPurple Level 5: [purple 5, p5]
//	types:
//	  - type: Rim
//	    match: [rim]
//	priority: [HyperChrome, Vehicle, Rim]
type Aliases struct {
	Leveled  map[string][]string `yaml:"leveled"`
	Types    []TypeHint          `yaml:"types"`
	Priority []string            `yaml:"priority"`

	leveledNames []string
	aliasIndex   map[string]string
	rank         map[string]int
}

// LoadAliases reads an alias YAML file.
func LoadAliases(path string) (*Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	return ParseAliases(data)
}

// ParseAliases decodes alias YAML.
func ParseAliases(data []byte) (*Aliases, error) {
	var a Aliases
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	for i, h := range a.Types {
		if strings.TrimSpace(h.Type) == "" {
			return nil, fmt.Errorf("decode aliases: types[%d] has no type label", i)
		}
	}
	a.build()
	return &a, nil
}

// NewAliases builds alias tables from already decoded values.
func NewAliases(leveled map[string][]string, types []TypeHint, priority []string) *Aliases {
	a := &Aliases{Leveled: leveled, Types: types, Priority: priority}
	a.build()
	return a
}

func (a *Aliases) build() {
	if len(a.Priority) == 0 {
		a.Priority = DefaultPriority
	}

	a.leveledNames = make([]string, 0, len(a.Leveled))
	for name := range a.Leveled {
		a.leveledNames = append(a.leveledNames, name)
	}
	sort.Strings(a.leveledNames)

	// First canonical name (ascending) wins an alias listed twice.
	a.aliasIndex = make(map[string]string)
	for _, name := range a.leveledNames {
		key := normalizeAlias(name)
		if _, ok := a.aliasIndex[key]; !ok {
			a.aliasIndex[key] = name
		}
		for _, alias := range a.Leveled[name] {
			key := normalizeAlias(alias)
			if key == "" {
				continue
			}
			if _, ok := a.aliasIndex[key]; !ok {
				a.aliasIndex[key] = name
			}
		}
	}

	a.rank = make(map[string]int, len(a.Priority))
	for i, t := range a.Priority {
		key := strings.ToLower(strings.TrimSpace(t))
		if _, ok := a.rank[key]; !ok {
			a.rank[key] = i + 1
		}
	}
}

// LeveledNames returns the canonical leveled-variant names in ascending order.
func (a *Aliases) LeveledNames() []string {
	return a.leveledNames
}

// ResolveAlias returns the canonical leveled name whose alias (or own name)
// equals input, ignoring case and surrounding whitespace.
func (a *Aliases) ResolveAlias(input string) (string, bool) {
	name, ok := a.aliasIndex[normalizeAlias(input)]
	return name, ok
}

// DetectType scans the type hints in file order and returns the first type
// whose substring occurs in input (case-insensitive), with the matched substring.
func (a *Aliases) DetectType(input string) (typ, matched string, ok bool) {
	lower := strings.ToLower(input)
	for _, h := range a.Types {
		for _, sub := range h.Match {
			s := strings.ToLower(strings.TrimSpace(sub))
			if s == "" {
				continue
			}
			if strings.Contains(lower, s) {
				return h.Type, s, true
			}
		}
	}
	return "", "", false
}

// Rank returns the priority of a type; lower wins. Unknown types rank last.
func (a *Aliases) Rank(typ string) int {
	if r, ok := a.rank[strings.ToLower(strings.TrimSpace(typ))]; ok {
		return r
	}
	return len(a.Priority) + 1
}

func normalizeAlias(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
