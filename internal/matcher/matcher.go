// Package matcher resolves free-text item names into catalog entries.
//
// Resolution order:
//  1. leveled variants: exact alias, then color/level patterns, then token containment
//  2. type hint detection from the alias type table
//  3. blended fuzzy scoring over every catalog entry
//  4. same-base-name disambiguation by type priority
package matcher

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"trading-desk/internal/catalog"
	"trading-desk/internal/domain"
)

// MaxCandidates caps the scored candidates considered for disambiguation.
const MaxCandidates = 10

// NoHint is the type hint meaning "no type given".
const NoHint = "none"

// Result is a resolved catalog entry.
type Result struct {
	Key         string               // catalog key, or canonical leveled name when unresolved
	Entry       *domain.CatalogEntry // nil when a leveled variant has no catalog row
	DisplayName string               // name without type qualifier or year
	Type        string
	Score       float64
	Special     bool // leveled color variant
}

// Candidate is one scored catalog entry.
type Candidate struct {
	Name  string
	Entry domain.CatalogEntry
	Score float64
}

// Matcher resolves names against a catalog index and alias tables.
// It is safe for concurrent use.
type Matcher struct {
	index   *catalog.Index
	aliases *catalog.Aliases
}

// New creates a matcher.
func New(index *catalog.Index, aliases *catalog.Aliases) *Matcher {
	if aliases == nil {
		aliases = catalog.NewAliases(nil, nil, nil)
	}
	return &Matcher{index: index, aliases: aliases}
}

// Match resolves input. typeHint may be empty or NoHint.
// It returns the best guess plus every candidate sharing its base name
// (including the best guess), or a domain.ErrNotFound user error.
func (m *Matcher) Match(input, typeHint string) (*Result, []Candidate, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, nil, notFound(input)
	}

	if canonical, ok := m.resolveLeveled(text); ok {
		return m.leveledResult(canonical), nil, nil
	}

	hint := strings.TrimSpace(typeHint)
	if strings.EqualFold(hint, NoHint) {
		hint = ""
	}
	cleaned := text
	if hint == "" {
		if typ, sub, ok := m.aliases.DetectType(text); ok {
			hint = typ
			cleaned = removeFold(text, sub)
		}
	}
	if cleaned == "" {
		cleaned = text
	}

	candidates := m.score(cleaned)
	if len(candidates) == 0 {
		return nil, nil, notFound(input)
	}

	best, dups := m.disambiguate(candidates, text, cleaned, hint)
	entry := best.Entry
	return &Result{
		Key:         best.Name,
		Entry:       &entry,
		DisplayName: domain.BaseName(best.Name),
		Type:        entry.ItemType(),
		Score:       best.Score,
	}, dups, nil
}

// Ambiguous reports whether a match left more than one same-base-name candidate.
func Ambiguous(dups []Candidate) bool {
	return len(dups) > 1
}

func notFound(input string) error {
	return domain.Errorf(domain.ErrNotFound, "Item Not Found", "Item '%s' not found in database!", input)
}

var colors = `(blue|red|yellow|orange|pink|purple|diamond|green|shift)`

// Ordered: the first matching pattern wins.
var leveledPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:hyper\s*)?` + colors + `\s*(?:level|lvl|l)\s*(\d+)$`),
	regexp.MustCompile(`^(?:hyper\s*)?` + colors + `\s+(\d+)$`),
	regexp.MustCompile(`^(?:hyper\s*)?` + colors + `(\d+)$`),
}

// resolveLeveled returns the canonical leveled-variant name for text.
func (m *Matcher) resolveLeveled(text string) (string, bool) {
	if name, ok := m.aliases.ResolveAlias(text); ok {
		return name, true
	}

	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, re := range leveledPatterns {
		sm := re.FindStringSubmatch(lower)
		if sm == nil {
			continue
		}
		level, err := strconv.Atoi(sm[2])
		if err != nil {
			continue
		}
		return canonicalLeveled(sm[1], level), true
	}

	// Containment fallback only for level-bearing input.
	stripped := stripLeveledTokens(text)
	if stripped == "" || !strings.ContainsAny(stripped, "0123456789") {
		return "", false
	}
	for _, name := range m.aliases.LeveledNames() {
		known := stripLeveledTokens(name)
		if known == "" {
			continue
		}
		if strings.Contains(known, stripped) || strings.Contains(stripped, known) {
			return name, true
		}
	}
	return "", false
}

func canonicalLeveled(color string, level int) string {
	return "Hyper" + strings.ToUpper(color[:1]) + color[1:] + " Level " + strconv.Itoa(level)
}

// stripLeveledTokens lowercases s, drops "hyper", "level", "lvl" and "l"
// tokens, and joins the rest without spaces: "HyperPurple Level 5" -> "purple5".
func stripLeveledTokens(s string) string {
	lower := strings.ToLower(s)
	lower = strings.ReplaceAll(lower, "hyper", " ")
	lower = strings.ReplaceAll(lower, "level", " ")
	var b strings.Builder
	for _, tok := range strings.Fields(lower) {
		if tok == "l" || tok == "lvl" {
			continue
		}
		b.WriteString(tok)
	}
	return b.String()
}

// leveledResult looks the canonical name up in the catalog, preferring
// "C 2023 (HyperChrome)", then "C 2023", then "C (HyperChrome)", then the
// first key containing C, then C itself.
func (m *Matcher) leveledResult(canonical string) *Result {
	res := &Result{
		Key:         canonical,
		DisplayName: canonical,
		Type:        domain.TypeHyperChrome,
		Special:     true,
		Score:       1,
	}

	keys := []string{
		canonical + " 2023 (" + domain.TypeHyperChrome + ")",
		canonical + " 2023",
		canonical + " (" + domain.TypeHyperChrome + ")",
	}
	for _, key := range keys {
		if e, ok := m.index.Lookup(key); ok {
			res.Key, res.Entry = key, &e
			return res
		}
	}
	if key, ok := m.index.FirstContaining(canonical); ok {
		e, _ := m.index.Lookup(key)
		res.Key, res.Entry = key, &e
		return res
	}
	if e, ok := m.index.Lookup(canonical); ok {
		res.Entry = &e
	}
	return res
}

// score rates every catalog entry against cleaned input, best first.
// Ties keep ascending name order.
func (m *Matcher) score(cleaned string) []Candidate {
	query := strings.ToLower(domain.StripQualifiers(cleaned))
	if query == "" {
		query = strings.ToLower(cleaned)
	}

	var out []Candidate
	for _, name := range m.index.Names() {
		target := strings.ToLower(domain.StripQualifiers(name))
		s, ok := similarity(query, target)
		if !ok || s < MinScore {
			continue
		}
		e, _ := m.index.Lookup(name)
		out = append(out, Candidate{Name: name, Entry: e, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// disambiguate picks among the top candidates sharing the best base name.
func (m *Matcher) disambiguate(candidates []Candidate, raw, cleaned, hint string) (Candidate, []Candidate) {
	top := candidates
	if len(top) > MaxCandidates {
		top = top[:MaxCandidates]
	}

	bestBase := strings.ToLower(domain.BaseName(top[0].Name))
	var dups []Candidate
	for _, c := range top {
		if c.Score > MinScore && strings.ToLower(domain.BaseName(c.Name)) == bestBase {
			dups = append(dups, c)
		}
	}
	if len(dups) == 0 {
		return top[0], []Candidate{top[0]}
	}

	if hint != "" {
		var typed []Candidate
		for _, c := range dups {
			if strings.EqualFold(c.Entry.ItemType(), hint) {
				typed = append(typed, c)
			}
		}
		if len(typed) > 0 {
			dups = typed
		}
	}
	if len(dups) == 1 {
		return dups[0], dups
	}

	rawLower := strings.ToLower(raw)
	cleanedLower := strings.ToLower(cleaned)
	var exact []Candidate
	for _, c := range dups {
		base := strings.ToLower(domain.BaseName(c.Name))
		if base == rawLower || base == cleanedLower {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return exact[0], dups
	}

	pool := dups
	if len(exact) > 1 {
		pool = exact
	}
	best := pool[0]
	for _, c := range pool[1:] {
		if m.aliases.Rank(c.Entry.ItemType()) < m.aliases.Rank(best.Entry.ItemType()) {
			best = c
		}
	}
	return best, dups
}

// removeFold removes the first case-insensitive occurrence of sub from s,
// then drops empty parentheses and collapses whitespace.
func removeFold(s, sub string) string {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(sub))
	if err != nil {
		return s
	}
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	out := s[:loc[0]] + " " + s[loc[1]:]
	out = emptyParens.ReplaceAllString(out, " ")
	return strings.Join(strings.Fields(out), " ")
}

var emptyParens = regexp.MustCompile(`\(\s*\)`)
