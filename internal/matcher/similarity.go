package matcher

import (
	"math"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Score weights.
const (
	weightRatio   = 0.4
	weightBigram  = 0.3
	weightTrigram = 0.3
	weightJaccard = 0.1
)

// Thresholds.
const (
	MinJaccard = 0.4 // pre-filter on character sets
	MinScore   = 0.3 // candidates below are discarded
)

// jaccard returns |A∩B| / |A∪B| over the non-space runes of a and b.
func jaccard(a, b string) float64 {
	sa, sb := runeSet(a), runeSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for r := range sa {
		if _, ok := sb[r]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func runeSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// ratio is the edit-based similarity 2*M/T of the two rune sequences.
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(runeStrings(a), runeStrings(b))
	return m.Ratio()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// ngramPositional scores shared n-grams, each weighted by how close its
// relative position is in both strings: 1 - |i/na - j/nb| for the best j.
// The sum is normalized by the larger gram count.
func ngramPositional(a, b string, n int) float64 {
	ga, gb := ngrams(a, n), ngrams(b, n)
	if len(ga) == 0 || len(gb) == 0 {
		if a == b && a != "" {
			return 1
		}
		return 0
	}

	positions := make(map[string][]int, len(gb))
	for j, g := range gb {
		positions[g] = append(positions[g], j)
	}

	na, nb := float64(len(ga)), float64(len(gb))
	total := 0.0
	for i, g := range ga {
		js, ok := positions[g]
		if !ok {
			continue
		}
		best := 0.0
		for _, j := range js {
			w := 1 - math.Abs(float64(i)/na-float64(j)/nb)
			if w > best {
				best = w
			}
		}
		total += best
	}
	return total / math.Max(na, nb)
}

func ngrams(s string, n int) []string {
	runes := []rune(s)
	if len(runes) < n {
		return nil
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

// similarity returns the blended score, or ok=false when the Jaccard
// pre-filter rejects the pair.
func similarity(a, b string) (score float64, ok bool) {
	j := jaccard(a, b)
	if j < MinJaccard {
		return 0, false
	}
	score = weightRatio*ratio(a, b) +
		weightBigram*ngramPositional(a, b, 2) +
		weightTrigram*ngramPositional(a, b, 3) +
		weightJaccard*j
	return score, true
}
