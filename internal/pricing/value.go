// Package pricing turns baskets of line items into currency quotes.
package pricing

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"trading-desk/internal/domain"
)

// ErrInvalidValue is returned when a raw value is neither a number nor a
// known "unavailable" marker.
var ErrInvalidValue = errors.New("invalid value")

// valueSeparators are stripped before parsing: commas, whitespace and the
// unicode space variants found in scraped value tables.
var valueSeparators = regexp.MustCompile(`[,\s\x{00A0}\x{2000}-\x{200B}\x{202F}\x{205F}\x{3000}]+`)

// ParseValue parses a raw catalog value such as "48 000 000" or "48,000,000".
// "n/a", "unknown" and empty strings yield domain.ErrValueUnavailable,
// never zero.
func ParseValue(raw string) (int64, error) {
	clean := valueSeparators.ReplaceAllString(raw, "")
	switch strings.ToLower(clean) {
	case "", "n/a", "na", "unknown":
		return 0, domain.ErrValueUnavailable
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, ErrInvalidValue
	}
	if !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return 0, ErrInvalidValue
	}
	return d.IntPart(), nil
}

// ValueOf returns the unit value of entry in condition c.
func ValueOf(entry domain.CatalogEntry, c domain.Condition) (int64, error) {
	return valueOf(entry.Name, entry.RawValue(c), c)
}

func valueOf(name, raw string, c domain.Condition) (int64, error) {
	v, err := ParseValue(raw)
	switch {
	case errors.Is(err, domain.ErrValueUnavailable):
		return 0, domain.Errorf(domain.ErrValueUnavailable, "Value Not Available",
			"No %s value available for '%s'!", statusWord(c), name)
	case err != nil:
		return 0, domain.Errorf(domain.ErrValueUnavailable, "Invalid Value",
			"Invalid %s value for '%s': %s", statusWord(c), name, raw)
	}
	return v, nil
}

// MissingValue reports an unresolved catalog row (a leveled variant with no
// entry) as an unavailable value for the requested condition.
func MissingValue(name string, c domain.Condition) error {
	return domain.Errorf(domain.ErrValueUnavailable, "Value Not Available",
		"No %s value available for '%s'!", statusWord(c), name)
}

func statusWord(c domain.Condition) string {
	if c == domain.ConditionDuped {
		return "dupe"
	}
	return "clean"
}
