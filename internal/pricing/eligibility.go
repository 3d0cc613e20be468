package pricing

import (
	"errors"
	"strings"

	"trading-desk/internal/domain"
)

// EligibilityFloor is the minimum clean value of a tradable item.
const EligibilityFloor int64 = 2_500_000

// Eligibility judges whether an item may be added to a basket.
// Both checks are condition-independent.
type Eligibility struct {
	Floor      int64
	Obtainable map[string]struct{} // clean base names
}

// NewEligibility creates an eligibility policy with the default floor.
func NewEligibility(obtainable map[string]struct{}) *Eligibility {
	if obtainable == nil {
		obtainable = map[string]struct{}{}
	}
	return &Eligibility{Floor: EligibilityFloor, Obtainable: obtainable}
}

// Validate rejects entries whose clean base name is obtainable or whose clean
// value is below the floor. An unknown clean value is treated as below the floor.
func (e *Eligibility) Validate(entry domain.CatalogEntry) error {
	if e.IsObtainable(entry.Name) {
		return ineligible()
	}
	v, err := ParseValue(entry.CashValue)
	if err != nil {
		if errors.Is(err, domain.ErrValueUnavailable) || errors.Is(err, ErrInvalidValue) {
			return ineligible()
		}
		return err
	}
	if !e.Eligible(v) {
		return ineligible()
	}
	return nil
}

// Eligible reports whether a clean value meets the floor.
func (e *Eligibility) Eligible(cleanValue int64) bool {
	return cleanValue >= e.Floor
}

// IsObtainable checks the denylist against the text before the first "(".
func (e *Eligibility) IsObtainable(name string) bool {
	base, _, _ := strings.Cut(name, "(")
	_, ok := e.Obtainable[strings.TrimSpace(base)]
	return ok
}

func ineligible() error {
	return domain.NewUserError(domain.ErrIneligible, "Item Information",
		"This item cannot be added because it is worth less than 2.5M or it is obtainable.")
}
