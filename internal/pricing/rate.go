package pricing

// Tier boundaries in millions of value, and the currency-per-million rate
// applied below each boundary.
const (
	tier1Millions = 150
	tier2Millions = 300

	Rate1 = 80
	Rate2 = 85
	Rate3 = 90
)

// RateFor returns the currency-per-million rate for a basket worth
// totalMillions. Step function: <150 -> 80, <300 -> 85, else 90.
func RateFor(totalMillions float64) int {
	switch {
	case totalMillions < tier1Millions:
		return Rate1
	case totalMillions < tier2Millions:
		return Rate2
	default:
		return Rate3
	}
}

// RateForValue is RateFor evaluated on an integer value without float rounding.
func RateForValue(totalValue int64) int {
	switch {
	case totalValue < tier1Millions*million:
		return Rate1
	case totalValue < tier2Millions*million:
		return Rate2
	default:
		return Rate3
	}
}
