package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-desk/internal/domain"
)

const million int64 = 1_000_000

// afterTaxShare is the share of a payout left after the marketplace's 30% fee.
var afterTaxShare = decimal.RequireFromString("0.70")

// Line is one displayed stack of a quote.
type Line struct {
	Name      string
	Type      string
	Condition domain.Condition
	Quantity  int
	Value     int64 // unit value * quantity
	Robux     int64 // floor(Value/1e6 * rate)
	PerItem   int64 // Robux / Quantity
}

// Label returns "Name (Type) (Condition)".
func (l Line) Label() string {
	return l.Name + " (" + l.Type + ") (" + string(l.Condition) + ")"
}

// Quote is derived from a basket; it is never stored.
// TotalRobux is the tax-exclusive headline amount. AfterTax is what the
// seller receives once the marketplace fee is taken.
type Quote struct {
	Lines      []Line
	TotalValue int64
	ItemCount  int
	Rate       int
	TotalRobux int64
	AfterTax   int64
}

// Millions returns the total value in millions.
func (q Quote) Millions() decimal.Decimal {
	return decimal.NewFromInt(q.TotalValue).Div(decimal.NewFromInt(million))
}

// NewQuote prices items. The tier rate is chosen once from the whole basket
// and applied to every line.
func NewQuote(items []domain.LineItem) Quote {
	lines := Summarize(items)

	var q Quote
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(decimal.NewFromInt(l.Value))
		q.ItemCount += l.Quantity
	}
	q.TotalValue = clampValue(total)
	q.Rate = RateForValue(q.TotalValue)

	for i := range lines {
		lines[i].Robux = Convert(lines[i].Value, q.Rate)
		if lines[i].Quantity > 0 {
			lines[i].PerItem = lines[i].Robux / int64(lines[i].Quantity)
		}
	}
	q.Lines = lines
	q.TotalRobux = Convert(q.TotalValue, q.Rate)
	q.AfterTax = AfterTax(q.TotalRobux)
	return q
}

// Convert returns floor(value/1e6 * rate).
func Convert(value int64, rate int) int64 {
	return decimal.NewFromInt(value).
		Mul(decimal.NewFromInt(int64(rate))).
		Div(decimal.NewFromInt(million)).
		Floor().
		IntPart()
}

// AfterTax returns floor(total * 0.70).
func AfterTax(total int64) int64 {
	return decimal.NewFromInt(total).Mul(afterTaxShare).Floor().IntPart()
}

// Summarize groups items into stacks by (name, type, condition) in order of
// first appearance. It is a pure function of items.
func Summarize(items []domain.LineItem) []Line {
	var lines []Line
	pos := make(map[domain.StackKey]int)
	for _, it := range items {
		key := it.Key()
		i, ok := pos[key]
		if !ok {
			i = len(lines)
			pos[key] = i
			lines = append(lines, Line{Name: it.Name, Type: it.Type, Condition: it.Condition})
		}
		lines[i].Quantity += it.Quantity
		stack := decimal.NewFromInt(lines[i].Value).
			Add(decimal.NewFromInt(it.Value).Mul(decimal.NewFromInt(int64(it.Quantity))))
		lines[i].Value = clampValue(stack)
	}
	return lines
}

// clampValue saturates d at the int64 range so an oversized basket never
// wraps into a negative amount.
func clampValue(d decimal.Decimal) int64 {
	switch {
	case d.GreaterThan(maxValue):
		return math.MaxInt64
	case d.IsNegative():
		return 0
	}
	return d.IntPart()
}
