package reporting

import (
	"time"

	"trading-desk/internal/domain"
)

// Report summarizes the deal ledger over a time range.
type Report struct {
	GeneratedAt time.Time
	RangeStart  time.Time
	RangeEnd    time.Time

	Summary Summary

	// Sorted by method
	Methods []MethodRow

	// Sorted by traded value DESC, then name, type, condition
	Items []ItemRow

	// Sorted by decided_at, deal_id
	Deals []DealRow
}

// Summary contains ledger totals.
type Summary struct {
	TotalDeals int
	Accepted   int
	Refused    int
	Abandoned  int

	// Accepted deals only
	ItemsBought int
	ValueBought int64
	RobuxPaid   int64 // tax-exclusive
	RobuxNet    int64 // after marketplace tax

	AcceptanceRate float64 // accepted / (accepted + refused), 0 if none decided
}

// MethodRow breaks the ledger down by payment method.
type MethodRow struct {
	Method    domain.PaymentMethod
	Deals     int
	Accepted  int
	Refused   int
	Abandoned int
	RobuxPaid int64
}

// ItemRow aggregates accepted line items by stack identity.
type ItemRow struct {
	Name      string
	Type      string
	Condition domain.Condition
	Quantity  int
	Value     int64 // sum of value*quantity
}

// DealRow is one ledger record.
type DealRow struct {
	DealID     string
	DecidedAt  time.Time
	ChannelID  string
	AccountID  int64
	Method     domain.PaymentMethod
	Outcome    domain.Outcome
	ItemCount  int
	TotalValue int64
	Rate       int
	TotalRobux int64
	AfterTax   int64
	DecidedBy  string
	Reason     string
}
