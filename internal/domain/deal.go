package domain

import "time"

// Deal is the append-only ledger record of a finalized transaction.
// Corresponds to the deals table in ClickHouse.
type Deal struct {
	DealID     string        // PRIMARY KEY, deterministic hash
	ChannelID  string        // ticket channel
	OwnerID    string        // chat user id of the seller
	AccountID  int64         // platform user id
	Method     PaymentMethod // gamepass | group
	Outcome    Outcome       // accepted | refused
	Reason     string        // refusal reason, empty when accepted
	DecidedBy  string        // staff user id
	TotalValue int64         // sum of value*quantity
	Rate       int           // currency per million applied to the basket
	TotalRobux int64         // tax-exclusive total
	AfterTax   int64         // floor(TotalRobux * 0.70)
	ItemCount  int           // sum of quantities
	Items      []LineItem
	DecidedAt  time.Time
}
