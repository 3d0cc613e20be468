package api

import "trading-desk/internal/domain"

// OpenRequest opens the ticket of a channel.
type OpenRequest struct {
	ChannelID string `json:"channel_id"`
	OwnerID   string `json:"owner_id"`
}

// AccountRequest submits the platform username for a payout method.
type AccountRequest struct {
	Method   domain.PaymentMethod `json:"method"`
	Username string               `json:"username"`
}

// RefuseRequest carries the staff refusal reason.
type RefuseRequest struct {
	Reason string `json:"reason"`
}
