package api

import (
	"encoding/json"
	"net/http"

	"trading-desk/internal/domain"
	"trading-desk/internal/ticket"
)

// ErrorResponse is the body of every non-2xx response. Title and Message are
// the exact texts to show the user when the error is a user error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// TicketResponse is a ticket plus its rendered main message.
type TicketResponse struct {
	Ticket *domain.Ticket `json:"ticket"`
	View   ticket.View    `json:"view"`
}

// MatchResponse is the result of a catalog lookup.
type MatchResponse struct {
	Key        string           `json:"key"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	Score      float64          `json:"score"`
	Special    bool             `json:"special"`
	CashValue  string           `json:"cash_value,omitempty"`
	DupedValue string           `json:"duped_value,omitempty"`
	Ambiguous  bool             `json:"ambiguous"`
	Candidates []MatchCandidate `json:"candidates,omitempty"`
}

// MatchCandidate is one same-base-name catalog entry of an ambiguous match.
type MatchCandidate struct {
	Key   string  `json:"key"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
