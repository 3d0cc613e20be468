package domain

import "time"

// PollKind identifies which external resource a poll watches.
type PollKind string

const (
	PollGroupMembership PollKind = "group_membership"
	PollPassCreation    PollKind = "pass_creation"
	PollPassPrice       PollKind = "pass_price"
	PollWaitingPeriod   PollKind = "waiting_period"
)

// String returns the string representation of PollKind.
func (k PollKind) String() string {
	return string(k)
}

// PollState is the persisted description of the active poll of a ticket.
// At most one PollState is active per ticket; starting a new poll replaces it.
type PollState struct {
	RunID         string     `json:"run_id"`
	Kind          PollKind   `json:"kind"`
	Target        int64      `json:"target"`            // group, experience or pass id
	Subject       int64      `json:"subject,omitempty"` // watched platform user
	StartedAt     time.Time  `json:"started_at"`
	ExpectedValue *int64     `json:"expected_value,omitempty"` // pass price target
	Baseline      []int64    `json:"baseline"`                 // pass ids present at poll start; nil until taken
	EndsAt        *time.Time `json:"ends_at,omitempty"`        // waiting period end
	Remaining     int64      `json:"remaining_seconds,omitempty"`
}

// GamePass is a marketplace pass listed on an experience.
type GamePass struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price *int64 `json:"price"` // nil when not on sale
}

// PlatformUser is a resolved account on the game platform.
type PlatformUser struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Experience is a public game owned by a platform user.
type Experience struct {
	ID   int64  `json:"id"` // universe id
	Name string `json:"name"`
}
