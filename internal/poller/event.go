// Package poller runs the long-lived watchers that move tickets forward when
// external platform state changes.
package poller

import (
	"context"
	"fmt"
	"time"

	"trading-desk/internal/domain"
)

// Key identifies a poll chain. At most one chain runs per key.
type Key struct {
	ChannelID string
	OwnerID   string
}

// String returns the registry form "channel_owner".
func (k Key) String() string {
	return fmt.Sprintf("%s_%s", k.ChannelID, k.OwnerID)
}

// EventKind names a poll observation delivered to the Handler.
type EventKind string

const (
	// EventMemberJoined: the user joined the group; Poll is the waiting-period state.
	EventMemberJoined EventKind = "member_joined"
	// EventWaitingTick: Poll.Remaining was recomputed and should be persisted.
	EventWaitingTick EventKind = "waiting_tick"
	// EventWaitingDone: the waiting period elapsed.
	EventWaitingDone EventKind = "waiting_done"
	// EventPassBaseline: the pass snapshot was taken; Poll.Baseline should be persisted.
	EventPassBaseline EventKind = "pass_baseline"
	// EventPassCreated: a new pass appeared; Poll is the pass-price state.
	EventPassCreated EventKind = "pass_created"
	// EventPriceMismatch: the pass price changed to a wrong value.
	EventPriceMismatch EventKind = "price_mismatch"
	// EventPriceMatched: the pass price equals the expected price.
	EventPriceMatched EventKind = "price_matched"
	// EventHeartbeat: the poll is still waiting.
	EventHeartbeat EventKind = "heartbeat"
	// EventExpired: the poll ran past its maximum duration and stopped.
	EventExpired EventKind = "expired"
)

// Event is one observation of a poll chain.
type Event struct {
	Key     Key
	Kind    EventKind
	Poll    domain.PollState // state after the event
	Pass    *domain.GamePass // pass events only
	Elapsed time.Duration    // heartbeat and expiry only
}

// Handler reacts to poll events. It is called from the chain's goroutine,
// so it must not start or cancel the poll under the same key.
type Handler interface {
	HandlePoll(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// HandlePoll calls f(ctx, ev).
func (f HandlerFunc) HandlePoll(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
