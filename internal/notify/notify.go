// Package notify delivers ticket messages to the presentation layer.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/observability"
)

// Kind classifies a notification.
type Kind string

const (
	KindTicketView       Kind = "ticket_view" // the ticket's main message for its current step
	KindUserError        Kind = "user_error"
	KindItemChanged      Kind = "item_changed"
	KindPassLink         Kind = "pass_link"
	KindGroupJoin        Kind = "group_join"
	KindWaitingPeriod    Kind = "waiting_period"
	KindPassDetected     Kind = "pass_detected"
	KindPriceMismatch    Kind = "price_mismatch"
	KindTransactionReady Kind = "transaction_ready"
	KindStillWaiting     Kind = "still_waiting"
	KindPollExpired      Kind = "poll_expired"
	KindTicketClosed     Kind = "ticket_closed"
)

// Notification is one message for a ticket channel. Text is the exact
// rendered content; Content carries mentions posted outside the embed.
type Notification struct {
	ChannelID string    `json:"channel_id"`
	Kind      Kind      `json:"kind"`
	Step      string    `json:"step,omitempty"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Content   string    `json:"content,omitempty"`
	Private   bool      `json:"private,omitempty"` // only the ticket owner should see it
	PingStaff bool      `json:"ping_staff,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers notifications. Delivery is fire-and-forget for callers:
// an error is logged, never propagated into ticket state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sink is a named Notifier, used for metrics labels.
type Sink interface {
	Notifier
	Name() string
}

// Multi fans a notification out to every sink.
type Multi []Sink

// Notify delivers to all sinks and joins their errors.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		err := s.Notify(ctx, n)
		observability.RecordNotification(s.Name(), string(n.Kind), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "multi".
func (m Multi) Name() string {
	return "multi"
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log sink.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n at info level.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":     "notify",
		"channel":    n.ChannelID,
		"kind":       n.Kind,
		"title":      n.Title,
		"ping_staff": n.PingStaff,
	}).Info(n.Text)
	return nil
}

// Name returns "log".
func (l *LogNotifier) Name() string {
	return "log"
}

var (
	_ Sink = Multi(nil)
	_ Sink = (*LogNotifier)(nil)
)
