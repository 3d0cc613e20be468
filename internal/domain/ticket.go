package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step is the named position of a ticket in the selling workflow.
type Step string

const (
	StepOptions             Step = "options"
	StepSelling             Step = "selling"
	StepPaymentMethod       Step = "payment_method"
	StepInformation         Step = "information"
	StepAccountConfirmation Step = "account_confirmation"
	StepGamepassMonitoring  Step = "gamepass_monitoring"
	StepGroupMonitoring     Step = "group_monitoring"
	StepWaitingPeriod       Step = "waiting_period"
	StepTransactionPending  Step = "transaction_pending"
	StepClosed              Step = "closed"
)

// String returns the string representation of Step.
func (s Step) String() string {
	return string(s)
}

// PaymentMethod is how the seller receives currency.
type PaymentMethod string

const (
	PaymentGamepass PaymentMethod = "gamepass"
	PaymentGroup    PaymentMethod = "group"
)

// IsValid checks if the payment method is a known value.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentGamepass || m == PaymentGroup
}

// Outcome is the staff decision on a transaction.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRefused   Outcome = "refused"
	OutcomeAbandoned Outcome = "abandoned"
)

// Stage is the step-specific payload of a ticket. Each variant carries only
// the fields meaningful to its step.
type Stage interface {
	Step() Step
}

// OptionsStage: ticket opened, seller chooses selling or buying.
type OptionsStage struct{}

// SellingStage: seller edits the item basket.
type SellingStage struct {
	Items []LineItem `json:"items"`
}

// PaymentMethodStage: seller picks pass or group payout.
type PaymentMethodStage struct {
	Items []LineItem `json:"items"`
}

// InformationStage: payout explanation shown, Back returns to PaymentMethodStage.
type InformationStage struct {
	Items []LineItem `json:"items"`
}

// AccountConfirmationStage: platform account looked up, awaiting confirmation.
type AccountConfirmationStage struct {
	Items   []LineItem    `json:"items"`
	Method  PaymentMethod `json:"method"`
	Account PlatformUser  `json:"account"`
}

// GamepassMonitoringStage: waiting for the seller to create and price a pass.
type GamepassMonitoringStage struct {
	Items         []LineItem   `json:"items"`
	Account       PlatformUser `json:"account"`
	ExperienceID  int64        `json:"experience_id"`
	ExpectedPrice int64        `json:"expected_price"`
	PassID        *int64       `json:"pass_id,omitempty"`
	Poll          PollState    `json:"poll"`
}

// GroupMonitoringStage: waiting for the seller to join the group.
type GroupMonitoringStage struct {
	Items      []LineItem   `json:"items"`
	Account    PlatformUser `json:"account"`
	GroupID    int64        `json:"group_id"`
	TotalRobux int64        `json:"total_robux"`
	Poll       PollState    `json:"poll"`
}

// WaitingPeriodStage: group joined, payout allowed once EndsAt passes.
type WaitingPeriodStage struct {
	Items      []LineItem   `json:"items"`
	Account    PlatformUser `json:"account"`
	GroupID    int64        `json:"group_id"`
	TotalRobux int64        `json:"total_robux"`
	Poll       PollState    `json:"poll"`
}

// EndsAt returns the persisted end of the waiting period.
func (s *WaitingPeriodStage) EndsAt() time.Time {
	if s.Poll.EndsAt == nil {
		return time.Time{}
	}
	return *s.Poll.EndsAt
}

// TransactionPendingStage: staff review of a ready transaction.
type TransactionPendingStage struct {
	Items      []LineItem    `json:"items"`
	Account    PlatformUser  `json:"account"`
	Method     PaymentMethod `json:"method"`
	TotalRobux int64         `json:"total_robux"`
	PassID     *int64        `json:"pass_id,omitempty"`
	ReadyAt    time.Time     `json:"ready_at"`
}

// ClosedStage: final state after a staff decision.
type ClosedStage struct {
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
	DealID    string    `json:"deal_id,omitempty"`
}

func (OptionsStage) Step() Step             { return StepOptions }
func (SellingStage) Step() Step             { return StepSelling }
func (PaymentMethodStage) Step() Step       { return StepPaymentMethod }
func (InformationStage) Step() Step         { return StepInformation }
func (AccountConfirmationStage) Step() Step { return StepAccountConfirmation }
func (GamepassMonitoringStage) Step() Step  { return StepGamepassMonitoring }
func (GroupMonitoringStage) Step() Step     { return StepGroupMonitoring }
func (WaitingPeriodStage) Step() Step       { return StepWaitingPeriod }
func (TransactionPendingStage) Step() Step  { return StepTransactionPending }
func (ClosedStage) Step() Step              { return StepClosed }

// Ticket is the persisted state of one trading channel.
// Exactly one Ticket exists per active channel.
type Ticket struct {
	ChannelID string
	OwnerID   string
	OpenedAt  time.Time
	UpdatedAt time.Time
	Stage     Stage
}

// Step returns the current step of the ticket.
func (t *Ticket) Step() Step {
	if t.Stage == nil {
		return StepOptions
	}
	return t.Stage.Step()
}

// Items returns the basket carried by the current stage, if any.
func (t *Ticket) Items() []LineItem {
	switch s := t.Stage.(type) {
	case *SellingStage:
		return s.Items
	case *PaymentMethodStage:
		return s.Items
	case *InformationStage:
		return s.Items
	case *AccountConfirmationStage:
		return s.Items
	case *GamepassMonitoringStage:
		return s.Items
	case *GroupMonitoringStage:
		return s.Items
	case *WaitingPeriodStage:
		return s.Items
	case *TransactionPendingStage:
		return s.Items
	}
	return nil
}

// Poll returns the active poll state of the ticket, if any.
func (t *Ticket) Poll() *PollState {
	switch s := t.Stage.(type) {
	case *GamepassMonitoringStage:
		return &s.Poll
	case *GroupMonitoringStage:
		return &s.Poll
	case *WaitingPeriodStage:
		return &s.Poll
	}
	return nil
}

// ticketEnvelope is the persisted JSON form: step discriminator plus stage payload.
type ticketEnvelope struct {
	ChannelID string          `json:"channel_id"`
	OwnerID   string          `json:"owner_id"`
	OpenedAt  time.Time       `json:"opened_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Step      Step            `json:"step"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the ticket as a step-tagged envelope.
func (t Ticket) MarshalJSON() ([]byte, error) {
	stage := t.Stage
	if stage == nil {
		stage = &OptionsStage{}
	}
	data, err := json.Marshal(stage)
	if err != nil {
		return nil, fmt.Errorf("marshal %s stage: %w", stage.Step(), err)
	}
	return json.Marshal(ticketEnvelope{
		ChannelID: t.ChannelID,
		OwnerID:   t.OwnerID,
		OpenedAt:  t.OpenedAt,
		UpdatedAt: t.UpdatedAt,
		Step:      stage.Step(),
		Data:      data,
	})
}

// UnmarshalJSON decodes a step-tagged envelope.
func (t *Ticket) UnmarshalJSON(b []byte) error {
	var env ticketEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	stage, err := newStage(env.Step)
	if err != nil {
		return err
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, stage); err != nil {
			return fmt.Errorf("unmarshal %s stage: %w", env.Step, err)
		}
	}
	t.ChannelID = env.ChannelID
	t.OwnerID = env.OwnerID
	t.OpenedAt = env.OpenedAt
	t.UpdatedAt = env.UpdatedAt
	t.Stage = stage
	return nil
}

func newStage(step Step) (Stage, error) {
	switch step {
	case StepOptions, "":
		return &OptionsStage{}, nil
	case StepSelling:
		return &SellingStage{}, nil
	case StepPaymentMethod:
		return &PaymentMethodStage{}, nil
	case StepInformation:
		return &InformationStage{}, nil
	case StepAccountConfirmation:
		return &AccountConfirmationStage{}, nil
	case StepGamepassMonitoring:
		return &GamepassMonitoringStage{}, nil
	case StepGroupMonitoring:
		return &GroupMonitoringStage{}, nil
	case StepWaitingPeriod:
		return &WaitingPeriodStage{}, nil
	case StepTransactionPending:
		return &TransactionPendingStage{}, nil
	case StepClosed:
		return &ClosedStage{}, nil
	}
	return nil, fmt.Errorf("unknown step %q", step)
}
