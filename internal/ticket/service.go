// Package ticket runs the selling workflow of a trading channel: basket edits,
// quotes, payout method selection, platform polls and staff review.
//
// Every mutation loads the ticket, applies one transition and persists the
// full ticket before any notification is sent.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/domain"
	"trading-desk/internal/idhash"
	"trading-desk/internal/matcher"
	"trading-desk/internal/notify"
	"trading-desk/internal/observability"
	"trading-desk/internal/poller"
	"trading-desk/internal/pricing"
	"trading-desk/internal/roblox"
	"trading-desk/internal/storage"
)

// ErrTicketNotFound is returned when a channel has no ticket.
var ErrTicketNotFound = errors.New("ticket not found")

// Poller starts and cancels the poll chain of a ticket.
type Poller interface {
	Start(key poller.Key, st domain.PollState) (domain.PollState, error)
	Cancel(key poller.Key) bool
}

// ItemRequest is the user input of an add or remove action.
type ItemRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`      // optional type hint, "none" means no hint
	Condition string `json:"condition,omitempty"` // dupe | duped | clean, empty means clean
	Quantity  string `json:"quantity,omitempty"`  // empty means 1
}

// Options configures Service.
type Options struct {
	Tickets storage.TicketStore
	Deals   storage.DealStore // nil disables the deal ledger

	Matcher     *matcher.Matcher
	Eligibility *pricing.Eligibility
	Protected   map[string]struct{} // "Name (Type)" stacks that cannot be removed

	Platform roblox.Client
	Poller   Poller
	Notifier notify.Notifier

	GroupID          int64
	StaffRoleID      string
	ExperiencePolicy roblox.ExperiencePolicy
	RejectAmbiguous  bool

	Logger *logrus.Logger
	Now    func() time.Time
}

// Service runs ticket transitions. Calls for one channel are serialized;
// different channels proceed concurrently.
type Service struct {
	tickets     storage.TicketStore
	deals       storage.DealStore
	matcher     *matcher.Matcher
	eligibility *pricing.Eligibility
	protected   map[string]struct{}
	platform    roblox.Client
	poller      Poller
	notifier    notify.Notifier

	groupID         int64
	staffRoleID     string
	policy          roblox.ExperiencePolicy
	rejectAmbiguous bool

	logger *logrus.Logger
	now    func() time.Time

	channels keyedLocks
	owners   keyedLocks
}

// New creates a ticket service.
func New(opts Options) *Service {
	s := &Service{
		tickets:         opts.Tickets,
		deals:           opts.Deals,
		matcher:         opts.Matcher,
		eligibility:     opts.Eligibility,
		protected:       opts.Protected,
		platform:        opts.Platform,
		poller:          opts.Poller,
		notifier:        opts.Notifier,
		groupID:         opts.GroupID,
		staffRoleID:     opts.StaffRoleID,
		policy:          opts.ExperiencePolicy,
		rejectAmbiguous: opts.RejectAmbiguous,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if s.eligibility == nil {
		s.eligibility = pricing.NewEligibility(nil)
	}
	if s.protected == nil {
		s.protected = map[string]struct{}{}
	}
	if s.policy == "" {
		s.policy = roblox.PolicyFirst
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// lock serializes work on one channel.
func (s *Service) lock(channelID string) func() {
	return s.channels.lock(channelID)
}

func (s *Service) load(ctx context.Context, channelID string) (*domain.Ticket, error) {
	t, err := s.tickets.Get(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: channel %s", ErrTicketNotFound, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", channelID, err)
	}
	return t, nil
}

func (s *Service) save(ctx context.Context, t *domain.Ticket) error {
	t.UpdatedAt = s.now().UTC()
	if err := s.tickets.Save(ctx, t); err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ChannelID, err)
	}
	return nil
}

// mutation applies one transition to t and returns the notifications to send
// once the new state is persisted.
type mutation func(ctx context.Context, t *domain.Ticket) ([]notify.Notification, error)

// update runs an owner action under the channel lock. Only the ticket owner
// may act; an empty actor is rejected like any other.
func (s *Service) update(ctx context.Context, channelID, actor string, fn mutation) (*domain.Ticket, error) {
	return s.applyLocked(ctx, channelID, func(t *domain.Ticket) error {
		if actor == "" || actor != t.OwnerID {
			return errNotOwner()
		}
		return nil
	}, fn)
}

// applyLocked runs fn under the channel lock after check, if any, accepts the
// loaded ticket. Staff decisions pass no check.
func (s *Service) applyLocked(ctx context.Context, channelID string, check func(*domain.Ticket) error, fn mutation) (*domain.Ticket, error) {
	unlock := s.lock(channelID)
	defer unlock()

	t, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(t); err != nil {
			return nil, s.userError(err)
		}
	}

	from := t.Step()
	notes, err := fn(ctx, t)
	if err != nil {
		return nil, s.userError(err)
	}
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	s.transitioned(ctx, t, from)
	s.send(ctx, t, notes...)
	return t, nil
}

func (s *Service) transitioned(ctx context.Context, t *domain.Ticket, from domain.Step) {
	to := t.Step()
	if to == from {
		return
	}
	observability.RecordTransition(from.String(), to.String())
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":  "ticket",
		"channel": t.ChannelID,
		"from":    from,
		"to":      to,
	}).Info("ticket step changed")
}

// send delivers notifications. Delivery failures are logged, never returned.
func (s *Service) send(ctx context.Context, t *domain.Ticket, notes ...notify.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notes {
		n.ChannelID = t.ChannelID
		n.Step = t.Step().String()
		n.At = s.now().UTC()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
				"object":  "ticket",
				"channel": t.ChannelID,
				"kind":    n.Kind,
			}).Warn("notification failed")
		}
	}
}

func (s *Service) userError(err error) error {
	if ue, ok := domain.AsUserError(err); ok {
		observability.RecordUserError(ue.Title)
	}
	return err
}

func (s *Service) refreshOpenTickets(ctx context.Context) {
	list, err := s.tickets.List(ctx)
	if err != nil {
		return
	}
	open := 0
	for _, t := range list {
		if t.Step() != domain.StepClosed {
			open++
		}
	}
	observability.UpdateOpenTickets(open)
}

func keyOf(t *domain.Ticket) poller.Key {
	return poller.Key{ChannelID: t.ChannelID, OwnerID: t.OwnerID}
}

func errNotOwner() error {
	return domain.NewUserError(domain.ErrNotOwner, "Not Allowed", "Only the ticket creator can use this button!")
}

func invalidStep(step domain.Step) error {
	return domain.Errorf(domain.ErrInvalidTransition, "Invalid Action",
		"This action is not available at the %s step.", strings.ReplaceAll(step.String(), "_", " "))
}

func viewNote(t *domain.Ticket, now time.Time) notify.Notification {
	v := Render(t, now)
	return notify.Notification{Kind: notify.KindTicketView, Title: v.Title, Text: v.Text}
}

// Open creates the ticket of a channel at the options step. A user may hold
// one active ticket at a time.
func (s *Service) Open(ctx context.Context, channelID, ownerID string) (*domain.Ticket, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("open ticket: %w", storage.ErrInvalidInput)
	}

	// Owner before channel; nothing takes them in the other order.
	unlockOwner := s.owners.lock(ownerID)
	defer unlockOwner()
	unlock := s.lock(channelID)
	defer unlock()

	list, err := s.tickets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	for _, t := range list {
		if t.ChannelID == channelID {
			return nil, s.userError(domain.NewUserError(domain.ErrInvalidTransition, "Ticket Already Open",
				"This channel already has a ticket."))
		}
		if t.OwnerID == ownerID && t.Step() != domain.StepClosed {
			return nil, s.userError(domain.Errorf(domain.ErrInvalidTransition, "Ticket Already Open",
				"You already have an active ticket: <#%s>", t.ChannelID))
		}
	}

	now := s.now().UTC()
	t := &domain.Ticket{
		ChannelID: channelID,
		OwnerID:   ownerID,
		OpenedAt:  now,
		Stage:     &domain.OptionsStage{},
	}
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":  "ticket",
		"channel": channelID,
		"owner":   ownerID,
	}).Info("ticket opened")
	s.refreshOpenTickets(ctx)
	s.send(ctx, t, viewNote(t, now))
	return t, nil
}

// Get returns the ticket of a channel.
func (s *Service) Get(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return s.load(ctx, channelID)
}

// View returns the rendered main message of a channel's ticket.
func (s *Service) View(ctx context.Context, channelID string) (View, error) {
	t, err := s.load(ctx, channelID)
	if err != nil {
		return View{}, err
	}
	return Render(t, s.now()), nil
}

// StartSelling moves the ticket from options to an empty selling basket.
func (s *Service) StartSelling(ctx context.Context, channelID, actor string) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		if _, ok := t.Stage.(*domain.OptionsStage); !ok {
			return nil, invalidStep(t.Step())
		}
		t.Stage = &domain.SellingStage{}
		return []notify.Notification{viewNote(t, s.now())}, nil
	})
}

// AddItem resolves req against the catalog, validates it and merges it into
// the basket. The whole basket is re-priced.
func (s *Service) AddItem(ctx context.Context, channelID, actor string, req ItemRequest) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.SellingStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}
		li, err := s.resolve(req, true)
		if err != nil {
			return nil, err
		}
		items, err := pricing.Add(stage.Items, li)
		if err != nil {
			return nil, err
		}
		stage.Items = items
		observability.RecordQuote(pricing.NewQuote(items).TotalRobux)

		title, text := renderItemChanged(li, li.Quantity, true)
		return []notify.Notification{
			viewNote(t, s.now()),
			{Kind: notify.KindItemChanged, Title: title, Text: text, Private: true},
		}, nil
	})
}

// RemoveItem resolves req and takes its quantity from the matching stack.
func (s *Service) RemoveItem(ctx context.Context, channelID, actor string, req ItemRequest) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.SellingStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}
		li, err := s.resolve(req, false)
		if err != nil {
			return nil, err
		}
		items, err := pricing.Remove(stage.Items, li.Key(), li.Quantity, s.protected)
		if err != nil {
			return nil, err
		}
		stage.Items = items
		if len(items) > 0 {
			observability.RecordQuote(pricing.NewQuote(items).TotalRobux)
		}

		title, text := renderItemChanged(li, li.Quantity, false)
		return []notify.Notification{
			viewNote(t, s.now()),
			{Kind: notify.KindItemChanged, Title: title, Text: text, Private: true},
		}, nil
	})
}

// resolve turns user input into a line item. Values and eligibility are only
// checked when adding.
func (s *Service) resolve(req ItemRequest, adding bool) (domain.LineItem, error) {
	cond := domain.ConditionClean
	if strings.TrimSpace(req.Condition) != "" {
		c, err := domain.ParseCondition(req.Condition)
		if err != nil {
			return domain.LineItem{}, err
		}
		cond = c
	}
	qty, err := pricing.ParseQuantity(req.Quantity)
	if err != nil {
		return domain.LineItem{}, err
	}

	res, dups, err := s.matcher.Match(req.Name, req.Type)
	if err != nil {
		observability.RecordMatch("not_found")
		return domain.LineItem{}, err
	}
	switch {
	case res.Special:
		observability.RecordMatch("leveled")
	case matcher.Ambiguous(dups):
		observability.RecordMatch("ambiguous")
		if s.rejectAmbiguous {
			return domain.LineItem{}, ambiguous(req.Name, dups)
		}
	default:
		observability.RecordMatch("matched")
	}

	li := domain.LineItem{
		Name:      res.DisplayName,
		Type:      res.Type,
		Condition: cond,
		Quantity:  qty,
	}
	if !adding {
		return li, nil
	}

	if res.Entry == nil {
		return domain.LineItem{}, pricing.MissingValue(res.DisplayName, cond)
	}
	if err := s.eligibility.Validate(*res.Entry); err != nil {
		return domain.LineItem{}, err
	}
	value, err := pricing.ValueOf(*res.Entry, cond)
	if err != nil {
		return domain.LineItem{}, err
	}
	li.Value = value
	return li, nil
}

func ambiguous(input string, dups []matcher.Candidate) error {
	names := make([]string, 0, len(dups))
	for _, c := range dups {
		names = append(names, c.Name)
	}
	return domain.Errorf(domain.ErrAmbiguous, "Multiple Items Found",
		"Multiple items match '%s': %s. Please specify the type.", strings.TrimSpace(input), strings.Join(names, ", "))
}

// ProceedToPayment freezes the basket and asks for a payout method.
func (s *Service) ProceedToPayment(ctx context.Context, channelID, actor string) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.SellingStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}
		if len(stage.Items) == 0 {
			return nil, domain.NewUserError(domain.ErrEmptyBasket, "Empty List",
				"Please add at least one item before proceeding.")
		}
		t.Stage = &domain.PaymentMethodStage{Items: stage.Items}
		return []notify.Notification{viewNote(t, s.now())}, nil
	})
}

// ShowInformation explains both payout methods.
func (s *Service) ShowInformation(ctx context.Context, channelID, actor string) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.PaymentMethodStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}
		t.Stage = &domain.InformationStage{Items: stage.Items}
		return []notify.Notification{viewNote(t, s.now())}, nil
	})
}

// Back re-enters the previous step and clears the fields of the step left.
// Leaving selling for options drops the basket.
func (s *Service) Back(ctx context.Context, channelID, actor string) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(_ context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		switch stage := t.Stage.(type) {
		case *domain.SellingStage:
			t.Stage = &domain.OptionsStage{}
		case *domain.PaymentMethodStage:
			t.Stage = &domain.SellingStage{Items: stage.Items}
		case *domain.InformationStage:
			t.Stage = &domain.PaymentMethodStage{Items: stage.Items}
		case *domain.AccountConfirmationStage:
			t.Stage = &domain.PaymentMethodStage{Items: stage.Items}
		default:
			return nil, invalidStep(t.Step())
		}
		return []notify.Notification{viewNote(t, s.now())}, nil
	})
}

// SubmitUsername looks the platform account up and asks the owner to confirm
// it. Submitting again from the confirmation step replaces the account.
func (s *Service) SubmitUsername(ctx context.Context, channelID, actor string, method domain.PaymentMethod, username string) (*domain.Ticket, error) {
	return s.update(ctx, channelID, actor, func(ctx context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		var items []domain.LineItem
		switch stage := t.Stage.(type) {
		case *domain.PaymentMethodStage:
			items = stage.Items
		case *domain.InformationStage:
			items = stage.Items
		case *domain.AccountConfirmationStage:
			items = stage.Items
		default:
			return nil, invalidStep(t.Step())
		}
		if !method.IsValid() {
			return nil, domain.Errorf(domain.ErrInvalidTransition, "Invalid Payment Method",
				"Unknown payment method '%s'.", method)
		}

		username = strings.TrimSpace(username)
		if username == "" {
			return nil, userNotFound(username)
		}
		user, err := s.platform.LookupUser(ctx, username)
		if errors.Is(err, roblox.ErrNotFound) {
			return nil, userNotFound(username)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup user %q: %w", username, err)
		}

		t.Stage = &domain.AccountConfirmationStage{Items: items, Method: method, Account: *user}
		return []notify.Notification{viewNote(t, s.now())}, nil
	})
}

func userNotFound(username string) error {
	return domain.Errorf(domain.ErrUserNotFound, "User Not Found", "No username exists with the name '%s'!", username)
}

// ConfirmAccount starts the chosen payout method. The pass method sends the
// pass creation link and watches the experience; the group method goes
// straight to staff review when the account is already a member, otherwise
// it watches the group.
func (s *Service) ConfirmAccount(ctx context.Context, channelID, actor string) (*domain.Ticket, error) {
	var started *poller.Key

	t, err := s.update(ctx, channelID, actor, func(ctx context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.AccountConfirmationStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}
		quote := pricing.NewQuote(stage.Items)
		key := keyOf(t)

		if stage.Method == domain.PaymentGamepass {
			experiences, err := s.platform.ListExperiences(ctx, stage.Account.ID)
			if err != nil && !errors.Is(err, roblox.ErrNotFound) {
				return nil, fmt.Errorf("list experiences of %d: %w", stage.Account.ID, err)
			}
			exp, err := roblox.SelectExperience(experiences, s.policy)
			if err != nil {
				return nil, err
			}

			expected := quote.TotalRobux
			st, err := s.poller.Start(key, domain.PollState{
				Kind:          domain.PollPassCreation,
				Target:        exp.ID,
				Subject:       stage.Account.ID,
				ExpectedValue: &expected,
			})
			if err != nil {
				return nil, fmt.Errorf("start pass poll: %w", err)
			}
			started = &key

			url := roblox.PassCreationURL(exp.ID)
			t.Stage = &domain.GamepassMonitoringStage{
				Items:         stage.Items,
				Account:       stage.Account,
				ExperienceID:  exp.ID,
				ExpectedPrice: expected,
				Poll:          st,
			}
			return []notify.Notification{{
				Kind:  notify.KindPassLink,
				Title: TitleSelling,
				Text:  renderPassLink(stage.Account, url, expected),
			}}, nil
		}

		member, err := s.platform.IsMember(ctx, stage.Account.ID, s.groupID)
		if err != nil {
			return nil, fmt.Errorf("check group membership of %d: %w", stage.Account.ID, err)
		}
		if member {
			ready := &domain.TransactionPendingStage{
				Items:      stage.Items,
				Account:    stage.Account,
				Method:     domain.PaymentGroup,
				TotalRobux: quote.TotalRobux,
				ReadyAt:    s.now().UTC(),
			}
			t.Stage = ready
			return []notify.Notification{s.readyNote(t, ready)}, nil
		}

		st, err := s.poller.Start(key, domain.PollState{
			Kind:    domain.PollGroupMembership,
			Target:  s.groupID,
			Subject: stage.Account.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("start group poll: %w", err)
		}
		started = &key

		t.Stage = &domain.GroupMonitoringStage{
			Items:      stage.Items,
			Account:    stage.Account,
			GroupID:    s.groupID,
			TotalRobux: quote.TotalRobux,
			Poll:       st,
		}
		return []notify.Notification{{
			Kind:  notify.KindGroupJoin,
			Title: TitleSelling,
			Text:  renderGroupJoin(stage.Account, s.groupID),
		}}, nil
	})
	if err != nil && started != nil {
		s.poller.Cancel(*started)
	}
	return t, err
}

func (s *Service) readyNote(t *domain.Ticket, st *domain.TransactionPendingStage) notify.Notification {
	content := mention(t.OwnerID)
	if s.staffRoleID != "" {
		content += " " + roleMention(s.staffRoleID)
	}
	return notify.Notification{
		Kind:      notify.KindTransactionReady,
		Title:     TitleReady,
		Text:      renderReady(st),
		Content:   content,
		PingStaff: true,
	}
}

// Accept closes a ready transaction as accepted and records the deal.
func (s *Service) Accept(ctx context.Context, channelID, staffID string) (*domain.Ticket, error) {
	return s.decide(ctx, channelID, staffID, domain.OutcomeAccepted, "")
}

// Refuse closes a ready transaction as refused and records the deal.
func (s *Service) Refuse(ctx context.Context, channelID, staffID, reason string) (*domain.Ticket, error) {
	return s.decide(ctx, channelID, staffID, domain.OutcomeRefused, strings.TrimSpace(reason))
}

func (s *Service) decide(ctx context.Context, channelID, staffID string, outcome domain.Outcome, reason string) (*domain.Ticket, error) {
	t, err := s.applyLocked(ctx, channelID, nil, func(ctx context.Context, t *domain.Ticket) ([]notify.Notification, error) {
		stage, ok := t.Stage.(*domain.TransactionPendingStage)
		if !ok {
			return nil, invalidStep(t.Step())
		}

		now := s.now().UTC()
		deal := newDeal(t, stage.Items, stage.Account, stage.Method, stage.ReadyAt, now)
		deal.Outcome = outcome
		deal.Reason = reason
		deal.DecidedBy = staffID
		if err := s.recordDeal(ctx, deal); err != nil {
			return nil, err
		}

		closed := &domain.ClosedStage{
			Outcome:   outcome,
			Reason:    reason,
			DecidedBy: staffID,
			DecidedAt: now,
			DealID:    deal.DealID,
		}
		t.Stage = closed
		return []notify.Notification{{
			Kind:  notify.KindTicketClosed,
			Title: TitleClosed,
			Text:  renderClosed(closed),
		}}, nil
	})
	if err == nil {
		s.refreshOpenTickets(ctx)
	}
	return t, err
}

// newDeal builds the ledger record of a ticket. The deal id depends on the
// ticket, account, method and readyAt only.
func newDeal(t *domain.Ticket, items []domain.LineItem, account domain.PlatformUser, method domain.PaymentMethod, readyAt, decidedAt time.Time) *domain.Deal {
	q := pricing.NewQuote(items)
	return &domain.Deal{
		DealID:     idhash.ComputeDealID(t.ChannelID, t.OwnerID, account.ID, string(method), readyAt.UnixMilli()),
		ChannelID:  t.ChannelID,
		OwnerID:    t.OwnerID,
		AccountID:  account.ID,
		Method:     method,
		TotalValue: q.TotalValue,
		Rate:       q.Rate,
		TotalRobux: q.TotalRobux,
		AfterTax:   q.AfterTax,
		ItemCount:  q.ItemCount,
		Items:      domain.CloneItems(items),
		DecidedAt:  decidedAt,
	}
}

// recordDeal appends d to the ledger. A deal already recorded is not an error.
func (s *Service) recordDeal(ctx context.Context, d *domain.Deal) error {
	if s.deals != nil {
		err := s.deals.Insert(ctx, d)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("record deal %s: %w", d.DealID, err)
		}
	}
	observability.RecordDeal(string(d.Method), string(d.Outcome), d.TotalRobux)
	return nil
}

// Close cancels the ticket's poll and deletes the ticket. Closing a ticket
// that reached a payout step without a staff decision records it as abandoned.
func (s *Service) Close(ctx context.Context, channelID, actor string) error {
	t, err := s.load(ctx, channelID)
	if err != nil {
		return err
	}
	// The chain may be waiting on the channel lock, so it is cancelled first.
	if s.poller != nil {
		s.poller.Cancel(keyOf(t))
	}

	unlock := s.lock(channelID)
	defer unlock()

	t, err = s.load(ctx, channelID)
	if err != nil {
		return err
	}
	if account, method, readyAt, ok := payoutOf(t); ok {
		deal := newDeal(t, t.Items(), account, method, readyAt, s.now().UTC())
		deal.Outcome = domain.OutcomeAbandoned
		deal.DecidedBy = actor
		if err := s.recordDeal(ctx, deal); err != nil {
			return err
		}
	}
	if err := s.tickets.Delete(ctx, channelID); err != nil {
		return fmt.Errorf("delete ticket %s: %w", channelID, err)
	}

	observability.RecordTransition(t.Step().String(), domain.StepClosed.String())
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":  "ticket",
		"channel": channelID,
		"step":    t.Step(),
		"actor":   actor,
	}).Info("ticket closed")
	s.refreshOpenTickets(ctx)
	s.send(ctx, t, notify.Notification{
		Kind:  notify.KindTicketClosed,
		Title: TitleClosed,
		Text:  "This ticket was closed.",
	})
	return nil
}

// payoutOf returns the payout details of a ticket past account confirmation.
func payoutOf(t *domain.Ticket) (domain.PlatformUser, domain.PaymentMethod, time.Time, bool) {
	switch s := t.Stage.(type) {
	case *domain.GamepassMonitoringStage:
		return s.Account, domain.PaymentGamepass, s.Poll.StartedAt, true
	case *domain.GroupMonitoringStage:
		return s.Account, domain.PaymentGroup, s.Poll.StartedAt, true
	case *domain.WaitingPeriodStage:
		return s.Account, domain.PaymentGroup, s.Poll.StartedAt, true
	case *domain.TransactionPendingStage:
		return s.Account, s.Method, s.ReadyAt, true
	}
	return domain.PlatformUser{}, "", time.Time{}, false
}

// Resume restarts the poll chain of every persisted ticket in a monitoring or
// waiting step. It returns the number of chains started.
func (s *Service) Resume(ctx context.Context) (int, error) {
	list, err := s.tickets.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tickets: %w", err)
	}

	resumed := 0
	for _, t := range list {
		if t.Poll() == nil {
			continue
		}
		if err := s.resume(ctx, t.ChannelID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
				"object":  "ticket",
				"channel": t.ChannelID,
			}).Error("resume poll failed")
			continue
		}
		resumed++
	}
	s.refreshOpenTickets(ctx)
	return resumed, nil
}

func (s *Service) resume(ctx context.Context, channelID string) error {
	t, err := s.load(ctx, channelID)
	if err != nil {
		return err
	}
	key := keyOf(t)
	s.poller.Cancel(key)

	st, err := s.restart(ctx, key)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":  "ticket",
		"channel": channelID,
		"kind":    st.Kind,
		"run_id":  st.RunID,
	}).Info("poll resumed")
	return nil
}

// restart starts the persisted poll of a ticket and stores its new run id.
// The chain is cancelled outside the lock when the save fails.
func (s *Service) restart(ctx context.Context, key poller.Key) (*domain.PollState, error) {
	unlock := s.lock(key.ChannelID)

	t, err := s.load(ctx, key.ChannelID)
	if err != nil {
		unlock()
		return nil, err
	}
	poll := t.Poll()
	if poll == nil {
		unlock()
		return nil, nil
	}

	st, err := s.poller.Start(key, *poll)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("start %s poll: %w", poll.Kind, err)
	}
	*poll = st
	err = s.save(ctx, t)
	unlock()

	if err != nil {
		s.poller.Cancel(key)
		return nil, err
	}
	return &st, nil
}
