package ticket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-desk/internal/applog"
	"trading-desk/internal/catalog"
	"trading-desk/internal/domain"
	"trading-desk/internal/idhash"
	"trading-desk/internal/matcher"
	"trading-desk/internal/notify"
	"trading-desk/internal/poller"
	"trading-desk/internal/pricing"
	"trading-desk/internal/roblox/stub"
	"trading-desk/internal/storage/memory"
)

const (
	testChannel = "chan-1"
	testOwner   = "owner-1"
	testStaff   = "staff-1"
	testRole    = "role-9"
	testGroup   = int64(34785441)
	testUserID  = int64(100)
	testExp     = int64(555)
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) last(kind notify.Kind) (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.got) - 1; i >= 0; i-- {
		if r.got[i].Kind == kind {
			return r.got[i], true
		}
	}
	return notify.Notification{}, false
}

func (r *recordingNotifier) has(kind notify.Kind) bool {
	_, ok := r.last(kind)
	return ok
}

type fixture struct {
	svc     *Service
	tickets *memory.TicketStore
	deals   *memory.DealStore
	client  *stub.Client
	manager *poller.Manager
	notes   *recordingNotifier
}

type fixtureOption func(*Options)

func testEntries() []domain.CatalogEntry {
	return []domain.CatalogEntry{
		{Name: "Torpedo (Vehicle)", CashValue: "48 000 000", DupedValue: "30,000,000", Type: "Vehicle"},
		{Name: "Widget (Rim)", CashValue: "5 000 000", DupedValue: "N/A"},
		{Name: "Widget (Spoiler)", CashValue: "4 000 000"},
		{Name: "Camaro (Vehicle)", CashValue: "10 000 000"},
		{Name: "Bronze Wheel (Rim)", CashValue: "1 000 000"},
		{Name: "HyperPurple Level 5 2023 (HyperChrome)", CashValue: "120 000 000", DupedValue: "60 000 000"},
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	aliases := catalog.NewAliases(
		map[string][]string{"HyperPurple Level 5": {"purple 5", "p5"}},
		[]catalog.TypeHint{
			{Type: "Rim", Match: []string{"rim"}},
			{Type: "Spoiler", Match: []string{"spoiler"}},
		},
		[]string{"HyperChrome", "Vehicle", "Rim", "Spoiler"},
	)

	f := &fixture{
		tickets: memory.NewTicketStore(),
		deals:   memory.NewDealStore(),
		client:  stub.NewClient(),
		notes:   &recordingNotifier{},
	}
	f.client.AddUser(domain.PlatformUser{ID: testUserID, Name: "builder", DisplayName: "Builder"})

	f.manager = poller.NewManager(f.client, poller.HandlerFunc(func(ctx context.Context, ev poller.Event) error {
		return f.svc.HandlePoll(ctx, ev)
	}), poller.Options{
		GroupInterval: 5 * time.Millisecond,
		PassInterval:  5 * time.Millisecond,
		TickInterval:  5 * time.Millisecond,
		WaitingPeriod: 150 * time.Millisecond,
		Logger:        applog.Discard(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})

	o := Options{
		Tickets:     f.tickets,
		Deals:       f.deals,
		Matcher:     matcher.New(catalog.NewIndex(testEntries()), aliases),
		Eligibility: pricing.NewEligibility(map[string]struct{}{"Camaro": {}}),
		Platform:    f.client,
		Poller:      f.manager,
		Notifier:    f.notes,
		GroupID:     testGroup,
		StaffRoleID: testRole,
		Logger:      applog.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.svc = New(o)
	return f
}

// selling opens a ticket and moves it to the selling step.
func (f *fixture) selling(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Open(ctx, testChannel, testOwner)
	require.NoError(t, err)
	_, err = f.svc.StartSelling(ctx, testChannel, testOwner)
	require.NoError(t, err)
}

// confirming fills the basket with two Torpedo and submits the username.
func (f *fixture) confirming(t *testing.T, method domain.PaymentMethod) {
	t.Helper()
	ctx := context.Background()
	f.selling(t)
	_, err := f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "2"})
	require.NoError(t, err)
	_, err = f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	require.NoError(t, err)
	_, err = f.svc.SubmitUsername(ctx, testChannel, testOwner, method, "Builder")
	require.NoError(t, err)
}

func (f *fixture) step(t *testing.T) domain.Step {
	t.Helper()
	tk, err := f.tickets.Get(context.Background(), testChannel)
	require.NoError(t, err)
	return tk.Step()
}

func (f *fixture) waitStep(t *testing.T, want domain.Step) {
	t.Helper()
	require.Eventually(t, func() bool {
		tk, err := f.tickets.Get(context.Background(), testChannel)
		return err == nil && tk.Step() == want
	}, 3*time.Second, 5*time.Millisecond, "ticket never reached %s", want)
}

func price(v int64) *int64 {
	return &v
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.svc.Open(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepOptions, tk.Step())
	assert.False(t, tk.OpenedAt.IsZero())

	view, ok := f.notes.last(notify.KindTicketView)
	require.True(t, ok)
	assert.Equal(t, TitleTicket, view.Title)
	assert.Contains(t, view.Text, "Welcome back <@owner-1>!")

	_, err = f.svc.Open(ctx, testChannel, "someone-else")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Open(ctx, "chan-2", testOwner)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	ue, ok := domain.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, "You already have an active ticket: <#chan-1>", ue.Message)
}

func TestOpen_ConcurrentSameOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.Open(ctx, fmt.Sprintf("chan-%d", i+10), testOwner); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	list, err := f.tickets.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 0, f.svc.owners.size())
	assert.Equal(t, 0, f.svc.channels.size())
}

func TestUpdate_NotOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Open(context.Background(), testChannel, testOwner)
	require.NoError(t, err)

	_, err = f.svc.StartSelling(context.Background(), testChannel, "intruder")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	ue, _ := domain.AsUserError(err)
	assert.Equal(t, "Only the ticket creator can use this button!", ue.Message)
	assert.Equal(t, domain.StepOptions, f.step(t))
}

func TestUpdate_EmptyActorIsNotOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Open(context.Background(), testChannel, testOwner)
	require.NoError(t, err)

	_, err = f.svc.StartSelling(context.Background(), testChannel, "")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	assert.Equal(t, domain.StepOptions, f.step(t))
}

func TestUpdate_TicketNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSelling(context.Background(), "missing", testOwner)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, testChannel, testOwner)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Accept(ctx, testChannel, testStaff)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Back(ctx, testChannel, testOwner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.ConfirmAccount(ctx, testChannel, testOwner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, domain.StepOptions, f.step(t))
}

func TestAddItem_MergesAndReprices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.selling(t)

	tk, err := f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "2"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 1)
	assert.Equal(t, domain.LineItem{Name: "Torpedo", Type: "Vehicle", Condition: domain.ConditionClean, Quantity: 2, Value: 48_000_000}, tk.Items()[0])

	changed, ok := f.notes.last(notify.KindItemChanged)
	require.True(t, ok)
	assert.True(t, changed.Private)
	assert.Equal(t, "Item Added", changed.Title)
	assert.Equal(t, "X2 Torpedo (Clean) added to your selling list!", changed.Text)

	tk, err = f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "torpedo", Condition: "clean"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 1)
	assert.Equal(t, 3, tk.Items()[0].Quantity)

	view, err := f.svc.View(ctx, testChannel)
	require.NoError(t, err)
	require.NotNil(t, view.Quote)
	assert.Equal(t, pricing.Rate1, view.Quote.Rate)
	assert.Equal(t, int64(11_520), view.Quote.TotalRobux)

	// 144M + 120M crosses the first tier; every line is re-priced.
	tk, err = f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "purple 5"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 2)
	assert.Equal(t, "HyperPurple Level 5", tk.Items()[1].Name)
	assert.Equal(t, domain.TypeHyperChrome, tk.Items()[1].Type)

	view, err = f.svc.View(ctx, testChannel)
	require.NoError(t, err)
	assert.Equal(t, pricing.Rate2, view.Quote.Rate)
	assert.Equal(t, int64(22_440), view.Quote.TotalRobux)
	assert.Equal(t, int64(12_240), view.Quote.Lines[0].Robux)
	assert.Contains(t, view.Text, "Torpedo (Vehicle) (Clean) | 3 | 12,240 robux")
	assert.Contains(t, view.Text, "**TOTAL** | --- | **22,440 robux (HORS TAXE)**")
}

func TestAddItem_DupedCondition(t *testing.T) {
	f := newFixture(t)
	f.selling(t)

	tk, err := f.svc.AddItem(context.Background(), testChannel, testOwner, ItemRequest{Name: "Torpedo", Condition: "Dupe"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 1)
	assert.Equal(t, domain.ConditionDuped, tk.Items()[0].Condition)
	assert.Equal(t, int64(30_000_000), tk.Items()[0].Value)
}

func TestAddItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     ItemRequest
		wantErr error
		message string
	}{
		{"invalid condition", ItemRequest{Name: "Torpedo", Condition: "shiny"}, domain.ErrInvalidCondition, "Status must be either 'Dupe' or 'Clean'!"},
		{"invalid quantity", ItemRequest{Name: "Torpedo", Quantity: "abc"}, domain.ErrInvalidQuantity, "Quantity must be a valid number!"},
		{"zero quantity", ItemRequest{Name: "Torpedo", Quantity: "0"}, domain.ErrInvalidQuantity, "Quantity must be a positive number!"},
		{"not found", ItemRequest{Name: "qqqqzzzzxxxx"}, domain.ErrNotFound, ""},
		{"obtainable", ItemRequest{Name: "Camaro"}, domain.ErrIneligible, ""},
		{"below floor", ItemRequest{Name: "Bronze Wheel"}, domain.ErrIneligible, ""},
		{"no duped value", ItemRequest{Name: "Widget", Type: "Rim", Condition: "dupe"}, domain.ErrValueUnavailable, "No dupe value available for 'Widget (Rim)'!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.selling(t)

			_, err := f.svc.AddItem(context.Background(), testChannel, testOwner, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.message != "" {
				ue, ok := domain.AsUserError(err)
				require.True(t, ok)
				assert.Equal(t, tt.message, ue.Message)
			}

			tk, err := f.tickets.Get(context.Background(), testChannel)
			require.NoError(t, err)
			assert.Empty(t, tk.Items(), "a rejected add leaves the basket unchanged")
		})
	}
}

func TestAddItem_AmbiguityPolicy(t *testing.T) {
	f := newFixture(t)
	f.selling(t)

	tk, err := f.svc.AddItem(context.Background(), testChannel, testOwner, ItemRequest{Name: "Widget"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 1)
	assert.Equal(t, "Rim", tk.Items()[0].Type, "type priority picks the rim")

	strict := newFixture(t, func(o *Options) { o.RejectAmbiguous = true })
	strict.selling(t)
	_, err = strict.svc.AddItem(context.Background(), testChannel, testOwner, ItemRequest{Name: "Widget"})
	require.ErrorIs(t, err, domain.ErrAmbiguous)
	ue, _ := domain.AsUserError(err)
	assert.Equal(t, "Multiple Items Found", ue.Title)

	_, err = strict.svc.AddItem(context.Background(), testChannel, testOwner, ItemRequest{Name: "Widget", Type: "Spoiler"})
	assert.NoError(t, err, "a type hint resolves the ambiguity")
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Protected = map[string]struct{}{"Widget (Rim)": {}}
	})
	ctx := context.Background()
	f.selling(t)

	_, err := f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "3"})
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Widget", Type: "Rim"})
	require.NoError(t, err)

	tk, err := f.svc.RemoveItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo"})
	require.NoError(t, err)
	assert.Equal(t, 2, tk.Items()[0].Quantity)
	changed, _ := f.notes.last(notify.KindItemChanged)
	assert.Equal(t, "X1 Torpedo (Clean) removed from your selling list!", changed.Text)

	_, err = f.svc.RemoveItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "5"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	ue, _ := domain.AsUserError(err)
	assert.Equal(t, "Cannot remove 5 items. Only 2 available!", ue.Message)

	_, err = f.svc.RemoveItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Condition: "dupe"})
	assert.ErrorIs(t, err, domain.ErrNotInList)

	_, err = f.svc.RemoveItem(ctx, testChannel, testOwner, ItemRequest{Name: "Widget", Type: "Rim"})
	assert.ErrorIs(t, err, domain.ErrProtectedItem)

	tk, err = f.svc.RemoveItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "2"})
	require.NoError(t, err)
	require.Len(t, tk.Items(), 1)
	assert.Equal(t, "Widget", tk.Items()[0].Name)
}

func TestProceedToPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.selling(t)

	_, err := f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	require.ErrorIs(t, err, domain.ErrEmptyBasket)
	ue, _ := domain.AsUserError(err)
	assert.Equal(t, "Empty List", ue.Title)

	_, err = f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo", Quantity: "2"})
	require.NoError(t, err)
	tk, err := f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPaymentMethod, tk.Step())

	view, _ := f.notes.last(notify.KindTicketView)
	assert.Contains(t, view.Text, "• 2x Torpedo (Vehicle) (Clean) 7,680 robux (3,840 robux x2)")
	assert.Contains(t, view.Text, "For a total of 7,680 robux (Hors Taxe)")
	assert.Contains(t, view.Text, "The amount with TAX included is 5,376 robux")
}

func TestBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.selling(t)
	_, err := f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo"})
	require.NoError(t, err)
	_, err = f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	require.NoError(t, err)

	tk, err := f.svc.ShowInformation(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepInformation, tk.Step())

	tk, err = f.svc.Back(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPaymentMethod, tk.Step())

	tk, err = f.svc.Back(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelling, tk.Step())
	assert.Len(t, tk.Items(), 1, "going back to selling keeps the basket")

	tk, err = f.svc.Back(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepOptions, tk.Step())

	tk, err = f.svc.StartSelling(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Empty(t, tk.Items())
}

func TestSubmitUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.selling(t)
	_, err := f.svc.AddItem(ctx, testChannel, testOwner, ItemRequest{Name: "Torpedo"})
	require.NoError(t, err)
	_, err = f.svc.ProceedToPayment(ctx, testChannel, testOwner)
	require.NoError(t, err)

	_, err = f.svc.SubmitUsername(ctx, testChannel, testOwner, domain.PaymentGroup, "ghost")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	ue, _ := domain.AsUserError(err)
	assert.Equal(t, "No username exists with the name 'ghost'!", ue.Message)

	_, err = f.svc.SubmitUsername(ctx, testChannel, testOwner, "paypal", "builder")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	tk, err := f.svc.SubmitUsername(ctx, testChannel, testOwner, domain.PaymentGroup, "builder")
	require.NoError(t, err)
	stage, ok := tk.Stage.(*domain.AccountConfirmationStage)
	require.True(t, ok)
	assert.Equal(t, testUserID, stage.Account.ID)
	assert.Equal(t, domain.PaymentGroup, stage.Method)
	assert.Len(t, stage.Items, 1)

	// Other Account: the username can be replaced from the confirmation step.
	f.client.AddUser(domain.PlatformUser{ID: 200, Name: "alt"})
	tk, err = f.svc.SubmitUsername(ctx, testChannel, testOwner, domain.PaymentGroup, "alt")
	require.NoError(t, err)
	assert.Equal(t, int64(200), tk.Stage.(*domain.AccountConfirmationStage).Account.ID)

	tk, err = f.svc.Back(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPaymentMethod, tk.Step())
}

func TestConfirmAccount_NoExperience(t *testing.T) {
	f := newFixture(t)
	f.confirming(t, domain.PaymentGamepass)

	_, err := f.svc.ConfirmAccount(context.Background(), testChannel, testOwner)
	require.ErrorIs(t, err, domain.ErrNoExperience)
	assert.Equal(t, domain.StepAccountConfirmation, f.step(t))
	assert.Equal(t, 0, f.manager.Len())
}

func TestGamepassFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.AddExperience(testUserID, domain.Experience{ID: testExp, Name: "Obby"})
	f.confirming(t, domain.PaymentGamepass)

	tk, err := f.svc.ConfirmAccount(ctx, testChannel, testOwner)
	require.NoError(t, err)
	stage, ok := tk.Stage.(*domain.GamepassMonitoringStage)
	require.True(t, ok)
	assert.Equal(t, int64(7_680), stage.ExpectedPrice)
	assert.Equal(t, testExp, stage.ExperienceID)
	assert.Equal(t, domain.PollPassCreation, stage.Poll.Kind)
	assert.NotEmpty(t, stage.Poll.RunID)

	link, ok := f.notes.last(notify.KindPassLink)
	require.True(t, ok)
	assert.Contains(t, link.Text, "Set its price to **7,680** robux")
	assert.Contains(t, link.Text, "/experiences/555/monetization/passes")

	require.Eventually(t, func() bool {
		tk, err := f.tickets.Get(ctx, testChannel)
		return err == nil && tk.Poll() != nil && tk.Poll().Baseline != nil
	}, 3*time.Second, 5*time.Millisecond, "baseline never persisted")

	f.client.AddPass(testExp, domain.GamePass{ID: 9, Name: "Payout", Price: price(100)})
	require.Eventually(t, func() bool { return f.notes.has(notify.KindPriceMismatch) }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, f.notes.has(notify.KindPassDetected))

	mismatch, _ := f.notes.last(notify.KindPriceMismatch)
	assert.Equal(t, "The price of **Payout** is 100 robux but it must be **7,680** robux. Please update it.", mismatch.Text)
	assert.Equal(t, domain.StepGamepassMonitoring, f.step(t))

	f.client.SetPrice(9, price(7_680))
	f.waitStep(t, domain.StepTransactionPending)

	ready, ok := f.notes.last(notify.KindTransactionReady)
	require.True(t, ok)
	assert.True(t, ready.PingStaff)
	assert.Equal(t, "<@owner-1> <@&role-9>", ready.Content)
	assert.Contains(t, ready.Text, "https://www.roblox.com/game-pass/9")

	tk, err = f.svc.Get(ctx, testChannel)
	require.NoError(t, err)
	pending := tk.Stage.(*domain.TransactionPendingStage)
	require.NotNil(t, pending.PassID)
	assert.Equal(t, int64(9), *pending.PassID)
	assert.Equal(t, domain.PaymentGamepass, pending.Method)

	tk, err = f.svc.Accept(ctx, testChannel, testStaff)
	require.NoError(t, err)
	closed := tk.Stage.(*domain.ClosedStage)
	assert.Equal(t, domain.OutcomeAccepted, closed.Outcome)
	assert.Equal(t, testStaff, closed.DecidedBy)

	wantID := idhash.ComputeDealID(testChannel, testOwner, testUserID, "gamepass", pending.ReadyAt.UnixMilli())
	assert.Equal(t, wantID, closed.DealID)
	deal, err := f.deals.GetByID(ctx, wantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7_680), deal.TotalRobux)
	assert.Equal(t, int64(5_376), deal.AfterTax)
	assert.Equal(t, 2, deal.ItemCount)
	assert.Equal(t, domain.OutcomeAccepted, deal.Outcome)

	_, err = f.svc.Accept(ctx, testChannel, testStaff)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a closed ticket cannot be decided twice")
}

func TestGroupFlow_AlreadyMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.SetMember(testUserID, testGroup, true)
	f.confirming(t, domain.PaymentGroup)

	tk, err := f.svc.ConfirmAccount(ctx, testChannel, testOwner)
	require.NoError(t, err)
	pending, ok := tk.Stage.(*domain.TransactionPendingStage)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentGroup, pending.Method)
	assert.Equal(t, int64(7_680), pending.TotalRobux)
	assert.Equal(t, 0, f.manager.Len(), "no poll for an existing member")
	assert.True(t, f.notes.has(notify.KindTransactionReady))

	tk, err = f.svc.Refuse(ctx, testChannel, testStaff, "  wrong items ")
	require.NoError(t, err)
	closed := tk.Stage.(*domain.ClosedStage)
	assert.Equal(t, domain.OutcomeRefused, closed.Outcome)
	assert.Equal(t, "wrong items", closed.Reason)

	deal, err := f.deals.GetByID(ctx, closed.DealID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRefused, deal.Outcome)
	assert.Equal(t, "wrong items", deal.Reason)
}

func TestGroupFlow_JoinThenWaitingPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirming(t, domain.PaymentGroup)

	tk, err := f.svc.ConfirmAccount(ctx, testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepGroupMonitoring, tk.Step())
	join, ok := f.notes.last(notify.KindGroupJoin)
	require.True(t, ok)
	assert.Contains(t, join.Text, "https://www.roblox.com/groups/34785441")

	f.client.SetMember(testUserID, testGroup, true)
	f.waitStep(t, domain.StepWaitingPeriod)
	waiting, ok := f.notes.last(notify.KindWaitingPeriod)
	require.True(t, ok)
	assert.Contains(t, waiting.Text, "**builder** has joined the group!")

	f.waitStep(t, domain.StepTransactionPending)
	assert.True(t, f.notes.has(notify.KindTransactionReady))
	require.Eventually(t, func() bool { return f.manager.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_CancelsPollAndRecordsAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirming(t, domain.PaymentGroup)

	_, err := f.svc.ConfirmAccount(ctx, testChannel, testOwner)
	require.NoError(t, err)
	key := poller.Key{ChannelID: testChannel, OwnerID: testOwner}
	require.True(t, f.manager.Active(key))

	require.NoError(t, f.svc.Close(ctx, testChannel, testOwner))
	assert.False(t, f.manager.Active(key))

	_, err = f.svc.Get(ctx, testChannel)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.True(t, f.notes.has(notify.KindTicketClosed))

	deals, err := f.deals.GetByTimeRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, domain.OutcomeAbandoned, deals[0].Outcome)

	// Joining after the close has no effect.
	f.client.SetMember(testUserID, testGroup, true)
	time.Sleep(30 * time.Millisecond)
	_, err = f.svc.Get(ctx, testChannel)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	// The owner may open a new ticket once the old one is gone.
	_, err = f.svc.Open(ctx, "chan-2", testOwner)
	assert.NoError(t, err)
}

func TestClose_BeforePayoutRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.selling(t)

	require.NoError(t, f.svc.Close(ctx, testChannel, testOwner))
	deals, err := f.deals.GetByTimeRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, deals)

	assert.ErrorIs(t, f.svc.Close(ctx, testChannel, testOwner), ErrTicketNotFound)
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	persisted := &domain.Ticket{
		ChannelID: testChannel,
		OwnerID:   testOwner,
		OpenedAt:  time.Now().UTC().Add(-time.Hour),
		Stage: &domain.GroupMonitoringStage{
			Items:      []domain.LineItem{{Name: "Torpedo", Type: "Vehicle", Condition: domain.ConditionClean, Quantity: 1, Value: 48_000_000}},
			Account:    domain.PlatformUser{ID: testUserID, Name: "builder"},
			GroupID:    testGroup,
			TotalRobux: 3_840,
			Poll: domain.PollState{
				RunID:     "before-restart",
				Kind:      domain.PollGroupMembership,
				Target:    testGroup,
				Subject:   testUserID,
				StartedAt: time.Now().UTC().Add(-time.Minute),
			},
		},
	}
	require.NoError(t, f.tickets.Save(ctx, persisted))

	other := &domain.Ticket{ChannelID: "chan-2", OwnerID: "owner-2", Stage: &domain.SellingStage{}}
	require.NoError(t, f.tickets.Save(ctx, other))

	n, err := f.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tk, err := f.tickets.Get(ctx, testChannel)
	require.NoError(t, err)
	require.NotNil(t, tk.Poll())
	assert.NotEqual(t, "before-restart", tk.Poll().RunID)
	assert.True(t, persisted.Stage.(*domain.GroupMonitoringStage).Poll.StartedAt.Equal(tk.Poll().StartedAt), "a resumed poll keeps its start")

	f.client.SetMember(testUserID, testGroup, true)
	f.waitStep(t, domain.StepTransactionPending)
}

func TestResume_ElapsedWaitingPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	endsAt := time.Now().UTC().Add(-time.Second)
	require.NoError(t, f.tickets.Save(ctx, &domain.Ticket{
		ChannelID: testChannel,
		OwnerID:   testOwner,
		Stage: &domain.WaitingPeriodStage{
			Account: domain.PlatformUser{ID: testUserID, Name: "builder"},
			GroupID: testGroup,
			Poll: domain.PollState{
				RunID:  "old",
				Kind:   domain.PollWaitingPeriod,
				Target: testGroup,
				EndsAt: &endsAt,
			},
		},
	}))

	n, err := f.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.waitStep(t, domain.StepTransactionPending)
}

func TestNotifierFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Notifier = failingNotifier{} })
	tk, err := f.svc.Open(context.Background(), testChannel, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.StepOptions, tk.Step())
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, notify.Notification) error {
	return errors.New("discord down")
}
