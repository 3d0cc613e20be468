package ticket

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"trading-desk/internal/domain"
	"trading-desk/internal/pricing"
	"trading-desk/internal/roblox"
)

// Titles of the ticket messages.
const (
	TitleTicket       = "Buying / Selling Ticket"
	TitleSelling      = "Selling Ticket"
	TitleAccount      = "Account Confirmation"
	TitleReady        = "Transaction Ready"
	TitleWaiting      = "Waiting Period"
	TitleMismatch     = "GamePass Price"
	TitleClosed       = "Ticket Closed"
	TitleStillWaiting = "Still Waiting"
)

var printer = message.NewPrinter(language.English)

// FormatNumber renders n with thousands separators: 1234567 -> "1,234,567".
func FormatNumber(n int64) string {
	return printer.Sprintf("%d", n)
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func roleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// View is the rendered main message of a ticket at its current step.
type View struct {
	ChannelID string         `json:"channel_id"`
	OwnerID   string         `json:"owner_id"`
	Step      domain.Step    `json:"step"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Quote     *pricing.Quote `json:"quote,omitempty"`
}

// Render builds the view of t at now.
func Render(t *domain.Ticket, now time.Time) View {
	v := View{ChannelID: t.ChannelID, OwnerID: t.OwnerID, Step: t.Step(), Title: TitleSelling}
	if items := t.Items(); len(items) > 0 {
		q := pricing.NewQuote(items)
		v.Quote = &q
	}

	switch s := t.Stage.(type) {
	case *domain.SellingStage:
		v.Text = renderSellingList(s.Items)
	case *domain.PaymentMethodStage:
		v.Text = renderPayment(s.Items)
	case *domain.InformationStage:
		v.Text = renderInformation()
	case *domain.AccountConfirmationStage:
		v.Title, v.Text = TitleAccount, renderAccount(s.Account, s.Method)
	case *domain.GamepassMonitoringStage:
		v.Text = renderPassLink(s.Account, roblox.PassCreationURL(s.ExperienceID), s.ExpectedPrice)
	case *domain.GroupMonitoringStage:
		v.Text = renderGroupJoin(s.Account, s.GroupID)
	case *domain.WaitingPeriodStage:
		v.Title, v.Text = TitleWaiting, renderWaiting(s.Account, s.EndsAt(), remainingAt(s, now))
	case *domain.TransactionPendingStage:
		v.Title, v.Text = TitleReady, renderReady(s)
	case *domain.ClosedStage:
		v.Title, v.Text = TitleClosed, renderClosed(s)
	default:
		v.Title, v.Text = TitleTicket, renderOptions(t.OwnerID)
	}
	return v
}

// remainingAt recomputes the countdown from the persisted end time.
func remainingAt(s *domain.WaitingPeriodStage, now time.Time) int64 {
	if s.Poll.EndsAt == nil {
		return s.Poll.Remaining
	}
	d := s.EndsAt().Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func renderOptions(ownerID string) string {
	return fmt.Sprintf("Welcome back %s!\n\n"+
		"To continue, please click on one of the two buttons below. "+
		"Please note that all obtainable items and/or items worth less than 2.5M are not of interest to us "+
		"and are not available in the item selection choices.\n\n"+
		"Choose your trading preference:", mention(ownerID))
}

// renderSellingList renders the basket as Item | Quantity | Price rows with a total row.
func renderSellingList(items []domain.LineItem) string {
	if len(items) == 0 {
		return "Please select which items you wish to sell."
	}
	q := pricing.NewQuote(items)

	var b strings.Builder
	b.WriteString("Item | Quantity | Price\n")
	for _, l := range q.Lines {
		fmt.Fprintf(&b, "%s | %d | %s robux\n", l.Label(), l.Quantity, FormatNumber(l.Robux))
	}
	fmt.Fprintf(&b, "**TOTAL** | --- | **%s robux (HORS TAXE)**", FormatNumber(q.TotalRobux))
	return b.String()
}

func renderLines(q pricing.Quote) []string {
	lines := make([]string, 0, len(q.Lines))
	for _, l := range q.Lines {
		if l.Quantity == 1 {
			lines = append(lines, fmt.Sprintf("• 1x %s %s robux", l.Label(), FormatNumber(l.Robux)))
			continue
		}
		lines = append(lines, fmt.Sprintf("• %dx %s %s robux (%s robux x%d)",
			l.Quantity, l.Label(), FormatNumber(l.Robux), FormatNumber(l.PerItem), l.Quantity))
	}
	return lines
}

func renderPayment(items []domain.LineItem) string {
	q := pricing.NewQuote(items)

	lines := []string{"You wish to sell all these items:\n"}
	lines = append(lines, renderLines(q)...)
	lines = append(lines,
		fmt.Sprintf("\nFor a total of %s robux (Hors Taxe)", FormatNumber(q.TotalRobux)),
		fmt.Sprintf("**__The amount with TAX included is %s robux__**", FormatNumber(q.AfterTax)),
		"\nChoose the method you want to receive your payment.",
	)
	return strings.Join(lines, "\n")
}

func renderInformation() string {
	return strings.Join([]string{
		"**GamePass Method**",
		`The "**GamePass Method**" consists of **creating a Gamepass** on an experience where you can set ` +
			`the price of the amount we will have to pay. This payment is made instantly depending on the ` +
			`availability of our teams.`,
		"",
		"**Group Donation Method**",
		`The "**Group Donation Method**" consists of joining our Roblox group in order to receive, after a ` +
			`delay of 2 weeks, implemented by Roblox, your transaction.`,
	}, "\n")
}

func methodLabel(m domain.PaymentMethod) string {
	if m == domain.PaymentGroup {
		return "Group Donation Method"
	}
	return "GamePass Method"
}

func renderAccount(u domain.PlatformUser, method domain.PaymentMethod) string {
	return fmt.Sprintf("Is this your Roblox account?\n\n**%s** (@%s)\nUser ID: %d\nPayment: %s\n\n"+
		"Click **Confirm** to continue or **Other Account** to enter another username.",
		u.DisplayName, u.Name, u.ID, methodLabel(method))
}

func renderPassLink(u domain.PlatformUser, url string, expected int64) string {
	return fmt.Sprintf("Please use this link to create your GamePass:\n\n [%s's GamePass](%s)\n\n"+
		"Set its price to **%s** robux. This ticket updates automatically once the GamePass is detected.",
		u.Name, url, FormatNumber(expected))
}

func groupURL(groupID int64) string {
	return fmt.Sprintf("https://www.roblox.com/groups/%d", groupID)
}

func passURL(passID int64) string {
	return fmt.Sprintf("https://www.roblox.com/game-pass/%d", passID)
}

func renderGroupJoin(u domain.PlatformUser, groupID int64) string {
	return fmt.Sprintf("Please join our Roblox group to receive your payment:\n\n [Join the group](%s)\n\n"+
		"This ticket updates automatically once **%s** has joined.", groupURL(groupID), u.Name)
}

// FormatCountdown renders seconds as "13d 23h 59m 59s", dropping leading zero units.
func FormatCountdown(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}
	d, h, m, s := seconds/86400, seconds%86400/3600, seconds%3600/60, seconds%60
	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func renderWaiting(u domain.PlatformUser, endsAt time.Time, remaining int64) string {
	return fmt.Sprintf("**%s** has joined the group!\n\n"+
		"Roblox holds group funds for 2 weeks before they can be paid out.\n"+
		"Time remaining: **%s**\nAvailable on <t:%d:F> (<t:%d:R>)",
		u.Name, FormatCountdown(remaining), endsAt.Unix(), endsAt.Unix())
}

func renderReady(s *domain.TransactionPendingStage) string {
	q := pricing.NewQuote(s.Items)

	lines := []string{
		"The transaction is ready for staff review.\n",
		fmt.Sprintf("Account: **%s** (%d)", s.Account.Name, s.Account.ID),
		fmt.Sprintf("Method: %s", methodLabel(s.Method)),
	}
	if s.PassID != nil {
		lines = append(lines, fmt.Sprintf("GamePass: %s", passURL(*s.PassID)))
	}
	lines = append(lines, "")
	lines = append(lines, renderLines(q)...)
	lines = append(lines, fmt.Sprintf("\nFor a total of %s robux (Hors Taxe)", FormatNumber(s.TotalRobux)))
	return strings.Join(lines, "\n")
}

func renderClosed(s *domain.ClosedStage) string {
	switch s.Outcome {
	case domain.OutcomeAccepted:
		return fmt.Sprintf("The transaction was accepted by %s.", mention(s.DecidedBy))
	case domain.OutcomeRefused:
		text := fmt.Sprintf("The transaction was refused by %s.", mention(s.DecidedBy))
		if s.Reason != "" {
			text += "\nReason: " + s.Reason
		}
		return text
	}
	return "This ticket was closed."
}

func renderItemChanged(li domain.LineItem, qty int, added bool) (string, string) {
	if added {
		return "Item Added", fmt.Sprintf("X%d %s (%s) added to your selling list!", qty, li.Name, li.Condition)
	}
	return "Item Removed", fmt.Sprintf("X%d %s (%s) removed from your selling list!", qty, li.Name, li.Condition)
}

func renderPassDetected(p *domain.GamePass, expected int64) string {
	return fmt.Sprintf("GamePass **%s** detected!\n\n [GamePass](%s)\n\nWaiting for its price to be set to **%s** robux.",
		p.Name, passURL(p.ID), FormatNumber(expected))
}

func renderMismatch(p *domain.GamePass, expected int64) string {
	return fmt.Sprintf("The price of **%s** is %s robux but it must be **%s** robux. Please update it.",
		p.Name, FormatNumber(*p.Price), FormatNumber(expected))
}

func renderStillWaiting(kind domain.PollKind, elapsed time.Duration) string {
	what := "your GamePass"
	if kind == domain.PollGroupMembership {
		what = "you to join the group"
	}
	return fmt.Sprintf("Still waiting for %s (%s so far).", what, elapsed.Truncate(time.Second))
}

func renderExpired(kind domain.PollKind, elapsed time.Duration) string {
	what := "GamePass"
	if kind == domain.PollGroupMembership {
		what = "group join"
	}
	return fmt.Sprintf("Stopped watching for the %s after %s. A staff member will follow up.", what, elapsed.Truncate(time.Second))
}
