package ticket

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/domain"
	"trading-desk/internal/notify"
	"trading-desk/internal/poller"
)

// HandlePoll applies a poll event to the ticket of its channel. Events of a
// run that is no longer the ticket's persisted poll are ignored.
func (s *Service) HandlePoll(ctx context.Context, ev poller.Event) error {
	unlock := s.lock(ev.Key.ChannelID)
	defer unlock()

	// Cancelled while waiting for the lock: no further writes.
	if err := ctx.Err(); err != nil {
		return err
	}

	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"object":  "ticket",
		"channel": ev.Key.ChannelID,
		"event":   ev.Kind,
		"run_id":  ev.Poll.RunID,
	})

	t, err := s.load(ctx, ev.Key.ChannelID)
	if errors.Is(err, ErrTicketNotFound) {
		log.Debug("poll event for a deleted ticket")
		return nil
	}
	if err != nil {
		return err
	}
	if cur := t.Poll(); cur == nil || cur.RunID != ev.Poll.RunID {
		log.Debug("stale poll event ignored")
		return nil
	}

	from := t.Step()
	notes, changed := s.apply(t, ev)
	if changed {
		if err := s.save(ctx, t); err != nil {
			return err
		}
		s.transitioned(ctx, t, from)
	}
	s.send(ctx, t, notes...)
	return nil
}

// apply mutates t for ev and reports whether t must be persisted.
func (s *Service) apply(t *domain.Ticket, ev poller.Event) ([]notify.Notification, bool) {
	switch ev.Kind {
	case poller.EventMemberJoined:
		stage, ok := t.Stage.(*domain.GroupMonitoringStage)
		if !ok {
			return nil, false
		}
		waiting := &domain.WaitingPeriodStage{
			Items:      stage.Items,
			Account:    stage.Account,
			GroupID:    stage.GroupID,
			TotalRobux: stage.TotalRobux,
			Poll:       ev.Poll,
		}
		t.Stage = waiting
		return []notify.Notification{{
			Kind:  notify.KindWaitingPeriod,
			Title: TitleWaiting,
			Text:  renderWaiting(waiting.Account, waiting.EndsAt(), ev.Poll.Remaining),
		}}, true

	case poller.EventWaitingTick:
		stage, ok := t.Stage.(*domain.WaitingPeriodStage)
		if !ok {
			return nil, false
		}
		stage.Poll = ev.Poll
		return nil, true

	case poller.EventWaitingDone:
		stage, ok := t.Stage.(*domain.WaitingPeriodStage)
		if !ok {
			return nil, false
		}
		ready := &domain.TransactionPendingStage{
			Items:      stage.Items,
			Account:    stage.Account,
			Method:     domain.PaymentGroup,
			TotalRobux: stage.TotalRobux,
			ReadyAt:    s.now().UTC(),
		}
		t.Stage = ready
		return []notify.Notification{s.readyNote(t, ready)}, true

	case poller.EventPassBaseline:
		stage, ok := t.Stage.(*domain.GamepassMonitoringStage)
		if !ok {
			return nil, false
		}
		stage.Poll = ev.Poll
		return nil, true

	case poller.EventPassCreated:
		stage, ok := t.Stage.(*domain.GamepassMonitoringStage)
		if !ok || ev.Pass == nil {
			return nil, false
		}
		id := ev.Pass.ID
		stage.PassID = &id
		stage.Poll = ev.Poll
		return []notify.Notification{{
			Kind:  notify.KindPassDetected,
			Title: TitleSelling,
			Text:  renderPassDetected(ev.Pass, stage.ExpectedPrice),
		}}, true

	case poller.EventPriceMismatch:
		stage, ok := t.Stage.(*domain.GamepassMonitoringStage)
		if !ok || ev.Pass == nil || ev.Pass.Price == nil {
			return nil, false
		}
		return []notify.Notification{{
			Kind:  notify.KindPriceMismatch,
			Title: TitleMismatch,
			Text:  renderMismatch(ev.Pass, stage.ExpectedPrice),
		}}, false

	case poller.EventPriceMatched:
		stage, ok := t.Stage.(*domain.GamepassMonitoringStage)
		if !ok {
			return nil, false
		}
		passID := ev.Poll.Target
		ready := &domain.TransactionPendingStage{
			Items:      stage.Items,
			Account:    stage.Account,
			Method:     domain.PaymentGamepass,
			TotalRobux: stage.ExpectedPrice,
			PassID:     &passID,
			ReadyAt:    s.now().UTC(),
		}
		t.Stage = ready
		return []notify.Notification{s.readyNote(t, ready)}, true

	case poller.EventHeartbeat:
		return []notify.Notification{{
			Kind:  notify.KindStillWaiting,
			Title: TitleStillWaiting,
			Text:  renderStillWaiting(ev.Poll.Kind, ev.Elapsed),
		}}, false

	case poller.EventExpired:
		return []notify.Notification{{
			Kind:      notify.KindPollExpired,
			Title:     TitleStillWaiting,
			Text:      renderExpired(ev.Poll.Kind, ev.Elapsed),
			PingStaff: true,
		}}, false
	}
	return nil, false
}

var _ poller.Handler = (*Service)(nil)
