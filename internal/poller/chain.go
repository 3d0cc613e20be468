package poller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"trading-desk/internal/domain"
	"trading-desk/internal/observability"
	"trading-desk/internal/roblox"
)

// chain is the body of one poll goroutine.
type chain struct {
	m   *Manager
	key Key
	log *logrus.Entry

	lastBeat time.Time
}

func (c *chain) now() time.Time {
	return c.m.opts.Now().UTC()
}

// sleep waits d or until ctx is done. It returns false on cancellation.
func (c *chain) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// emit delivers an event unless the chain was cancelled.
func (c *chain) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	ev.Key = c.key
	if err := c.m.handler.HandlePoll(ctx, ev); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.log.WithContext(ctx).WithError(err).WithField("event", ev.Kind).Warn("poll handler failed")
	}
	return ctx.Err() == nil
}

// absorb logs a failed external read and returns the next sleep interval.
// Not-found keeps the normal interval; everything else backs off.
func (c *chain) absorb(ctx context.Context, kind domain.PollKind, err error, interval time.Duration) time.Duration {
	if errors.Is(err, roblox.ErrNotFound) {
		observability.RecordPollError(kind.String(), "not_found")
		c.log.WithContext(ctx).WithError(err).WithField("kind", kind).Info("watched resource not found, polling continues")
		return interval
	}
	errType := "transient"
	if errors.Is(err, roblox.ErrUnauthorized) {
		errType = "unauthorized"
	}
	observability.RecordPollError(kind.String(), errType)
	c.log.WithContext(ctx).WithError(err).WithField("kind", kind).Warn("poll check failed, backing off")
	return interval * time.Duration(c.m.opts.BackoffFactor)
}

// overdue emits heartbeats and reports whether the stage exceeded its
// maximum duration. An expired stage has already been reported.
func (c *chain) overdue(ctx context.Context, st domain.PollState) bool {
	now := c.now()
	elapsed := now.Sub(st.StartedAt)

	if limit := c.m.opts.MaxDuration; limit > 0 && elapsed >= limit {
		observability.RecordPollCompleted(st.Kind.String(), "expired")
		c.log.WithField("kind", st.Kind).WithField("elapsed", elapsed).Info("poll expired")
		c.emit(ctx, Event{Kind: EventExpired, Poll: st, Elapsed: elapsed})
		return true
	}

	if hb := c.m.opts.Heartbeat; hb > 0 {
		if c.lastBeat.IsZero() {
			c.lastBeat = now
		}
		if now.Sub(c.lastBeat) >= hb {
			c.lastBeat = now
			c.emit(ctx, Event{Kind: EventHeartbeat, Poll: st, Elapsed: elapsed})
		}
	}
	return false
}

func (c *chain) observe(kind domain.PollKind, result string, start time.Time) {
	observability.RecordPollCheck(kind.String(), result, time.Since(start).Seconds())
}

// watchMembership checks group membership every GroupInterval. On the first
// positive check it computes the waiting period end and hands it off.
func (c *chain) watchMembership(ctx context.Context, st domain.PollState) (domain.PollState, bool) {
	normal := c.m.opts.GroupInterval
	interval := normal
	c.lastBeat = time.Time{}

	for {
		if !c.sleep(ctx, interval) {
			return st, false
		}
		if c.overdue(ctx, st) {
			return st, false
		}

		start := time.Now()
		member, err := c.m.client.IsMember(ctx, st.Subject, st.Target)
		if ctx.Err() != nil {
			return st, false
		}
		if err != nil {
			c.observe(st.Kind, "error", start)
			interval = c.absorb(ctx, st.Kind, err, normal)
			continue
		}
		interval = normal
		if !member {
			c.observe(st.Kind, "pending", start)
			continue
		}
		c.observe(st.Kind, "done", start)

		now := c.now()
		endsAt := now.Add(c.m.opts.WaitingPeriod)
		next := domain.PollState{
			RunID:     st.RunID,
			Kind:      domain.PollWaitingPeriod,
			Target:    st.Target,
			Subject:   st.Subject,
			StartedAt: now,
			EndsAt:    &endsAt,
			Remaining: ceilSeconds(c.m.opts.WaitingPeriod),
		}
		observability.RecordPollCompleted(st.Kind.String(), "member_joined")
		c.log.WithField("ends_at", endsAt).Info("user joined group, waiting period started")
		if !c.emit(ctx, Event{Kind: EventMemberJoined, Poll: next}) {
			return next, false
		}
		return next, true
	}
}

// countdown recomputes the remaining waiting time every TickInterval and
// emits it for persistence. At zero it emits EventWaitingDone.
func (c *chain) countdown(ctx context.Context, st domain.PollState) {
	endsAt := *st.EndsAt
	for {
		remaining := endsAt.Sub(c.now())
		if remaining <= 0 {
			st.Remaining = 0
			observability.RecordPollCompleted(st.Kind.String(), "elapsed")
			c.log.Info("waiting period elapsed")
			c.emit(ctx, Event{Kind: EventWaitingDone, Poll: st})
			return
		}

		step := c.m.opts.TickInterval
		if remaining < step {
			step = remaining
		}
		if !c.sleep(ctx, step) {
			return
		}

		if remaining = endsAt.Sub(c.now()); remaining > 0 {
			st.Remaining = ceilSeconds(remaining)
			if !c.emit(ctx, Event{Kind: EventWaitingTick, Poll: st}) {
				return
			}
		}
	}
}

// watchCreation snapshots the experience's passes, then waits for a pass id
// outside the snapshot and hands the new pass to the price watcher.
func (c *chain) watchCreation(ctx context.Context, st domain.PollState) (domain.PollState, bool) {
	normal := c.m.opts.PassInterval
	interval := normal
	c.lastBeat = time.Time{}

	for st.Baseline == nil {
		start := time.Now()
		passes, err := c.m.client.ListPasses(ctx, st.Target)
		if ctx.Err() != nil {
			return st, false
		}
		if err != nil {
			c.observe(st.Kind, "error", start)
			interval = c.absorb(ctx, st.Kind, err, normal)
			if !c.sleep(ctx, interval) {
				return st, false
			}
			if c.overdue(ctx, st) {
				return st, false
			}
			continue
		}
		st.Baseline = passIDs(passes)
		c.log.WithField("baseline", len(st.Baseline)).Info("pass baseline taken")
		if !c.emit(ctx, Event{Kind: EventPassBaseline, Poll: st}) {
			return st, false
		}
	}

	known := make(map[int64]struct{}, len(st.Baseline))
	for _, id := range st.Baseline {
		known[id] = struct{}{}
	}

	interval = normal
	for {
		if !c.sleep(ctx, interval) {
			return st, false
		}
		if c.overdue(ctx, st) {
			return st, false
		}

		start := time.Now()
		passes, err := c.m.client.ListPasses(ctx, st.Target)
		if ctx.Err() != nil {
			return st, false
		}
		if err != nil {
			c.observe(st.Kind, "error", start)
			interval = c.absorb(ctx, st.Kind, err, normal)
			continue
		}
		interval = normal

		created := firstNew(passes, known)
		if created == nil {
			c.observe(st.Kind, "pending", start)
			continue
		}
		c.observe(st.Kind, "done", start)

		next := domain.PollState{
			RunID:         st.RunID,
			Kind:          domain.PollPassPrice,
			Target:        created.ID,
			Subject:       st.Subject,
			StartedAt:     c.now(),
			ExpectedValue: st.ExpectedValue,
		}
		observability.RecordPollCompleted(st.Kind.String(), "pass_created")
		c.log.WithField("pass_id", created.ID).Info("new pass detected")
		if !c.emit(ctx, Event{Kind: EventPassCreated, Poll: next, Pass: created}) {
			return next, false
		}
		return next, true
	}
}

// watchPrice waits until the pass price equals the expected price. A wrong
// price is reported once per distinct value. Passes not on sale are skipped.
func (c *chain) watchPrice(ctx context.Context, st domain.PollState) {
	normal := c.m.opts.PassInterval
	interval := normal
	expected := *st.ExpectedValue
	c.lastBeat = time.Time{}

	var (
		reported  bool
		lastWrong int64
	)

	for {
		if !c.sleep(ctx, interval) {
			return
		}
		if c.overdue(ctx, st) {
			return
		}

		start := time.Now()
		pass, err := c.m.client.GetPass(ctx, st.Target)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.observe(st.Kind, "error", start)
			interval = c.absorb(ctx, st.Kind, err, normal)
			continue
		}
		interval = normal

		if pass.Price == nil {
			c.observe(st.Kind, "pending", start)
			continue
		}
		price := *pass.Price

		if price == expected {
			c.observe(st.Kind, "done", start)
			observability.RecordPollCompleted(st.Kind.String(), "matched")
			c.log.WithField("pass_id", pass.ID).WithField("price", price).Info("pass price matched")
			c.emit(ctx, Event{Kind: EventPriceMatched, Poll: st, Pass: pass})
			return
		}

		c.observe(st.Kind, "mismatch", start)
		if reported && price == lastWrong {
			continue
		}
		reported, lastWrong = true, price
		c.log.WithField("pass_id", pass.ID).WithField("price", price).WithField("expected", expected).Info("pass price mismatch")
		if !c.emit(ctx, Event{Kind: EventPriceMismatch, Poll: st, Pass: pass}) {
			return
		}
	}
}

func passIDs(passes []domain.GamePass) []int64 {
	ids := make([]int64, 0, len(passes))
	for _, p := range passes {
		ids = append(ids, p.ID)
	}
	return ids
}

func firstNew(passes []domain.GamePass, known map[int64]struct{}) *domain.GamePass {
	for i := range passes {
		if _, ok := known[passes[i].ID]; !ok {
			p := passes[i]
			return &p
		}
	}
	return nil
}

func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
