package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-desk/internal/domain"
	"trading-desk/internal/observability"
	"trading-desk/internal/roblox"
)

// Default intervals.
const (
	DefaultGroupInterval = 10 * time.Second
	DefaultPassInterval  = 5 * time.Second
	DefaultTickInterval  = time.Second
	DefaultWaitingPeriod = 14 * 24 * time.Hour
	DefaultBackoffFactor = 2
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("poller: manager closed")

// ErrInvalidPoll is returned by Start for an incomplete poll description.
var ErrInvalidPoll = errors.New("poller: invalid poll")

// Options configures Manager.
type Options struct {
	GroupInterval time.Duration
	PassInterval  time.Duration
	TickInterval  time.Duration
	WaitingPeriod time.Duration
	BackoffFactor int

	// MaxDuration stops a monitoring stage after it ran this long. Zero means unbounded.
	MaxDuration time.Duration
	// Heartbeat emits EventHeartbeat at this period while monitoring. Zero disables it.
	Heartbeat time.Duration

	Logger *logrus.Logger
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.GroupInterval <= 0 {
		o.GroupInterval = DefaultGroupInterval
	}
	if o.PassInterval <= 0 {
		o.PassInterval = DefaultPassInterval
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.WaitingPeriod <= 0 {
		o.WaitingPeriod = DefaultWaitingPeriod
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = DefaultBackoffFactor
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the registry of running poll chains. A chain is one goroutine
// that performs every handoff of a ticket's polls sequentially
// (membership to waiting period, pass creation to pass price).
type Manager struct {
	client  roblox.Client
	handler Handler
	opts    Options
	logger  *logrus.Logger

	mu     sync.Mutex
	polls  map[Key]*run
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a poll manager.
func NewManager(client roblox.Client, handler Handler, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		client:  client,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger,
		polls:   make(map[Key]*run),
	}
}

// Start cancels any chain running under key, waits for it to finish, and
// starts a new chain from st. A zero StartedAt is set to now; a resumed state
// keeps its own. The returned state carries the new run id.
func (m *Manager) Start(key Key, st domain.PollState) (domain.PollState, error) {
	if err := validate(st); err != nil {
		return st, err
	}

	for {
		m.Cancel(key)
		m.mu.Lock()
		if _, busy := m.polls[key]; !busy {
			break
		}
		m.mu.Unlock()
	}
	defer m.mu.Unlock()
	if m.closed {
		return st, ErrClosed
	}

	st.RunID = uuid.NewString()
	if st.StartedAt.IsZero() {
		st.StartedAt = m.opts.Now().UTC()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: st.RunID, cancel: cancel, done: make(chan struct{})}
	m.polls[key] = r
	m.wg.Add(1)
	observability.RecordPollStarted()

	go m.run(ctx, r, key, st)
	return st, nil
}

// Cancel stops the chain under key and waits for it to finish.
// It reports whether a chain was running. After Cancel returns the chain
// performs no further side effects.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	r, ok := m.polls[key]
	if ok {
		delete(m.polls, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

// Active reports whether a chain runs under key.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.polls[key]
	return ok
}

// Len returns the number of running chains.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.polls)
}

// Shutdown cancels every chain and waits for them, bounded by ctx.
// Persisted poll states are left in place so chains can be resumed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for key, r := range m.polls {
		r.cancel()
		delete(m.polls, key)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller shutdown: %w", ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, r *run, key Key, st domain.PollState) {
	defer func() {
		m.mu.Lock()
		if cur, ok := m.polls[key]; ok && cur == r {
			delete(m.polls, key)
		}
		m.mu.Unlock()
		r.cancel()
		observability.RecordPollFinished()
		close(r.done)
		m.wg.Done()
	}()

	c := &chain{m: m, key: key, log: m.logger.WithFields(logrus.Fields{
		"object":  "poller",
		"channel": key.ChannelID,
		"run_id":  r.id,
	})}

	c.log.WithField("kind", st.Kind).Info("poll started")

	switch st.Kind {
	case domain.PollGroupMembership:
		next, ok := c.watchMembership(ctx, st)
		if ok {
			c.countdown(ctx, next)
		}
	case domain.PollWaitingPeriod:
		c.countdown(ctx, st)
	case domain.PollPassCreation:
		next, ok := c.watchCreation(ctx, st)
		if ok {
			c.watchPrice(ctx, next)
		}
	case domain.PollPassPrice:
		c.watchPrice(ctx, st)
	}

	if ctx.Err() != nil {
		c.log.Debug("poll cancelled")
	}
}

func validate(st domain.PollState) error {
	switch st.Kind {
	case domain.PollGroupMembership:
		if st.Subject == 0 || st.Target == 0 {
			return fmt.Errorf("%w: membership poll needs user and group", ErrInvalidPoll)
		}
	case domain.PollWaitingPeriod:
		if st.EndsAt == nil {
			return fmt.Errorf("%w: waiting period needs an end time", ErrInvalidPoll)
		}
	case domain.PollPassCreation, domain.PollPassPrice:
		if st.Target == 0 || st.ExpectedValue == nil {
			return fmt.Errorf("%w: pass poll needs target and expected price", ErrInvalidPoll)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPoll, st.Kind)
	}
	return nil
}
