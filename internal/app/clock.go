package app

import (
	"context"
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker the clock needs; tests substitute a manual one.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// ClockOption customises a Clock.
type ClockOption func(*Clock)

// WithNow overrides the wall clock used to compute remaining time.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

// WithTicker overrides how tick sources are created.
func WithTicker(newTicker func(time.Duration) Ticker) ClockOption {
	return func(c *Clock) { c.newTicker = newTicker }
}

// WithTickInterval overrides the one second tick.
func WithTickInterval(d time.Duration) ClockOption {
	return func(c *Clock) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Clock counts down an attempt's time budget. Remaining time is always derived from the
// server-recorded start timestamp, so re-creating a Clock for the same attempt reproduces the
// same deadline no matter when it is observed.
type Clock struct {
	startedAt time.Time
	budget    time.Duration
	interval  time.Duration
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClock anchors a countdown of durationMinutes on startedAt. A zero duration disables
// the clock: it never ticks and never expires.
func NewClock(startedAt time.Time, durationMinutes int, opts ...ClockOption) *Clock {
	c := &Clock{
		startedAt: startedAt,
		budget:    time.Duration(durationMinutes) * time.Minute,
		interval:  time.Second,
		now:       time.Now,
		newTicker: newRealTicker,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the attempt is timed.
func (c *Clock) Enabled() bool {
	return c.budget > 0
}

// Deadline is the instant the attempt expires. Zero when disabled.
func (c *Clock) Deadline() time.Time {
	if !c.Enabled() {
		return time.Time{}
	}
	return c.startedAt.Add(c.budget)
}

// Remaining returns whole seconds left: budget minus floor(elapsed), clamped to zero.
// A start timestamp in the future counts as zero elapsed.
func (c *Clock) Remaining() int {
	if !c.Enabled() {
		return 0
	}
	elapsed := c.now().Sub(c.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int64(c.budget/time.Second) - int64(elapsed/time.Second)
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Start begins ticking. onTick receives the remaining seconds on every tick while time is
// left; onExpired is called exactly once when remaining reaches zero, after which the clock
// goroutine exits. Both run on the clock goroutine and must not call Stop; a clock that is
// already past its deadline calls onExpired on the caller's goroutine instead.
// Start is a no-op for disabled clocks and on every call after the first.
func (c *Clock) Start(onTick func(remaining int), onExpired func()) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	// Reattaching after the deadline expires immediately, before Start returns.
	if c.Remaining() == 0 {
		c.mu.Unlock()
		onExpired()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	ticker := c.newTicker(c.interval)
	c.mu.Unlock()

	go c.run(ctx, ticker, onTick, onExpired)
}

func (c *Clock) run(ctx context.Context, ticker Ticker, onTick func(int), onExpired func()) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			remaining := c.Remaining()
			if remaining == 0 {
				onExpired()
				return
			}
			onTick(remaining)
		}
	}
}

// Stop halts the clock and waits for its goroutine, so no tick is delivered after Stop
// returns. Safe to call more than once and on clocks that never started.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.started = true // a stopped clock cannot be restarted
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
