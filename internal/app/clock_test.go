package app_test

import (
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
)

func TestClockAnchorsOnStartTimestamp(t *testing.T) {
	now := newFakeNow(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	startedAt := now.Now().Add(-7 * time.Minute)

	clock := app.NewClock(startedAt, 10, app.WithNow(now.Now))
	if got := clock.Remaining(); got != 180 {
		t.Fatalf("expected 180s remaining, got %d", got)
	}

	// Reattaching later must land on the same deadline.
	now.Advance(90*time.Second + 400*time.Millisecond)
	reattached := app.NewClock(startedAt, 10, app.WithNow(now.Now))
	if !reattached.Deadline().Equal(clock.Deadline()) {
		t.Fatalf("deadline moved: %v vs %v", reattached.Deadline(), clock.Deadline())
	}
	if got := reattached.Remaining(); got != 90 {
		t.Fatalf("expected 90s remaining after reattach, got %d", got)
	}

	now.Advance(time.Hour)
	if got := reattached.Remaining(); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %d", got)
	}
}

func TestClockUnlimitedNeverTicks(t *testing.T) {
	clock := app.NewClock(time.Now(), 0, app.WithTicker(func(time.Duration) app.Ticker {
		t.Fatalf("disabled clock must not create a ticker")
		return nil
	}))
	if clock.Enabled() {
		t.Fatalf("expected disabled clock")
	}
	clock.Start(
		func(int) { t.Fatalf("unexpected tick") },
		func() { t.Fatalf("unexpected expiry") },
	)
	clock.Stop()
	if !clock.Deadline().IsZero() || clock.Remaining() != 0 {
		t.Fatalf("disabled clock should report no deadline")
	}
}

func TestClockTicksThenExpiresOnce(t *testing.T) {
	now := newFakeNow(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ticker := newManualTicker()
	clock := app.NewClock(now.Now().Add(-58*time.Second), 1, app.WithNow(now.Now), app.WithTicker(ticker.factory()))

	ticks := make(chan int, 10)
	expired := make(chan struct{}, 10)
	clock.Start(func(r int) { ticks <- r }, func() { expired <- struct{}{} })

	if !ticker.tryTick() {
		t.Fatalf("clock did not consume first tick")
	}
	if got := <-ticks; got != 2 {
		t.Fatalf("expected tick(2), got tick(%d)", got)
	}

	now.Advance(2 * time.Second)
	if !ticker.tryTick() {
		t.Fatalf("clock did not consume expiring tick")
	}
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("expected expiry")
	}

	if ticker.tryTick() {
		t.Fatalf("clock kept ticking after expiry")
	}
	clock.Stop()
	if len(expired) != 0 || len(ticks) != 0 {
		t.Fatalf("unexpected extra events: ticks=%d expired=%d", len(ticks), len(expired))
	}
	if !ticker.isStopped() {
		t.Fatalf("ticker not released")
	}
}

func TestClockExpiresImmediatelyWhenReattachedLate(t *testing.T) {
	now := newFakeNow(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ticker := newManualTicker()
	clock := app.NewClock(now.Now().Add(-time.Hour), 10, app.WithNow(now.Now), app.WithTicker(ticker.factory()))

	expired := make(chan struct{}, 1)
	clock.Start(func(int) { t.Errorf("unexpected tick") }, func() { expired <- struct{}{} })
	select {
	case <-expired:
	default:
		t.Fatalf("expected expiry before Start returned")
	}
	if ticker.tryTick() {
		t.Fatalf("expired clock consumed a tick")
	}
	clock.Stop()
}

func TestClockExpiresOnTickRightAfterStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		now := newFakeNow(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
		ticker := newManualTicker()
		clock := app.NewClock(now.Now(), 1, app.WithNow(now.Now), app.WithTicker(ticker.factory()))

		expired := make(chan struct{}, 1)
		clock.Start(func(int) {}, func() { expired <- struct{}{} })
		now.Advance(time.Minute)
		if !ticker.tryTick() {
			t.Fatalf("run %d: clock did not consume expiring tick", i)
		}
		select {
		case <-expired:
		case <-time.After(time.Second):
			t.Fatalf("run %d: no expiry", i)
		}
		clock.Stop()
	}
}

func TestClockStopHaltsTicks(t *testing.T) {
	now := newFakeNow(time.Now())
	ticker := newManualTicker()
	clock := app.NewClock(now.Now(), 5, app.WithNow(now.Now), app.WithTicker(ticker.factory()))

	clock.Start(func(int) {}, func() { t.Errorf("unexpected expiry") })
	if !ticker.tryTick() {
		t.Fatalf("clock did not tick")
	}
	clock.Stop()
	clock.Stop()
	if ticker.tryTick() {
		t.Fatalf("tick consumed after Stop")
	}

	// A stopped clock stays stopped.
	clock.Start(func(int) { t.Errorf("tick after restart") }, func() {})
	if ticker.tryTick() {
		t.Fatalf("stopped clock restarted")
	}
}
