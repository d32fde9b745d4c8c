package cursor

import (
	"strconv"
	"testing"
	"time"
)

func fixedEngine(t *testing.T, elapsed time.Duration, interval time.Duration, jitterSeconds int) *Engine {
	t.Helper()
	epoch := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
	e := New(epoch, interval)
	e.now = func() time.Time { return epoch.Add(elapsed) }
	e.jitter = func() int { return jitterSeconds }
	return e
}

func TestCurrentIsStableWithinInterval(t *testing.T) {
	a := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	b := fixedEngine(t, 119*time.Second, 20*time.Second, 1)

	if a.Current() != b.Current() {
		t.Errorf("cursors within one interval should match: %q vs %q", a.Current(), b.Current())
	}
	if a.Current() != "5" {
		t.Errorf("expected interval 5, got %q", a.Current())
	}
}

func TestCurrentAdvancesAcrossIntervals(t *testing.T) {
	a := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	b := fixedEngine(t, 120*time.Second, 20*time.Second, 1)

	if a.Current() == b.Current() {
		t.Error("cursor should advance across an interval boundary")
	}
}

func TestNextWithoutPrevious(t *testing.T) {
	e := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	if got := e.Next(""); got != "5" {
		t.Errorf("expected current interval 5, got %q", got)
	}
}

func TestNextWithOlderPrevious(t *testing.T) {
	e := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	if got := e.Next("3"); got != "5" {
		t.Errorf("older previous should return current, got %q", got)
	}
}

func TestNextCollisionAdvancesPastPrevious(t *testing.T) {
	// Previous equals current: advance by ceil(jitter/interval).
	e := fixedEngine(t, 100*time.Second, 20*time.Second, 45)
	got := e.Next("5")
	want := strconv.FormatInt(5+3, 10) // ceil(45/20) = 3
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	// Previous beyond current (replayed from a cached response): still
	// strictly greater than previous.
	got = e.Next("9")
	if got != "12" {
		t.Errorf("expected 12, got %q", got)
	}
}

func TestNextCollisionMinimumAdvance(t *testing.T) {
	// Jitter smaller than the interval still advances by at least one.
	e := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	if got := e.Next("5"); got != "6" {
		t.Errorf("expected 6, got %q", got)
	}
}

func TestNextIgnoresGarbagePrevious(t *testing.T) {
	e := fixedEngine(t, 100*time.Second, 20*time.Second, 1)
	if got := e.Next("not-a-number"); got != "5" {
		t.Errorf("garbage previous should return current, got %q", got)
	}
}

func TestDefaultsApplied(t *testing.T) {
	e := New(time.Time{}, 0)
	if !e.epoch.Equal(DefaultEpoch) {
		t.Errorf("zero epoch should select the default")
	}
	if e.interval != DefaultInterval {
		t.Errorf("zero interval should select the default")
	}
}
