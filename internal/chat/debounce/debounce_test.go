package debounce

import (
	"testing"
	"time"
)

func TestBurstEmitsOneStartOneStop(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	starts, stops := 0, 0
	d := NewWithClock(time.Second,
		func() { starts++ },
		func() { stops++ },
		clock)

	// Keystrokes at t=0, 300, 600 ms.
	d.Signal()
	clock.Advance(300 * time.Millisecond)
	d.Signal()
	clock.Advance(300 * time.Millisecond)
	d.Signal()

	if starts != 1 {
		t.Errorf("starts = %d after burst, want 1 (leading edge only)", starts)
	}
	if stops != 0 {
		t.Errorf("stops = %d mid-burst, want 0", stops)
	}

	// At t=1599 ms nothing yet; at t=1600 ms the trailing stop fires.
	clock.Advance(999 * time.Millisecond)
	if stops != 0 {
		t.Errorf("stops = %d at t=1599ms, want 0", stops)
	}
	clock.Advance(1 * time.Millisecond)
	if stops != 1 {
		t.Errorf("stops = %d at t=1600ms, want 1", stops)
	}
	if starts != 1 {
		t.Errorf("starts = %d at end, want 1", starts)
	}
}

func TestSecondBurstStartsAgain(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	starts, stops := 0, 0
	d := NewWithClock(time.Second, func() { starts++ }, func() { stops++ }, clock)

	d.Signal()
	clock.Advance(time.Second)
	d.Signal()
	clock.Advance(time.Second)

	if starts != 2 || stops != 2 {
		t.Errorf("starts/stops = %d/%d, want 2/2", starts, stops)
	}
}

func TestFlushForcesStop(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	stops := 0
	d := NewWithClock(time.Second, nil, func() { stops++ }, clock)

	d.Signal()
	d.Flush()

	if stops != 1 {
		t.Errorf("stops = %d after Flush, want 1", stops)
	}
	if d.Active() {
		t.Error("debouncer still active after Flush")
	}

	// Timer expiry after flush must not double-fire.
	clock.Advance(2 * time.Second)
	if stops != 1 {
		t.Errorf("stops = %d after expiry post-Flush, want 1", stops)
	}
}

func TestFlushIdleIsNoop(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	stops := 0
	d := NewWithClock(time.Second, nil, func() { stops++ }, clock)

	d.Flush()
	if stops != 0 {
		t.Errorf("stops = %d for idle Flush, want 0", stops)
	}
}

func TestRealClockSmoke(t *testing.T) {
	stopped := make(chan struct{})
	d := New(10*time.Millisecond, nil, func() { close(stopped) })

	d.Signal()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("trailing stop never fired with real clock")
	}
}
