package ratelimit

import (
	"testing"
	"time"
)

func TestWindowThrottlesSecondDispatch(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: map[string]time.Duration{"general": 15 * time.Second}})
	now := time.Now()

	if !l.Allow("general", now) {
		t.Fatalf("first dispatch should pass")
	}
	if l.Allow("general", now.Add(time.Second)) {
		t.Fatalf("second dispatch 1s later should be dropped (15s window)")
	}
	if !l.Allow("general", now.Add(16*time.Second)) {
		t.Fatalf("dispatch after window should pass")
	}
}

func TestZeroWindowNeverThrottles(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: map[string]time.Duration{"error": 0}})
	now := time.Now()
	for i := 0; i < 10; i++ {
		if !l.Allow("error", now) {
			t.Fatalf("zero-window category dropped at i=%d", i)
		}
	}
}

func TestDropDoesNotConsumeWindow(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: map[string]time.Duration{"completion": 10 * time.Second}})
	now := time.Now()

	if !l.Allow("completion", now) {
		t.Fatalf("first dispatch should pass")
	}
	// Hammer during the window; none may pass and none may push the window out.
	for i := 1; i <= 9; i++ {
		if l.Allow("completion", now.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("dispatch at +%ds should be dropped", i)
		}
	}
	if !l.Allow("completion", now.Add(11*time.Second)) {
		t.Fatalf("dispatch after original window should pass")
	}
}

func TestUnknownCategoryUsesDefault(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: map[string]time.Duration{}, Default: 5 * time.Second})
	now := time.Now()
	if !l.Allow("made-up", now) {
		t.Fatalf("first dispatch should pass")
	}
	if l.Allow("made-up", now.Add(time.Second)) {
		t.Fatalf("default window should throttle")
	}
}

func TestApplySwapsWindows(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: map[string]time.Duration{"general": time.Hour}})
	now := time.Now()
	if !l.Allow("general", now) {
		t.Fatalf("first dispatch should pass")
	}
	if l.Allow("general", now.Add(time.Minute)) {
		t.Fatalf("hour window should throttle")
	}

	l.Apply(Config{Windows: map[string]time.Duration{"general": 0}})
	if !l.Allow("general", now.Add(2*time.Minute)) {
		t.Fatalf("after reconfigure to zero window, dispatch should pass")
	}

	st := l.Snapshot()["general"]
	if st.Emitted != 2 {
		t.Fatalf("Emitted = %d, want 2 (counters survive Apply)", st.Emitted)
	}
	if st.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", st.Dropped)
	}
}

func TestScenarioFiveGeneralInOneSecond(t *testing.T) {
	t.Parallel()
	l := New(Config{Windows: DefaultWindows()})
	now := time.Now()
	played := 0
	for i := 0; i < 5; i++ {
		if l.Allow("general", now.Add(time.Duration(i)*200*time.Millisecond)) {
			played++
		}
	}
	if played != 1 {
		t.Fatalf("played = %d, want exactly 1 of 5", played)
	}
}
