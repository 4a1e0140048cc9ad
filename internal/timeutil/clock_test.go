package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Until(t *testing.T) {
	clock := RealClock{}
	d := clock.Until(time.Now().Add(time.Hour))

	if d < 59*time.Minute {
		t.Errorf("Until() returned %v, expected >= 59m", d)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)

	if got := clock.Now(); !got.Equal(fixedTime) {
		t.Errorf("got %v, want %v", got, fixedTime)
	}
}

func TestMockClock_TimerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	timer := clock.NewTimer(15 * time.Minute)

	clock.Advance(14 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}
	if n := clock.ActiveTimers(); n != 1 {
		t.Fatalf("ActiveTimers() = %d, want 1", n)
	}

	clock.Advance(time.Minute)
	select {
	case got := <-timer.C():
		if want := start.Add(15 * time.Minute); !got.Equal(want) {
			t.Errorf("fired at %v, want %v", got, want)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if n := clock.ActiveTimers(); n != 0 {
		t.Errorf("ActiveTimers() = %d after firing, want 0", n)
	}
}

func TestMockClock_StoppedTimerNeverFires(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop() on an armed timer should report true")
	}
	if timer.Stop() {
		t.Error("second Stop() should report false")
	}

	clock.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockClock_SetFiresExpiredTimers(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ch := clock.After(time.Minute)

	clock.Set(start.Add(2 * time.Minute))
	select {
	case <-ch:
	default:
		t.Fatal("After channel did not receive after Set past the deadline")
	}
	if got := clock.Until(start.Add(3 * time.Minute)); got != time.Minute {
		t.Errorf("Until() = %v, want 1m", got)
	}
}
