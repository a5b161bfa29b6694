package transport

import (
	"testing"
	"time"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 0)

	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		d := r.nextDelay()
		floor := time.Second << i
		ceil := floor + floor/2
		if d < floor || d > ceil {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", i, d, floor, ceil)
		}
		if d <= prev && i > 0 {
			// jitter can shrink the gap but the floor always doubles
			if d < time.Second<<i {
				t.Errorf("attempt %d: delay %v did not grow past floor", i, d)
			}
		}
		prev = d
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	r := newReconnector(time.Second, 5*time.Second, 0)

	for i := 0; i < 10; i++ {
		if d := r.nextDelay(); d > 5*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i, d)
		}
	}
}

func TestBackoffRetryBudget(t *testing.T) {
	r := newReconnector(time.Millisecond, time.Second, 3)

	for i := 0; i < 3; i++ {
		if !r.shouldRetry() {
			t.Fatalf("attempt %d: budget exhausted early", i)
		}
		r.nextDelay()
	}
	if r.shouldRetry() {
		t.Error("expected budget exhausted after 3 attempts")
	}
}

func TestBackoffUnlimitedWhenZero(t *testing.T) {
	r := newReconnector(time.Millisecond, time.Second, 0)

	for i := 0; i < 100; i++ {
		r.nextDelay()
	}
	if !r.shouldRetry() {
		t.Error("maxAttempts 0 should never exhaust")
	}
}

func TestBackoffResetsAfterStablePeriod(t *testing.T) {
	r := newReconnector(time.Second, 30*time.Second, 0)
	r.stableAfter = 10 * time.Millisecond

	for i := 0; i < 5; i++ {
		r.nextDelay()
	}
	r.markConnected()
	time.Sleep(20 * time.Millisecond)

	d := r.nextDelay()
	if d > 2*time.Second {
		t.Errorf("expected attempt counter reset after stable period, got delay %v", d)
	}
}

