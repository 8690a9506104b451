package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("user:u1") {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	if l.Allow("user:u1") {
		t.Fatal("expected 4th request to be denied")
	}
}

func TestWindowResetsAfterPeriod(t *testing.T) {
	l := New(1, time.Minute)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	if !l.Allow("user:u1") {
		t.Fatal("expected first request to be allowed")
	}
	if l.Allow("user:u1") {
		t.Fatal("expected second request within window to be denied")
	}

	fixed = fixed.Add(time.Minute + time.Second)
	if !l.Allow("user:u1") {
		t.Fatal("expected request after window expiry to be allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("user:u1") {
		t.Fatal("expected u1 to be allowed")
	}
	if !l.Allow("user:u2") {
		t.Fatal("expected u2 to be allowed independently of u1")
	}
}

func TestSweepRemovesExpiredWindows(t *testing.T) {
	l := New(1, time.Minute)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }
	l.Allow("user:u1")

	fixed = fixed.Add(2 * time.Minute)
	l.Sweep()

	if len(l.windows) != 0 {
		t.Errorf("expected Sweep to clear expired windows, got %d remaining", len(l.windows))
	}
}
