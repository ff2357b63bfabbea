package ratelimit

import (
	"testing"
	"time"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	l := NewFixedWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("ip-1") {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if l.Allow("ip-1") {
		t.Fatalf("request over the limit allowed")
	}
	if !l.Flagged("ip-1") {
		t.Fatalf("over-budget key not flagged")
	}
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)
	if !l.Allow("ip-a") {
		t.Fatalf("first request for ip-a denied")
	}
	if !l.Allow("ip-b") {
		t.Fatalf("ip-b throttled by ip-a's traffic")
	}
	if l.Flagged("ip-b") {
		t.Fatalf("ip-b flagged without exceeding its budget")
	}
}

func TestFixedWindowResetsAfterPeriod(t *testing.T) {
	l := NewFixedWindow(1, 20*time.Millisecond)
	l.Allow("ip-1")
	if l.Allow("ip-1") {
		t.Fatalf("second request in window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("ip-1") {
		t.Fatalf("request denied after window reset")
	}
	if l.Flagged("ip-1") {
		t.Fatalf("flag survived the window reset")
	}
}

func TestFlaggedDoesNotConsumeBudget(t *testing.T) {
	l := NewFixedWindow(2, time.Minute)
	for i := 0; i < 10; i++ {
		l.Flagged("ip-1")
	}
	if !l.Allow("ip-1") {
		t.Fatalf("Flagged() consumed request budget")
	}
}

func TestFlaggedIsAPureRead(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)
	if l.Flagged("never-seen") {
		t.Fatalf("unseen key flagged")
	}
	l.mu.Lock()
	entries := len(l.windows)
	l.mu.Unlock()
	if entries != 0 {
		t.Fatalf("Flagged() inserted %d window entries", entries)
	}
}
