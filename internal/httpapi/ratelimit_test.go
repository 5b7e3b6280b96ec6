package httpapi

import (
	"testing"
	"time"
)

func TestTokenLimiterExhaustsBurst(t *testing.T) {
	l := newTokenLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatalf("request past burst should be rejected")
	}
}

func TestTokenLimiterRefills(t *testing.T) {
	l := newTokenLimiter(60, 2)

	l.allow("10.0.0.1")
	l.allow("10.0.0.1")
	if l.allow("10.0.0.1") {
		t.Fatalf("bucket should be empty")
	}

	// 60/min refills one token a second.
	l.mu.Lock()
	l.bucket["10.0.0.1"].last = time.Now().Add(-time.Second)
	l.mu.Unlock()
	if !l.allow("10.0.0.1") {
		t.Fatalf("bucket should have refilled one token")
	}
	if l.allow("10.0.0.1") {
		t.Fatalf("only one token should have refilled")
	}
}

func TestTokenLimiterIsolatesClients(t *testing.T) {
	l := newTokenLimiter(60, 1)

	if !l.allow("10.0.0.1") {
		t.Fatalf("first client should be allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Fatalf("second client has its own bucket")
	}
	if l.allow("10.0.0.1") {
		t.Fatalf("first client exhausted its bucket")
	}
}

func TestTokenLimiterSweep(t *testing.T) {
	l := newTokenLimiter(60, 1)

	l.allow("10.0.0.1")
	l.mu.Lock()
	l.bucket["10.0.0.1"].last = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.bucket) != 0 {
		t.Fatalf("expected idle buckets swept, got %d", len(l.bucket))
	}
}
