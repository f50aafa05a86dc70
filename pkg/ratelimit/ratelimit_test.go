package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket_Allow_Basic(t *testing.T) {
	tb := NewTokenBucket(5, time.Millisecond*100)

	// Should allow 5 requests immediately
	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// 6th request should be denied
	if tb.Allow() {
		t.Fatal("6th request should be denied")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(1, time.Millisecond*50)

	if !tb.Allow() {
		t.Fatal("first request should be allowed")
	}
	if tb.Allow() {
		t.Fatal("second request should be denied immediately")
	}

	// Wait for refill
	time.Sleep(time.Millisecond * 60)

	if !tb.Allow() {
		t.Fatal("request should be allowed after refill")
	}
}

func TestTokenBucket_MaxCapacity(t *testing.T) {
	tb := NewTokenBucket(3, time.Millisecond*100)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// Wait for multiple refills
	time.Sleep(time.Millisecond * 350)

	// Should have refilled to max, not exceeded it
	allowedCount := 0
	for i := 0; i < 5; i++ {
		if tb.Allow() {
			allowedCount++
		}
	}
	if allowedCount != 3 {
		t.Fatalf("expected 3 requests allowed after refill, got %d", allowedCount)
	}
}

func TestTokenBucket_InvalidConfig(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	if !tb.Allow() {
		t.Fatal("degenerate bucket should still allow one request")
	}
}

func TestClientLimiter_SeparateBuckets(t *testing.T) {
	cl := NewClientLimiter(1, time.Second)

	if !cl.Allow("10.0.0.1") {
		t.Fatal("first client should be allowed")
	}
	if cl.Allow("10.0.0.1") {
		t.Fatal("first client should now be denied")
	}
	// A different client has its own bucket
	if !cl.Allow("10.0.0.2") {
		t.Fatal("second client should be allowed")
	}
}

func TestClientLimiter_Cleanup(t *testing.T) {
	cl := NewClientLimiter(1, time.Second)
	cl.Allow("10.0.0.1")

	time.Sleep(10 * time.Millisecond)
	cl.Cleanup(time.Millisecond)

	cl.mu.Lock()
	n := len(cl.limiters)
	cl.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected stale limiters removed, got %d", n)
	}
}
