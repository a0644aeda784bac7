package dispatch

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	rl := NewRateLimiter()
	rl.now = clk.now
	return rl, clk
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl, clk := newTestLimiter()
	window := 1000 * time.Millisecond

	for i := range 3 {
		if !rl.Allow("alice", 3, window) {
			t.Fatalf("call %d should be allowed", i+1)
		}
		clk.advance(100 * time.Millisecond)
	}
	if rl.Allow("alice", 3, window) {
		t.Fatal("4th call inside the window should be denied")
	}

	clk.t = time.Unix(1700000000, 0).Add(window)
	if !rl.Allow("alice", 3, window) {
		t.Fatal("first call after the window should be allowed")
	}
	if rl.buckets["alice"].count != 1 {
		t.Errorf("bucket should restart at 1, got %d", rl.buckets["alice"].count)
	}
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl, _ := newTestLimiter()
	rl.Allow("alice", 1, time.Minute)
	if rl.Allow("alice", 1, time.Minute) {
		t.Error("alice should be limited")
	}
	if !rl.Allow("bob", 1, time.Minute) {
		t.Error("bob has his own bucket")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter()
	for range 100 {
		if !rl.Allow("alice", 0, time.Second) {
			t.Fatal("limit 0 disables limiting")
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clk := newTestLimiter()
	rl.Allow("alice", 5, time.Second)
	clk.advance(500 * time.Millisecond)
	rl.Allow("bob", 5, time.Second)
	clk.advance(600 * time.Millisecond)

	rl.Cleanup(time.Second)
	if _, ok := rl.buckets["alice"]; ok {
		t.Error("alice's expired bucket should be dropped")
	}
	if _, ok := rl.buckets["bob"]; !ok {
		t.Error("bob's live bucket should stay")
	}
}

func TestCleanupRateLimits_FollowsReloadedWindow(t *testing.T) {
	d := New(&recordingSender{}, nil, Settings{RateLimit: 2, RateWindow: time.Minute})
	rl, clk := newTestLimiter()
	d.limiter = rl

	rl.Allow("alice", 2, time.Minute)
	rl.Allow("alice", 2, time.Minute)
	clk.advance(2 * time.Minute)

	d.UpdateSettings(Settings{RateLimit: 2, RateWindow: time.Hour})
	d.CleanupRateLimits()
	if _, ok := rl.buckets["alice"]; !ok {
		t.Fatal("bucket dropped with the old window")
	}
	if rl.Allow("alice", 2, time.Hour) {
		t.Error("count reset after reload; third call should be denied")
	}

	clk.advance(time.Hour)
	d.CleanupRateLimits()
	if _, ok := rl.buckets["alice"]; ok {
		t.Error("expired bucket kept")
	}
}
