package http

import (
	"testing"
	"time"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	if rl.Enabled() {
		t.Fatal("rpm 0 should disable")
	}
	for range 100 {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter rejected")
		}
	}
}

func TestRateLimiter_PerKeyAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("burst of 1 not enforced")
	}
	if !rl.Allow("b") {
		t.Fatal("keys must be independent")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatal("token not refilled after 1s at 60 rpm")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }
	rl.Allow("old")
	now = now.Add(11 * time.Minute)
	rl.Allow("new")

	rl.cleanup(10 * time.Minute)
	if _, ok := rl.limiters.Load("old"); ok {
		t.Error("idle entry kept")
	}
	if _, ok := rl.limiters.Load("new"); !ok {
		t.Error("fresh entry evicted")
	}
}
