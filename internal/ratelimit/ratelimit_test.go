package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "203.0.113.7"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("request %d should be allowed within burst", i)
		}
	}

	if limiter.Allow(key) {
		t.Error("request after burst should be denied")
	}

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow(key) {
		t.Error("request after replenishment should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("company-a")
	}
	if limiter.Allow("company-a") {
		t.Error("company-a should be rate limited")
	}
	if !limiter.Allow("company-b") {
		t.Error("company-b should not be affected by company-a's traffic")
	}
}
