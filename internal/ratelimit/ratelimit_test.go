package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(perMinute, burst int) *Limiter {
	return New(Config{
		RequestsPerMinute: perMinute,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
}

func TestBurstThenDeny(t *testing.T) {
	l := newTestLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("198.51.100.4") {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	if l.Allow("198.51.100.4") {
		t.Fatal("request beyond burst allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := newTestLimiter(60, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.Allow("auth:inn_live_aaaa")
	}
	if l.Allow("auth:inn_live_aaaa") {
		t.Fatal("exhausted key still allowed")
	}
	if !l.Allow("auth:inn_live_bbbb") {
		t.Fatal("fresh key denied by another key's usage")
	}
}

func TestTokensReplenishOverTime(t *testing.T) {
	l := newTestLimiter(600, 1) // 10 tokens per second
	defer l.Stop()

	if !l.Allow("198.51.100.9") {
		t.Fatal("first request denied")
	}
	if l.Allow("198.51.100.9") {
		t.Fatal("immediate second request allowed")
	}

	time.Sleep(120 * time.Millisecond)

	if !l.Allow("198.51.100.9") {
		t.Fatal("request denied after replenish window")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
}
