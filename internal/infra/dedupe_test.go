package infra

import (
	"testing"
	"time"
)

func TestIdempotencyCache_SetIfAbsent(t *testing.T) {
	c := NewIdempotencyCache(IdempotencyCacheConfig{TTL: time.Hour})
	defer c.Close()

	if !c.SetIfAbsent("msg-1") {
		t.Fatal("first accept should succeed")
	}
	if c.SetIfAbsent("msg-1") {
		t.Fatal("second accept within TTL should report duplicate")
	}
	if !c.SetIfAbsent("msg-2") {
		t.Fatal("unrelated key should succeed")
	}
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	c := NewIdempotencyCache(IdempotencyCacheConfig{TTL: time.Hour})
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetIfAbsent("msg-1")
	now = now.Add(25 * time.Hour)

	if !c.SetIfAbsent("msg-1") {
		t.Fatal("key should be accepted again after TTL")
	}
}

func TestIdempotencyCache_MaxSizeEvicts(t *testing.T) {
	c := NewIdempotencyCache(IdempotencyCacheConfig{TTL: time.Hour, MaxSize: 2})
	defer c.Close()

	c.SetIfAbsent("a")
	c.SetIfAbsent("b")
	c.SetIfAbsent("c")

	if c.Len() != 2 {
		t.Errorf("expected cache bounded at 2 entries, got %d", c.Len())
	}
}

func TestIdempotencyCache_Sweep(t *testing.T) {
	c := NewIdempotencyCache(IdempotencyCacheConfig{TTL: time.Hour})
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetIfAbsent("a")
	c.SetIfAbsent("b")
	now = now.Add(2 * time.Hour)
	c.sweep()

	if c.Len() != 0 {
		t.Errorf("expected sweep to drop expired keys, got %d", c.Len())
	}
}

func TestIdempotencyCache_BackgroundSweepEvicts(t *testing.T) {
	c := NewIdempotencyCache(IdempotencyCacheConfig{
		TTL:             10 * time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	})
	defer c.Close()

	c.SetIfAbsent("a")
	c.SetIfAbsent("b")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expired keys were never swept, %d still tracked", c.Len())
}
