package server

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

const testBurst = 3

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(1, testBurst, time.Minute)

	// First burst should succeed up to the burst limit.
	for i := range testBurst {
		if !rl.allow("conn-a") {
			t.Fatalf("expected allow on burst iteration %d", i)
		}
	}
	if rl.allow("conn-a") {
		t.Fatal("expected rate limit after burst exhaustion")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(1, testBurst, time.Minute)

	for range testBurst {
		rl.allow("conn-a")
	}
	if rl.allow("conn-a") {
		t.Fatal("expected conn-a to be rate-limited")
	}
	if !rl.allow("conn-b") {
		t.Fatal("expected conn-b to be allowed independently")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(50, 1, time.Minute)
	if !rl.allow("conn-c") {
		t.Fatal("expected first allow")
	}
	if rl.allow("conn-c") {
		t.Fatal("expected rate limit")
	}

	time.Sleep(100 * time.Millisecond)
	if !rl.allow("conn-c") {
		t.Fatal("expected allow after refill")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(1, testBurst, time.Minute)
	rl.allow("stale")
	rl.allow("fresh")

	s := rl.shard("stale")
	s.mu.Lock()
	s.entries["stale"].lastSeen = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	if n := rl.cleanup(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if rl.size() != 1 {
		t.Fatalf("expected 1 remaining limiter, got %d", rl.size())
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(1, testBurst, time.Minute)
	const goroutines = 32
	const keysPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func() {
			defer wg.Done()
			for k := 0; k < keysPerGoroutine; k++ {
				rl.allow(fmt.Sprintf("conn-%d-%d", g, k))
			}
		}()
	}
	wg.Wait()

	if rl.size() != goroutines*keysPerGoroutine {
		t.Fatalf("expected %d limiters, got %d", goroutines*keysPerGoroutine, rl.size())
	}
}

func BenchmarkRateLimiterAllowDistinctKeys(b *testing.B) {
	rl := newRateLimiter(1, testBurst, time.Minute)
	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("conn-%d", i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.allow(keys[i%len(keys)])
	}
}
