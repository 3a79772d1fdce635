package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, cfg Config) (*TTLCache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](cfg)
	c.SetClock(clock.Now)
	return c, clock
}

// TestBasicGetSet tests basic cache get/set operations.
func TestBasicGetSet(t *testing.T) {
	c, _ := newTestCache(t, Config{Name: "test", TTL: time.Minute})

	if _, ok := c.Get("session_1"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("session_1", "transcript")
	got, ok := c.Get("session_1")
	if !ok || got != "transcript" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestTTLExpiration tests that entries expire after TTL.
func TestTTLExpiration(t *testing.T) {
	c, clock := newTestCache(t, Config{TTL: 30 * time.Minute})

	c.Set("k", "v")
	clock.Advance(29 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be valid before TTL")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("entry should be absent after TTL")
	}
	if size := c.GetStats().Size; size != 0 {
		t.Errorf("expired entry should be removed on read, size=%d", size)
	}
}

func TestSetRefreshesTTL(t *testing.T) {
	c, clock := newTestCache(t, Config{TTL: time.Minute})

	c.Set("k", "v1")
	clock.Advance(50 * time.Second)
	c.Set("k", "v2")
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	if !ok || got != "v2" {
		t.Errorf("Get() = %q, %v; want v2, true", got, ok)
	}
}

// TestLRUEviction tests that the least recently used entry is evicted at capacity.
func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 2, TTL: time.Hour})

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive as recently used")
	}
	if c.GetStats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.GetStats().Evictions)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t, Config{TTL: time.Hour})
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be deleted")
	}
	c.Delete("missing")
	if size := c.GetStats().Size; size != 1 {
		t.Errorf("size after Delete = %d, want 1", size)
	}
}

// TestEvictExpired tests bulk eviction of expired entries.
func TestEvictExpired(t *testing.T) {
	c, clock := newTestCache(t, Config{TTL: time.Minute})

	c.Set("old1", "x")
	c.Set("old2", "x")
	clock.Advance(45 * time.Second)
	c.Set("fresh", "y")
	clock.Advance(30 * time.Second)

	if evicted := c.EvictExpired(); evicted != 2 {
		t.Errorf("EvictExpired() = %d, want 2", evicted)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should remain")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c, clock := newTestCache(t, Config{})
	c.Set("k", "v")
	clock.Advance(1000 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Error("zero TTL should disable expiry")
	}
}

// TestConcurrentAccess tests thread safety.
func TestConcurrentAccess(t *testing.T) {
	c := New[int](Config{MaxSize: 50, TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j%10)
				c.Set(key, j)
				c.Get(key)
				if j%25 == 0 {
					c.EvictExpired()
				}
			}
		}(i)
	}
	wg.Wait()

	if size := c.GetStats().Size; size > 50 {
		t.Errorf("cache exceeded max size: %d", size)
	}
}
