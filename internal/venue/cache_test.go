package venue

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

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheGetSet(t *testing.T) {
	c := NewCache(10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	c.Set("blue note", Result{Address: "131 W 3rd St, New York", Strategy: StrategyRegistry})
	got, ok := c.Get("blue note")
	if !ok {
		t.Fatal("Expected hit after Set")
	}
	if got.Address != "131 W 3rd St, New York" {
		t.Errorf("Expected cached address, got %s", got.Address)
	}
}

func TestCacheTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(10, time.Minute)
	c.now = clock.Now

	c.Set("key", Result{Address: "1 Main St, Austin"})

	clock.Advance(59 * time.Second)
	if _, ok := c.Get("key"); !ok {
		t.Error("Expected hit before TTL")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("key"); ok {
		t.Error("Expected miss once TTL elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be evicted on Get, got %d entries", c.Len())
	}
}

func TestCacheEvictsOldestInserted(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(3, time.Hour)
	c.now = clock.Now

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), Result{Address: fmt.Sprintf("%d Main St, Austin", i)})
		clock.Advance(time.Second)
	}

	// reading k0 does not protect it; eviction is by insertion age
	c.Get("k0")
	c.Set("k3", Result{})

	if _, ok := c.Get("k0"); ok {
		t.Error("Expected oldest inserted entry to be evicted")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("Expected %s to remain cached", key)
		}
	}

	// re-setting refreshes insertion order
	c.Set("k1", Result{Address: "updated"})
	c.Set("k4", Result{})
	if _, ok := c.Get("k2"); ok {
		t.Error("Expected k2 to be evicted after k1 was refreshed")
	}
	if got, _ := c.Get("k1"); got.Address != "updated" {
		t.Errorf("Expected refreshed value, got %s", got.Address)
	}
}

func TestCachePurge(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Set("a", Result{})
	c.Set("b", Result{})
	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Expected miss after purge")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(50, time.Minute)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*200+i)%75)
				c.Set(key, Result{Address: key})
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Expected at most 50 entries, got %d", c.Len())
	}
}
