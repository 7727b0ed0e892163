package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// NewLRU Tests
// =============================================================================

func TestNewLRU(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		c := NewLRU[uint64, string](100, 5*time.Minute)

		if c.maxSize != 100 {
			t.Errorf("maxSize = %d, want 100", c.maxSize)
		}
		if c.ttl != 5*time.Minute {
			t.Errorf("ttl = %v, want 5m", c.ttl)
		}
		if !c.enabled {
			t.Error("cache should be enabled by default")
		}
	})

	t.Run("non-positive maxSize uses default", func(t *testing.T) {
		for _, size := range []int{0, -10} {
			c := NewLRU[string, int](size, 0)
			if c.maxSize != DefaultMaxSize {
				t.Errorf("maxSize(%d) = %d, want %d", size, c.maxSize, DefaultMaxSize)
			}
		}
	})
}

// =============================================================================
// Get/Put Tests
// =============================================================================

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[uint64, string](10, 0)

	t.Run("miss on empty cache", func(t *testing.T) {
		if _, ok := c.Get(1); ok {
			t.Error("expected miss")
		}
	})

	t.Run("hit after put", func(t *testing.T) {
		c.Put(1, "<urn:a>")
		v, ok := c.Get(1)
		if !ok || v != "<urn:a>" {
			t.Errorf("Get(1) = %q, %v", v, ok)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		c.Put(1, "<urn:b>")
		v, _ := c.Get(1)
		if v != "<urn:b>" {
			t.Errorf("Get(1) = %q, want <urn:b>", v)
		}
		if c.Len() != 1 {
			t.Errorf("Len = %d, want 1", c.Len())
		}
	})

	t.Run("remove", func(t *testing.T) {
		c.Remove(1)
		if _, ok := c.Get(1); ok {
			t.Error("expected miss after remove")
		}
	})
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](3, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes least recently used.
	c.Get("a")
	c.Put("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU[string, int](10, 10*time.Millisecond)
	c.Put("k", 1)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}
}

func TestLRU_SetEnabled(t *testing.T) {
	c := NewLRU[string, int](10, 0)
	c.Put("k", 1)
	c.SetEnabled(false)

	if c.Len() != 0 {
		t.Error("disabling should clear entries")
	}
	c.Put("k", 1)
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache should not store")
	}

	c.SetEnabled(true)
	c.Put("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Error("re-enabled cache should store")
	}
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string, int](10, 0)
	c.Put("k", 1)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if stats.Size != 1 || stats.MaxSize != 10 {
		t.Errorf("size = %d/%d", stats.Size, stats.MaxSize)
	}
	if stats.HitRate < 66 || stats.HitRate > 67 {
		t.Errorf("hit rate = %f, want ~66.7", stats.HitRate)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("Clear should empty the cache")
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[string, int](100, 0)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", (g*500+i)%150)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len = %d exceeds maxSize", c.Len())
	}
}
