package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClockedLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		c, _ := newClockedLRU(10)

		if err := c.Set(ctx, "lead:s-1", []byte("1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "lead:s-1")
		if err != nil || string(val) != "1" {
			t.Fatalf("Get = %q, %v", val, err)
		}

		if err := c.Delete(ctx, "lead:s-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := c.Get(ctx, "lead:s-1"); val != nil {
			t.Error("expected nil after delete")
		}
		if val, _ := c.Get(ctx, "never-set"); val != nil {
			t.Error("expected nil for a miss")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c, clock := newClockedLRU(10)
		_ = c.Set(ctx, "marker", []byte("x"), time.Second)

		clock.advance(500 * time.Millisecond)
		if val, _ := c.Get(ctx, "marker"); val == nil {
			t.Error("expected value before expiry")
		}

		clock.advance(time.Second)
		if val, _ := c.Get(ctx, "marker"); val != nil {
			t.Error("expected nil after expiry")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expired entry should be dropped, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		c, _ := newClockedLRU(3)

		_ = c.Set(ctx, "a", []byte("1"), time.Minute)
		_ = c.Set(ctx, "b", []byte("2"), time.Minute)
		_ = c.Set(ctx, "c", []byte("3"), time.Minute)
		_, _ = c.Get(ctx, "a")
		_ = c.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := c.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := c.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to survive")
		}
		if size, capacity := c.Stats(); size != 3 || capacity != 3 {
			t.Errorf("unexpected stats %d/%d", size, capacity)
		}
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		c, clock := newClockedLRU(10)

		ok, err := c.SetIfAbsent(ctx, "lead:s-1", []byte("1"), time.Second)
		if err != nil || !ok {
			t.Fatalf("first SetIfAbsent = %v, %v", ok, err)
		}
		if ok, _ := c.SetIfAbsent(ctx, "lead:s-1", []byte("2"), time.Second); ok {
			t.Error("expected second SetIfAbsent to lose")
		}
		if val, _ := c.Get(ctx, "lead:s-1"); string(val) != "1" {
			t.Errorf("expected original value kept, got %q", val)
		}

		clock.advance(2 * time.Second)
		if ok, _ := c.SetIfAbsent(ctx, "lead:s-1", []byte("3"), time.Second); !ok {
			t.Error("expected expired key to be claimable")
		}
	})

	t.Run("SetIfAbsentConcurrent", func(t *testing.T) {
		c, _ := newClockedLRU(10)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := c.SetIfAbsent(ctx, "lead:race", []byte("x"), time.Minute); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 {
			t.Errorf("expected exactly one winner, got %d", wins.Load())
		}
	})

	t.Run("CounterWindow", func(t *testing.T) {
		c, clock := newClockedLRU(10)

		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, "throttle:s-1", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		other, _ := c.IncrementCounter(ctx, "throttle:s-2", time.Minute)
		if other != 1 {
			t.Errorf("counters must be independent, got %d", other)
		}

		clock.advance(61 * time.Second)
		if got, _ := c.IncrementCounter(ctx, "throttle:s-1", time.Minute); got != 1 {
			t.Errorf("expected window reset, got %d", got)
		}
	})

	t.Run("CounterSweep", func(t *testing.T) {
		c, clock := newClockedLRU(10)
		_, _ = c.IncrementCounter(ctx, "stale", time.Second)
		clock.advance(time.Minute)

		for i := 0; i < counterSweepEvery; i++ {
			_, _ = c.IncrementCounter(ctx, "busy", time.Hour)
		}
		if _, ok := c.counters["stale"]; ok {
			t.Error("expected stale counter to be swept")
		}
	})

	t.Run("Close", func(t *testing.T) {
		c, _ := newClockedLRU(10)
		_ = c.Set(ctx, "k", []byte("v"), time.Minute)

		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if val, _ := c.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client)
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, c := newMiniRedis(t)

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		if err := c.Set(ctx, "lead:s-1", []byte("12.5"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if !mr.Exists("kestrel:lead:s-1") {
			t.Error("expected key to be namespaced")
		}

		val, err := c.Get(ctx, "lead:s-1")
		if err != nil || string(val) != "12.5" {
			t.Fatalf("Get = %q, %v", val, err)
		}

		_ = c.Delete(ctx, "lead:s-1")
		if val, err := c.Get(ctx, "lead:s-1"); val != nil || err != nil {
			t.Errorf("expected clean miss, got %q, %v", val, err)
		}
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		ok, err := c.SetIfAbsent(ctx, "lead:s-2", []byte("1"), time.Hour)
		if err != nil || !ok {
			t.Fatalf("first SetIfAbsent = %v, %v", ok, err)
		}
		if ok, _ := c.SetIfAbsent(ctx, "lead:s-2", []byte("2"), time.Hour); ok {
			t.Error("expected second SetIfAbsent to lose")
		}
		if ttl := mr.TTL("kestrel:lead:s-2"); ttl <= 0 || ttl > time.Hour {
			t.Errorf("unexpected marker TTL %v", ttl)
		}

		_ = c.Delete(ctx, "lead:s-2")
		if ok, _ := c.SetIfAbsent(ctx, "lead:s-2", []byte("3"), time.Hour); !ok {
			t.Error("expected deleted key to be claimable")
		}
	})

	t.Run("CounterWindow", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, "throttle:s-1", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		if ttl := mr.TTL("kestrel:counter:throttle:s-1"); ttl <= 0 || ttl > time.Minute {
			t.Errorf("unexpected counter TTL %v", ttl)
		}

		mr.FastForward(2 * time.Minute)
		if got, _ := c.IncrementCounter(ctx, "throttle:s-1", time.Minute); got != 1 {
			t.Errorf("expected window reset, got %d", got)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	mr, remote := newMiniRedis(t)
	local := NewLRUCache(10)
	c := NewTwoPhaseCache(local, remote, time.Minute)

	if err := c.Set(ctx, "lead:s-9", []byte("1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if val, _ := local.Get(ctx, "lead:s-9"); val == nil {
		t.Error("expected value in L1")
	}

	_ = local.Delete(ctx, "lead:s-9")
	val, err := c.Get(ctx, "lead:s-9")
	if err != nil || string(val) != "1" {
		t.Fatalf("expected L2 hit, got %q, %v", val, err)
	}
	if val, _ := local.Get(ctx, "lead:s-9"); val == nil {
		t.Error("expected L1 repopulated from L2")
	}

	if err := c.Delete(ctx, "lead:s-9"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if mr.Exists("kestrel:lead:s-9") {
		t.Error("expected key removed from L2")
	}

	t.Run("SetIfAbsentSharedAcrossNodes", func(t *testing.T) {
		other := NewTwoPhaseCache(NewLRUCache(10), remote, time.Minute)

		if ok, err := c.SetIfAbsent(ctx, "lead:s-7", []byte("1"), time.Hour); err != nil || !ok {
			t.Fatalf("first node SetIfAbsent = %v, %v", ok, err)
		}
		if ok, _ := other.SetIfAbsent(ctx, "lead:s-7", []byte("1"), time.Hour); ok {
			t.Error("second node must not claim a held marker")
		}

		// A Get on the second node warms its L1; the first node's delete
		// must still let the second claim again.
		_, _ = other.Get(ctx, "lead:s-7")
		_ = c.Delete(ctx, "lead:s-7")
		if ok, _ := other.SetIfAbsent(ctx, "lead:s-7", []byte("2"), time.Hour); !ok {
			t.Error("expected marker claimable after delete on another node")
		}
	})

	n, _ := c.IncrementCounter(ctx, "throttle:x", time.Minute)
	if n != 1 || !mr.Exists("kestrel:counter:throttle:x") {
		t.Error("expected counters to live in L2")
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisTwoPhase", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*TwoPhaseCache); !ok {
			t.Error("expected TwoPhaseCache")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
