package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func runStoreTests(t *testing.T, newStore func(t *testing.T, prefix string) Store) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		s := newStore(t, "a:")
		value := []byte(`{"k":"v"}`)
		if err := s.Set(ctx, "k1", value, time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		value[0] = 'X'
		got, ok, err := s.Get(ctx, "k1")
		if err != nil || !ok || string(got) != `{"k":"v"}` {
			t.Fatalf("Get: %q %v %v", got, ok, err)
		}
		got[0] = 'Y'
		again, _, _ := s.Get(ctx, "k1")
		if string(again) != `{"k":"v"}` {
			t.Errorf("stored value aliased: %q", again)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t, "b:")
		if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
			t.Errorf("expected miss, got %v %v", ok, err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		s := newStore(t, "c:")
		if err := s.Set(ctx, "short", []byte("x"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if _, ok, _ := s.Get(ctx, "short"); ok {
			t.Error("zero ttl must not mean forever")
		}
	})

	t.Run("DelClearLen", func(t *testing.T) {
		s := newStore(t, "d:")
		other := newStore(t, "e:")
		for _, k := range []string{"1", "2", "3"} {
			_ = s.Set(ctx, k, []byte(k), time.Minute)
		}
		_ = other.Set(ctx, "keep", []byte("x"), time.Minute)

		if err := s.Del(ctx, "1"); err != nil {
			t.Fatalf("Del: %v", err)
		}
		if n, err := s.Len(ctx); err != nil || n != 2 {
			t.Fatalf("Len after Del: %d %v", n, err)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if n, _ := s.Len(ctx); n != 0 {
			t.Errorf("Len after Clear: %d", n)
		}
		if _, ok, _ := other.Get(ctx, "keep"); !ok {
			t.Error("Clear removed entries of another prefix")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T, prefix string) Store {
		return NewMemoryStore(prefix, time.Minute)
	})
}

func TestMemoryStoreSharedPrefixes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("", 0)
	_ = s.Set(ctx, "x", []byte("1"), time.Minute)
	_ = s.Set(ctx, "y", []byte("2"), time.Minute)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len after Clear: %d", n)
	}
}

func TestRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		_ = client.Close()
	})

	runStoreTests(t, func(t *testing.T, prefix string) Store {
		s, err := NewRedisStore(RedisConfig{Client: client, KeyPrefix: "mctest:" + prefix})
		if err != nil {
			t.Fatalf("NewRedisStore: %v", err)
		}
		return s
	})

	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Error("expected error without client")
	}
}

func TestRistrettoCache(t *testing.T) {
	c, err := NewRistrettoCache(1<<10, 1<<20, 64)
	if err != nil {
		t.Fatalf("NewRistrettoCache: %v", err)
	}
	defer c.Close()

	c.Set("k", "v", 1, time.Minute)
	c.Wait()
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get: %v %v", v, ok)
	}
	c.Del("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Del")
	}
}
