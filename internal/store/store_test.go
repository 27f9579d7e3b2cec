package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// testStores returns the drivers under test: memory always, redis when
// HRVOICE_TEST_REDIS_ADDR is set.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemory()}

	addr := os.Getenv("HRVOICE_TEST_REDIS_ADDR")
	if addr == "" {
		return stores
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := fmt.Sprintf("hrvoice-test-%d:", time.Now().UnixNano())
	rs := NewRedis(client, prefix)
	if err := rs.Ping(context.Background()); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	stores["redis"] = rs
	return stores
}

func TestNew(t *testing.T) {
	if _, err := New(TypeMemory); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := New(""); err != nil {
		t.Fatalf("empty type: %v", err)
	}
	if _, err := New(TypeRedis); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("redis without client: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New("etcd"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("unknown type: err = %v, want ErrInvalidType", err)
	}
}

func TestUpdateWindow(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reset := time.UnixMilli(time.Now().Add(time.Minute).UnixMilli())

			err := s.UpdateWindow(ctx, "u1", time.Minute, func(cur Window, found bool) (Window, bool) {
				if found {
					t.Errorf("first call: found = true, want false")
				}
				return Window{Count: 1, ResetTime: reset}, true
			})
			if err != nil {
				t.Fatalf("UpdateWindow: %v", err)
			}

			var seen Window
			err = s.UpdateWindow(ctx, "u1", time.Minute, func(cur Window, found bool) (Window, bool) {
				if !found {
					t.Errorf("second call: found = false, want true")
				}
				seen = cur
				return cur, false
			})
			if err != nil {
				t.Fatalf("UpdateWindow: %v", err)
			}
			if seen.Count != 1 || !seen.ResetTime.Equal(reset) {
				t.Errorf("stored window = %+v, want count 1 reset %v", seen, reset)
			}

			// Other keys are independent.
			_ = s.UpdateWindow(ctx, "u2", time.Minute, func(_ Window, found bool) (Window, bool) {
				if found {
					t.Errorf("u2: found = true, want false")
				}
				return Window{}, false
			})
		})
	}
}

func TestPutGet(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.UnixMilli(time.Now().UnixMilli())

			if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v err %v, want miss", ok, err)
			}
			if _, err := s.Put(ctx, "k", Entry{Data: []byte("v"), Timestamp: ts}, 10); err != nil {
				t.Fatalf("Put: %v", err)
			}
			e, ok, err := s.Get(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Get(k) = ok %v err %v", ok, err)
			}
			if string(e.Data) != "v" || !e.Timestamp.Equal(ts) {
				t.Errorf("entry = %q @ %v, want v @ %v", e.Data, e.Timestamp, ts)
			}
		})
	}
}

func TestPut_EvictsOldest(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.UnixMilli(time.Now().UnixMilli())
			const maxEntries = 5

			// Insert out of order so map iteration order cannot fake the result.
			order := []int{3, 0, 4, 1, 2}
			for _, i := range order {
				key := fmt.Sprintf("k%d", i)
				if _, err := s.Put(ctx, key, Entry{Data: []byte(key), Timestamp: base.Add(time.Duration(i) * time.Second)}, maxEntries); err != nil {
					t.Fatalf("Put(%s): %v", key, err)
				}
			}

			evicted, err := s.Put(ctx, "new", Entry{Data: []byte("new"), Timestamp: base.Add(time.Hour)}, maxEntries)
			if err != nil {
				t.Fatalf("Put(new): %v", err)
			}
			if evicted != "k0" {
				t.Errorf("evicted = %q, want k0", evicted)
			}
			if n, _ := s.Len(ctx); n != maxEntries {
				t.Errorf("Len = %d, want %d", n, maxEntries)
			}
			if _, ok, _ := s.Get(ctx, "k0"); ok {
				t.Error("k0 still present after eviction")
			}
			if _, ok, _ := s.Get(ctx, "k1"); !ok {
				t.Error("k1 evicted, want only the oldest removed")
			}
		})
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.Put(ctx, "k", Entry{Data: []byte("abc"), Timestamp: time.Now()}, 0)

	e, _, _ := m.Get(ctx, "k")
	e.Data[0] = 'X'

	again, _, _ := m.Get(ctx, "k")
	if string(again.Data) != "abc" {
		t.Errorf("stored data mutated through returned copy: %q", again.Data)
	}
}
