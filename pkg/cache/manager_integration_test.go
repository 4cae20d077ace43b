//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/shopify-export/internal/testutil"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis returns a client for a fresh Redis container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testutil.StartRedis(t)})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Shop: "demo.myshopify.com", Resource: "collections"}
	entry := &Entry{
		Data:     []byte(`[{"id":1,"title":"Summer"}]`),
		Expires:  time.Now().Add(5 * time.Minute),
		CachedAt: time.Now(),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}

	ttl, err := manager.redis.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("redis TTL = %v, want within 5m", ttl)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), Key{Shop: "demo", Resource: "nonexistent"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_StaleEntryIsDeleted(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Shop: "demo", Resource: "collections"}
	stale := `{"data":[],"expires":"2000-01-01T00:00:00Z","cached_at":"2000-01-01T00:00:00Z"}`
	if err := client.Set(ctx, key.String(), stale, time.Minute).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for stale entry, got %v", err)
	}
	if n, _ := client.Exists(ctx, key.String()).Result(); n != 0 {
		t.Error("stale entry was not deleted")
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Shop: "demo", Resource: "broken"}
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Shop: "demo", Resource: "collections"}
	if err := manager.Store(ctx, key, []string{"a"}, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_StoreAndLoad(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Shop: "demo", Resource: "collections"}
	want := []map[string]any{{"id": float64(1), "title": "Summer"}, {"id": float64(2), "title": "Winter"}}

	if err := manager.Store(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	var got []map[string]any
	if err := manager.Load(ctx, key, &got); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 || got[1]["title"] != "Winter" || got[0]["id"] != float64(1) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}
