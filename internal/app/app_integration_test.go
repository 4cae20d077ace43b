//go:build integration

package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/internal/testutil"
)

func TestNew_WithRedisCachesCollections(t *testing.T) {
	mock := testutil.NewMockShop()
	defer mock.Close()
	mock.SetListing("custom_collections", "custom_collections", []map[string]any{{"id": 1, "title": "Summer"}})
	mock.SetListing("smart_collections", "smart_collections", nil)

	cfg := testConfig(mock.URL())
	cfg.Cache.RedisURL = "redis://" + testutil.StartRedis(t)

	ctx := context.Background()
	a, err := New(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Cache == nil {
		t.Fatal("Cache is nil with a Redis URL")
	}
	if err := a.Cache.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := a.Catalog.FindCollection(ctx, "Summer"); err != nil {
			t.Fatalf("FindCollection() #%d error = %v", i, err)
		}
	}
	if got := mock.GetPathCount("custom_collections"); got != 2 {
		t.Errorf("custom_collections requests = %d, want 2 (one listing, served from cache after)", got)
	}
}
