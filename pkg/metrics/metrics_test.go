package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/pkg/cache"
	"github.com/Sternrassler/shopify-export/pkg/client"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
	"github.com/Sternrassler/shopify-export/pkg/ratelimit"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

// TestNamesRegistered exercises every package once so the vectors carry a
// series, then checks each documented family is gathered.
func TestNamesRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Shopify-Shop-Api-Call-Limit", "39/40")
		if r.URL.Query().Get("since_id") == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"products":[]}`))
	}))
	defer srv.Close()

	tracker := ratelimit.NewTracker(nil, "metrics.myshopify.com", zerolog.Nop())
	tracker.SetSleeper(func(context.Context, time.Duration) error { return nil })

	cfg := client.DefaultConfig("metrics.myshopify.com", "t")
	cfg.BaseURL = srv.URL
	c, err := client.New(cfg, tracker, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	c.SetSleeper(func(context.Context, time.Duration) error { return nil })

	fetcher := pagination.NewFetcher(c, pagination.DefaultConfig(), zerolog.Nop())
	fetcher.Collect(context.Background(), c.URL("products", nil), "products")
	fetcher.Collect(context.Background(), c.URL("products", map[string][]string{"since_id": {"1"}}), "products")

	// Two series for the labelled cache counter and the histogram.
	cache.CacheErrors.WithLabelValues("get").Add(0)
	cache.CacheEntryBytes.Observe(0)

	families, err := Gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	gathered := make(map[string]bool)
	for _, f := range families {
		gathered[f.GetName()] = true
	}

	for _, name := range Names {
		if !strings.HasPrefix(name, "shop_") {
			t.Errorf("metric %s lacks the shop_ prefix", name)
		}
		if !gathered[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
