package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// sleepRecorder captures backoff durations instead of waiting.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
	err       error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
	return s.err
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

// newTestClient creates a client pointed at server with recorded sleeps.
func newTestClient(t *testing.T, serverURL string, limiter RateLimiter) (*Client, *sleepRecorder) {
	t.Helper()

	cfg := DefaultConfig("test-shop.myshopify.com", "shpat_test")
	cfg.BaseURL = serverURL

	c, err := New(cfg, limiter, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := &sleepRecorder{}
	c.SetSleeper(rec.sleep)
	return c, rec
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError error
		errorMsg    string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:        "missing token",
			mutate:      func(c *Config) { c.AccessToken = "" },
			expectError: ErrMissingToken,
		},
		{
			name:        "missing domain",
			mutate:      func(c *Config) { c.StoreDomain = "" },
			expectError: ErrMissingDomain,
		},
		{
			name:     "zero attempts",
			mutate:   func(c *Config) { c.Retry.MaxAttempts = 0 },
			errorMsg: "retry config: max_attempts must be >= 1 (got 0)",
		},
		{
			name:     "bad base url",
			mutate:   func(c *Config) { c.BaseURL = "not a url" },
			errorMsg: `invalid base url "not a url"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("test-shop.myshopify.com", "shpat_test")
			tt.mutate(&cfg)

			client, err := New(cfg, nil, zerolog.Nop())

			switch {
			case tt.expectError != nil:
				if !errors.Is(err, tt.expectError) {
					t.Errorf("New() error = %v, want %v", err, tt.expectError)
				}
			case tt.errorMsg != "":
				if err == nil || err.Error() != tt.errorMsg {
					t.Errorf("New() error = %v, want %q", err, tt.errorMsg)
				}
			default:
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("demo.myshopify.com", "token")

	if cfg.StoreDomain != "demo.myshopify.com" || cfg.AccessToken != "token" {
		t.Errorf("DefaultConfig() = %+v, credentials not set", cfg)
	}
	if cfg.APIVersion != "2023-10" {
		t.Errorf("APIVersion = %q, want 2023-10", cfg.APIVersion)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
}

func TestURL(t *testing.T) {
	cfg := DefaultConfig("demo.myshopify.com", "token")
	c, err := New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		resource string
		query    url.Values
		want     string
	}{
		{
			resource: "custom_collections",
			query:    url.Values{"limit": {"250"}},
			want:     "https://demo.myshopify.com/admin/api/2023-10/custom_collections.json?limit=250",
		},
		{
			resource: "/collections/42/products/",
			want:     "https://demo.myshopify.com/admin/api/2023-10/collections/42/products.json",
		},
		{
			resource: "products/7",
			want:     "https://demo.myshopify.com/admin/api/2023-10/products/7.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			if got := c.URL(tt.resource, tt.query); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDo_SetsHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	resp, err := c.Get(context.Background(), "products", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got.Get(HeaderAccessToken) != "shpat_test" {
		t.Errorf("%s = %q, want shpat_test", HeaderAccessToken, got.Get(HeaderAccessToken))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got.Get("Content-Type"))
	}
	if got.Get("User-Agent") == "" {
		t.Error("User-Agent not set")
	}
}

func TestGetPage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"products":[{"id":632910392,"title":"IPod Nano"}]}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	page, err := c.GetPage(context.Background(), c.URL("products", nil), RetryConfig{})
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", page.StatusCode)
	}

	products, ok := page.Body["products"].([]any)
	if !ok || len(products) != 1 {
		t.Fatalf("products = %#v, want one record", page.Body["products"])
	}
	id := products[0].(map[string]any)["id"]
	if n, ok := id.(json.Number); !ok || n.String() != "632910392" {
		t.Errorf("id = %#v, want json.Number 632910392", id)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("sleeps = %v, want none", rec.recorded())
	}
}

func TestGetPage_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"products":[]}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	if _, err := c.GetPage(context.Background(), c.URL("products", nil), DefaultRetryConfig()); err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	assertDurations(t, rec.recorded(), want)
}

func TestGetPage_RetryExhausted(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"errors":"boom"}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	retry := DefaultRetryConfig()
	retry.InitialBackoff = 2 * time.Second

	_, err := c.GetPage(context.Background(), c.URL("products", nil), retry)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("GetPage() error = %v, want ErrRetryExhausted", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not wrap *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("APIError = %+v, want 500/server", apiErr)
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	assertDurations(t, rec.recorded(), []time.Duration{2 * time.Second, 4 * time.Second})
}

func TestGetPage_NoRetryStatus(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errors":"Not Found"}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	retry := DefaultRetryConfig()
	retry.NoRetryStatuses = []int{http.StatusNotFound}

	_, err := c.GetPage(context.Background(), c.URL("products/1", nil), retry)
	if err == nil {
		t.Fatal("GetPage() error = nil, want 404")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("404 must not be reported as retry exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("sleeps = %v, want none", rec.recorded())
	}
}

func TestGetPage_RetryAfterStretchesBackoff(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "5.0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"products":[]}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	if _, err := c.GetPage(context.Background(), c.URL("products", nil), DefaultRetryConfig()); err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	assertDurations(t, rec.recorded(), []time.Duration{5 * time.Second})
}

func TestGetPage_RetryAfterCappedAtMaxBackoff(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"products":[]}`)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)

	if _, err := c.GetPage(context.Background(), c.URL("products", nil), DefaultRetryConfig()); err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	assertDurations(t, rec.recorded(), []time.Duration{30 * time.Second})
}

func TestGetPage_DecodeErrorIsRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `[1, 2, 3]`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	_, err := c.GetPage(context.Background(), c.URL("products", nil), RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassDecode {
		t.Fatalf("GetPage() error = %v, want decode APIError", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestGetPage_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, nil)
	rec.err = context.Canceled

	_, err := c.GetPage(context.Background(), c.URL("products", nil), DefaultRetryConfig())
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("GetPage() error = %v, want ErrContextCancelled", err)
	}
	if len(rec.recorded()) != 1 {
		t.Errorf("sleeps = %v, want exactly one interrupted backoff", rec.recorded())
	}
}

func TestGetPage_PerRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultConfig("test-shop.myshopify.com", "shpat_test")
	cfg.BaseURL = server.URL
	cfg.RequestTimeout = 50 * time.Millisecond

	c, err := New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetSleeper((&sleepRecorder{}).sleep)

	start := time.Now()
	_, err = c.GetPage(context.Background(), c.URL("products", nil), RetryConfig{MaxAttempts: 2})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("GetPage() error = %v, want ErrRetryExhausted after timeouts", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("GetPage() took %v, per-request deadline not applied", elapsed)
	}
}

type fakeLimiter struct {
	waits   int
	updates []http.Header
}

func (f *fakeLimiter) Wait(context.Context) error {
	f.waits++
	return nil
}

func (f *fakeLimiter) UpdateFromHeaders(_ context.Context, h http.Header) error {
	f.updates = append(f.updates, h)
	return nil
}

func TestGetPage_FeedsRateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Shopify-Shop-Api-Call-Limit", "7/40")
		io.WriteString(w, `{"products":[]}`)
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	c, _ := newTestClient(t, server.URL, limiter)

	if _, err := c.GetPage(context.Background(), c.URL("products", nil), RetryConfig{}); err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}

	if limiter.waits != 1 {
		t.Errorf("waits = %d, want 1", limiter.waits)
	}
	if len(limiter.updates) != 1 || limiter.updates[0].Get("X-Shopify-Shop-Api-Call-Limit") != "7/40" {
		t.Errorf("updates = %v, want the call-limit header", limiter.updates)
	}
}

func TestResourceLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/admin/api/2023-10/products.json", "products"},
		{"/admin/api/2023-10/collections/841564295/products.json", "collections/products"},
		{"/admin/api/2023-10/products/632910392.json", "products"},
		{"/admin/api/2023-10/custom_collections.json", "custom_collections"},
		{"/", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ResourceLabel(tt.path); got != tt.want {
				t.Errorf("ResourceLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"2.0", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{"soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func assertDurations(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
