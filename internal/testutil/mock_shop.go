// Package testutil provides a mock Admin API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"
)

// APIVersion is the version segment the mock serves under.
const APIVersion = "2023-10"

// MockShopResponse defines the behavior for a mock endpoint response.
type MockShopResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockShop is a configurable mock Admin API server for testing.
type MockShop struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	PathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockShop creates a new mock Admin API server.
func NewMockShop() *MockShop {
	mock := &MockShop{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":"Not Found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockShop) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockShop) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockShop) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// Path returns the request path of an Admin API resource.
func Path(resource string) string {
	return fmt.Sprintf("/admin/api/%s/%s.json", APIVersion, resource)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockShop) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a resource.
func (m *MockShop) SetResponse(resource string, resp MockShopResponse) {
	m.SetHandler(Path(resource), func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence serves the responses in order, repeating the last one.
func (m *MockShop) SetSequence(resource string, responses ...MockShopResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(Path(resource), func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(next, len(responses)-1)]
		next++
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListing serves records under key, paged by since_id and limit the way
// the Admin API does. Records are served in ascending id order.
func (m *MockShop) SetListing(resource, key string, records []map[string]any) {
	sorted := append([]map[string]any(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return recordID(sorted[i]) < recordID(sorted[j]) })

	m.SetHandler(Path(resource), func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		sinceID, _ := strconv.ParseInt(q.Get("since_id"), 10, 64)

		page := []map[string]any{}
		for _, rec := range sorted {
			if recordID(rec) > sinceID && len(page) < limit {
				page = append(page, rec)
			}
		}

		writeJSON(w, map[string]any{key: page})
	})
}

// SetRecord serves a single-object resource such as products/{id}.
func (m *MockShop) SetRecord(resource, key string, record map[string]any) {
	m.SetHandler(Path(resource), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{key: record})
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockShop) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made for a resource.
func (m *MockShop) GetPathCount(resource string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[Path(resource)]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockShop) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Shopify-Shop-Api-Call-Limit", "1/40")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func recordID(rec map[string]any) int64 {
	switch id := rec["id"].(type) {
	case int:
		return int64(id)
	case int64:
		return id
	case float64:
		return int64(id)
	case json.Number:
		n, _ := id.Int64()
		return n
	}
	return 0
}

// NewHealthyResponse creates a standard 200 OK response with call-limit headers.
func NewHealthyResponse(data string) MockShopResponse {
	return MockShopResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-Shopify-Shop-Api-Call-Limit": "1/40",
			"Content-Type":                  "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockShopResponse {
	return MockShopResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":"Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service."}`,
		Headers: map[string]string{
			"X-Shopify-Shop-Api-Call-Limit": "40/40",
			"Retry-After":                   retryAfter,
			"Content-Type":                  "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockShopResponse {
	return MockShopResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":"Internal Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockShopResponse {
	return MockShopResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"errors":"Not Found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
