// Package client provides the Shopify Admin REST API client with call-limit
// gating, per-page retry and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for Admin API requests.
var (
	shopRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_requests_total",
		Help: "Total Admin API requests by resource and status",
	}, []string{"resource", "status"})

	shopRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shop_request_duration_seconds",
		Help:    "Admin API request duration in seconds by resource",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"resource"})

	shopErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_errors_total",
		Help: "Total failed page reads by error class",
	}, []string{"class"})
)

// HeaderAccessToken carries the Admin API access token.
const HeaderAccessToken = "X-Shopify-Access-Token"

// maxErrorBody bounds how much of an error body ends up in APIError.Message.
const maxErrorBody = 512

// RateLimiter gates requests on the shop's call limit.
type RateLimiter interface {
	Wait(ctx context.Context) error
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Client is the Admin API client.
type Client struct {
	httpClient  *http.Client
	rateLimiter RateLimiter
	config      Config
	baseURL     *url.URL
	logger      zerolog.Logger
	sleep       Sleeper
}

// Config holds the client configuration.
type Config struct {
	// AccessToken is sent as X-Shopify-Access-Token.
	AccessToken string

	// StoreDomain is the shop host, e.g. "example.myshopify.com".
	StoreDomain string

	// APIVersion is the Admin API version path segment.
	APIVersion string

	// BaseURL overrides "https://" + StoreDomain (tests, proxies).
	BaseURL string

	// UserAgent header.
	UserAgent string

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// Retry is the default per-page retry budget.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(storeDomain, accessToken string) Config {
	return Config{
		AccessToken:    accessToken,
		StoreDomain:    storeDomain,
		APIVersion:     "2023-10",
		UserAgent:      "shopify-export/0.1.0",
		RequestTimeout: 30 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// New creates a new Admin API client. limiter may be nil.
func New(cfg Config, limiter RateLimiter, logger zerolog.Logger) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, ErrMissingToken
	}
	if cfg.StoreDomain == "" {
		return nil, ErrMissingDomain
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-10"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = "https://" + cfg.StoreDomain
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawBase)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		rateLimiter: limiter,
		config:      cfg,
		baseURL:     base,
		logger:      logger.With().Str("component", "shop-client").Logger(),
		sleep:       sleepContext,
	}, nil
}

// URL builds the listing/detail URL for an Admin API resource, e.g.
// URL("collections/42/products", url.Values{"limit": {"250"}}).
func (c *Client) URL(resource string, query url.Values) string {
	u := *c.baseURL
	u.Path = fmt.Sprintf("%s/admin/api/%s/%s.json", c.baseURL.Path, c.config.APIVersion, strings.Trim(resource, "/"))
	u.RawQuery = query.Encode()
	return u.String()
}

// StoreDomain returns the configured shop host.
func (c *Client) StoreDomain() string {
	return c.config.StoreDomain
}

// RetryConfig returns the default per-page retry budget.
func (c *Client) RetryConfig() RetryConfig {
	return c.config.Retry
}

// Do performs one HTTP request with the fixed header set and call-limit gating.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	resource := ResourceLabel(req.URL.Path)

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("call limit wait: %w", err)
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAccessToken, c.config.AccessToken)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	shopRequestDuration.WithLabelValues(resource).Observe(time.Since(startTime).Seconds())
	if err != nil {
		shopRequestsTotal.WithLabelValues(resource, "network_error").Inc()
		return nil, err
	}
	shopRequestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update call limit from headers")
		}
	}

	return resp, nil
}

// Get performs a GET request for an Admin API resource.
func (c *Client) Get(ctx context.Context, resource string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(resource, query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// GetPage reads one page of JSON with the given retry budget. The budget is
// per call: every page starts with the full number of attempts.
// When retry is the zero value the client's default budget applies.
func (c *Client) GetPage(ctx context.Context, rawURL string, retry RetryConfig) (*Response, error) {
	if retry.MaxAttempts == 0 {
		retry = c.config.Retry
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}

	var page *Response
	err := c.retryWithBackoff(ctx, retry, func(attempt int) error {
		c.logger.Debug().
			Str("url", rawURL).
			Int("attempt", attempt).
			Msg("Requesting page")

		resp, err := c.getOnce(ctx, rawURL)
		if err != nil {
			shopErrorsTotal.WithLabelValues(string(classOf(err))).Inc()
			return err
		}
		page = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// getOnce performs a single attempt under the per-request deadline.
func (c *Client) getOnce(ctx context.Context, rawURL string) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    errorMessage(resp.Status, body),
			URL:        rawURL,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Msg("Admin API request error")
		return nil, apiErr
	}

	decoded, err := decodeBody(body)
	if err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "response body is not a JSON object",
			URL:        rawURL,
			Err:        err,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       decoded,
		URL:        req.URL,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetSleeper replaces the backoff wait (for testing).
func (c *Client) SetSleeper(sleep Sleeper) {
	c.sleep = sleep
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ResourceLabel reduces an Admin API path to a low-cardinality metrics label:
// "/admin/api/2023-10/collections/42/products.json" -> "collections/products".
func ResourceLabel(path string) string {
	path = strings.TrimSuffix(path, ".json")
	if _, rest, ok := strings.Cut(path, "/admin/api/"); ok {
		if _, after, ok := strings.Cut(rest, "/"); ok {
			path = after
		}
	}

	var parts []string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "root"
	}
	return strings.Join(parts, "/")
}

func errorMessage(status string, body []byte) string {
	text := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return status
	}
	return status + " - " + text
}

func decodeBody(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("null body")
	}
	return out, nil
}
