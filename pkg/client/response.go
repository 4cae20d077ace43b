package client

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Response is one decoded page. It is consumed immediately and never stored.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the JSON object; numbers are json.Number so record ids survive intact.
	Body map[string]any

	// URL is the request URL the page was read from.
	URL *url.URL
}

// ParseRetryAfter reads a Retry-After value in seconds (Shopify sends "2.0")
// or as an HTTP date. Returns 0 when absent or unparsable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
