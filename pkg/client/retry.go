package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	shopRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	shopRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shop_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
	}, []string{"error_class"})

	shopRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_retry_exhausted_total",
		Help: "Total number of times a page exhausted its retry budget by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the per-page retry budget.
type RetryConfig struct {
	// MaxAttempts is the maximum number of calls for one page, including the first.
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay, including one stretched by Retry-After.
	// Zero means no cap.
	MaxBackoff time.Duration

	// BackoffMultiplier is the growth factor between delays.
	BackoffMultiplier float64

	// NoRetryStatuses fail immediately instead of consuming the budget.
	NoRetryStatuses []int
}

// DefaultRetryConfig returns the default retry configuration: three attempts
// with 1s and 2s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the budget is usable.
func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", r.MaxAttempts)
	}
	if r.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must not be negative (got %v)", r.InitialBackoff)
	}
	return nil
}

// Backoff returns the delay between attempt and attempt+1 (attempt is 0-indexed):
// InitialBackoff * BackoffMultiplier^attempt, capped at MaxBackoff.
func (r RetryConfig) Backoff(attempt int) time.Duration {
	mult := r.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(r.InitialBackoff) * math.Pow(mult, float64(attempt))
	if r.MaxBackoff > 0 && d > float64(r.MaxBackoff) {
		return r.MaxBackoff
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// delay is Backoff(attempt) stretched to the server's Retry-After hint, never
// beyond MaxBackoff.
func (r RetryConfig) delay(attempt int, err error) time.Duration {
	d := r.Backoff(attempt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
		if r.MaxBackoff > 0 && d > r.MaxBackoff {
			d = r.MaxBackoff
		}
	}
	return d
}

func (r RetryConfig) retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	for _, status := range r.NoRetryStatuses {
		if apiErr.StatusCode == status {
			return false
		}
	}
	return true
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs fn until it succeeds or the budget is spent.
// fn receives the 0-indexed attempt number.
func (c *Client) retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Int("attempt", attempt).
					Msg("Page read succeeded after retry")
			}
			return nil
		}

		lastErr = err
		class := classOf(err)

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		if !cfg.retryable(err) {
			return err
		}

		if attempt+1 >= cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt, err)

		shopRetriesTotal.WithLabelValues(string(class)).Inc()
		shopRetryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		c.logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("backoff", delay).
			Msg("Retrying page after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			c.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	class := classOf(lastErr)
	shopRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Error().
		Err(lastErr).
		Str("error_class", string(class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
