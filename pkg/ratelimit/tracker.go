package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for call-limit tracking.
var (
	shopCallLimitUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shop_call_limit_used",
		Help: "Calls in the shop's leaky bucket as of the last response",
	}, []string{"shop"})

	shopCallLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_call_limit_throttles_total",
		Help: "Total number of requests delayed because few calls remained",
	})

	shopCallLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_call_limit_waits_total",
		Help: "Total number of requests held until the bucket drained",
	})
)

const (
	// ThrottleDelay is the pause applied in the warning band.
	ThrottleDelay = 1 * time.Second

	// StaleAfter is the age after which a reading no longer gates requests.
	StaleAfter = 30 * time.Second
)

// Tracker monitors a shop's call limit and gates requests.
type Tracker struct {
	store  StateStore
	shop   string
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a call-limit tracker for one shop.
func NewTracker(store StateStore, shop string, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		shop:   shop,
		logger: logger.With().Str("shop", shop).Logger(),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetSleeper replaces the wait function (for testing).
func (t *Tracker) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	t.sleep = sleep
}

// SetClock replaces the time source (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// GetState retrieves the current call-limit state.
// Returns a default healthy state if nothing has been recorded.
func (t *Tracker) GetState(ctx context.Context) (*CallLimitState, error) {
	state, err := t.store.Load(ctx, t.shop)
	if err != nil {
		return nil, fmt.Errorf("load call limit state: %w", err)
	}
	if state == nil {
		t.logger.Debug().Msg("No call limit state recorded, assuming empty bucket")
		return DefaultState(t.now()), nil
	}
	return state, nil
}

// UpdateFromHeaders parses the call-limit header and stores the new state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	value := headers.Get(HeaderCallLimit)
	if value == "" {
		// Not every endpoint reports the bucket.
		return nil
	}

	used, limit, err := ParseCallLimit(value)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderCallLimit, err)
	}

	state := &CallLimitState{
		Used:       used,
		Limit:      limit,
		LastUpdate: t.now(),
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, t.shop, state); err != nil {
		return err
	}

	shopCallLimitUsed.WithLabelValues(t.shop).Set(float64(used))

	if state.IsHealthy {
		t.logger.Debug().
			Int("used", used).
			Int("limit", limit).
			Msg("Call limit state updated")
	} else {
		t.logger.Warn().
			Int("used", used).
			Int("limit", limit).
			Msg("Call limit nearly exhausted")
	}

	return nil
}

// Wait blocks until a request may be sent without overflowing the bucket.
// It returns early with the context error if ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get call limit state: %w", err)
	}

	now := t.now()
	if state.IsStale(now, StaleAfter) {
		return nil
	}

	if state.NeedsCriticalBlock(now) {
		wait := state.TimeUntilDrained(now)
		t.logger.Warn().
			Int("remaining", state.EffectiveRemaining(now)).
			Dur("wait_duration", wait).
			Msg("Call limit critical - waiting for bucket to drain")

		shopCallLimitWaitsTotal.Inc()
		return t.sleep(ctx, wait)
	}

	if state.NeedsThrottling(now) {
		t.logger.Debug().
			Int("remaining", state.EffectiveRemaining(now)).
			Msg("Call limit warning - throttling request")

		shopCallLimitThrottlesTotal.Inc()
		return t.sleep(ctx, ThrottleDelay)
	}

	return nil
}

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
