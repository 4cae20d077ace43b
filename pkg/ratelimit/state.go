// Package ratelimit implements Shopify call-limit tracking and request gating.
// It reads the X-Shopify-Shop-Api-Call-Limit header ("used/limit") after every
// response and slows the caller down before the leaky bucket overflows into 429s.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderCallLimit carries the bucket fill level as "used/limit".
const HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

// Bucket parameters of the REST Admin API.
const (
	// DefaultBucketSize is the bucket capacity of a standard plan.
	DefaultBucketSize = 40

	// LeakRate is the number of calls the bucket drains per second.
	LeakRate = 2.0
)

// Thresholds for gating decisions, in calls remaining.
const (
	// CallsRemainingCritical makes the tracker wait for the bucket to drain
	// when fewer calls than this remain.
	CallsRemainingCritical = 4

	// CallsRemainingWarning applies a short throttle when fewer calls than this remain.
	CallsRemainingWarning = 10
)

// CallLimitState is the last observed fill level of a shop's bucket.
type CallLimitState struct {
	// Used is the number of calls currently in the bucket.
	Used int `json:"used"`

	// Limit is the bucket capacity.
	Limit int `json:"limit"`

	// LastUpdate is when the header was observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when at least CallsRemainingWarning calls remain.
	IsHealthy bool `json:"is_healthy"`
}

// DefaultState is assumed until a response has been seen.
func DefaultState(now time.Time) *CallLimitState {
	s := &CallLimitState{
		Used:       0,
		Limit:      DefaultBucketSize,
		LastUpdate: now,
	}
	s.UpdateHealth()
	return s
}

// ParseCallLimit parses a "used/limit" header value.
func ParseCallLimit(value string) (used, limit int, err error) {
	usedStr, limitStr, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return 0, 0, fmt.Errorf("malformed call limit %q", value)
	}
	used, err = strconv.Atoi(strings.TrimSpace(usedStr))
	if err != nil {
		return 0, 0, fmt.Errorf("parse used calls %q: %w", usedStr, err)
	}
	limit, err = strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return 0, 0, fmt.Errorf("parse call limit %q: %w", limitStr, err)
	}
	if limit <= 0 || used < 0 {
		return 0, 0, fmt.Errorf("call limit out of range %q", value)
	}
	return used, limit, nil
}

// Remaining returns the calls left at LastUpdate.
func (s *CallLimitState) Remaining() int {
	if r := s.Limit - s.Used; r > 0 {
		return r
	}
	return 0
}

// EffectiveRemaining accounts for the bucket draining since LastUpdate.
func (s *CallLimitState) EffectiveRemaining(now time.Time) int {
	elapsed := now.Sub(s.LastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	r := s.Remaining() + int(elapsed*LeakRate)
	if r > s.Limit {
		return s.Limit
	}
	return r
}

// IsStale returns true if the state data is older than the given duration.
func (s *CallLimitState) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if the caller must wait for the bucket to drain.
func (s *CallLimitState) NeedsCriticalBlock(now time.Time) bool {
	return s.EffectiveRemaining(now) < CallsRemainingCritical
}

// NeedsThrottling returns true if the caller should slow down.
func (s *CallLimitState) NeedsThrottling(now time.Time) bool {
	return s.EffectiveRemaining(now) < CallsRemainingWarning && !s.NeedsCriticalBlock(now)
}

// TimeUntilDrained returns how long until CallsRemainingWarning calls are free.
// Returns 0 if that is already the case.
func (s *CallLimitState) TimeUntilDrained(now time.Time) time.Duration {
	target := CallsRemainingWarning
	if target > s.Limit {
		target = s.Limit
	}
	missing := target - s.EffectiveRemaining(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(float64(missing) / LeakRate * float64(time.Second))
}

// UpdateHealth updates the IsHealthy field based on the current fill level.
func (s *CallLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining() >= CallsRemainingWarning
}
