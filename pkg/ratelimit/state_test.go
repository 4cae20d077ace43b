package ratelimit

import (
	"testing"
	"time"
)

func TestParseCallLimit(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantUsed  int
		wantLimit int
		wantErr   bool
	}{
		{name: "typical", value: "32/40", wantUsed: 32, wantLimit: 40},
		{name: "empty bucket", value: "0/40", wantUsed: 0, wantLimit: 40},
		{name: "plus plan", value: "1/80", wantUsed: 1, wantLimit: 80},
		{name: "whitespace", value: " 5 / 40 ", wantUsed: 5, wantLimit: 40},
		{name: "missing slash", value: "32", wantErr: true},
		{name: "non numeric", value: "a/40", wantErr: true},
		{name: "zero limit", value: "1/0", wantErr: true},
		{name: "negative used", value: "-1/40", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, limit, err := ParseCallLimit(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCallLimit(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if used != tt.wantUsed || limit != tt.wantLimit {
				t.Errorf("ParseCallLimit(%q) = %d/%d, want %d/%d", tt.value, used, limit, tt.wantUsed, tt.wantLimit)
			}
		})
	}
}

func TestCallLimitState_Remaining(t *testing.T) {
	s := &CallLimitState{Used: 45, Limit: 40}
	if got := s.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0 for overfull bucket", got)
	}

	s = &CallLimitState{Used: 10, Limit: 40}
	if got := s.Remaining(); got != 30 {
		t.Errorf("Remaining() = %d, want 30", got)
	}
}

func TestCallLimitState_EffectiveRemaining(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &CallLimitState{Used: 40, Limit: 40, LastUpdate: base}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{name: "just observed", elapsed: 0, want: 0},
		{name: "one second", elapsed: time.Second, want: 2},
		{name: "five seconds", elapsed: 5 * time.Second, want: 10},
		{name: "fully drained", elapsed: time.Minute, want: 40},
		{name: "clock skew", elapsed: -time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.EffectiveRemaining(base.Add(tt.elapsed)); got != tt.want {
				t.Errorf("EffectiveRemaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCallLimitState_Gating(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name           string
		used           int
		expectBlock    bool
		expectThrottle bool
	}{
		{name: "empty bucket", used: 0},
		{name: "at warning threshold", used: 40 - CallsRemainingWarning},
		{name: "just below warning", used: 40 - CallsRemainingWarning + 1, expectThrottle: true},
		{name: "at critical threshold", used: 40 - CallsRemainingCritical, expectThrottle: true},
		{name: "just below critical", used: 40 - CallsRemainingCritical + 1, expectBlock: true},
		{name: "full", used: 40, expectBlock: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &CallLimitState{Used: tt.used, Limit: 40, LastUpdate: now}

			if got := s.NeedsCriticalBlock(now); got != tt.expectBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v (used=%d)", got, tt.expectBlock, tt.used)
			}
			if got := s.NeedsThrottling(now); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v (used=%d)", got, tt.expectThrottle, tt.used)
			}
		})
	}
}

func TestCallLimitState_TimeUntilDrained(t *testing.T) {
	now := time.Now()

	full := &CallLimitState{Used: 40, Limit: 40, LastUpdate: now}
	// 10 calls missing at 2 calls/s.
	if got := full.TimeUntilDrained(now); got != 5*time.Second {
		t.Errorf("TimeUntilDrained() = %v, want 5s", got)
	}

	// Two seconds later four calls have leaked.
	if got := full.TimeUntilDrained(now.Add(2 * time.Second)); got != 3*time.Second {
		t.Errorf("TimeUntilDrained() after 2s = %v, want 3s", got)
	}

	healthy := &CallLimitState{Used: 0, Limit: 40, LastUpdate: now}
	if got := healthy.TimeUntilDrained(now); got != 0 {
		t.Errorf("TimeUntilDrained() = %v, want 0 for healthy bucket", got)
	}
}

func TestCallLimitState_IsStale(t *testing.T) {
	now := time.Now()
	s := &CallLimitState{LastUpdate: now.Add(-time.Minute)}

	if !s.IsStale(now, 30*time.Second) {
		t.Error("IsStale() = false, want true for minute-old state")
	}
	if s.IsStale(now, 2*time.Minute) {
		t.Error("IsStale() = true, want false within max age")
	}
}

func TestCallLimitState_UpdateHealth(t *testing.T) {
	s := &CallLimitState{Used: 40 - CallsRemainingWarning, Limit: 40}
	s.UpdateHealth()
	if !s.IsHealthy {
		t.Error("IsHealthy = false at warning threshold, want true")
	}

	s.Used++
	s.UpdateHealth()
	if s.IsHealthy {
		t.Error("IsHealthy = true below warning threshold, want false")
	}
}

func TestDefaultState(t *testing.T) {
	s := DefaultState(time.Now())
	if s.Limit != DefaultBucketSize || s.Used != 0 || !s.IsHealthy {
		t.Errorf("DefaultState() = %+v, want empty healthy bucket of %d", s, DefaultBucketSize)
	}
}
