package retry

import (
	"testing"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffExponential {
		t.Fatalf("expected exponential default mode got %s", p.Mode)
	}
	if p.Initial != time.Second {
		t.Fatalf("expected initial 1s got %v", p.Initial)
	}
	if p.Max != 30*time.Second {
		t.Fatalf("expected max 30s got %v", p.Max)
	}
	if p.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts got %d", p.MaxAttempts)
	}
	if p.Multiplier != 2 {
		t.Fatalf("expected multiplier 2 got %v", p.Multiplier)
	}
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Max != 2*time.Second {
		t.Fatalf("expected max 2s got %v", p.Max)
	}
	if p.Mode != config.RetryBackoffFixed {
		t.Fatalf("expected fixed mode got %s", p.Mode)
	}
	if p.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts got %d", p.MaxAttempts)
	}

	unknown := NewPolicy("random", 0, 0, 0)
	if unknown.Mode != config.RetryBackoffExponential {
		t.Fatalf("unknown mode should keep default, got %s", unknown.Mode)
	}
}

// TestDelayModes ensures fixed, linear, exponential behave and respect cap.
func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(config.RetryBackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 100*time.Millisecond {
			t.Fatalf("fixed attempt %d expected 100ms got %v", i, d)
		}
	}

	linear := NewPolicy(config.RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	cases := []struct {
		attempt int
		want    time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}, {4, 250 * time.Millisecond}}
	for _, c := range cases {
		if got := linear.Delay(c.attempt); got != c.want {
			t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}

	exp := NewPolicy(config.RetryBackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5)
	expCases := []struct {
		attempt int
		want    time.Duration
	}{{1, 50 * time.Millisecond}, {2, 100 * time.Millisecond}, {3, 160 * time.Millisecond}, {4, 160 * time.Millisecond}}
	for _, c := range expCases {
		if got := exp.Delay(c.attempt); got != c.want {
			t.Fatalf("exp attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}

	triple := exp.WithMultiplier(3)
	if got := triple.Delay(2); got != 150*time.Millisecond {
		t.Fatalf("x3 second retry expected 150ms got %v", got)
	}
}

// TestJitterBounds checks the jittered delay stays within ±fraction and never exceeds the cap.
func TestJitterBounds(t *testing.T) {
	p := NewPolicy(config.RetryBackoffExponential, 100*time.Millisecond, 350*time.Millisecond, 5).WithJitter(0.2)

	if d := p.jitteredDelay(1, func() float64 { return 0 }); d != 80*time.Millisecond {
		t.Fatalf("low jitter expected 80ms got %v", d)
	}
	if d := p.jitteredDelay(1, func() float64 { return 1 }); d != 120*time.Millisecond {
		t.Fatalf("high jitter expected 120ms got %v", d)
	}
	// 400ms base is capped to 350ms before jitter; the upper bound is capped again.
	if d := p.jitteredDelay(3, func() float64 { return 1 }); d != 350*time.Millisecond {
		t.Fatalf("capped jitter expected 350ms got %v", d)
	}

	for attempt := 1; attempt <= 4; attempt++ {
		base := p.Delay(attempt)
		low := time.Duration(float64(base) * 0.8)
		for i := 0; i < 200; i++ {
			d := p.JitteredDelay(attempt)
			if d < low || d > p.Max {
				t.Fatalf("attempt %d delay %v outside [%v, %v]", attempt, d, low, p.Max)
			}
		}
	}
}

// TestDelayEdgeCases ensures non-positive attempts yield zero.
func TestDelayEdgeCases(t *testing.T) {
	p := NewPolicy(config.RetryBackoffLinear, 10*time.Millisecond, 20*time.Millisecond, 1)
	if d := p.Delay(0); d != 0 {
		t.Fatalf("attempt 0 expected 0 got %v", d)
	}
	if d := p.Delay(-1); d != 0 {
		t.Fatalf("attempt -1 expected 0 got %v", d)
	}
	if d := p.JitteredDelay(0); d != 0 {
		t.Fatalf("jittered attempt 0 expected 0 got %v", d)
	}
}

// TestValidate covers invalid policies.
func TestValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if err := (Policy{Initial: 0, Max: time.Second, MaxAttempts: 1}).Validate(); err == nil {
		t.Fatalf("expected error for zero initial")
	}
	if err := (Policy{Initial: time.Second, Max: time.Second, MaxAttempts: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
	if err := (Policy{Initial: time.Second, Max: time.Second, MaxAttempts: 1, Jitter: 1}).Validate(); err == nil {
		t.Fatalf("expected error for jitter 1")
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{Backoff: config.RetryBackoffLinear, MaxAttempts: 4, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 3, Jitter: 0.5})
	if p.Mode != config.RetryBackoffLinear || p.MaxAttempts != 4 || p.Multiplier != 3 || p.Jitter != 0.5 {
		t.Fatalf("unexpected policy %+v", p)
	}
}
