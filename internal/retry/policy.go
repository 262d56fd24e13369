package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode        config.RetryBackoffMode // fixed|linear|exponential
	Initial     time.Duration           // base delay
	Max         time.Duration           // cap for growth
	Multiplier  float64                 // growth factor for exponential mode
	Jitter      float64                 // symmetric jitter fraction in [0,1)
	MaxAttempts int                     // total attempts including the first call
}

// DefaultPolicy returns the default policy (exponential x2, 1s initial, 30s cap, 10% jitter, 3 attempts).
func DefaultPolicy() Policy {
	return Policy{
		Mode:        config.RetryBackoffExponential,
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
		MaxAttempts: 3,
	}
}

// NewPolicy builds a policy from raw fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxAttempts int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	default:
		// unknown or empty -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the retry configuration section.
func FromConfig(cfg config.RetryConfig) Policy {
	p := NewPolicy(cfg.Backoff, cfg.InitialDelay, cfg.MaxDelay, cfg.MaxAttempts)
	return p.WithMultiplier(cfg.Multiplier).WithJitter(cfg.Jitter)
}

// WithMultiplier returns a copy with the exponential growth factor set. Values below 1 are ignored.
func (p Policy) WithMultiplier(m float64) Policy {
	if m >= 1 {
		p.Multiplier = m
	}
	return p
}

// WithJitter returns a copy with the jitter fraction set. Values outside [0,1) are ignored.
func (p Policy) WithJitter(j float64) Policy {
	if j >= 0 && j < 1 {
		p.Jitter = j
	}
	return p
}

// Delay returns the un-jittered backoff delay for the given retry number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d float64
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = float64(p.Initial)
	case config.RetryBackoffExponential:
		mult := p.Multiplier
		if mult < 1 {
			mult = 2
		}
		d = float64(p.Initial) * math.Pow(mult, float64(retryCount-1))
	default: // linear
		d = float64(retryCount) * float64(p.Initial)
	}
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// JitteredDelay applies symmetric jitter to Delay and caps the result at Max.
// The result lies in [Delay*(1-Jitter), min(Delay*(1+Jitter), Max)].
func (p Policy) JitteredDelay(retryCount int) time.Duration {
	return p.jitteredDelay(retryCount, rand.Float64)
}

func (p Policy) jitteredDelay(retryCount int, random func() float64) time.Duration {
	base := p.Delay(retryCount)
	if base <= 0 || p.Jitter <= 0 {
		return base
	}
	factor := 1 + p.Jitter*(2*random()-1)
	d := time.Duration(float64(base) * factor)
	if d > p.Max {
		return p.Max
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0,1)")
	}
	return nil
}
