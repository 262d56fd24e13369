package config

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
)

// Validate checks a defaulted configuration for internal consistency.
func Validate(cfg *Config) error {
	v := configurationValidator{config: cfg}
	return v.validate()
}

type configurationValidator struct {
	config *Config
	issues []string
}

func (cv *configurationValidator) validate() error {
	cv.validateQueue()
	cv.validatePoller()
	cv.validateValidation()
	cv.validateBreaker("provider", cv.config.Breakers.Provider)
	cv.validateBreaker("storage", cv.config.Breakers.Storage)
	cv.validateRetry()
	if len(cv.issues) == 0 {
		return nil
	}
	return foundationerrors.ConfigError("invalid configuration: "+strings.Join(cv.issues, "; ")).
		WithContext("issues", cv.issues).
		Build()
}

func (cv *configurationValidator) addf(format string, args ...any) {
	cv.issues = append(cv.issues, fmt.Sprintf(format, args...))
}

func (cv *configurationValidator) validateQueue() {
	q := cv.config.Queue
	if q.FailedRetention < q.CompletedRetention {
		cv.addf("queue.failed_retention (%s) must not be shorter than queue.completed_retention (%s)", q.FailedRetention, q.CompletedRetention)
	}
	if q.BackoffBase < 0 || q.JobTimeout < 0 {
		cv.addf("queue durations must be positive")
	}
}

func (cv *configurationValidator) validatePoller() {
	p := cv.config.Poller
	if p.MinInterval <= 0 || p.MaxInterval < p.MinInterval {
		cv.addf("poller interval range [%s, %s] is invalid", p.MinInterval, p.MaxInterval)
	}
	if p.MaxDuration < p.MaxInterval {
		cv.addf("poller.max_duration (%s) must be at least poller.max_interval", p.MaxDuration)
	}
}

func (cv *configurationValidator) validateValidation() {
	v := cv.config.Validation
	if !IsValidTier(v.Tier) {
		cv.addf("validation.tier %q must be one of fast, standard, full", v.Tier)
	}
	for stage, line := range v.Commands {
		args, err := shellquote.Split(line)
		if err != nil {
			cv.addf("validation.commands.%s: %v", stage, err)
			continue
		}
		if len(args) == 0 {
			cv.addf("validation.commands.%s is empty", stage)
		}
	}
}

func (cv *configurationValidator) validateBreaker(name string, b BreakerConfig) {
	if b.ResetTimeout <= 0 || b.CallTimeout <= 0 {
		cv.addf("breakers.%s timeouts must be positive", name)
	}
}

func (cv *configurationValidator) validateRetry() {
	r := cv.config.Retry
	if !r.Backoff.Valid() {
		cv.addf("retry.backoff %q must be one of fixed, linear, exponential", r.Backoff)
	}
	if r.MaxDelay < r.InitialDelay {
		cv.addf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", r.MaxDelay, r.InitialDelay)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		cv.addf("retry.jitter must be in [0, 1)")
	}
	if r.Multiplier < 1 {
		cv.addf("retry.multiplier must be >= 1")
	}
}

// IsValidTier reports whether tier names a known validation tier.
func IsValidTier(tier string) bool {
	switch tier {
	case TierFast, TierStandard, TierFull:
		return true
	}
	return false
}
