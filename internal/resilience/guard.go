// Package resilience composes retry and circuit breaking around calls to the
// build provider and artifact storage.
package resilience

import (
	"context"
	"errors"
	"sync"

	"git.home.luguber.info/inful/shipwright/internal/breaker"
	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/retry"
)

var (
	// ErrProviderUnavailable is returned when the provider breaker is open or retries are exhausted.
	ErrProviderUnavailable = foundationerrors.ProviderError("build provider unavailable").Build()
	// ErrStorageFailure is returned when the storage breaker is open or retries are exhausted.
	ErrStorageFailure = foundationerrors.StorageError("artifact storage failure").Build()
)

// Guard runs calls through retry around a circuit breaker.
type Guard struct {
	breaker *breaker.Breaker
	policy  retry.Policy
	failure *foundationerrors.ClassifiedError
}

// NewProviderGuard guards build provider calls.
func NewProviderGuard(b *breaker.Breaker, policy retry.Policy) *Guard {
	return &Guard{breaker: b, policy: policy, failure: ErrProviderUnavailable}
}

// NewStorageGuard guards artifact storage calls.
func NewStorageGuard(b *breaker.Breaker, policy retry.Policy) *Guard {
	return &Guard{breaker: b, policy: policy, failure: ErrStorageFailure}
}

// Breaker exposes the guarded breaker, e.g. for subscribing observers.
func (g *Guard) Breaker() *breaker.Breaker { return g.breaker }

// Do executes fn. An open breaker or exhausted retries are reported as the
// guard's unavailability error (matchable with errors.Is) wrapping the cause.
// Non-retryable errors and cancellation pass through unchanged.
func (g *Guard) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, fn)
	}, retry.WithName(op))
	if err == nil {
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.Is(err, breaker.ErrOpen) || errors.As(err, &exhausted) {
		return foundationerrors.WrapError(err, g.failure.Category(), g.failure.Message()).
			WithRetry(g.failure.RetryStrategy()).
			WithContext("operation", op).
			WithContext("dependency", g.breaker.Name()).
			Build()
	}
	return err
}

// Call is the value-returning form of Guard.Do.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	// A timed-out attempt may still finish in the background, hence the lock.
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		out = v
		mu.Unlock()
		return nil
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// IsUnavailable reports whether err is a provider or storage unavailability error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrStorageFailure)
}
