// Package retry runs operations with bounded, jittered backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
)

// ErrAborted is returned when the context is cancelled while waiting between attempts.
var ErrAborted = errors.New("retry aborted")

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Predicate decides whether an error is worth another attempt.
type Predicate func(error) bool

// Option customises a Do call.
type Option func(*options)

type options struct {
	retryable Predicate
	onRetry   func(attempt int, delay time.Duration, err error)
	name      string
}

// WithPredicate replaces DefaultRetryable.
func WithPredicate(p Predicate) Option {
	return func(o *options) { o.retryable = p }
}

// WithOnRetry registers a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithName labels debug log lines for the operation.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy's
// attempts are used up. Non-retryable errors are returned unchanged. Exhaustion
// yields *ExhaustedError. Cancellation during a wait yields an error wrapping
// ErrAborted and the context error.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, opts ...Option) error {
	o := options{retryable: DefaultRetryable}
	for _, opt := range opts {
		opt(&o)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !o.retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		delay := p.JitteredDelay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, last)
		}
		slog.Debug("Retrying operation",
			slog.String("operation", o.name),
			logfields.Attempt(attempt),
			slog.Duration("delay", delay),
			logfields.Error(last))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// DefaultRetryable treats timeouts, network errors, 5xx and 429 responses and
// retryable classified errors as transient. Context cancellation is never retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		code := status.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if classified, ok := foundationerrors.AsClassified(err); ok {
		return classified.IsTransient()
	}
	return false
}
