// Package breaker implements a circuit breaker with observable state transitions.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
)

// State is the breaker's admission state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the operation while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// TimeoutError reports that a call exceeded the breaker's call timeout.
type TimeoutError struct {
	Breaker string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %s: call timed out after %s", e.Breaker, e.After)
}

// Timeout marks the error as a timeout for retry predicates.
func (e *TimeoutError) Timeout() bool { return true }

// Settings configures a Breaker.
type Settings struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // consecutive half-open successes that close it
	ResetTimeout     time.Duration // time spent open before a trial call is admitted
	CallTimeout      time.Duration // per-call deadline; <= 0 disables

	// IsFailure decides whether an error counts against the breaker.
	IsFailure func(error) bool

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Breaker guards calls to one external dependency. Instances are constructed
// explicitly and injected; there is no shared registry.
type Breaker struct {
	settings Settings

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	trialInFlight bool
	// generation changes on every state transition. Results of calls
	// admitted under an older generation do not count.
	generation uint64

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsID int
}

// New creates a closed breaker, filling unset thresholds with defaults (5, 2, 30s).
func New(s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = defaultIsFailure
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{settings: s, observers: make(map[int]Observer)}
}

// FromConfig creates a breaker from a config section.
func FromConfig(name string, cfg config.BreakerConfig) *Breaker {
	return New(Settings{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		CallTimeout:      cfg.CallTimeout,
	})
}

// defaultIsFailure counts everything except caller cancellation and client-side
// HTTP errors (4xx other than 408 and 429), which say nothing about dependency health.
func defaultIsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		code := status.StatusCode()
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return false
		}
	}
	return true
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.settings.Name }

// State returns the current state, accounting for an elapsed reset timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn if the breaker admits the call. While open, or while a
// half-open trial is already in flight, it returns ErrOpen without calling fn.
// A call that outlives CallTimeout yields *TimeoutError and counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	start := b.settings.Now()
	err = b.call(ctx, fn)
	elapsed := b.settings.Now().Sub(start)

	var timeout *TimeoutError
	switch {
	case err == nil:
		b.onSuccess(gen, elapsed)
	case errors.As(err, &timeout):
		b.emit(Event{Type: EventTimeout, Err: err, Duration: elapsed})
		b.onFailure(gen, err, elapsed)
	case b.settings.IsFailure(err):
		b.onFailure(gen, err, elapsed)
	default:
		// Not the dependency's fault; release a half-open trial without judging it.
		b.release(gen)
	}
	return err
}

func (b *Breaker) call(ctx context.Context, fn func(context.Context) error) error {
	if b.settings.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Breaker: b.settings.Name, After: b.settings.CallTimeout}
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Breaker: b.settings.Name, After: b.settings.CallTimeout}
	}
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	var transition *Event
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		transition = b.setStateLocked(StateHalfOpen)
	}
	rejected := b.state == StateOpen || (b.state == StateHalfOpen && b.trialInFlight)
	if !rejected && b.state == StateHalfOpen {
		b.trialInFlight = true
	}
	state, gen := b.state, b.generation
	b.mu.Unlock()

	if transition != nil {
		b.emit(*transition)
	}
	if rejected {
		b.emit(Event{Type: EventRejected, To: state})
		return 0, ErrOpen
	}
	return gen, nil
}

func (b *Breaker) onSuccess(gen uint64, elapsed time.Duration) {
	b.mu.Lock()
	var transition *Event
	switch {
	case gen != b.generation:
		// Admitted before the last transition; the current state owes it nothing.
	case b.state == StateHalfOpen:
		b.trialInFlight = false
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			transition = b.setStateLocked(StateClosed)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()

	b.emit(Event{Type: EventSuccess, Duration: elapsed})
	if transition != nil {
		b.emit(*transition)
	}
}

func (b *Breaker) onFailure(gen uint64, err error, elapsed time.Duration) {
	b.mu.Lock()
	var transition *Event
	switch {
	case gen != b.generation:
	case b.state == StateHalfOpen:
		b.trialInFlight = false
		transition = b.setStateLocked(StateOpen)
	case b.state == StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			transition = b.setStateLocked(StateOpen)
		}
	}
	b.mu.Unlock()

	b.emit(Event{Type: EventFailure, Err: err, Duration: elapsed})
	if transition != nil {
		b.emit(*transition)
	}
}

func (b *Breaker) release(gen uint64) {
	b.mu.Lock()
	if gen == b.generation {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

// setStateLocked moves to next and resets counters. Caller holds b.mu.
func (b *Breaker) setStateLocked(next State) *Event {
	prev := b.state
	b.state = next
	b.generation++
	b.failures = 0
	b.successes = 0
	b.trialInFlight = false
	if next == StateOpen {
		b.openedAt = b.settings.Now()
	}
	level := slog.LevelInfo
	if next == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Circuit breaker state changed",
		logfields.Dependency(b.settings.Name),
		slog.String("from", prev.String()),
		slog.String("to", next.String()))
	return &Event{Type: EventStateChange, From: prev, To: next}
}
