package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Settings{
		Name:             "provider",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		Now:              clock.Now,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not call the operation")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.NoError(t, b.Execute(ctx, succeed))
	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, fail)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen)

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	release := make(chan struct{})
	started := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	require.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "second concurrent trial must be rejected")
	close(release)
	require.NoError(t, <-trialDone)
	assert.Equal(t, StateHalfOpen, b.State(), "one success is below the success threshold")

	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresResultsFromBeforeTransition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- b.Execute(ctx, func(context.Context) error {
			close(slowStarted)
			<-slowRelease
			return nil
		})
	}()
	<-slowStarted

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())
	clock.Advance(31 * time.Second)

	trialRelease := make(chan struct{})
	trialStarted := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(ctx, func(context.Context) error {
			close(trialStarted)
			<-trialRelease
			return nil
		})
	}()
	<-trialStarted

	close(slowRelease)
	require.NoError(t, <-slowDone)

	require.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "trial is still in flight")
	assert.Equal(t, StateHalfOpen, b.State())

	close(trialRelease)
	require.NoError(t, <-trialDone)
	assert.Equal(t, StateHalfOpen, b.State(), "only the trial's success counts")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(30 * time.Second)

	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen)
}

func TestBreakerCallTimeout(t *testing.T) {
	b := New(Settings{Name: "storage", FailureThreshold: 1, CallTimeout: 20 * time.Millisecond})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, timeout.Timeout())
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := New(Settings{Name: "provider", FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerEvents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Settings{Name: "provider", FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Second, Now: clock.Now})
	ctx := context.Background()

	var mu sync.Mutex
	var events []EventType
	unsubscribe := b.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
		assert.Equal(t, "provider", ev.Breaker)
	})
	var panics atomic.Int32
	b.Subscribe(func(Event) {
		panics.Add(1)
		panic("observer failure")
	})

	_ = b.Execute(ctx, fail)    // failure + open
	_ = b.Execute(ctx, succeed) // rejected
	clock.Advance(time.Second)
	_ = b.Execute(ctx, succeed) // half-open + success + closed

	mu.Lock()
	assert.Equal(t, []EventType{
		EventFailure, EventStateChange,
		EventRejected,
		EventStateChange, EventSuccess, EventStateChange,
	}, events)
	mu.Unlock()
	assert.Equal(t, StateClosed, b.State(), "panicking observer must not affect behavior")
	assert.Positive(t, panics.Load())

	unsubscribe()
	_ = b.Execute(ctx, succeed)
	mu.Lock()
	assert.Len(t, events, 6)
	mu.Unlock()
}

type statusErr int

func (s statusErr) Error() string   { return "status" }
func (s statusErr) StatusCode() int { return int(s) }

func TestBreakerClientErrorsDoNotTrip(t *testing.T) {
	b := New(Settings{Name: "provider", FailureThreshold: 1})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, func(context.Context) error { return statusErr(404) }))
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Execute(ctx, func(context.Context) error { return statusErr(503) }))
	assert.Equal(t, StateOpen, b.State())
}
