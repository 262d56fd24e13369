// Package workers tracks service-owned goroutines behind a shutdown boundary.
package workers

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Group runs goroutines until StopAndWait closes it. Once stopping, Go
// refuses new work, so the wait cannot race with late starts. A panicking
// goroutine is logged and counted as finished.
type Group struct {
	// Name labels panic logs.
	Name string

	mu       sync.Mutex
	running  int
	stopping bool
	idle     chan struct{}
}

// Go starts fn unless the group is stopping. It reports whether fn was started.
func (g *Group) Go(fn func()) bool {
	if fn == nil {
		return false
	}
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		return false
	}
	g.running++
	g.mu.Unlock()

	go func() {
		defer g.finish()
		defer g.recoverPanic()
		fn()
	}()
	return true
}

// Running returns the number of goroutines that have not returned yet.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Stopping reports whether StopAndWait has been called.
func (g *Group) Stopping() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopping
}

// StopAndWait refuses new goroutines and waits for the running ones, bounded
// by ctx. It may be called repeatedly.
func (g *Group) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	if g.running == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Group) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running--
	if g.running == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

func (g *Group) recoverPanic() {
	if r := recover(); r != nil {
		slog.Error("Worker panicked", "group", g.Name, "panic", r, "stack", string(debug.Stack()))
	}
}
