// Package notify publishes build and release lifecycle events to interested
// subscribers (dashboards, chat bots, CI hooks).
package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event types published by the orchestrator and the OTA release manager.
const (
	BuildQueued      = "build.queued"
	BuildStarted     = "build.building"
	BuildSucceeded   = "build.success"
	BuildFailed      = "build.failed"
	BuildCancelled   = "build.cancelled"
	ArtifactStored   = "build.artifact_stored"
	UpdatePublished  = "update.published"
	UpdatePromoted   = "update.promoted"
	UpdateRolledBack = "update.rolled_back"
)

// Event is a lifecycle notification.
type Event struct {
	Type      string            `json:"type"`
	BuildID   string            `json:"buildId,omitempty"`
	ProjectID string            `json:"projectId,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
	UpdateID  string            `json:"updateId,omitempty"`
	Status    string            `json:"status,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	At        time.Time         `json:"at"`
}

// Publisher delivers events. Publishing is best-effort: callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Memory records events in order; used by tests and the validate command.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

// OrNoop returns p, or Noop when p is nil.
func OrNoop(p Publisher) Publisher {
	if p == nil {
		return Noop{}
	}
	return p
}

// Fanout delivers every event to all publishers and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
