package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
)

// EventHub fans lifecycle events out to Server-Sent Event streams, keyed by
// build id. It is a notify.Publisher so it can sit beside NATS in a Fanout.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan notify.Event
	closed      bool
	idle        time.Duration
}

var _ notify.Publisher = (*EventHub)(nil)

// NewEventHub creates a hub whose streams close after idle without events.
func NewEventHub(idle time.Duration) *EventHub {
	if idle <= 0 {
		idle = 60 * time.Second
	}
	return &EventHub{subscribers: make(map[string][]chan notify.Event), idle: idle}
}

// Subscribe returns a channel of the build's events and a function to unsubscribe.
func (h *EventHub) Subscribe(buildID string) (<-chan notify.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan notify.Event, 16)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subscribers[buildID] = append(h.subscribers[buildID], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subscribers[buildID]
			for i, sub := range subs {
				if sub == ch {
					h.subscribers[buildID] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
			if len(h.subscribers[buildID]) == 0 {
				delete(h.subscribers, buildID)
			}
		})
	}
}

// Publish delivers ev to the build's subscribers without blocking.
func (h *EventHub) Publish(_ context.Context, ev notify.Event) error {
	if ev.BuildID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers[ev.BuildID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("Event stream full, dropping event", logfields.BuildID(ev.BuildID), "event", ev.Type)
		}
	}
	return nil
}

// Close ends every open stream.
func (h *EventHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, id)
	}
	h.closed = true
	return nil
}

// SubscriberCount returns the number of open streams for a build.
func (h *EventHub) SubscriberCount(buildID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[buildID])
}

// Stream writes the build's events as SSE until the build is terminal, the
// client goes away or the stream is idle.
func (h *EventHub) Stream(w http.ResponseWriter, r *http.Request, b *models.Build) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, unsubscribe := h.Subscribe(b.ID)
	defer unsubscribe()

	writeSSE(w, notify.Event{Type: "connected", BuildID: b.ID, ProjectID: b.ProjectID, Status: string(b.Status), At: time.Now().UTC()})
	if b.Status.Terminal() {
		return
	}

	idle := time.NewTimer(h.idle)
	defer idle.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
			writeSSE(w, notify.Event{Type: "timeout", BuildID: b.ID, At: time.Now().UTC()})
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, ev)
			if models.BuildStatus(ev.Status).Terminal() {
				slog.Debug("Build event stream closed", logfields.BuildID(b.ID), "event", ev.Type)
				return
			}
			idle.Reset(h.idle)
		}
	}
}

func writeSSE(w http.ResponseWriter, ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal SSE event", logfields.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
