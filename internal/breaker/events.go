package breaker

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
)

// EventType names a breaker event.
type EventType string

const (
	EventStateChange EventType = "stateChange"
	EventSuccess     EventType = "success"
	EventFailure     EventType = "failure"
	EventTimeout     EventType = "timeout"
	EventRejected    EventType = "rejected"
)

// Event describes something that happened in a breaker. From/To are set for
// state changes; To carries the rejecting state for rejections.
type Event struct {
	Breaker  string
	Type     EventType
	From     State
	To       State
	Err      error
	Duration time.Duration
	At       time.Time
}

// Observer receives breaker events synchronously. Observers must not block.
type Observer func(Event)

// Subscribe registers an observer and returns a function that removes it.
// Observers cannot influence breaker behavior; a panicking observer is logged and skipped.
func (b *Breaker) Subscribe(o Observer) (unsubscribe func()) {
	b.obsMu.Lock()
	id := b.nextObsID
	b.nextObsID++
	b.observers[id] = o
	b.obsMu.Unlock()

	return func() {
		b.obsMu.Lock()
		delete(b.observers, id)
		b.obsMu.Unlock()
	}
}

func (b *Breaker) emit(ev Event) {
	ev.Breaker = b.settings.Name
	ev.At = b.settings.Now()

	b.obsMu.RLock()
	observers := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.obsMu.RUnlock()

	for _, o := range observers {
		notify(o, ev)
	}
}

func notify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Circuit breaker observer panicked",
				logfields.Dependency(ev.Breaker),
				slog.String("event", string(ev.Type)),
				slog.Any("panic", r))
		}
	}()
	o(ev)
}
