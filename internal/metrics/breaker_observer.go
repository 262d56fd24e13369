package metrics

import "git.home.luguber.info/inful/shipwright/internal/breaker"

// ObserveBreaker subscribes rec to b's events and seeds the state gauge.
// The returned function unsubscribes.
func ObserveBreaker(b *breaker.Breaker, rec Recorder) func() {
	rec = OrNoop(rec)
	rec.SetBreakerState(b.Name(), int(b.State()))
	return b.Subscribe(func(ev breaker.Event) {
		rec.IncBreakerEvent(ev.Breaker, string(ev.Type))
		if ev.Type == breaker.EventStateChange {
			rec.SetBreakerState(ev.Breaker, int(ev.To))
		}
	})
}
