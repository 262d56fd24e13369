package queue

import (
	"log/slog"
	"time"
)

// Sweep drops completed and failed jobs older than their retention window.
// Dropped ids can be enqueued again.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	now := q.now()
	removed := 0
	for id, j := range q.jobs {
		if j.FinishedAt == nil {
			continue
		}
		var keep time.Duration
		switch j.State {
		case StateCompleted:
			keep = q.settings.CompletedRetention
		case StateFailed:
			keep = q.settings.FailedRetention
		default:
			continue
		}
		if now.Sub(*j.FinishedAt) >= keep {
			delete(q.jobs, id)
			removed++
		}
	}
	stats := q.statsLocked()
	q.mu.Unlock()

	q.publishStats(stats)
	if removed > 0 {
		slog.Info("Swept retained jobs", slog.Int("removed", removed))
	}
	return removed
}

// Scheduler is the subset of the maintenance scheduler the queue needs.
type Scheduler interface {
	ScheduleEvery(name string, interval time.Duration, task func()) (string, error)
}

// ScheduleSweep registers the retention sweep on s.
func (q *Queue) ScheduleSweep(s Scheduler, every time.Duration) error {
	if every <= 0 {
		every = 10 * time.Minute
	}
	_, err := s.ScheduleEvery("queue-retention-sweep", every, func() { q.Sweep() })
	return err
}
