package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestScheduleRegistration(t *testing.T) {
	tests := []struct {
		name    string
		add     func(*Scheduler) (string, error)
		wantErr bool
	}{
		{"retention sweep every interval", func(s *Scheduler) (string, error) {
			return s.ScheduleEvery("queue-sweep", time.Minute, func() {})
		}, false},
		{"zero interval", func(s *Scheduler) (string, error) {
			return s.ScheduleEvery("queue-sweep", 0, func() {})
		}, true},
		{"negative interval", func(s *Scheduler) (string, error) {
			return s.ScheduleEvery("queue-sweep", -time.Second, func() {})
		}, true},
		{"nightly cron", func(s *Scheduler) (string, error) {
			return s.ScheduleCron("build-recovery", "30 2 * * *", func() {})
		}, false},
		{"malformed cron", func(s *Scheduler) (string, error) {
			return s.ScheduleCron("build-recovery", "every night", func() {})
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.add(newScheduler(t))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, id)
		})
	}
}

func TestScheduledTaskKeepsRunningAfterPanic(t *testing.T) {
	s := newScheduler(t)
	var runs atomic.Int32
	_, err := s.ScheduleEvery("build-recovery", 20*time.Millisecond, func() {
		if runs.Add(1) == 1 {
			panic("store unavailable")
		}
	})
	require.NoError(t, err)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestTasksDoNotRunBeforeStart(t *testing.T) {
	s := newScheduler(t)
	var runs atomic.Int32
	_, err := s.ScheduleEvery("queue-sweep", 5*time.Millisecond, func() { runs.Add(1) })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())
}
