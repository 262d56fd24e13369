// Package queue implements the build job queue: a priority-ordered, rate
// limited worker pool with idempotent enqueue, retry with backoff, per-job
// timeouts and time-based retention of finished jobs.
package queue

import (
	"container/heap"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/shipwright/internal/config"
	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/retry"
	"git.home.luguber.info/inful/shipwright/internal/workers"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = stdErrors.New("queue is stopped")

// Processor executes one attempt of a job.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

// FailureHandler is invoked once a job has exhausted its attempts or failed permanently.
type FailureHandler func(ctx context.Context, job *Job, err error)

// Settings tunes the queue. Zero values take defaults.
type Settings struct {
	Workers            int
	RatePerMinute      int
	MaxAttempts        int
	BackoffBase        time.Duration
	MaxBackoff         time.Duration
	JobTimeout         time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// SettingsFromConfig maps the queue configuration section.
func SettingsFromConfig(cfg config.QueueConfig) Settings {
	return Settings{
		Workers:            cfg.Workers,
		RatePerMinute:      cfg.RatePerMinute,
		MaxAttempts:        cfg.MaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		JobTimeout:         cfg.JobTimeout,
		CompletedRetention: cfg.CompletedRetention,
		FailedRetention:    cfg.FailedRetention,
	}
}

func (s Settings) withDefaults() Settings {
	if s.Workers <= 0 {
		s.Workers = 3
	}
	if s.RatePerMinute <= 0 {
		s.RatePerMinute = 10
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 5 * time.Second
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = 5 * time.Minute
	}
	if s.JobTimeout <= 0 {
		s.JobTimeout = 15 * time.Minute
	}
	if s.CompletedRetention <= 0 {
		s.CompletedRetention = 24 * time.Hour
	}
	if s.FailedRetention <= 0 {
		s.FailedRetention = 7 * 24 * time.Hour
	}
	return s
}

// Option configures optional collaborators.
type Option func(*Queue)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(q *Queue) { q.recorder = metrics.OrNoop(r) }
}

// WithOnFailed registers the terminal failure hook.
func WithOnFailed(fn FailureHandler) Option {
	return func(q *Queue) { q.onFailed = fn }
}

// WithRetryable overrides which processor errors are retried.
func WithRetryable(fn func(error) bool) Option {
	return func(q *Queue) {
		if fn != nil {
			q.retryable = fn
		}
	}
}

// Queue is an in-process job queue backed by a worker pool.
type Queue struct {
	settings  Settings
	processor Processor
	policy    retry.Policy
	limiter   *rate.Limiter
	recorder  metrics.Recorder
	onFailed  FailureHandler
	retryable func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	jobs     map[string]*Job
	ready    jobHeap
	seq      uint64
	stopped  bool
	wake     chan struct{}
	stopChan chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	group     workers.Group
}

// New creates a queue. Call Start to begin processing.
func New(settings Settings, processor Processor, opts ...Option) *Queue {
	if processor == nil {
		panic("queue.New: processor is required")
	}
	settings = settings.withDefaults()
	q := &Queue{
		settings:  settings,
		processor: processor,
		policy: retry.NewPolicy(config.RetryBackoffExponential, settings.BackoffBase, settings.MaxBackoff, settings.MaxAttempts).
			WithJitter(0),
		limiter:   rate.NewLimiter(rate.Limit(float64(settings.RatePerMinute)/60), settings.RatePerMinute),
		recorder:  metrics.NoopRecorder{},
		retryable: DefaultRetryable,
		now:       time.Now,
		jobs:      make(map[string]*Job),
		wake:      make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		group:     workers.Group{Name: "queue"},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.runCtx, q.cancelRun = context.WithCancel(context.Background())
	return q
}

// Start launches the worker pool. The pool runs until Stop.
func (q *Queue) Start(_ context.Context) {
	slog.Info("Starting build queue",
		"workers", q.settings.Workers,
		"rate_per_minute", q.settings.RatePerMinute,
		"max_attempts", q.settings.MaxAttempts)
	for i := range q.settings.Workers {
		workerID := fmt.Sprintf("worker-%d", i)
		q.group.Go(func() { q.worker(workerID) })
	}
}

// Enqueue adds a job unless one with the same id is already known to the
// queue (waiting, delayed, active or retained). It reports whether the job
// was added.
func (q *Queue) Enqueue(id string, payload any, priority int) (bool, error) {
	if id == "" {
		return false, stdErrors.New("job ID is required")
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false, ErrStopped
	}
	if existing, ok := q.jobs[id]; ok {
		state := existing.State
		q.mu.Unlock()
		slog.Debug("Job already known, skipping enqueue", logfields.JobID(id), logfields.JobStatus(string(state)))
		return false, nil
	}
	q.seq++
	job := &Job{
		ID:        id,
		Payload:   payload,
		Priority:  priority,
		State:     StateWaiting,
		CreatedAt: q.now(),
		seq:       q.seq,
		index:     -1,
	}
	q.jobs[id] = job
	heap.Push(&q.ready, job)
	stats := q.statsLocked()
	q.mu.Unlock()

	q.signal()
	q.publishStats(stats)
	slog.Info("Job enqueued", logfields.JobID(id), logfields.JobPriority(priority))
	return true, nil
}

// Snapshot returns a copy of a job.
func (q *Queue) Snapshot(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots of the jobs in state, oldest first. An empty state
// returns every known job.
func (q *Queue) Jobs(state State) []*Job {
	q.mu.Lock()
	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if state == "" || j.State == state {
			out = append(out, j.snapshot())
		}
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	return out
}

// Stats counts jobs per state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	var s Stats
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting:
			s.Waiting++
		case StateDelayed:
			s.Delayed++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) publishStats(s Stats) {
	q.recorder.SetQueueDepth(string(StateWaiting), s.Waiting)
	q.recorder.SetQueueDepth(string(StateDelayed), s.Delayed)
	q.recorder.SetQueueDepth(string(StateActive), s.Active)
	q.recorder.SetQueueDepth(string(StateCompleted), s.Completed)
	q.recorder.SetQueueDepth(string(StateFailed), s.Failed)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop stops accepting jobs, lets in-flight jobs finish until ctx expires,
// then cancels them. Jobs interrupted by shutdown go back to waiting.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.stopChan)
	for _, j := range q.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	q.mu.Unlock()

	slog.Info("Stopping build queue")
	err := q.group.StopAndWait(ctx)
	if err != nil {
		slog.Warn("Build queue grace period expired, cancelling in-flight jobs", logfields.Error(err))
		q.cancelRun()
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if waitErr := q.group.StopAndWait(waitCtx); waitErr != nil {
			return fmt.Errorf("queue workers did not exit: %w", waitErr)
		}
	}
	q.cancelRun()
	return err
}

func (q *Queue) worker(workerID string) {
	for {
		job := q.next()
		if job == nil {
			return
		}
		q.run(job, workerID)
	}
}

// next blocks until a job is claimed or the queue stops.
func (q *Queue) next() *Job {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil
		}
		if q.ready.Len() > 0 {
			job := heap.Pop(&q.ready).(*Job)
			now := q.now()
			job.State = StateActive
			job.StartedAt = &now
			job.RunAt = nil
			job.Attempts++
			more := q.ready.Len() > 0
			stats := q.statsLocked()
			q.mu.Unlock()
			if more {
				q.signal()
			}
			q.publishStats(stats)
			return job
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stopChan:
			return nil
		}
	}
}

func (q *Queue) run(job *Job, workerID string) {
	if err := q.limiter.Wait(q.runCtx); err != nil {
		q.requeueInterrupted(job)
		return
	}

	ctx, cancel := context.WithTimeout(q.runCtx, q.settings.JobTimeout)
	defer cancel()

	slog.Info("Processing job",
		logfields.JobID(job.ID),
		logfields.Attempt(job.Attempts),
		slog.String("worker", workerID))

	start := q.now()
	err := q.safeProcess(ctx, job)
	q.recorder.ObserveJobDuration(q.now().Sub(start))

	switch {
	case err == nil:
		q.complete(job)
	case q.runCtx.Err() != nil:
		q.requeueInterrupted(job)
	case job.Attempts < q.settings.MaxAttempts && q.retryable(err):
		q.scheduleRetry(job, err)
	default:
		q.fail(job, err)
	}
}

func (q *Queue) safeProcess(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	snap := q.snapshotOf(job)
	return q.processor.Process(ctx, snap)
}

func (q *Queue) snapshotOf(job *Job) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return job.snapshot()
}

func (q *Queue) complete(job *Job) {
	q.mu.Lock()
	now := q.now()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.Error = ""
	stats := q.statsLocked()
	q.mu.Unlock()

	q.recorder.IncJobOutcome(string(StateCompleted))
	q.publishStats(stats)
	slog.Info("Job completed", logfields.JobID(job.ID), logfields.Attempt(job.Attempts))
}

func (q *Queue) scheduleRetry(job *Job, cause error) {
	delay := q.policy.JitteredDelay(job.Attempts)

	q.mu.Lock()
	runAt := q.now().Add(delay)
	job.State = StateDelayed
	job.Error = cause.Error()
	job.RunAt = &runAt
	job.timer = time.AfterFunc(delay, func() { q.promote(job.ID) })
	stats := q.statsLocked()
	q.mu.Unlock()

	q.recorder.IncJobRetry()
	q.publishStats(stats)
	slog.Warn("Job failed, retrying",
		logfields.JobID(job.ID),
		logfields.Attempt(job.Attempts),
		slog.Int("max_attempts", q.settings.MaxAttempts),
		slog.Duration("delay", delay),
		logfields.Error(cause))
}

// promote moves a delayed job back to waiting.
func (q *Queue) promote(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.State != StateDelayed || q.stopped {
		q.mu.Unlock()
		return
	}
	job.timer = nil
	job.State = StateWaiting
	heap.Push(&q.ready, job)
	stats := q.statsLocked()
	q.mu.Unlock()

	q.signal()
	q.publishStats(stats)
}

func (q *Queue) fail(job *Job, cause error) {
	q.mu.Lock()
	now := q.now()
	job.State = StateFailed
	job.FinishedAt = &now
	job.Error = cause.Error()
	snap := job.snapshot()
	stats := q.statsLocked()
	q.mu.Unlock()

	q.recorder.IncJobOutcome(string(StateFailed))
	q.publishStats(stats)
	slog.Error("Job failed permanently",
		logfields.JobID(job.ID),
		logfields.Attempt(job.Attempts),
		logfields.Error(cause))

	if q.onFailed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		q.onFailed(ctx, snap, cause)
	}
}

// requeueInterrupted returns a job cut short by shutdown to waiting without
// consuming the attempt.
func (q *Queue) requeueInterrupted(job *Job) {
	q.mu.Lock()
	job.State = StateWaiting
	job.StartedAt = nil
	if job.Attempts > 0 {
		job.Attempts--
	}
	heap.Push(&q.ready, job)
	q.mu.Unlock()
	slog.Info("Job interrupted by shutdown", logfields.JobID(job.ID))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// DefaultRetryable retries everything except errors marked Permanent and
// business errors (validation, not found, conflicts, invalid state, auth).
func DefaultRetryable(err error) bool {
	var perm *permanentError
	if stdErrors.As(err, &perm) {
		return false
	}
	return !foundationerrors.GetCategory(err).CallerFault()
}
