package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for jobs, builds, validation stages,
// breakers, webhooks and OTA events. Implementations may forward to Prometheus.
// NoopRecorder is the default so callers never nil-check.
type Recorder interface {
	SetQueueDepth(state string, n int)
	IncJobOutcome(outcome string)
	ObserveJobDuration(d time.Duration)
	IncJobRetry()

	IncBuildTransition(from, to string)
	IncBuildOutcome(outcome string)
	IncDataInconsistency()
	IncArtifactTransfer(success bool)

	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)

	SetBreakerState(breaker string, state int)
	IncBreakerEvent(breaker, event string)

	IncWebhookResult(result string)
	IncOTAEvent(eventType string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) SetQueueDepth(string, int)                  {}
func (NoopRecorder) IncJobOutcome(string)                       {}
func (NoopRecorder) ObserveJobDuration(time.Duration)           {}
func (NoopRecorder) IncJobRetry()                               {}
func (NoopRecorder) IncBuildTransition(string, string)          {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) IncDataInconsistency()                      {}
func (NoopRecorder) IncArtifactTransfer(bool)                   {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) SetBreakerState(string, int)                {}
func (NoopRecorder) IncBreakerEvent(string, string)             {}
func (NoopRecorder) IncWebhookResult(string)                    {}
func (NoopRecorder) IncOTAEvent(string)                         {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
