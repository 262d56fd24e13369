package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "shipwright"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	queueDepth        *prom.GaugeVec
	jobOutcomes       *prom.CounterVec
	jobDuration       prom.Histogram
	jobRetries        prom.Counter
	buildTransitions  *prom.CounterVec
	buildOutcomes     *prom.CounterVec
	dataInconsistency prom.Counter
	artifactTransfers *prom.CounterVec
	stageDuration     *prom.HistogramVec
	stageResults      *prom.CounterVec
	breakerState      *prom.GaugeVec
	breakerEvents     *prom.CounterVec
	webhookResults    *prom.CounterVec
	otaEvents         *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.queueDepth = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the build queue by state",
		}, []string{"state"})
		pr.jobOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_job_outcomes_total",
			Help:      "Job outcomes by result",
		}, []string{"outcome"})
		pr.jobDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_duration_seconds",
			Help:      "Duration of individual job attempts",
			Buckets:   prom.DefBuckets,
		})
		pr.jobRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_job_retries_total",
			Help:      "Job attempts rescheduled after a processor error",
		})
		pr.buildTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_transitions_total",
			Help:      "Applied build status transitions",
		}, []string{"from", "to"})
		pr.buildOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Builds reaching a terminal status",
		}, []string{"outcome"})
		pr.dataInconsistency = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_data_inconsistency_total",
			Help:      "Provider reports conflicting with a persisted terminal status",
		})
		pr.artifactTransfers = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_transfers_total",
			Help:      "Artifact transfers from the provider into storage",
		}, []string{"result"})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_stage_duration_seconds",
			Help:      "Duration of validation stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "validation_stage_results_total",
			Help:      "Validation stage results by outcome",
		}, []string{"stage", "result"})
		pr.breakerState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"})
		pr.breakerEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by type",
		}, []string{"breaker", "event"})
		pr.webhookResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Provider webhook deliveries by result",
		}, []string{"result"})
		pr.otaEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ota_events_total",
			Help:      "Tracked OTA device events by type",
		}, []string{"event"})
		reg.MustRegister(pr.queueDepth, pr.jobOutcomes, pr.jobDuration, pr.jobRetries,
			pr.buildTransitions, pr.buildOutcomes, pr.dataInconsistency, pr.artifactTransfers,
			pr.stageDuration, pr.stageResults, pr.breakerState, pr.breakerEvents,
			pr.webhookResults, pr.otaEvents)
	})
	return pr
}

func (p *PrometheusRecorder) SetQueueDepth(state string, n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.WithLabelValues(state).Set(float64(n))
}

func (p *PrometheusRecorder) IncJobOutcome(outcome string) {
	if p == nil || p.jobOutcomes == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobRetry() {
	if p == nil || p.jobRetries == nil {
		return
	}
	p.jobRetries.Inc()
}

func (p *PrometheusRecorder) IncBuildTransition(from, to string) {
	if p == nil || p.buildTransitions == nil {
		return
	}
	p.buildTransitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcomes == nil {
		return
	}
	p.buildOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncDataInconsistency() {
	if p == nil || p.dataInconsistency == nil {
		return
	}
	p.dataInconsistency.Inc()
}

func (p *PrometheusRecorder) IncArtifactTransfer(success bool) {
	if p == nil || p.artifactTransfers == nil {
		return
	}
	p.artifactTransfers.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) SetBreakerState(breaker string, state int) {
	if p == nil || p.breakerState == nil {
		return
	}
	p.breakerState.WithLabelValues(breaker).Set(float64(state))
}

func (p *PrometheusRecorder) IncBreakerEvent(breaker, event string) {
	if p == nil || p.breakerEvents == nil {
		return
	}
	p.breakerEvents.WithLabelValues(breaker, event).Inc()
}

func (p *PrometheusRecorder) IncWebhookResult(result string) {
	if p == nil || p.webhookResults == nil {
		return
	}
	p.webhookResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncOTAEvent(eventType string) {
	if p == nil || p.otaEvents == nil {
		return
	}
	p.otaEvents.WithLabelValues(eventType).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
