package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/breaker"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetQueueDepth("waiting", 3)
	pr.IncJobOutcome("completed")
	pr.ObserveJobDuration(500 * time.Millisecond)
	pr.IncJobRetry()
	pr.IncBuildTransition("queued", "building")
	pr.IncBuildOutcome("success")
	pr.IncDataInconsistency()
	pr.IncArtifactTransfer(true)
	pr.ObserveStageDuration("lint", 150*time.Millisecond)
	pr.IncStageResult("lint", ResultSuccess)
	pr.SetBreakerState("provider", 1)
	pr.IncBreakerEvent("provider", "failure")
	pr.IncWebhookResult("accepted")
	pr.IncOTAEvent("download")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 14)
	assert.InDelta(t, 3, testutil.ToFloat64(pr.queueDepth.WithLabelValues("waiting")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.dataInconsistency), 0)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncBuildOutcome("failed")
	pr.SetQueueDepth("active", 1)
	var _ Recorder = pr
	var _ Recorder = NoopRecorder{}
	assert.Equal(t, NoopRecorder{}, OrNoop(nil))
}

func TestObserveBreaker(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	b := breaker.New(breaker.Settings{Name: "storage", FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Hour})
	unsubscribe := ObserveBreaker(b, pr)
	defer unsubscribe()

	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })

	assert.InDelta(t, float64(breaker.StateOpen), testutil.ToFloat64(pr.breakerState.WithLabelValues("storage")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.breakerEvents.WithLabelValues("storage", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.breakerEvents.WithLabelValues("storage", "stateChange")), 0)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncWebhookResult("rejected")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "shipwright_webhook_requests_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "promhttp_metric_handler_requests_total"))
}
