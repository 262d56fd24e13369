package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/provider"
)

const testSecret = "s3cret"

type fakeApplier struct {
	mu      sync.Mutex
	known   map[string]bool
	applied []provider.BuildInfo
	err     error
}

func (f *fakeApplier) ApplyExternalStatus(_ context.Context, info provider.BuildInfo) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, false, f.err
	}
	if !f.known[info.ID] {
		return false, false, nil
	}
	f.applied = append(f.applied, info)
	_, mapped := provider.MapStatus(info.Status)
	return true, mapped, nil
}

type resultRecorder struct {
	metrics.NoopRecorder
	mu      sync.Mutex
	results []string
}

func (r *resultRecorder) IncWebhookResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func newTestReceiver(rate int) (*Receiver, *fakeApplier, *resultRecorder) {
	applier := &fakeApplier{known: map[string]bool{"ext-1": true}}
	rec := &resultRecorder{}
	cfg := config.WebhookConfig{Secret: testSecret, RatePerMinute: rate, MaxBodyBytes: 1024}
	return NewReceiver(cfg, applier, rec), applier, rec
}

func body(t *testing.T, p Payload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"ext-1"}`)
	sig := Sign(payload, testSecret)

	assert.True(t, VerifySignature(payload, sig, testSecret))
	assert.True(t, VerifySignature(payload, sig[len(SignaturePrefix):], testSecret), "bare hex accepted")
	assert.False(t, VerifySignature(payload, "", testSecret))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature(payload, sig, ""))
	assert.False(t, VerifySignature(append(payload, ' '), sig, testSecret))
}

func TestHandleAppliesStatus(t *testing.T) {
	r, applier, rec := newTestReceiver(0)
	raw := body(t, Payload{ID: "ext-1", Status: provider.StatusFinished, ArtifactURL: "https://cdn/app.ipa"})

	ack, err := r.Handle(context.Background(), raw, Sign(raw, testSecret))
	require.NoError(t, err)
	assert.True(t, ack.Applied)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, provider.StatusFinished, applier.applied[0].Status)
	assert.Equal(t, "https://cdn/app.ipa", applier.applied[0].ArtifactURL)
	assert.Equal(t, []string{ResultApplied}, rec.results)
}

func TestHandleRejectsTamperedBody(t *testing.T) {
	r, applier, rec := newTestReceiver(0)
	raw := body(t, Payload{ID: "ext-1", Status: provider.StatusErrored})
	sig := Sign(raw, testSecret)
	tampered := body(t, Payload{ID: "ext-1", Status: provider.StatusFinished})

	_, err := r.Handle(context.Background(), tampered, sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
	assert.Empty(t, applier.applied)
	assert.Equal(t, []string{ResultRejected}, rec.results)
}

func TestHandleUnknownBuildIsAcked(t *testing.T) {
	r, applier, _ := newTestReceiver(0)
	raw := body(t, Payload{ID: "ext-unknown", Status: provider.StatusFinished})

	ack, err := r.Handle(context.Background(), raw, Sign(raw, testSecret))
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.False(t, ack.Applied)
	assert.Empty(t, applier.applied)
}

func TestHandleUnrecognisedStatusIsNotApplied(t *testing.T) {
	r, applier, rec := newTestReceiver(0)
	raw := body(t, Payload{ID: "ext-1", Status: provider.Status("paused")})

	ack, err := r.Handle(context.Background(), raw, Sign(raw, testSecret))
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.False(t, ack.Applied)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, []string{ResultNoChange}, rec.results)
}

func TestHandleMalformedPayload(t *testing.T) {
	r, _, _ := newTestReceiver(0)
	for _, raw := range [][]byte{[]byte("not json"), []byte(`{"status":"finished"}`)} {
		_, err := r.Handle(context.Background(), raw, Sign(raw, testSecret))
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation), string(raw))
	}
}

func TestServeHTTP(t *testing.T) {
	r, _, _ := newTestReceiver(0)
	raw := body(t, Payload{ID: "ext-1", Status: provider.StatusInProgress})

	t.Run("accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(raw))
		req.Header.Set(SignatureHeader, Sign(raw, testSecret))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		var ack Ack
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
		assert.True(t, ack.Applied)
	})

	t.Run("unsigned", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(raw))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 2048)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(big))
		req.Header.Set(SignatureHeader, Sign(big, testSecret))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/provider", http.NoBody))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestServeHTTPRateLimitsPerIP(t *testing.T) {
	r, _, rec := newTestReceiver(2)
	raw := body(t, Payload{ID: "ext-1", Status: provider.StatusInProgress})

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(raw))
		req.RemoteAddr = addr
		req.Header.Set(SignatureHeader, Sign(raw, testSecret))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))
	assert.Contains(t, rec.results, ResultLimited)
}

func TestRateLimiterEvictsRefilledBuckets(t *testing.T) {
	fill := func(rl *RateLimiter, prefix string) {
		for i := 0; i < maxTrackedIPs; i++ {
			rl.Allow(fmt.Sprintf("%s.%d.%d", prefix, i/256, i%256))
		}
	}

	slow := NewRateLimiter(1)
	fill(slow, "10.0")
	require.Equal(t, maxTrackedIPs, slow.Tracked())
	slow.Allow("192.0.2.1")
	assert.Equal(t, maxTrackedIPs+1, slow.Tracked(), "spent buckets are kept")

	fast := NewRateLimiter(6_000_000)
	fill(fast, "10.1")
	time.Sleep(20 * time.Millisecond)
	fast.Allow("192.0.2.1")
	assert.Equal(t, 1, fast.Tracked(), "refilled buckets are dropped")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("192.0.2.1"))
	}
	assert.Zero(t, rl.Tracked())
}
