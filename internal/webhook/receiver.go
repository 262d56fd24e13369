// Package webhook receives signed build status callbacks from the provider.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/provider"
)

// StatusApplier applies a provider report to the build it belongs to.
type StatusApplier interface {
	ApplyExternalStatus(ctx context.Context, info provider.BuildInfo) (found, changed bool, err error)
}

// ErrSignatureInvalid is returned for missing or mismatched signatures.
var ErrSignatureInvalid = errors.AuthError("webhook signature invalid").Build()

// Payload is the callback body sent by the provider.
type Payload struct {
	ID          string          `json:"id"`
	Status      provider.Status `json:"status"`
	ArtifactURL string          `json:"artifactUrl,omitempty"`
	LogsURL     string          `json:"logsUrl,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Ack is the response body of an accepted callback.
type Ack struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	BuildRef string `json:"externalBuildId,omitempty"`
}

// Result labels recorded per callback.
const (
	ResultApplied  = "applied"
	ResultIgnored  = "ignored"
	ResultNoChange = "unchanged"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultError    = "error"
	ResultLimited  = "rate_limited"
)

// Receiver verifies and applies provider callbacks.
type Receiver struct {
	secret   string
	maxBody  int64
	applier  StatusApplier
	recorder metrics.Recorder
	limiter  *RateLimiter
	errs     *errors.HTTPErrorAdapter
}

// NewReceiver builds a receiver from the webhook configuration.
func NewReceiver(cfg config.WebhookConfig, applier StatusApplier, recorder metrics.Recorder) *Receiver {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Receiver{
		secret:   cfg.Secret,
		maxBody:  maxBody,
		applier:  applier,
		recorder: metrics.OrNoop(recorder),
		limiter:  NewRateLimiter(cfg.RatePerMinute),
		errs:     errors.NewHTTPErrorAdapter(nil),
	}
}

// Handle verifies the signature over raw and applies the reported status.
// Unknown external build ids are acknowledged without effect.
func (r *Receiver) Handle(ctx context.Context, raw []byte, signature string) (Ack, error) {
	if !VerifySignature(raw, signature, r.secret) {
		r.recorder.IncWebhookResult(ResultRejected)
		slog.Warn("Security event: webhook signature rejected",
			slog.String("event", "webhook_signature_invalid"),
			slog.Bool("signature_present", signature != ""),
			slog.Int("body_bytes", len(raw)))
		return Ack{}, ErrSignatureInvalid
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.recorder.IncWebhookResult(ResultInvalid)
		return Ack{}, errors.ValidationError("malformed webhook payload").WithCause(err).Build()
	}
	if p.ID == "" {
		r.recorder.IncWebhookResult(ResultInvalid)
		return Ack{}, errors.ValidationError("webhook payload missing id").WithContext("field", "id").Build()
	}

	found, changed, err := r.applier.ApplyExternalStatus(ctx, provider.BuildInfo{
		ID:          p.ID,
		Status:      p.Status,
		ArtifactURL: p.ArtifactURL,
		LogsURL:     p.LogsURL,
		Error:       p.Error,
	})
	if err != nil {
		r.recorder.IncWebhookResult(ResultError)
		return Ack{}, err
	}
	if !found {
		r.recorder.IncWebhookResult(ResultIgnored)
		slog.Info("Webhook for unknown build ignored", logfields.ExternalBuildID(p.ID))
		return Ack{Received: true, BuildRef: p.ID}, nil
	}
	if !changed {
		r.recorder.IncWebhookResult(ResultNoChange)
		slog.Debug("Webhook left build unchanged", logfields.ExternalBuildID(p.ID), logfields.Status(string(p.Status)))
		return Ack{Received: true, BuildRef: p.ID}, nil
	}
	r.recorder.IncWebhookResult(ResultApplied)
	slog.Debug("Webhook applied", logfields.ExternalBuildID(p.ID), logfields.Status(string(p.Status)))
	return Ack{Received: true, Applied: true, BuildRef: p.ID}, nil
}

// ServeHTTP adapts Handle to HTTP with per-IP rate limiting and a body size cap.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ip := clientIP(req); !r.limiter.Allow(ip) {
		r.recorder.IncWebhookResult(ResultLimited)
		slog.Warn("Webhook rate limit exceeded", slog.String("ip", ip))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		r.recorder.IncWebhookResult(ResultInvalid)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ack, err := r.Handle(req.Context(), raw, req.Header.Get(SignatureHeader))
	if err != nil {
		r.errs.WriteErrorResponse(w, req, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
