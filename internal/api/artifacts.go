package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/storage"
)

// handleArtifactDownload serves stored content behind an HMAC-signed,
// expiring URL minted by storage.Signer.
func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		s.fail(w, r, foundationerrors.ValidationError("invalid artifact key").Build())
		return
	}
	q := r.URL.Query()
	if err := s.deps.Signer.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		slog.Warn("Security event: artifact signature rejected", slog.String("key", key))
		s.fail(w, r, foundationerrors.AuthError("artifact link is invalid or expired").WithCause(err).Build())
		return
	}

	rc, artifact, err := s.deps.Artifacts.Download(r.Context(), key)
	if storage.IsNotFound(err) {
		s.fail(w, r, foundationerrors.NotFoundError("artifact not found").WithContext("key", key).Build())
		return
	}
	if err != nil {
		s.fail(w, r, foundationerrors.StorageError("artifact download failed").WithCause(err).Build())
		return
	}
	defer func() { _ = rc.Close() }()

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	w.Header().Set("ETag", `"`+artifact.Hash+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("Artifact download interrupted", slog.String("key", key), logfields.Error(err))
	}
}
