// Package api exposes builds, projects, release channels and OTA updates
// over HTTP, together with the provider webhook, signed artifact downloads,
// health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/shipwright/internal/config"
	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/storage"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the handlers' collaborators. Nil optional fields disable their routes.
type Deps struct {
	Builds       BuildService
	Releases     ReleaseService
	Queue        QueueInspector
	AdminToken   string
	Artifacts    storage.ArtifactStore
	Signer       *storage.Signer
	SignedURLTTL time.Duration
	Events       *EventHub
	Health       HealthChecker
	Webhook      http.Handler
	WebhookPath  string
	Metrics      http.Handler
	MetricsPath  string
}

// Server represents the API server.
type Server struct {
	Addr   string
	router *chi.Mux
	server *http.Server
	deps   Deps
	errs   *foundationerrors.HTTPErrorAdapter
}

// NewServer creates the API server and its routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.SignedURLTTL <= 0 {
		deps.SignedURLTTL = time.Hour
	}
	if deps.Events == nil {
		deps.Events = NewEventHub(0)
	}
	s := &Server{
		Addr:   cfg.Addr,
		router: chi.NewRouter(),
		deps:   deps,
		errs:   foundationerrors.NewHTTPErrorAdapter(nil),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Method(http.MethodGet, path, s.deps.Metrics)
	}
	if s.deps.Webhook != nil {
		path := s.deps.WebhookPath
		if path == "" {
			path = "/webhooks/provider"
		}
		s.router.Method(http.MethodPost, path, s.deps.Webhook)
	}
	if s.deps.Artifacts != nil && s.deps.Signer != nil {
		s.router.Get(storage.ArtifactRoutePrefix+"*", s.handleArtifactDownload)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.deps.Builds != nil {
			r.Post("/projects", s.handleRegisterProject)
			r.Get("/projects", s.handleListProjects)
			r.Get("/projects/{id}", s.handleGetProject)

			r.Post("/builds", s.handleTriggerBuild)
			r.Get("/builds", s.handleListBuilds)
			r.Get("/builds/{id}", s.handleGetBuild)
			r.Post("/builds/{id}/cancel", s.handleCancelBuild)
			r.Get("/builds/{id}/events", s.handleBuildEvents)
		}
		if s.deps.Releases != nil {
			r.Post("/channels", s.handleCreateChannel)
			r.Get("/channels", s.handleListChannels)
			r.Get("/channels/{id}", s.handleGetChannel)
			r.Delete("/channels/{id}", s.handleDeleteChannel)
			r.Post("/channels/{id}/default", s.handleSetDefaultChannel)
			r.Get("/channels/{id}/updates", s.handleListUpdates)
			r.Get("/channels/{id}/manifest", s.handleSelectUpdate)

			r.Post("/updates", s.handlePublishUpdate)
			r.Get("/updates/{id}", s.handleGetUpdate)
			r.Put("/updates/{id}/rollout", s.handleSetRollout)
			r.Post("/updates/{id}/rollback", s.handleRollback)
			r.Post("/updates/{id}/events", s.handleTrackEvent)
			r.Get("/updates/{id}/metrics", s.handleUpdateMetrics)
			r.Get("/updates/{id}/status", s.handleUpdateStatus)
		}
		if s.deps.Queue != nil {
			r.Get("/queue/stats", s.handleQueueStats)
			if s.deps.AdminToken != "" {
				r.With(adminAuth(s.deps.AdminToken)).Get("/queue/jobs", s.handleQueueJobs)
			}
		}
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on Addr and serves until Shutdown.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.success(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
			return
		}
	}
	s.success(w, http.StatusOK, map[string]string{"status": "healthy"})
}
