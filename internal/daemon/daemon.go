// Package daemon assembles the shipwright service: persisted state, the
// resilient provider client, the job queue, poller, OTA manager and the HTTP
// API, with an explicit Start/Stop lifecycle and config hot reload.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/shipwright/internal/api"
	"git.home.luguber.info/inful/shipwright/internal/breaker"
	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/notify"
	"git.home.luguber.info/inful/shipwright/internal/orchestrator"
	"git.home.luguber.info/inful/shipwright/internal/ota"
	"git.home.luguber.info/inful/shipwright/internal/poller"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/queue"
	"git.home.luguber.info/inful/shipwright/internal/resilience"
	"git.home.luguber.info/inful/shipwright/internal/retry"
	"git.home.luguber.info/inful/shipwright/internal/scheduler"
	"git.home.luguber.info/inful/shipwright/internal/storage"
	"git.home.luguber.info/inful/shipwright/internal/store"
	"git.home.luguber.info/inful/shipwright/internal/validation"
	"git.home.luguber.info/inful/shipwright/internal/webhook"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// recoveryInterval is how often in-flight builds are re-derived from the store.
const recoveryInterval = 5 * time.Minute

// Options customise assembly. All fields are optional.
type Options struct {
	// ConfigPath enables hot reload of runtime-safe settings when set.
	ConfigPath string
	// LogLevel is updated on reload.
	LogLevel *slog.LevelVar
	// Provider replaces the HTTP provider client. It is still wrapped in the
	// breaker and retry guard.
	Provider provider.Client
	// Registry receives the Prometheus collectors; nil creates a fresh one.
	Registry *prom.Registry
}

// Daemon owns every long-running component of the service.
type Daemon struct {
	mu        sync.Mutex
	cfg       *config.Config
	status    atomic.Value
	startTime time.Time

	runtime   *config.Runtime
	store     *store.SQLiteStore
	queue     *queue.Queue
	poller    *poller.Poller
	orch      *orchestrator.Orchestrator
	ota       *ota.Manager
	scheduler *scheduler.Scheduler
	watcher   *config.Watcher
	notifier  notify.Publisher
	events    *api.EventHub
	server    *api.Server
	observers []func()
	stopped   bool
}

// New wires the service from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	d := &Daemon{cfg: cfg}
	d.status.Store(StatusStopped)
	d.runtime = config.NewRuntime(cfg, opts.LogLevel)

	reg := opts.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	d.store = db

	policy := retry.FromConfig(cfg.Retry)
	providerBreaker := breaker.FromConfig("provider", cfg.Breakers.Provider)
	storageBreaker := breaker.FromConfig("storage", cfg.Breakers.Storage)
	d.observers = append(d.observers,
		metrics.ObserveBreaker(providerBreaker, recorder),
		metrics.ObserveBreaker(storageBreaker, recorder),
	)

	rawProvider := opts.Provider
	if rawProvider == nil {
		rawProvider = provider.NewHTTPClient(&http.Client{}, cfg.Provider.BaseURL, cfg.Provider.Token)
	}
	guarded := provider.NewGuarded(rawProvider, resilience.NewProviderGuard(providerBreaker, policy))

	signer := storage.NewSigner(cfg.Storage.SigningKey, cfg.Server.PublicURL)
	artifacts, err := storage.NewFSStore(cfg.Storage.BasePath, signer)
	if err != nil {
		d.closeStore()
		return nil, fmt.Errorf("failed to open artifact storage: %w", err)
	}

	validator, err := validation.New(cfg.Validation, d.runtime, validation.WithRecorder(recorder))
	if err != nil {
		d.closeStore()
		return nil, err
	}

	d.events = api.NewEventHub(0)
	d.notifier, err = newNotifier(cfg.NATS, d.events)
	if err != nil {
		d.closeStore()
		return nil, err
	}

	d.orch = orchestrator.New(orchestrator.Deps{
		Store:        db,
		Provider:     guarded,
		Artifacts:    artifacts,
		StorageGuard: resilience.NewStorageGuard(storageBreaker, policy),
		Validator:    validator,
		Notifier:     d.notifier,
		Recorder:     recorder,
	})
	d.queue = queue.New(queue.SettingsFromConfig(cfg.Queue), d.orch,
		queue.WithOnFailed(d.orch.OnJobFailed),
		queue.WithRecorder(recorder),
	)
	d.orch.SetQueue(d.queue)
	d.poller = poller.New(guarded, d.orch, poller.SettingsFromConfig(cfg.Poller))
	d.orch.SetPoller(d.poller)

	d.ota = ota.New(ota.Deps{
		Store:    db,
		Provider: guarded,
		Projects: d.orch,
		Notifier: d.notifier,
		Recorder: recorder,
		Config:   cfg.OTA,
	})

	d.scheduler, err = scheduler.New()
	if err != nil {
		d.closeStore()
		return nil, err
	}
	if err := d.queue.ScheduleSweep(d.scheduler, cfg.Queue.SweepInterval); err != nil {
		d.closeStore()
		return nil, fmt.Errorf("failed to schedule queue sweep: %w", err)
	}
	if _, err := d.scheduler.ScheduleEvery("build-recovery", recoveryInterval, d.recoverInFlight); err != nil {
		d.closeStore()
		return nil, fmt.Errorf("failed to schedule build recovery: %w", err)
	}

	if opts.ConfigPath != "" {
		d.watcher, err = config.NewWatcher(opts.ConfigPath, 0, d.ReloadConfig)
		if err != nil {
			d.closeStore()
			return nil, err
		}
	}

	d.server = api.NewServer(cfg.Server, api.Deps{
		Builds:       d.orch,
		Releases:     d.ota,
		Queue:        d.queue,
		AdminToken:   cfg.Server.AdminToken,
		Artifacts:    artifacts,
		Signer:       signer,
		SignedURLTTL: cfg.Storage.SignedURLTTL,
		Events:       d.events,
		Health:       db,
		Webhook:      webhook.NewReceiver(cfg.Webhook, d.orch, recorder),
		WebhookPath:  cfg.Webhook.Path,
		Metrics:      metricsHandler,
		MetricsPath:  cfg.Metrics.Path,
	})
	return d, nil
}

// newNotifier publishes lifecycle events to the SSE hub and, when configured, to NATS.
func newNotifier(cfg config.NATSConfig, hub *api.EventHub) (notify.Publisher, error) {
	if cfg.URL == "" {
		return notify.Fanout{hub}, nil
	}
	nats, err := notify.NewNATSPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return notify.Fanout{hub, nats}, nil
}

// Start launches the background components and re-derives in-flight builds.
// The HTTP API is served by Run or Serve.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.GetStatus(); s != StatusStopped {
		return fmt.Errorf("daemon is not in stopped state: %s", s)
	}
	if d.stopped {
		return fmt.Errorf("daemon cannot be restarted after Stop")
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	d.queue.Start(ctx)
	if err := d.orch.Recover(ctx); err != nil {
		slog.Warn("Failed to recover in-flight builds", logfields.Error(err))
	}
	d.scheduler.Start(ctx)
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Warn("Config hot reload disabled", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("Shipwright daemon started", "addr", d.cfg.Server.Addr)
	return nil
}

// Serve serves the HTTP API on l until Stop.
func (d *Daemon) Serve(l net.Listener) error {
	return d.server.Serve(l)
}

// Run starts the daemon, serves the API on the configured address and stops
// gracefully once ctx ends or the listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", d.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Server.Addr, err)
	}
	return d.RunListener(ctx, l)
}

// RunListener is Run on an existing listener.
func (d *Daemon) RunListener(ctx context.Context, l net.Listener) error {
	if err := d.Start(ctx); err != nil {
		_ = l.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownGrace)
		defer cancel()
		return d.Stop(stopCtx)
	})
	return g.Wait()
}

// Stop shuts components down in dependency order: no new requests, no new
// jobs, no new polls, then in-flight transfers, then the store.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping shipwright daemon")

	var firstErr error
	keep := func(name string, err error) {
		if err == nil {
			return
		}
		slog.Error("Failed to stop component", "component", name, logfields.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}
	// Open event streams would otherwise hold the HTTP shutdown until ctx ends.
	_ = d.events.Close()
	keep("http", d.server.Shutdown(ctx))
	keep("queue", d.queue.Stop(ctx))
	keep("poller", d.poller.StopAll(ctx))
	keep("orchestrator", d.orch.Stop(ctx))
	keep("scheduler", d.scheduler.Stop(ctx))
	keep("notifier", d.notifier.Close())
	for _, unsubscribe := range d.observers {
		unsubscribe()
	}
	keep("store", d.store.Close())

	d.stopped = true
	d.status.Store(StatusStopped)
	slog.Info("Shipwright daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return firstErr
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// Handler exposes the API router, mainly for tests.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// ReloadConfig applies the runtime-safe part of a reloaded configuration.
// Settings that shape wiring (addresses, paths, credentials) need a restart.
func (d *Daemon) ReloadConfig(cfg *config.Config) {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if cfg.Server.Addr != old.Server.Addr || cfg.Database.Path != old.Database.Path ||
		cfg.Provider.BaseURL != old.Provider.BaseURL || cfg.Storage.BasePath != old.Storage.BasePath {
		slog.Warn("Configuration changes detected that require a restart")
	}
	d.runtime.Apply(cfg)
}

// Runtime returns the hot-reloadable settings.
func (d *Daemon) Runtime() *config.Runtime { return d.runtime }

func (d *Daemon) recoverInFlight() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := d.orch.Recover(ctx); err != nil {
		slog.Warn("Periodic build recovery failed", logfields.Error(err))
	}
}

func (d *Daemon) closeStore() {
	for _, unsubscribe := range d.observers {
		unsubscribe()
	}
	if err := d.store.Close(); err != nil {
		slog.Error("Failed to close store", logfields.Error(err))
	}
}
