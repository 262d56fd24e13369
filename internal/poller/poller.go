// Package poller reconciles in-flight builds by periodically asking the
// provider for their status, covering webhooks that never arrive.
package poller

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/workers"
)

// StatusSource fetches the provider's view of a build.
type StatusSource interface {
	GetBuildStatus(ctx context.Context, externalBuildID string) (*provider.BuildInfo, error)
}

// Reconciler applies a provider report and says whether the build is finished.
type Reconciler interface {
	ReconcileBuild(ctx context.Context, buildID string, info provider.BuildInfo) (terminal bool, err error)
}

// Settings bound the polling cadence and lifetime.
type Settings struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxDuration time.Duration
}

// SettingsFromConfig maps the poller configuration section.
func SettingsFromConfig(cfg config.PollerConfig) Settings {
	return Settings{MinInterval: cfg.MinInterval, MaxInterval: cfg.MaxInterval, MaxDuration: cfg.MaxDuration}
}

func (s Settings) withDefaults() Settings {
	if s.MinInterval <= 0 {
		s.MinInterval = 15 * time.Second
	}
	if s.MaxInterval < s.MinInterval {
		s.MaxInterval = 2 * s.MinInterval
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = 2 * time.Hour
	}
	return s
}

// Poller runs one loop per in-flight build.
type Poller struct {
	source     StatusSource
	reconciler Reconciler
	settings   Settings
	random     func() float64

	mu     sync.Mutex
	loops  map[string]*loopHandle
	group  workers.Group
	ctx    context.Context
	cancel context.CancelFunc
}

type loopHandle struct {
	cancel context.CancelFunc
}

// New creates a poller.
func New(source StatusSource, reconciler Reconciler, settings Settings) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		source:     source,
		reconciler: reconciler,
		settings:   settings.withDefaults(),
		random:     rand.Float64,
		loops:      make(map[string]*loopHandle),
		group:      workers.Group{Name: "poller"},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StartPolling starts a loop for buildID unless one is already running.
// It reports whether a new loop was started.
func (p *Poller) StartPolling(buildID, externalBuildID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loops[buildID]; ok {
		return false
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.settings.MaxDuration)
	h := &loopHandle{cancel: cancel}
	if !p.group.Go(func() { p.loop(ctx, h, buildID, externalBuildID) }) {
		cancel()
		return false
	}
	p.loops[buildID] = h
	slog.Debug("Polling started", logfields.BuildID(buildID), logfields.ExternalBuildID(externalBuildID))
	return true
}

// Stop ends the loop for buildID, if any.
func (p *Poller) Stop(buildID string) {
	p.mu.Lock()
	h, ok := p.loops[buildID]
	delete(p.loops, buildID)
	p.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// Active returns the number of running loops.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

// StopAll ends every loop and waits for them, bounded by ctx.
func (p *Poller) StopAll(ctx context.Context) error {
	p.cancel()
	p.mu.Lock()
	p.loops = make(map[string]*loopHandle)
	p.mu.Unlock()
	return p.group.StopAndWait(ctx)
}

// interval returns a duration uniformly drawn from [MinInterval, MaxInterval].
func (p *Poller) interval() time.Duration {
	span := p.settings.MaxInterval - p.settings.MinInterval
	return p.settings.MinInterval + time.Duration(p.random()*float64(span))
}

func (p *Poller) loop(ctx context.Context, h *loopHandle, buildID, externalBuildID string) {
	defer p.forget(buildID, h)

	timer := time.NewTimer(p.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				slog.Warn("Giving up polling build after max duration",
					logfields.BuildID(buildID),
					logfields.ExternalBuildID(externalBuildID),
					slog.Duration("max_duration", p.settings.MaxDuration))
			}
			return
		case <-timer.C:
		}

		if p.tick(ctx, buildID, externalBuildID) {
			return
		}
		timer.Reset(p.interval())
	}
}

// tick polls once and reports whether the build is finished. Errors are
// logged; the loop keeps going.
func (p *Poller) tick(ctx context.Context, buildID, externalBuildID string) bool {
	info, err := p.source.GetBuildStatus(ctx, externalBuildID)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Status poll failed",
				logfields.BuildID(buildID),
				logfields.ExternalBuildID(externalBuildID),
				logfields.Error(err))
		}
		return false
	}
	terminal, err := p.reconciler.ReconcileBuild(ctx, buildID, *info)
	if err != nil {
		slog.Warn("Failed to apply polled status",
			logfields.BuildID(buildID),
			logfields.Error(err))
		return false
	}
	if terminal {
		slog.Debug("Polling finished", logfields.BuildID(buildID), logfields.Status(string(info.Status)))
	}
	return terminal
}

// forget removes the loop entry if it still belongs to h.
func (p *Poller) forget(buildID string, h *loopHandle) {
	p.mu.Lock()
	if p.loops[buildID] == h {
		delete(p.loops, buildID)
	}
	p.mu.Unlock()
	h.cancel()
}
