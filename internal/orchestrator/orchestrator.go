// Package orchestrator drives a build from request to terminal state: it
// validates and persists the request, feeds the job queue, talks to the build
// provider and reconciles provider reports from webhooks and polling.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/resilience"
	"git.home.luguber.info/inful/shipwright/internal/storage"
	"git.home.luguber.info/inful/shipwright/internal/store"
	"git.home.luguber.info/inful/shipwright/internal/validation"
	"git.home.luguber.info/inful/shipwright/internal/workers"
)

// Repository is the slice of the state store the orchestrator uses.
type Repository interface {
	store.BuildRepository
	store.ProjectRepository
}

// Validator runs pre-build checks. An empty tier means the configured default.
type Validator interface {
	Validate(ctx context.Context, projectPath, tier string) (*validation.Result, error)
}

// Enqueuer accepts build jobs.
type Enqueuer interface {
	Enqueue(id string, payload any, priority int) (bool, error)
}

// Poller reconciles in-flight builds by polling the provider.
type Poller interface {
	StartPolling(buildID, externalBuildID string) bool
	Stop(buildID string)
}

// Deps are the collaborators of an Orchestrator. Provider must already be
// guarded; StorageGuard protects artifact uploads.
type Deps struct {
	Store        Repository
	Provider     provider.Client
	Artifacts    storage.ArtifactStore
	StorageGuard *resilience.Guard
	Validator    Validator
	Notifier     notify.Publisher
	Recorder     metrics.Recorder
}

// Orchestrator owns the build lifecycle.
type Orchestrator struct {
	store        Repository
	provider     provider.Client
	artifacts    storage.ArtifactStore
	storageGuard *resilience.Guard
	validator    Validator
	notifier     notify.Publisher
	recorder     metrics.Recorder

	queue  Enqueuer
	poller Poller

	transfers   workers.Group
	bgCtx       context.Context
	cancelBg    context.CancelFunc
	now         func() time.Time
	transferTTL time.Duration
}

// New creates an orchestrator. SetQueue and SetPoller complete the wiring.
func New(d Deps) *Orchestrator {
	if d.Store == nil || d.Provider == nil {
		panic("orchestrator.New: store and provider are required")
	}
	o := &Orchestrator{
		store:        d.Store,
		provider:     d.Provider,
		artifacts:    d.Artifacts,
		storageGuard: d.StorageGuard,
		validator:    d.Validator,
		notifier:     notify.OrNoop(d.Notifier),
		recorder:     metrics.OrNoop(d.Recorder),
		queue:        discardQueue{},
		poller:       noopPoller{},
		now:          time.Now,
		transferTTL:  30 * time.Minute,
		transfers:    workers.Group{Name: "artifact-transfers"},
	}
	o.bgCtx, o.cancelBg = context.WithCancel(context.Background())
	return o
}

// SetQueue injects the job queue.
func (o *Orchestrator) SetQueue(q Enqueuer) { o.queue = q }

// SetPoller injects the status poller.
func (o *Orchestrator) SetPoller(p Poller) { o.poller = p }

// Stop waits for background artifact and log transfers, cancelling them when ctx ends.
func (o *Orchestrator) Stop(ctx context.Context) error {
	err := o.transfers.StopAndWait(ctx)
	o.cancelBg()
	return err
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, b *models.Build, data map[string]string) {
	ev := notify.Event{
		Type:      eventType,
		BuildID:   b.ID,
		ProjectID: b.ProjectID,
		Status:    string(b.Status),
		Data:      data,
		At:        o.now().UTC(),
	}
	if err := o.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish lifecycle event",
			"event", eventType,
			logfields.BuildID(b.ID),
			logfields.Error(err))
	}
}

func statusEvent(s models.BuildStatus) string {
	switch s {
	case models.BuildBuilding:
		return notify.BuildStarted
	case models.BuildSuccess:
		return notify.BuildSucceeded
	case models.BuildFailed:
		return notify.BuildFailed
	case models.BuildCancelled:
		return notify.BuildCancelled
	default:
		return notify.BuildQueued
	}
}

type discardQueue struct{}

func (discardQueue) Enqueue(string, any, int) (bool, error) { return false, nil }

type noopPoller struct{}

func (noopPoller) StartPolling(string, string) bool { return false }
func (noopPoller) Stop(string)                      {}
