// Package store persists builds, projects, channels and OTA updates.
//
// All status changes are conditional writes (UPDATE ... WHERE status IN (...)),
// so concurrent writers such as the webhook receiver and the status poller
// cannot move a record backwards. Read-then-write sequences (version
// assignment, promotion, rollback) run inside a single immediate transaction.
package store

import (
	"context"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

// BuildMutation carries the optional fields written alongside a status transition.
type BuildMutation struct {
	ExternalBuildID string // set only if not already set
	ErrorSummary    string
	At              time.Time
}

// BuildRepository persists builds.
type BuildRepository interface {
	CreateBuild(ctx context.Context, b *models.Build) error
	GetBuild(ctx context.Context, id string) (*models.Build, error)
	GetBuildByExternalID(ctx context.Context, externalID string) (*models.Build, error)
	ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, int, error)
	ListBuildsByStatus(ctx context.Context, statuses ...models.BuildStatus) ([]*models.Build, error)
	// TransitionBuild moves a build to status `to` only if its persisted status
	// is one from which `to` is reachable. It reports whether the row changed.
	TransitionBuild(ctx context.Context, id string, to models.BuildStatus, m BuildMutation) (bool, error)
	SetArtifactRef(ctx context.Context, id, ref string) error
	SetLogsRef(ctx context.Context, id, ref string) error
}

// ProjectRepository persists the project registry.
type ProjectRepository interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	// SetProviderProjectID records the provider id once. It returns the id
	// that ends up persisted, which may be one written concurrently.
	SetProviderProjectID(ctx context.Context, id, providerProjectID string) (string, error)
}

// ChannelRepository persists OTA channels.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, c *models.Channel) error
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	ListChannels(ctx context.Context, projectID string) ([]*models.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	SetDefaultChannel(ctx context.Context, projectID, channelID string) error
}

// UpdateRepository persists OTA updates, device events and daily metrics.
type UpdateRepository interface {
	InsertUpdate(ctx context.Context, u *models.OTAUpdate) error
	GetUpdate(ctx context.Context, id string) (*models.OTAUpdate, error)
	ListUpdates(ctx context.Context, channelID string) ([]*models.OTAUpdate, error)
	SetRolloutPercent(ctx context.Context, id string, percent int) (*models.OTAUpdate, error)
	Rollback(ctx context.Context, sourceID, targetID string) (source, target *models.OTAUpdate, err error)
	AppendEvent(ctx context.Context, e *models.UpdateEvent) error
	RefreshDailyMetric(ctx context.Context, updateID string, platform models.Platform, appVersion string, day time.Time) (*models.UpdateMetric, error)
	ListMetrics(ctx context.Context, updateID string) ([]*models.UpdateMetric, error)
	TopErrors(ctx context.Context, updateID string, limit int) ([]models.ErrorFrequency, error)
}

// Store is the full persisted state store.
type Store interface {
	BuildRepository
	ProjectRepository
	ChannelRepository
	UpdateRepository
	Ping(ctx context.Context) error
	Close() error
}
