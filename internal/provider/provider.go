// Package provider is the client for the external build provider, which
// compiles native binaries and publishes OTA updates on our behalf.
package provider

import (
	"context"
	"io"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

// Client is the provider surface used by the orchestrator, poller and OTA manager.
type Client interface {
	CreateProject(ctx context.Context, req CreateProjectRequest) (string, error)
	TriggerBuild(ctx context.Context, req TriggerBuildRequest) (*BuildInfo, error)
	GetBuildStatus(ctx context.Context, externalBuildID string) (*BuildInfo, error)
	CancelBuild(ctx context.Context, externalBuildID string) error
	DownloadArtifact(ctx context.Context, artifactURL string) (io.ReadCloser, error)
	EnsureBranch(ctx context.Context, providerProjectID, branch, runtimeVersion string) error
	PublishUpdate(ctx context.Context, req PublishUpdateRequest) (*PublishedUpdate, error)
}

// Status is the provider's build status vocabulary.
type Status string

const (
	StatusInQueue    Status = "in-queue"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
	StatusErrored    Status = "errored"
	StatusCanceled   Status = "canceled"
)

// CreateProjectRequest registers a project with the provider.
type CreateProjectRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TriggerBuildRequest starts a remote build.
type TriggerBuildRequest struct {
	ProviderProjectID string          `json:"projectId"`
	Platform          models.Platform `json:"platform"`
	Profile           models.Profile  `json:"profile"`
	Version           int             `json:"version"`
	BuildID           string          `json:"metadata,omitempty"` // our id, echoed in callbacks
}

// BuildInfo is the provider's view of a build.
type BuildInfo struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	ArtifactURL string `json:"artifactUrl,omitempty"`
	LogsURL     string `json:"logsUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PublishUpdateRequest publishes OTA content to a branch.
type PublishUpdateRequest struct {
	ProviderProjectID string          `json:"projectId"`
	Branch            string          `json:"branch"`
	RuntimeVersion    string          `json:"runtimeVersion"`
	Platform          models.Platform `json:"platform"`
	Message           string          `json:"message"`
	RolloutPercent    int             `json:"rolloutPercent"`
}

// PublishedUpdate is the provider's record of a published update.
type PublishedUpdate struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	ManifestURL string `json:"manifestUrl"`
}
