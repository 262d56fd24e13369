package provider

import (
	"context"
	"io"

	"git.home.luguber.info/inful/shipwright/internal/resilience"
)

// Guarded wraps a Client so every call runs through retry and the provider
// circuit breaker. Exhaustion or an open breaker yields resilience.ErrProviderUnavailable.
type Guarded struct {
	next  Client
	guard *resilience.Guard
}

var _ Client = (*Guarded)(nil)

// NewGuarded wraps next with guard.
func NewGuarded(next Client, guard *resilience.Guard) *Guarded {
	return &Guarded{next: next, guard: guard}
}

func (g *Guarded) CreateProject(ctx context.Context, req CreateProjectRequest) (string, error) {
	return resilience.Call(ctx, g.guard, "create_project", func(ctx context.Context) (string, error) {
		return g.next.CreateProject(ctx, req)
	})
}

func (g *Guarded) TriggerBuild(ctx context.Context, req TriggerBuildRequest) (*BuildInfo, error) {
	return resilience.Call(ctx, g.guard, "trigger_build", func(ctx context.Context) (*BuildInfo, error) {
		return g.next.TriggerBuild(ctx, req)
	})
}

func (g *Guarded) GetBuildStatus(ctx context.Context, externalBuildID string) (*BuildInfo, error) {
	return resilience.Call(ctx, g.guard, "get_build_status", func(ctx context.Context) (*BuildInfo, error) {
		return g.next.GetBuildStatus(ctx, externalBuildID)
	})
}

func (g *Guarded) CancelBuild(ctx context.Context, externalBuildID string) error {
	return g.guard.Do(ctx, "cancel_build", func(ctx context.Context) error {
		return g.next.CancelBuild(ctx, externalBuildID)
	})
}

// DownloadArtifact guards opening the stream; reading the body is not guarded.
// The request is bound to the caller's ctx because the per-call context ends
// when the guarded call returns, while the body is still being read.
func (g *Guarded) DownloadArtifact(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	return resilience.Call(ctx, g.guard, "download_artifact", func(context.Context) (io.ReadCloser, error) {
		return g.next.DownloadArtifact(ctx, artifactURL)
	})
}

func (g *Guarded) EnsureBranch(ctx context.Context, providerProjectID, branch, runtimeVersion string) error {
	return g.guard.Do(ctx, "ensure_branch", func(ctx context.Context) error {
		return g.next.EnsureBranch(ctx, providerProjectID, branch, runtimeVersion)
	})
}

func (g *Guarded) PublishUpdate(ctx context.Context, req PublishUpdateRequest) (*PublishedUpdate, error) {
	return resilience.Call(ctx, g.guard, "publish_update", func(ctx context.Context) (*PublishedUpdate, error) {
		return g.next.PublishUpdate(ctx, req)
	})
}
