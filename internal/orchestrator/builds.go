package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
)

// TriggerRequest asks for a new build. Version <= 0 assigns the next version
// for the project and platform. Tier empty uses the configured default.
type TriggerRequest struct {
	ProjectID string          `json:"projectId"`
	Platform  models.Platform `json:"platform"`
	Profile   models.Profile  `json:"profile"`
	Version   int             `json:"version,omitempty"`
	Tier      string          `json:"tier,omitempty"`
}

// TriggerBuild validates the project checkout, persists a queued build and
// enqueues it. A validation failure creates no build.
func (o *Orchestrator) TriggerBuild(ctx context.Context, req TriggerRequest) (*models.Build, error) {
	if !req.Platform.Valid() {
		return nil, invalidRequest("platform must be ios or android", "platform")
	}
	if req.Profile == "" {
		req.Profile = models.ProfileProduction
	}
	if !req.Profile.Valid() {
		return nil, invalidRequest("profile must be development, preview or production", "profile")
	}

	project, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := o.validate(ctx, project, req.Tier); err != nil {
		return nil, err
	}

	b := &models.Build{
		ProjectID: project.ID,
		Platform:  req.Platform,
		Profile:   req.Profile,
		Version:   req.Version,
		Status:    models.BuildQueued,
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.CreateBuild(ctx, b); err != nil {
		return nil, err
	}
	slog.Info("Build queued",
		logfields.BuildID(b.ID),
		logfields.ProjectID(b.ProjectID),
		logfields.Platform(string(b.Platform)),
		logfields.Profile(string(b.Profile)),
		slog.Int("version", b.Version))

	o.enqueue(b)
	o.publish(ctx, notify.BuildQueued, b, nil)
	return b, nil
}

func (o *Orchestrator) validate(ctx context.Context, project *models.Project, tier string) error {
	if o.validator == nil || strings.TrimSpace(project.Path) == "" {
		slog.Debug("Skipping validation", logfields.ProjectID(project.ID))
		return nil
	}
	res, err := o.validator.Validate(ctx, project.Path, tier)
	if err != nil {
		return err
	}
	if !res.Passed {
		slog.Warn("Build rejected by validation",
			logfields.ProjectID(project.ID),
			"tier", res.Tier,
			"errors", len(res.Errors))
		return validationFailed(res)
	}
	return nil
}

// enqueue hands a queued build to the queue. A failure leaves the build
// queued for Recover to pick up.
func (o *Orchestrator) enqueue(b *models.Build) {
	if _, err := o.queue.Enqueue(b.ID, b.ID, b.Profile.Priority()); err != nil {
		slog.Error("Failed to enqueue build",
			logfields.BuildID(b.ID),
			logfields.Error(err))
	}
}

// GetBuild returns a build or a not-found error.
func (o *Orchestrator) GetBuild(ctx context.Context, id string) (*models.Build, error) {
	return o.store.GetBuild(ctx, id)
}

// ListBuilds returns a page of builds and the total match count.
func (o *Orchestrator) ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, int, error) {
	if filter.Platform != "" && !filter.Platform.Valid() {
		return nil, 0, invalidRequest("unknown platform", "platform")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, invalidRequest("unknown status", "status")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return o.store.ListBuilds(ctx, filter)
}

// RegisterProject adds a project to the registry.
func (o *Orchestrator) RegisterProject(ctx context.Context, name, path string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidRequest("project name is required", "name")
	}
	p := &models.Project{Name: name, Path: path, CreatedAt: o.now().UTC()}
	if err := o.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	slog.Info("Project registered", logfields.ProjectID(p.ID), "name", p.Name)
	return p, nil
}

// GetProject returns a registered project.
func (o *Orchestrator) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return o.store.GetProject(ctx, id)
}

// ListProjects returns all registered projects.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return o.store.ListProjects(ctx)
}
