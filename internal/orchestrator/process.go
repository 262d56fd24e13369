package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/queue"
	"git.home.luguber.info/inful/shipwright/internal/store"
)

// Process implements queue.Processor; the job id is the build id.
func (o *Orchestrator) Process(ctx context.Context, job *queue.Job) error {
	return o.ProcessBuild(ctx, job.ID)
}

// ProcessBuild starts the remote build for a queued build. It is safe to run
// more than once: finished builds are left alone and a build that already has
// a provider id only gets its poller (re)started.
func (o *Orchestrator) ProcessBuild(ctx context.Context, buildID string) error {
	b, err := o.store.GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		slog.Info("Build already finished, nothing to process",
			logfields.BuildID(b.ID),
			logfields.Status(string(b.Status)))
		return nil
	}
	if b.ExternalBuildID != "" {
		o.poller.StartPolling(b.ID, b.ExternalBuildID)
		return nil
	}

	providerProjectID, err := o.EnsureProviderProject(ctx, b.ProjectID)
	if err != nil {
		return err
	}
	// Registering the project may have taken several retries; a cancel in
	// the meantime means no build is started.
	current, err := o.store.GetBuild(ctx, b.ID)
	if err != nil {
		return err
	}
	if current.Status != models.BuildQueued {
		slog.Info("Build left the queue before trigger, skipping provider call",
			logfields.BuildID(b.ID),
			logfields.Status(string(current.Status)))
		return nil
	}

	info, err := o.provider.TriggerBuild(ctx, provider.TriggerBuildRequest{
		ProviderProjectID: providerProjectID,
		Platform:          b.Platform,
		Profile:           b.Profile,
		Version:           b.Version,
		BuildID:           b.ID,
	})
	if err != nil {
		slog.Warn("Provider build trigger failed",
			logfields.BuildID(b.ID),
			logfields.Error(err))
		return err
	}

	changed, err := o.store.TransitionBuild(ctx, b.ID, models.BuildBuilding, store.BuildMutation{
		ExternalBuildID: info.ID,
		At:              o.now(),
	})
	if err != nil {
		return err
	}
	if !changed {
		// Lost the race, most likely against a cancel. Do not leave the
		// remote build running.
		slog.Warn("Build changed while triggering, cancelling remote build",
			logfields.BuildID(b.ID),
			logfields.ExternalBuildID(info.ID))
		if cerr := o.provider.CancelBuild(ctx, info.ID); cerr != nil {
			slog.Warn("Best-effort remote cancel failed",
				logfields.BuildID(b.ID),
				logfields.ExternalBuildID(info.ID),
				logfields.Error(cerr))
		}
		return nil
	}

	o.recorder.IncBuildTransition(string(b.Status), string(models.BuildBuilding))
	b.Status = models.BuildBuilding
	b.ExternalBuildID = info.ID
	slog.Info("Build started on provider",
		logfields.BuildID(b.ID),
		logfields.ExternalBuildID(info.ID))
	o.publish(ctx, statusEvent(models.BuildBuilding), b, map[string]string{"externalBuildId": info.ID})

	if mapped, ok := provider.MapStatus(info.Status); ok && mapped.Terminal() {
		if _, err := o.ApplyProviderStatus(ctx, b, *info); err != nil {
			slog.Warn("Failed to apply initial provider status", logfields.BuildID(b.ID), logfields.Error(err))
		}
		return nil
	}
	o.poller.StartPolling(b.ID, info.ID)
	return nil
}

// EnsureProviderProject returns the provider's id for the project, registering
// it with the provider on first use.
func (o *Orchestrator) EnsureProviderProject(ctx context.Context, projectID string) (string, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project.ProviderProjectID != "" {
		return project.ProviderProjectID, nil
	}
	id, err := o.provider.CreateProject(ctx, provider.CreateProjectRequest{
		Name: project.Name,
		Slug: slug(project.Name),
	})
	if err != nil {
		return "", err
	}
	persisted, err := o.store.SetProviderProjectID(ctx, project.ID, id)
	if err != nil {
		return "", err
	}
	slog.Info("Provider project created",
		logfields.ProjectID(project.ID),
		"provider_project_id", persisted)
	return persisted, nil
}

// OnJobFailed is the queue's terminal failure hook: the build is marked
// failed with the last processing error as summary.
func (o *Orchestrator) OnJobFailed(ctx context.Context, job *queue.Job, cause error) {
	summary := failureSummary(cause)
	changed, err := o.store.TransitionBuild(ctx, job.ID, models.BuildFailed, store.BuildMutation{
		ErrorSummary: summary,
		At:           o.now(),
	})
	if err != nil {
		slog.Error("Failed to mark build failed", logfields.BuildID(job.ID), logfields.Error(err))
		return
	}
	if !changed {
		return
	}
	o.recorder.IncBuildTransition(string(models.BuildQueued), string(models.BuildFailed))
	o.recorder.IncBuildOutcome(string(models.BuildFailed))
	o.poller.Stop(job.ID)
	if b, err := o.store.GetBuild(ctx, job.ID); err == nil {
		o.publish(ctx, statusEvent(models.BuildFailed), b, map[string]string{"error": summary})
	}
}

// failureSummary prefixes the cause with what kind of failure ended the job.
func failureSummary(cause error) string {
	var prefix string
	switch errors.GetCategory(cause) {
	case errors.CategoryProvider, errors.CategoryNetwork:
		prefix = "provider unavailable"
	case errors.CategoryNotFound:
		prefix = "not found"
	case errors.CategoryStorage:
		prefix = "storage failure"
	case errors.CategoryDatabase:
		prefix = "database failure"
	case errors.CategoryValidation, errors.CategoryConfig:
		prefix = "invalid build"
	default:
		prefix = "build processing failed"
	}
	return fmt.Sprintf("%s: %v", prefix, cause)
}

// Recover re-derives in-flight work from the store: queued builds are
// enqueued again and building builds get their pollers back.
func (o *Orchestrator) Recover(ctx context.Context) error {
	builds, err := o.store.ListBuildsByStatus(ctx, models.BuildQueued, models.BuildBuilding)
	if err != nil {
		return err
	}
	var queued, polling int
	for _, b := range builds {
		switch {
		case b.Status == models.BuildQueued && b.ExternalBuildID == "":
			o.enqueue(b)
			queued++
		case b.ExternalBuildID != "":
			o.poller.StartPolling(b.ID, b.ExternalBuildID)
			polling++
		default:
			slog.Warn("Building build has no provider id", logfields.BuildID(b.ID))
		}
	}
	slog.Info("Recovered in-flight builds", "queued", queued, "polling", polling)
	return nil
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
