package orchestrator

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/store"
)

// ApplyProviderStatus is the single path by which provider reports (webhook
// or poll) change a build. The write is conditional on the persisted status,
// so terminal states stick and concurrent reporters cannot regress a build.
// A report contradicting a terminal state is logged and counted, never applied.
// It returns the build as persisted after the call.
func (o *Orchestrator) ApplyProviderStatus(ctx context.Context, b *models.Build, info provider.BuildInfo) (*models.Build, error) {
	target, ok := provider.MapStatus(info.Status)
	if !ok || target == models.BuildQueued || target == b.Status {
		return b, nil
	}
	if b.Status.Terminal() {
		o.reportInconsistency(b, target)
		return b, nil
	}

	mutation := store.BuildMutation{At: o.now()}
	if target == models.BuildFailed {
		mutation.ErrorSummary = info.Error
		if mutation.ErrorSummary == "" {
			mutation.ErrorSummary = "provider reported build failure"
		}
	}
	if target == models.BuildSuccess && b.Status == models.BuildQueued {
		// Reports can overtake our own queued -> building write.
		if _, err := o.store.TransitionBuild(ctx, b.ID, models.BuildBuilding, mutation); err != nil {
			return nil, err
		}
	}

	changed, err := o.store.TransitionBuild(ctx, b.ID, target, mutation)
	if err != nil {
		return nil, err
	}
	fresh, err := o.store.GetBuild(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if fresh.Status.Terminal() && target.Terminal() && fresh.Status != target {
			o.reportInconsistency(fresh, target)
		}
		return fresh, nil
	}

	o.recorder.IncBuildTransition(string(b.Status), string(target))
	slog.Info("Build status updated",
		logfields.BuildID(fresh.ID),
		logfields.ExternalBuildID(fresh.ExternalBuildID),
		"from", string(b.Status),
		logfields.Status(string(target)))
	o.publish(ctx, statusEvent(target), fresh, nil)

	if target.Terminal() {
		o.recorder.IncBuildOutcome(string(target))
		o.poller.Stop(fresh.ID)
	}
	if info.LogsURL != "" && target.Terminal() {
		o.startLogsTransfer(fresh, info.LogsURL)
	}
	if target == models.BuildSuccess && info.ArtifactURL != "" {
		o.startArtifactTransfer(fresh, info.ArtifactURL)
	}
	return fresh, nil
}

func (o *Orchestrator) reportInconsistency(b *models.Build, reported models.BuildStatus) {
	if !reported.Terminal() || reported == b.Status {
		slog.Debug("Ignoring provider report for finished build",
			logfields.BuildID(b.ID),
			logfields.Status(string(reported)))
		return
	}
	o.recorder.IncDataInconsistency()
	slog.Warn("Data inconsistency: provider contradicts terminal build status",
		logfields.BuildID(b.ID),
		logfields.ExternalBuildID(b.ExternalBuildID),
		"persisted", string(b.Status),
		"reported", string(reported))
}

// ApplyExternalStatus resolves a build by provider id and applies the
// report. found is false when no build carries the id; changed is true only
// when the report moved the build to another status.
func (o *Orchestrator) ApplyExternalStatus(ctx context.Context, info provider.BuildInfo) (found, changed bool, err error) {
	b, err := o.store.GetBuildByExternalID(ctx, info.ID)
	if errors.HasCategory(err, errors.CategoryNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	fresh, err := o.ApplyProviderStatus(ctx, b, info)
	if err != nil {
		return true, false, err
	}
	return true, fresh.Status != b.Status, nil
}

// ReconcileBuild applies a polled report to buildID and reports whether the
// build is now terminal.
func (o *Orchestrator) ReconcileBuild(ctx context.Context, buildID string, info provider.BuildInfo) (bool, error) {
	b, err := o.store.GetBuild(ctx, buildID)
	if err != nil {
		return false, err
	}
	fresh, err := o.ApplyProviderStatus(ctx, b, info)
	if err != nil {
		return false, err
	}
	return fresh.Status.Terminal(), nil
}

// CancelBuild cancels a build that has not finished. The remote build is
// cancelled best-effort; the local state change does not depend on it.
func (o *Orchestrator) CancelBuild(ctx context.Context, id string) (*models.Build, error) {
	b, err := o.store.GetBuild(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, invalidState(b, "cancel")
	}

	if b.ExternalBuildID != "" {
		o.cancelRemote(ctx, b.ID, b.ExternalBuildID)
	}

	changed, err := o.store.TransitionBuild(ctx, id, models.BuildCancelled, store.BuildMutation{At: o.now()})
	if err != nil {
		return nil, err
	}
	fresh, err := o.store.GetBuild(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidState(fresh, "cancel")
	}
	// A worker may have started the remote build between the read above and
	// the transition.
	if b.ExternalBuildID == "" && fresh.ExternalBuildID != "" {
		o.cancelRemote(ctx, id, fresh.ExternalBuildID)
	}

	o.poller.Stop(id)
	o.recorder.IncBuildTransition(string(b.Status), string(models.BuildCancelled))
	o.recorder.IncBuildOutcome(string(models.BuildCancelled))
	slog.Info("Build cancelled", logfields.BuildID(id))
	o.publish(ctx, statusEvent(models.BuildCancelled), fresh, nil)
	return fresh, nil
}

func (o *Orchestrator) cancelRemote(ctx context.Context, buildID, externalBuildID string) {
	if err := o.provider.CancelBuild(ctx, externalBuildID); err != nil {
		slog.Warn("Best-effort remote cancel failed",
			logfields.BuildID(buildID),
			logfields.ExternalBuildID(externalBuildID),
			logfields.Error(err))
	}
}
