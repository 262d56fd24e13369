package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
	"git.home.luguber.info/inful/shipwright/internal/resilience"
	"git.home.luguber.info/inful/shipwright/internal/storage"
)

// ArtifactKey is the storage key of a build's binary.
func ArtifactKey(b *models.Build, sourceURL string) string {
	ext := ""
	if u, err := url.Parse(sourceURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" {
		ext = ".ipa"
		if b.Platform == models.PlatformAndroid {
			ext = ".aab"
		}
	}
	return fmt.Sprintf("builds/%s/%s/%d/%s%s", b.ProjectID, b.Platform, b.Version, b.ID, ext)
}

// LogsKey is the storage key of a build's provider logs.
func LogsKey(b *models.Build) string {
	return fmt.Sprintf("builds/%s/%s/%d/%s.log", b.ProjectID, b.Platform, b.Version, b.ID)
}

func (o *Orchestrator) startArtifactTransfer(b *models.Build, sourceURL string) {
	if o.artifacts == nil {
		return
	}
	snapshot := *b
	b = &snapshot
	started := o.transfers.Go(func() {
		ctx, cancel := context.WithTimeout(o.bgCtx, o.transferTTL)
		defer cancel()
		o.transferArtifact(ctx, b, sourceURL)
	})
	if !started {
		slog.Warn("Shutting down, artifact transfer skipped", logfields.BuildID(b.ID))
	}
}

// transferArtifact copies the provider artifact into storage. The build stays
// successful when this fails; it just has no artifact reference.
func (o *Orchestrator) transferArtifact(ctx context.Context, b *models.Build, sourceURL string) {
	key := ArtifactKey(b, sourceURL)
	art, err := o.copyToStorage(ctx, sourceURL, key, storage.Metadata{
		ContentType: "application/octet-stream",
		Custom: map[string]string{
			"build_id":   b.ID,
			"project_id": b.ProjectID,
			"platform":   string(b.Platform),
		},
	})
	if err == nil {
		err = o.store.SetArtifactRef(ctx, b.ID, key)
	}
	o.recorder.IncArtifactTransfer(err == nil)
	if err != nil {
		slog.Error("Artifact transfer failed",
			logfields.BuildID(b.ID),
			"key", key,
			logfields.Error(err))
		return
	}
	slog.Info("Artifact stored",
		logfields.BuildID(b.ID),
		"key", key,
		"size", art.Size,
		"hash", art.Hash)
	b.ArtifactRef = key
	o.publish(ctx, notify.ArtifactStored, b, map[string]string{"key": key, "hash": art.Hash})
}

func (o *Orchestrator) startLogsTransfer(b *models.Build, sourceURL string) {
	if o.artifacts == nil {
		return
	}
	snapshot := *b
	b = &snapshot
	o.transfers.Go(func() {
		ctx, cancel := context.WithTimeout(o.bgCtx, o.transferTTL)
		defer cancel()
		key := LogsKey(b)
		_, err := o.copyToStorage(ctx, sourceURL, key, storage.Metadata{ContentType: "text/plain; charset=utf-8"})
		if err == nil {
			err = o.store.SetLogsRef(ctx, b.ID, key)
		}
		if err != nil {
			slog.Warn("Build logs transfer failed", logfields.BuildID(b.ID), logfields.Error(err))
			return
		}
		slog.Debug("Build logs stored", logfields.BuildID(b.ID), "key", key)
	})
}

// copyToStorage spools the download to a temp file so a retried upload can
// start over from the beginning.
func (o *Orchestrator) copyToStorage(ctx context.Context, sourceURL, key string, meta storage.Metadata) (*storage.Artifact, error) {
	body, err := o.provider.DownloadArtifact(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "shipwright-transfer-*")
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	_, err = io.Copy(tmp, body)
	_ = body.Close()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}

	upload := func(ctx context.Context) (*storage.Artifact, error) {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return o.artifacts.Upload(ctx, key, tmp, meta)
	}
	if o.storageGuard == nil {
		return upload(ctx)
	}
	return resilience.Call(ctx, o.storageGuard, "upload_artifact", upload)
}
