// Package ota manages release channels and the staged rollout of
// over-the-air content updates.
package ota

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/metrics"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/store"
)

// Repository is the slice of the state store the manager uses.
type Repository interface {
	store.ChannelRepository
	store.UpdateRepository
}

// ProjectResolver maps a project to its provider-side id.
type ProjectResolver interface {
	EnsureProviderProject(ctx context.Context, projectID string) (string, error)
}

// Deps are the collaborators of a Manager. Provider must already be guarded.
type Deps struct {
	Store    Repository
	Provider provider.Client
	Projects ProjectResolver
	Notifier notify.Publisher
	Recorder metrics.Recorder
	Config   config.OTAConfig
}

// Manager owns channel and update lifecycles.
type Manager struct {
	store    Repository
	provider provider.Client
	projects ProjectResolver
	notifier notify.Publisher
	recorder metrics.Recorder
	cfg      config.OTAConfig
	now      func() time.Time
}

// New creates a release manager.
func New(d Deps) *Manager {
	if d.Store == nil || d.Provider == nil || d.Projects == nil {
		panic("ota.New: store, provider and projects are required")
	}
	cfg := d.Config
	if cfg.TopErrors <= 0 {
		cfg.TopErrors = 10
	}
	return &Manager{
		store:    d.Store,
		provider: d.Provider,
		projects: d.Projects,
		notifier: notify.OrNoop(d.Notifier),
		recorder: metrics.OrNoop(d.Recorder),
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateChannelRequest describes a new channel. BranchRef defaults to the name.
type CreateChannelRequest struct {
	ProjectID      string `json:"projectId"`
	Name           string `json:"name"`
	IsDefault      bool   `json:"isDefault"`
	RuntimeVersion string `json:"runtimeVersion,omitempty"`
	BranchRef      string `json:"branchRef,omitempty"`
}

// CreateChannel registers a release channel for a project.
func (m *Manager) CreateChannel(ctx context.Context, req CreateChannelRequest) (*models.Channel, error) {
	name := strings.TrimSpace(req.Name)
	if req.ProjectID == "" {
		return nil, invalid("projectId is required", "projectId")
	}
	if name == "" {
		return nil, invalid("name is required", "name")
	}
	branch := strings.TrimSpace(req.BranchRef)
	if branch == "" {
		branch = name
	}
	c := &models.Channel{
		ProjectID:      req.ProjectID,
		Name:           name,
		IsDefault:      req.IsDefault,
		RuntimeVersion: strings.TrimSpace(req.RuntimeVersion),
		BranchRef:      branch,
	}
	if err := m.store.CreateChannel(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("Channel created",
		logfields.ChannelID(c.ID),
		logfields.ProjectID(c.ProjectID),
		slog.String("name", c.Name),
		slog.Bool("default", c.IsDefault))
	return c, nil
}

// GetChannel returns a channel by id.
func (m *Manager) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return m.store.GetChannel(ctx, id)
}

// ListChannels returns the channels of a project.
func (m *Manager) ListChannels(ctx context.Context, projectID string) ([]*models.Channel, error) {
	return m.store.ListChannels(ctx, projectID)
}

// DeleteChannel removes a channel together with its updates.
func (m *Manager) DeleteChannel(ctx context.Context, id string) error {
	if err := m.store.DeleteChannel(ctx, id); err != nil {
		return err
	}
	slog.Info("Channel deleted", logfields.ChannelID(id))
	return nil
}

// SetDefaultChannel makes channelID the project's only default channel.
func (m *Manager) SetDefaultChannel(ctx context.Context, projectID, channelID string) error {
	return m.store.SetDefaultChannel(ctx, projectID, channelID)
}

// PublishRequest describes an update to publish. A RolloutPercent of 0 means
// a full rollout.
type PublishRequest struct {
	ChannelID      string          `json:"channelId"`
	Message        string          `json:"message"`
	ChangeType     string          `json:"changeType"`
	Platform       models.Platform `json:"platform"`
	RolloutPercent int             `json:"rolloutPercent"`
}

// PublishUpdate pushes content to the channel's branch and records the update
// with the next channel version. A full rollout archives the previously active
// updates in the same transaction.
func (m *Manager) PublishUpdate(ctx context.Context, req PublishRequest) (*models.OTAUpdate, error) {
	if req.ChannelID == "" {
		return nil, invalid("channelId is required", "channelId")
	}
	if req.Platform == "" {
		req.Platform = models.PlatformAll
	}
	if !req.Platform.ValidForUpdate() {
		return nil, invalid("platform must be ios, android or all", "platform")
	}
	if req.RolloutPercent < 0 || req.RolloutPercent > 100 {
		return nil, invalid("rolloutPercent must be between 0 and 100", "rolloutPercent")
	}
	if req.RolloutPercent == 0 {
		req.RolloutPercent = 100
	}

	channel, err := m.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	runtimeVersion := channel.RuntimeVersion
	if runtimeVersion == "" {
		runtimeVersion = m.cfg.DefaultRuntimeVersion
	}
	if runtimeVersion == "" {
		return nil, errors.ValidationError("channel has no runtime version and no default is configured").
			WithContext("channelId", channel.ID).
			Build()
	}

	providerProjectID, err := m.projects.EnsureProviderProject(ctx, channel.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := m.provider.EnsureBranch(ctx, providerProjectID, channel.BranchRef, runtimeVersion); err != nil {
		return nil, err
	}
	published, err := m.provider.PublishUpdate(ctx, provider.PublishUpdateRequest{
		ProviderProjectID: providerProjectID,
		Branch:            channel.BranchRef,
		RuntimeVersion:    runtimeVersion,
		Platform:          req.Platform,
		Message:           req.Message,
		RolloutPercent:    req.RolloutPercent,
	})
	if err != nil {
		return nil, err
	}

	u := &models.OTAUpdate{
		ChannelID:        channel.ID,
		ExternalUpdateID: published.ID,
		GroupID:          published.GroupID,
		ManifestURL:      published.ManifestURL,
		RuntimeVersion:   runtimeVersion,
		Platform:         req.Platform,
		Message:          req.Message,
		ChangeType:       req.ChangeType,
		RolloutPercent:   req.RolloutPercent,
		CanRollback:      true,
		PublishedAt:      m.now().UTC(),
	}
	if err := m.store.InsertUpdate(ctx, u); err != nil {
		// The provider already serves the content; the record is what failed.
		slog.Error("Published update could not be recorded",
			logfields.ChannelID(channel.ID),
			slog.String("external_update_id", published.ID),
			logfields.Error(err))
		return nil, err
	}

	slog.Info("Update published",
		logfields.UpdateID(u.ID),
		logfields.ChannelID(u.ChannelID),
		slog.Int("version", u.Version),
		slog.Int("rollout_percent", u.RolloutPercent))
	m.recorder.IncOTAEvent("published")
	m.publish(ctx, notify.UpdatePublished, channel.ProjectID, u)
	return u, nil
}

// GetUpdate returns an update by id.
func (m *Manager) GetUpdate(ctx context.Context, id string) (*models.OTAUpdate, error) {
	return m.store.GetUpdate(ctx, id)
}

// ListUpdates returns a channel's updates, newest first.
func (m *Manager) ListUpdates(ctx context.Context, channelID string) ([]*models.OTAUpdate, error) {
	if _, err := m.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return m.store.ListUpdates(ctx, channelID)
}

// SetRolloutPercent widens the rollout of an active update. Reaching 100 is a
// promotion that archives the channel's other active updates.
func (m *Manager) SetRolloutPercent(ctx context.Context, updateID string, percent int) (*models.OTAUpdate, error) {
	if percent < 1 || percent > 100 {
		return nil, invalid("rolloutPercent must be between 1 and 100", "rolloutPercent")
	}
	before, err := m.store.GetUpdate(ctx, updateID)
	if err != nil {
		return nil, err
	}
	u, err := m.store.SetRolloutPercent(ctx, updateID, percent)
	if err != nil {
		return nil, err
	}
	slog.Info("Update rollout changed",
		logfields.UpdateID(u.ID),
		slog.Int("from", before.RolloutPercent),
		slog.Int("to", u.RolloutPercent))
	if before.RolloutPercent < 100 && u.RolloutPercent == 100 {
		m.recorder.IncOTAEvent("promoted")
		m.publish(ctx, notify.UpdatePromoted, "", u)
	}
	return u, nil
}

// RollbackUpdate retires updateID and reactivates targetID, or the nearest
// earlier version when targetID is empty. Both records change atomically.
func (m *Manager) RollbackUpdate(ctx context.Context, updateID, targetID string) (source, target *models.OTAUpdate, err error) {
	source, target, err = m.store.Rollback(ctx, updateID, targetID)
	if err != nil {
		return nil, nil, err
	}
	slog.Warn("Update rolled back",
		logfields.UpdateID(source.ID),
		logfields.ChannelID(source.ChannelID),
		slog.String("rolled_back_to", target.ID),
		slog.Int("target_version", target.Version))
	m.recorder.IncOTAEvent("rolled_back")
	m.publish(ctx, notify.UpdateRolledBack, "", source)
	return source, target, nil
}

func (m *Manager) publish(ctx context.Context, eventType, projectID string, u *models.OTAUpdate) {
	ev := notify.Event{
		Type:      eventType,
		ProjectID: projectID,
		ChannelID: u.ChannelID,
		UpdateID:  u.ID,
		Status:    string(u.Status),
		Data:      map[string]string{"rolloutPercent": strconv.Itoa(u.RolloutPercent)},
		At:        m.now().UTC(),
	}
	if u.RolledBackTo != "" {
		ev.Data["rolledBackTo"] = u.RolledBackTo
	}
	if err := m.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish lifecycle event",
			"event", eventType,
			logfields.UpdateID(u.ID),
			logfields.Error(err))
	}
}

func invalid(msg, field string) error {
	return errors.ValidationError(msg).WithContext("field", field).Build()
}
