package ota

import (
	"context"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
)

// TrackEventRequest is a device report about an update.
type TrackEventRequest struct {
	UpdateID   string           `json:"updateId"`
	EventType  models.EventType `json:"eventType"`
	Platform   models.Platform  `json:"platform"`
	AppVersion string           `json:"appVersion"`
	DeviceID   string           `json:"deviceId,omitempty"`
	DurationMS *int64           `json:"durationMs,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// UpdateStatus is the diagnostic view of an update.
type UpdateStatus struct {
	Update    *models.OTAUpdate       `json:"update"`
	Metrics   []*models.UpdateMetric  `json:"metrics"`
	TopErrors []models.ErrorFrequency `json:"topErrors"`
}

// TrackEvent appends a device event and refreshes that day's aggregate.
// A failed aggregation is logged; the event itself is already stored.
func (m *Manager) TrackEvent(ctx context.Context, req TrackEventRequest) (*models.UpdateEvent, error) {
	if req.UpdateID == "" {
		return nil, invalid("updateId is required", "updateId")
	}
	if !req.EventType.Valid() {
		return nil, invalid("eventType must be download, apply, error or rollback", "eventType")
	}
	if !req.Platform.Valid() {
		return nil, invalid("platform must be ios or android", "platform")
	}
	if strings.TrimSpace(req.AppVersion) == "" {
		return nil, invalid("appVersion is required", "appVersion")
	}
	if req.DurationMS != nil && *req.DurationMS < 0 {
		return nil, invalid("durationMs must not be negative", "durationMs")
	}

	e := &models.UpdateEvent{
		UpdateID:   req.UpdateID,
		EventType:  req.EventType,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		DeviceID:   req.DeviceID,
		DurationMS: req.DurationMS,
		Error:      req.Error,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	m.recorder.IncOTAEvent(string(e.EventType))

	if _, err := m.store.RefreshDailyMetric(ctx, e.UpdateID, e.Platform, e.AppVersion, e.CreatedAt); err != nil {
		slog.Error("Failed to aggregate update metrics",
			logfields.UpdateID(e.UpdateID),
			logfields.Platform(string(e.Platform)),
			logfields.Error(err))
	}
	return e, nil
}

// GetUpdateMetrics returns the daily aggregates of an update.
func (m *Manager) GetUpdateMetrics(ctx context.Context, updateID string) ([]*models.UpdateMetric, error) {
	if _, err := m.store.GetUpdate(ctx, updateID); err != nil {
		return nil, err
	}
	return m.store.ListMetrics(ctx, updateID)
}

// GetUpdateStatus composes the update, its metrics and its most frequent errors.
func (m *Manager) GetUpdateStatus(ctx context.Context, updateID string) (*UpdateStatus, error) {
	u, err := m.store.GetUpdate(ctx, updateID)
	if err != nil {
		return nil, err
	}
	metricRows, err := m.store.ListMetrics(ctx, updateID)
	if err != nil {
		return nil, err
	}
	top, err := m.store.TopErrors(ctx, updateID, m.cfg.TopErrors)
	if err != nil {
		return nil, err
	}
	if metricRows == nil {
		metricRows = []*models.UpdateMetric{}
	}
	if top == nil {
		top = []models.ErrorFrequency{}
	}
	return &UpdateStatus{Update: u, Metrics: metricRows, TopErrors: top}, nil
}
