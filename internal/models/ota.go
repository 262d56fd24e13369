package models

import "time"

// Channel is a named OTA release stream of a project.
type Channel struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	Name           string    `json:"name"`
	IsDefault      bool      `json:"isDefault"`
	RuntimeVersion string    `json:"runtimeVersion,omitempty"`
	BranchRef      string    `json:"branchRef"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UpdateStatus is the lifecycle state of an OTA update.
type UpdateStatus string

const (
	UpdateActive     UpdateStatus = "active"
	UpdateArchived   UpdateStatus = "archived"
	UpdateRolledBack UpdateStatus = "rolled_back"
)

// OTAUpdate is a published over-the-air content update.
type OTAUpdate struct {
	ID               string       `json:"id"`
	ChannelID        string       `json:"channelId"`
	Version          int          `json:"version"`
	ExternalUpdateID string       `json:"externalUpdateId"`
	GroupID          string       `json:"groupId"`
	ManifestURL      string       `json:"manifestUrl"`
	RuntimeVersion   string       `json:"runtimeVersion"`
	Platform         Platform     `json:"platform"`
	Message          string       `json:"message"`
	ChangeType       string       `json:"changeType"`
	Status           UpdateStatus `json:"status"`
	RolloutPercent   int          `json:"rolloutPercent"`
	DownloadCount    int64        `json:"downloadCount"`
	ErrorCount       int64        `json:"errorCount"`
	CanRollback      bool         `json:"canRollback"`
	RolledBackTo     string       `json:"rolledBackTo,omitempty"`
	PublishedAt      time.Time    `json:"publishedAt"`
}

// AppliesTo reports whether the update targets platform p.
func (u *OTAUpdate) AppliesTo(p Platform) bool {
	return u.Platform == PlatformAll || u.Platform == p
}

// EventType classifies a device-reported update event.
type EventType string

const (
	EventDownload EventType = "download"
	EventApply    EventType = "apply"
	EventError    EventType = "error"
	EventRollback EventType = "rollback"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventDownload, EventApply, EventError, EventRollback:
		return true
	}
	return false
}

// UpdateEvent is an append-only device report.
type UpdateEvent struct {
	ID         string    `json:"id"`
	UpdateID   string    `json:"updateId"`
	EventType  EventType `json:"eventType"`
	Platform   Platform  `json:"platform"`
	AppVersion string    `json:"appVersion"`
	DeviceID   string    `json:"deviceId,omitempty"`
	DurationMS *int64    `json:"durationMs,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UpdateMetric is the daily aggregate for (update, platform, appVersion, date).
type UpdateMetric struct {
	UpdateID      string    `json:"updateId"`
	Platform      Platform  `json:"platform"`
	AppVersion    string    `json:"appVersion"`
	Date          string    `json:"date"` // YYYY-MM-DD, UTC
	Downloads     int64     `json:"downloads"`
	SuccessCount  int64     `json:"successCount"`
	FailureCount  int64     `json:"failureCount"`
	RollbackCount int64     `json:"rollbackCount"`
	AvgDownloadMS float64   `json:"avgDownloadMs"`
	AvgApplyMS    float64   `json:"avgApplyMs"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ErrorFrequency is an error message with its occurrence count.
type ErrorFrequency struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}
