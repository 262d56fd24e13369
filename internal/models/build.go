// Package models defines the persisted domain records.
package models

import "time"

// Platform is a mobile target platform.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformAll     Platform = "all" // OTA updates only
)

// Valid reports whether p is a build platform (ios or android).
func (p Platform) Valid() bool { return p == PlatformIOS || p == PlatformAndroid }

// ValidForUpdate reports whether p may be used for an OTA update.
func (p Platform) ValidForUpdate() bool { return p.Valid() || p == PlatformAll }

// Profile is a build profile. Its order determines queue priority.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfilePreview     Profile = "preview"
	ProfileProduction  Profile = "production"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileDevelopment || p == ProfilePreview || p == ProfileProduction
}

// Priority returns the queue priority for the profile; higher runs first.
func (p Profile) Priority() int {
	switch p {
	case ProfileProduction:
		return 3
	case ProfilePreview:
		return 2
	default:
		return 1
	}
}

// BuildStatus is the lifecycle state of a Build.
type BuildStatus string

const (
	BuildQueued    BuildStatus = "queued"
	BuildBuilding  BuildStatus = "building"
	BuildSuccess   BuildStatus = "success"
	BuildFailed    BuildStatus = "failed"
	BuildCancelled BuildStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s BuildStatus) Terminal() bool {
	return s == BuildSuccess || s == BuildFailed || s == BuildCancelled
}

// Valid reports whether s is a known status.
func (s BuildStatus) Valid() bool {
	switch s {
	case BuildQueued, BuildBuilding, BuildSuccess, BuildFailed, BuildCancelled:
		return true
	}
	return false
}

// allowedFrom lists, for each target status, the statuses it may be reached from.
var allowedFrom = map[BuildStatus][]BuildStatus{
	BuildBuilding:  {BuildQueued},
	BuildSuccess:   {BuildBuilding},
	BuildFailed:    {BuildQueued, BuildBuilding},
	BuildCancelled: {BuildQueued, BuildBuilding},
}

// AllowedFrom returns the statuses from which to may be entered.
// Queued is never a transition target.
func AllowedFrom(to BuildStatus) []BuildStatus {
	return allowedFrom[to]
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to BuildStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Build is a single build request and its lifecycle.
type Build struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"projectId"`
	Platform        Platform    `json:"platform"`
	Version         int         `json:"version"`
	Profile         Profile     `json:"profile"`
	Status          BuildStatus `json:"status"`
	ExternalBuildID string      `json:"externalBuildId,omitempty"`
	ArtifactRef     string      `json:"artifactRef,omitempty"`
	LogsRef         string      `json:"logsRef,omitempty"`
	ErrorSummary    string      `json:"errorSummary,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	StartedAt       *time.Time  `json:"startedAt,omitempty"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// BuildFilter narrows ListBuilds. Zero fields match everything.
type BuildFilter struct {
	ProjectID string
	Platform  Platform
	Status    BuildStatus
	Limit     int
	Offset    int
}

// Project is a registered app the orchestrator can build.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Path              string    `json:"path"` // local source checkout used for validation
	ProviderProjectID string    `json:"providerProjectId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
