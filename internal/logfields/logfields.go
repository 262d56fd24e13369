package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID           = "job_id"
	KeyJobPriority     = "job_priority"
	KeyJobStatus       = "job_status"
	KeyAttempt         = "attempt"
	KeyBuildID         = "build_id"
	KeyExternalBuildID = "external_build_id"
	KeyProjectID       = "project_id"
	KeyPlatform        = "platform"
	KeyProfile         = "profile"
	KeyStatus          = "status"
	KeyChannelID       = "channel_id"
	KeyUpdateID        = "update_id"
	KeyStage           = "stage"
	KeyDependency      = "dependency"
	KeyDurationMS      = "duration_ms"
	KeyError           = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr           { return slog.String(KeyJobID, id) }
func JobPriority(p int) slog.Attr         { return slog.Int(KeyJobPriority, p) }
func JobStatus(s string) slog.Attr        { return slog.String(KeyJobStatus, s) }
func Attempt(n int) slog.Attr             { return slog.Int(KeyAttempt, n) }
func BuildID(id string) slog.Attr         { return slog.String(KeyBuildID, id) }
func ExternalBuildID(id string) slog.Attr { return slog.String(KeyExternalBuildID, id) }
func ProjectID(id string) slog.Attr       { return slog.String(KeyProjectID, id) }
func Platform(p string) slog.Attr         { return slog.String(KeyPlatform, p) }
func Profile(p string) slog.Attr          { return slog.String(KeyProfile, p) }
func Status(s string) slog.Attr           { return slog.String(KeyStatus, s) }
func ChannelID(id string) slog.Attr       { return slog.String(KeyChannelID, id) }
func UpdateID(id string) slog.Attr        { return slog.String(KeyUpdateID, id) }
func Stage(name string) slog.Attr         { return slog.String(KeyStage, name) }
func Dependency(name string) slog.Attr    { return slog.String(KeyDependency, name) }
func DurationMS(ms float64) slog.Attr     { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
