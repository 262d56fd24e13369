package provider

import (
	"log/slog"

	"git.home.luguber.info/inful/shipwright/internal/logfields"
	"git.home.luguber.info/inful/shipwright/internal/models"
)

var statusMap = map[Status]models.BuildStatus{
	StatusInQueue:    models.BuildQueued,
	StatusInProgress: models.BuildBuilding,
	StatusFinished:   models.BuildSuccess,
	StatusErrored:    models.BuildFailed,
	StatusCanceled:   models.BuildCancelled,
}

// MapStatus translates a provider status into a build status. Unknown values
// are logged and reported with ok=false; callers leave the build unchanged.
func MapStatus(s Status) (models.BuildStatus, bool) {
	mapped, ok := statusMap[s]
	if !ok {
		slog.Warn("Unknown provider build status", logfields.Status(string(s)))
	}
	return mapped, ok
}
