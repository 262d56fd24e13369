package store

import (
	"strings"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
)

var (
	ErrBuildNotFound   = foundationerrors.NotFoundError("build not found").Build()
	ErrProjectNotFound = foundationerrors.NotFoundError("project not found").Build()
	ErrChannelNotFound = foundationerrors.NotFoundError("channel not found").Build()
	ErrUpdateNotFound  = foundationerrors.NotFoundError("update not found").Build()

	ErrChannelExists = foundationerrors.AlreadyExistsError("channel name already used in project").Build()
	ErrProjectExists = foundationerrors.AlreadyExistsError("project already exists").Build()

	// ErrNoPreviousVersion means a rollback found no earlier update to reactivate.
	ErrNoPreviousVersion = foundationerrors.NotFoundError("no previous version to roll back to").Build()
	// ErrNotRollbackable means the update is not active or does not allow rollback.
	ErrNotRollbackable = foundationerrors.StateError("update cannot be rolled back").Build()
	// ErrRolloutDecrease means a rollout percentage change would lower exposure.
	ErrRolloutDecrease = foundationerrors.StateError("rollout percentage can only increase").Build()
	// ErrUpdateNotActive means a rollout change targeted an archived or rolled back update.
	ErrUpdateNotActive = foundationerrors.StateError("update is not active").Build()
)

func dbError(op string, err error) error {
	return foundationerrors.WrapError(err, foundationerrors.CategoryDatabase, op).Build()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
