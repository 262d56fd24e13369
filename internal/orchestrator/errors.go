package orchestrator

import (
	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/validation"
)

const contextKeyDiagnostics = "errors"

// ErrValidationFailed matches any pre-build validation failure via errors.Is.
var ErrValidationFailed = errors.ValidationError("validation failed").Build()

// ErrInvalidState matches attempts to act on a build in a terminal state.
var ErrInvalidState = errors.StateError("build is in a terminal state").Build()

func validationFailed(res *validation.Result) error {
	return errors.ValidationError(ErrValidationFailed.Message()).
		WithContext("tier", res.Tier).
		WithContext(contextKeyDiagnostics, res.Errors).
		Build()
}

func invalidState(b *models.Build, action string) error {
	return errors.StateError(ErrInvalidState.Message()).
		WithContext("build_id", b.ID).
		WithContext("status", string(b.Status)).
		WithContext("action", action).
		Build()
}

func invalidRequest(message, field string) error {
	return errors.ValidationError(message).WithContext("field", field).Build()
}

// Diagnostics returns the structured validation errors carried by a
// ValidationFailed error.
func Diagnostics(err error) []validation.Diagnostic {
	c, ok := errors.AsClassified(err)
	if !ok {
		return nil
	}
	v := c.Context()[contextKeyDiagnostics]
	ds, _ := v.([]validation.Diagnostic)
	return ds
}
