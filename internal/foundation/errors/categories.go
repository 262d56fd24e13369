package errors

import "net/http"

// ErrorCategory is the broad class of an error. It decides the HTTP status,
// the default severity and whether the operation is worth repeating.
type ErrorCategory string

const (
	// Caller errors: the request itself is wrong and repeating it cannot help.
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"
	CategoryState         ErrorCategory = "invalid_state" // transition not reachable from the persisted state

	// Dependency errors: the build provider, artifact storage or the network.
	CategoryNetwork  ErrorCategory = "network"
	CategoryProvider ErrorCategory = "provider"
	CategoryStorage  ErrorCategory = "storage"

	// Service errors.
	CategoryDatabase ErrorCategory = "database"
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity selects the log level an error is reported at.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy tells callers how to react to an error.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"   // permanent for this input
	RetryBackoff    RetryStrategy = "backoff" // transient, retry with backoff
	RetryUserAction RetryStrategy = "user"    // the caller must change something first
)

type categoryTraits struct {
	status   int
	severity ErrorSeverity
	retry    RetryStrategy
}

var traitsByCategory = map[ErrorCategory]categoryTraits{
	CategoryConfig:        {http.StatusBadRequest, SeverityFatal, RetryUserAction},
	CategoryValidation:    {http.StatusBadRequest, SeverityWarning, RetryUserAction},
	CategoryAuth:          {http.StatusUnauthorized, SeverityWarning, RetryUserAction},
	CategoryNotFound:      {http.StatusNotFound, SeverityInfo, RetryNever},
	CategoryAlreadyExists: {http.StatusConflict, SeverityInfo, RetryNever},
	CategoryState:         {http.StatusConflict, SeverityWarning, RetryNever},
	CategoryNetwork:       {http.StatusBadGateway, SeverityError, RetryBackoff},
	CategoryProvider:      {http.StatusServiceUnavailable, SeverityError, RetryBackoff},
	CategoryStorage:       {http.StatusBadGateway, SeverityError, RetryBackoff},
	CategoryDatabase:      {http.StatusInternalServerError, SeverityError, RetryNever},
	CategoryRuntime:       {http.StatusServiceUnavailable, SeverityFatal, RetryNever},
	CategoryInternal:      {http.StatusInternalServerError, SeverityFatal, RetryNever},
}

func (c ErrorCategory) traits() categoryTraits {
	if s, ok := traitsByCategory[c]; ok {
		return s
	}
	return traitsByCategory[CategoryInternal]
}

// HTTPStatus is the response status for errors of this category.
func (c ErrorCategory) HTTPStatus() int { return c.traits().status }

// CallerFault reports whether errors of this category are caused by the
// request rather than by a dependency or the service itself.
func (c ErrorCategory) CallerFault() bool {
	s := c.traits().status
	return s >= 400 && s < 500
}

// ErrorContext carries structured details that end up in logs and in the
// "details" field of API error responses.
type ErrorContext map[string]any

// Set adds or replaces a value, allocating the map on first use.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}
