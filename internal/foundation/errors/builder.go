package errors

// ErrorBuilder assembles a ClassifiedError.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of category with the category's default severity
// and retry strategy.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	s := category.traits()
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: s.severity,
		retry:    s.retry,
		message:  message,
	}}
}

// WrapError starts an error of category caused by err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

// WithSeverity overrides the severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

// WithRetry overrides the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.err.retry = strategy
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

// WithContext adds a detail.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

// Build returns the error. The builder may be reused; each Build gets its own context.
func (b *ErrorBuilder) Build() *ClassifiedError {
	out := b.err
	if len(b.err.context) > 0 {
		out.context = make(ErrorContext, len(b.err.context))
		for k, v := range b.err.context {
			out.context[k] = v
		}
	}
	return &out
}

// ConfigError reports an invalid service configuration.
func ConfigError(message string) *ErrorBuilder { return NewError(CategoryConfig, message) }

// ValidationError reports invalid caller input.
func ValidationError(message string) *ErrorBuilder { return NewError(CategoryValidation, message) }

// NotFoundError reports a missing build, project, channel or update.
func NotFoundError(message string) *ErrorBuilder { return NewError(CategoryNotFound, message) }

// AlreadyExistsError reports a uniqueness conflict.
func AlreadyExistsError(message string) *ErrorBuilder {
	return NewError(CategoryAlreadyExists, message)
}

// StateError reports a transition that is not reachable from the persisted state.
func StateError(message string) *ErrorBuilder { return NewError(CategoryState, message) }

// AuthError reports a failed signature, token or credential check.
func AuthError(message string) *ErrorBuilder { return NewError(CategoryAuth, message) }

// NetworkError reports a transport failure.
func NetworkError(message string) *ErrorBuilder { return NewError(CategoryNetwork, message) }

// ProviderError reports a failure of the external build provider.
func ProviderError(message string) *ErrorBuilder { return NewError(CategoryProvider, message) }

// StorageError reports a failure of artifact storage.
func StorageError(message string) *ErrorBuilder { return NewError(CategoryStorage, message) }

// DatabaseError reports a failure of the persisted state store.
func DatabaseError(message string) *ErrorBuilder { return NewError(CategoryDatabase, message) }

// RuntimeError reports that the service cannot currently do the work.
func RuntimeError(message string) *ErrorBuilder { return NewError(CategoryRuntime, message) }

// InternalError reports a bug.
func InternalError(message string) *ErrorBuilder { return NewError(CategoryInternal, message) }
