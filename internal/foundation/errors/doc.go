// Package errors provides the classified error type used across shipwright.
//
// A ClassifiedError carries a category plus structured context. The category
// table decides the HTTP status and the default retry strategy, so the API
// layer and the queue agree on what is a caller mistake and what is transient.
//
//	err := errors.NotFoundError("build not found").
//		WithContext("build_id", id).
//		Build()
//
//	if errors.HasCategory(err, errors.CategoryNotFound) {
//		...
//	}
package errors
