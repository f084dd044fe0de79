package manager

import (
	"errors"
	"net/http"
)

// modelNotFoundError signals a model id absent from the local cache.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string {
	return "Model not found: " + e.id + ". Please download it first."
}
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound returns an error for a model id missing from the cache.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// conflictError signals an operation refused because of current state,
// e.g. deleting the selected model without force.
type conflictError struct{ msg string }

func (e conflictError) Error() string   { return e.msg }
func (e conflictError) StatusCode() int { return http.StatusBadRequest }

// IsConflict reports whether err is a conflict (400).
func IsConflict(err error) bool {
	var e conflictError
	return errors.As(err, &e)
}

// invalidArgumentError signals a malformed request parameter.
type invalidArgumentError struct{ msg string }

func (e invalidArgumentError) Error() string   { return e.msg }
func (e invalidArgumentError) StatusCode() int { return http.StatusBadRequest }

// IsInvalidArgument reports whether err is a bad parameter (400).
func IsInvalidArgument(err error) bool {
	var e invalidArgumentError
	return errors.As(err, &e)
}

// orchestrationError wraps a container supervisor failure. The persisted
// selection is not rolled back.
type orchestrationError struct{ err error }

func (e orchestrationError) Error() string   { return "Failed to switch model: " + e.err.Error() }
func (e orchestrationError) Unwrap() error   { return e.err }
func (e orchestrationError) StatusCode() int { return http.StatusInternalServerError }

// IsOrchestration reports whether err is a fatal orchestration failure.
func IsOrchestration(err error) bool {
	var e orchestrationError
	return errors.As(err, &e)
}

// storeError wraps a failure to read or write the selection store.
type storeError struct{ err error }

func (e storeError) Error() string   { return "Failed to persist model selection: " + e.err.Error() }
func (e storeError) Unwrap() error   { return e.err }
func (e storeError) StatusCode() int { return http.StatusInternalServerError }

// IsStoreFailure reports whether err comes from the selection store.
func IsStoreFailure(err error) bool {
	var e storeError
	return errors.As(err, &e)
}

// downloadUnavailableError signals that no artifact source is configured.
type downloadUnavailableError struct{ msg string }

func (e downloadUnavailableError) Error() string   { return e.msg }
func (e downloadUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// IsDownloadUnavailable reports whether automated downloads are unavailable.
func IsDownloadUnavailable(err error) bool {
	var e downloadUnavailableError
	return errors.As(err, &e)
}
