// Package errors defines the error taxonomy shared by the meeting digest
// packages.
//
// Sentinels are matched with errors.Is through the helpers below, so callers
// can wrap them freely:
//
//	import dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
//
//	return fmt.Errorf("meeting %s: %w", id, dgerrors.ErrNoFilesUploaded)
//
//	if dgerrors.IsNoFilesUploaded(err) {
//	    // precondition failure
//	}
package errors

import (
	"errors"
	"net/http"
)

// Generic domain errors.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// Processing errors.
var (
	// ErrUnauthorized means there is no verified caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFoundOrForbidden covers both a missing meeting and one owned by
	// somebody else. The two cases are never distinguished to callers.
	ErrNotFoundOrForbidden = errors.New("meeting not found or access denied")

	// ErrNoFilesUploaded means the meeting has nothing to process.
	ErrNoFilesUploaded = errors.New("no files uploaded for this meeting")

	// ErrUnsupportedMediaType means the first file is not a plain-text transcript.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrAIUnavailable means no AI provider credential is configured.
	ErrAIUnavailable = errors.New("AI provider not configured")

	// ErrInvalidAIResponse means model output failed JSON parsing or schema validation.
	ErrInvalidAIResponse = errors.New("invalid AI response")

	// ErrUpstreamRateLimited means both the primary and fallback model were rate limited.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrPersistence wraps any storage failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrProcessingInProgress means another run holds the meeting's lock.
	ErrProcessingInProgress = errors.New("meeting is already being processed")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFoundOrForbidden reports whether any error in err's chain is ErrNotFoundOrForbidden.
func IsNotFoundOrForbidden(err error) bool {
	return errors.Is(err, ErrNotFoundOrForbidden)
}

// IsNoFilesUploaded reports whether any error in err's chain is ErrNoFilesUploaded.
func IsNoFilesUploaded(err error) bool {
	return errors.Is(err, ErrNoFilesUploaded)
}

// IsUnsupportedMediaType reports whether any error in err's chain is ErrUnsupportedMediaType.
func IsUnsupportedMediaType(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType)
}

// IsAIUnavailable reports whether any error in err's chain is ErrAIUnavailable.
func IsAIUnavailable(err error) bool {
	return errors.Is(err, ErrAIUnavailable)
}

// IsInvalidAIResponse reports whether any error in err's chain is ErrInvalidAIResponse.
func IsInvalidAIResponse(err error) bool {
	return errors.Is(err, ErrInvalidAIResponse)
}

// IsUpstreamRateLimited reports whether any error in err's chain is ErrUpstreamRateLimited.
func IsUpstreamRateLimited(err error) bool {
	return errors.Is(err, ErrUpstreamRateLimited)
}

// IsPersistence reports whether any error in err's chain is ErrPersistence.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsProcessingInProgress reports whether any error in err's chain is ErrProcessingInProgress.
func IsProcessingInProgress(err error) bool {
	return errors.Is(err, ErrProcessingInProgress)
}

// IsPrecondition reports whether err is one of the failures that end a run
// before any AI call is made.
func IsPrecondition(err error) bool {
	return IsNotFoundOrForbidden(err) ||
		IsNoFilesUploaded(err) ||
		IsUnsupportedMediaType(err) ||
		IsProcessingInProgress(err)
}

// HTTPStatus maps an error to the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsNotFoundOrForbidden(err), IsNotFound(err):
		return http.StatusNotFound
	case IsProcessingInProgress(err):
		return http.StatusConflict
	case IsUnsupportedMediaType(err):
		return http.StatusUnsupportedMediaType
	case IsNoFilesUploaded(err), IsValidation(err), IsInvalidState(err):
		return http.StatusUnprocessableEntity
	case IsUpstreamRateLimited(err):
		return http.StatusTooManyRequests
	case IsInvalidAIResponse(err):
		return http.StatusBadGateway
	case IsAIUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
