// Package errors provides common domain error types for the recapd service.
//
// This package defines sentinel errors for the failure taxonomy used across
// the meeting lifecycle: authentication failures, validation failures, silent
// not-found skips, and upstream errors. Using typed errors enables consistent
// handling with errors.Is() checks and a single HTTP status mapping at the
// server boundary.
//
// Usage:
//
//	import rcerrors "github.com/recapworks/recapd/pkg/errors"
//
//	// Return a domain error
//	return nil, rcerrors.ErrNotFound
//
//	// Check for domain errors
//	if rcerrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found. Lookup
	// misses during asynchronous event delivery are treated as skips, not
	// hard failures.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input, such as an unrecognized
	// meeting URL or a missing required field.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates the request lacks a valid signature,
	// callback secret, or bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a conflict with existing data (e.g., a meeting
	// already tracked for the same user, platform, and external id).
	ErrConflict = errors.New("conflict")

	// ErrInvalidState indicates the operation is not valid for the
	// meeting's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrUpstream indicates a dependency call failed (task launch, token
	// refresh, recording download, mail delivery).
	ErrUpstream = errors.New("upstream failure")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUpstream reports whether any error in err's chain is ErrUpstream.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}
