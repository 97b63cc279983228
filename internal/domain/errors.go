package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed set of failure categories surfaced to callers.
// Transport layers map kinds to status codes; error identity never depends
// on message text.
type ErrorKind string

const (
	// KindAuthenticationRequired means no caller could be identified.
	KindAuthenticationRequired ErrorKind = "authentication_required"

	// KindAccessDenied means the account tier is too low for the model.
	KindAccessDenied ErrorKind = "access_denied"

	// KindNoCredits means the account balance is zero or below.
	KindNoCredits ErrorKind = "no_credits"

	// KindInsufficientCredits means the balance cannot cover a charge.
	KindInsufficientCredits ErrorKind = "insufficient_credits"

	// KindRateLimited means the per-account request window was exceeded.
	KindRateLimited ErrorKind = "rate_limited"

	// KindUpstreamError wraps a provider call failure.
	KindUpstreamError ErrorKind = "upstream_error"

	// KindInvalidPackage means an unrecognized credit package key.
	KindInvalidPackage ErrorKind = "invalid_package"

	// KindInvalidRequest means the request failed input validation.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindUnauthorized means an admin-only operation by a non-admin.
	KindUnauthorized ErrorKind = "unauthorized"

	// KindNotFound means a referenced entity does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInternal is anything unexpected.
	KindInternal ErrorKind = "internal_error"
)

// Error is a tagged domain error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a tagged error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: nil}
}

// Ef constructs a tagged error with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: nil}
}

// WrapErr tags an underlying error with a kind and message.
func WrapErr(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// ErrCacheMiss indicates no cached entry was found. Cache adapters return it
// so callers can distinguish a miss from a store outage.
var ErrCacheMiss = errors.New("cache miss")
