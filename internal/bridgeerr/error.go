// Package bridgeerr defines the bridge's error taxonomy and the mapping from
// error kind to HTTP status code.
package bridgeerr

import (
	"fmt"
	"net/http"
)

// Kind classifies an Error for the purpose of HTTP status mapping and logging.
type Kind int

const (
	// Internal is the catch-all kind for unexpected failures.
	Internal Kind = iota
	// ParseError covers malformed JSON, bad URLs, missing fields, and
	// webfinger resource format errors.
	ParseError
	// NotFound covers entities that are not present and not fetchable.
	NotFound
	// SignatureInvalid covers HTTP signature verification failures.
	SignatureInvalid
	// ResolveFailed covers remote fetch failures (network, non-2xx, parse).
	ResolveFailed
	// AlreadyFollowing covers a duplicate follow request for a pair that
	// already has a FollowRelation row.
	AlreadyFollowing
	// DatabaseError covers constraint violations and connection failures.
	DatabaseError
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "parse_error"
	case NotFound:
		return "not_found"
	case SignatureInvalid:
		return "signature_invalid"
	case ResolveFailed:
		return "resolve_failed"
	case AlreadyFollowing:
		return "already_following"
	case DatabaseError:
		return "database_error"
	default:
		return "internal"
	}
}

// StatusCode returns the HTTP status code a handler should respond with for
// this error kind, per spec.md §7.
func (k Kind) StatusCode() int {
	switch k {
	case ParseError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case SignatureInvalid:
		return http.StatusUnauthorized
	case ResolveFailed:
		return http.StatusInternalServerError
	case AlreadyFollowing:
		return http.StatusConflict
	case DatabaseError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the bridge's typed error value. It wraps an optional cause and
// carries a Kind so HTTP adapters can translate it to a status code without
// re-inspecting the error message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error. cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status code for this error.
func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

// Is lets errors.Is(err, bridgeerr.ErrAlreadyFollowing) style comparisons
// match any *Error of the same Kind, whatever its message or cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel errors for errors.Is comparisons against a specific kind, e.g.
// errors.Is(err, ErrAlreadyFollowing). ErrAlreadyFollowing carries the
// duplicate-follow diagnostic as its message; the others have none.
var (
	ErrNotFound         = &Error{Kind: NotFound}
	ErrAlreadyFollowing = &Error{Kind: AlreadyFollowing, Message: "User is already follow requesting / following the followee"}
	ErrSignatureInvalid = &Error{Kind: SignatureInvalid}
)
