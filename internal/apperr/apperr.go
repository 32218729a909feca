// Package apperr classifies errors surfaced by the shuffle subsystem.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind is the category of a surfaced error.
type Kind string

const (
	// Configuration means provider credentials or settings are missing. Fatal before work starts.
	Configuration Kind = "configuration"
	// Validation means the caller sent a malformed or out-of-range request.
	Validation Kind = "validation"
	// NotFound means the referenced session, company, or project does not exist.
	NotFound Kind = "not_found"
	// Forbidden means the caller does not own the referenced resource.
	Forbidden Kind = "forbidden"
	// Precondition means the resource is not in a state that permits the operation.
	Precondition Kind = "precondition"
	// External means a third-party service call failed.
	External Kind = "external"
	// Internal is anything unclassified.
	Internal Kind = "internal"
)

// Error is a classified error. The underlying cause keeps its eris stack.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a formatted message.
func E(kind Kind, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Msg: msg, Err: eris.New(msg)}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: eris.Wrap(err, msg)}
}

// KindOf returns the first classified kind in err's chain, or Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the HTTP status the API layer responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Precondition:
		return http.StatusPreconditionFailed
	case External:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
