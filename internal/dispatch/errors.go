package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindAuthorization
	KindValidation
	KindRateLimited
	KindBackend
	KindCodec
)

var kindNames = map[Kind]string{
	KindConfiguration: "configuration",
	KindAuthorization: "authorization",
	KindValidation:    "validation",
	KindRateLimited:   "rate_limited",
	KindBackend:       "backend",
	KindCodec:         "codec",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindValidation, KindCodec:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Orchestrator operation. Msg is safe to show
// to the caller; Err holds the underlying cause.
type Error struct {
	Kind    Kind
	Msg     string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindBackend for errors that did not
// come from this package.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindBackend
}
