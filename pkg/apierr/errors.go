// Package apierr defines the error taxonomy shared by the task API client,
// the query coordinator and the mutation coordinator.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// KindNetwork means no response reached the client.
	KindNetwork Kind = "network"

	// KindServer means the API answered with a non-2xx status.
	KindServer Kind = "server"

	// KindValidation means the input was rejected before or by the API.
	KindValidation Kind = "validation"

	// KindNotFound means the operation targeted a missing task.
	KindNotFound Kind = "not_found"

	// KindConflict means a mutation could not acquire its keys.
	KindConflict Kind = "conflict"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNetwork    = errors.New("network error")
	ErrServer     = errors.New("server error")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("concurrency conflict")
)

// Error is a classified API or engine error.
type Error struct {
	Kind    Kind
	Message string
	Status  int    // HTTP status, 0 when no response
	Code    string // API error code, if any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindServer:
		return ErrServer
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	default:
		return nil
	}
}

// Network wraps a transport failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "no response from server", Err: err}
}

// Validation builds a validation error for a single field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: field, Message: fmt.Sprintf("%s: %s", field, msg)}
}

// NotFound builds a not-found error for the given task id.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf("task %q not found", id)}
}

// Conflict wraps the reason a mutation gave up waiting for its keys.
func Conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(status int, message, code string) *Error {
	kind := KindServer
	switch status {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = KindValidation
	case http.StatusConflict:
		kind = KindConflict
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Message: message, Code: code}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether an operation failing with this kind may be retried.
func Retryable(k Kind) bool {
	switch k {
	case KindServer, KindNetwork:
		return true
	default:
		// client-side rejections repeat identically
		return false
	}
}
