package rpc

import (
	"context"
	"errors"
	"fmt"
)

// Status is a ubus status code.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidCommand
	StatusInvalidArgument
	StatusMethodNotFound
	StatusNotFound
	StatusNoData
	StatusPermissionDenied
	StatusTimeout
	StatusNotSupported
	StatusUnknownError
	StatusConnectionFailed
)

var statusText = map[Status]string{
	StatusOK:               "Success",
	StatusInvalidCommand:   "Invalid command",
	StatusInvalidArgument:  "Invalid argument",
	StatusMethodNotFound:   "Method not found",
	StatusNotFound:         "Not found",
	StatusNoData:           "No response",
	StatusPermissionDenied: "Permission denied",
	StatusTimeout:          "Request timed out",
	StatusNotSupported:     "Operation not supported",
	StatusUnknownError:     "Unspecified error",
	StatusConnectionFailed: "Connection failed",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("Status %d", int(s))
}

// Error makes a bare Status usable as a sentinel with errors.Is.
func (s Status) Error() string { return s.String() }

// Sentinels for errors.Is checks.
var (
	ErrInvalidArgument  error = StatusInvalidArgument
	ErrMethodNotFound   error = StatusMethodNotFound
	ErrNotFound         error = StatusNotFound
	ErrNoData           error = StatusNoData
	ErrPermissionDenied error = StatusPermissionDenied
	ErrTimeout          error = StatusTimeout
	ErrNotSupported     error = StatusNotSupported
	ErrConnectionFailed error = StatusConnectionFailed
)

// Error is a failed call. It unwraps to its Status so that
// errors.Is(err, rpc.ErrNotFound) works across transports.
type Error struct {
	Object  string
	Method  string
	Status  Status
	Message string
}

func (e *Error) Error() string {
	msg := e.Status.String()
	if e.Message != "" && e.Message != msg {
		msg += ": " + e.Message
	}
	if e.Object == "" {
		return msg
	}
	return fmt.Sprintf("%s.%s: %s", e.Object, e.Method, msg)
}

func (e *Error) Unwrap() error { return e.Status }

// Errorf builds a handler error carrying status.
func Errorf(status Status, format string, args ...any) error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf maps any error to the status reported on the wire.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusUnknownError
}

// wrap attaches call coordinates, preserving an existing status.
func wrap(object, method string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		out := *e
		out.Object, out.Method = object, method
		return &out
	}
	return &Error{Object: object, Method: method, Status: StatusOf(err), Message: err.Error()}
}
