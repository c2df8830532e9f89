// Package errcode defines the wire-level error taxonomy shared by the
// resource managers, the transaction manager and the workflow controller.
package errcode

import (
	"errors"
	"net/http"
)

// Code identifies a structured error on the wire.
type Code string

const (
	// KeyExists is returned when an insert targets a key that is
	// already present in the transaction's effective view.
	KeyExists Code = "KEY_EXISTS"
	// KeyNotFound is returned when a read, update or delete targets a
	// key that is absent or tombstoned in the effective view.
	KeyNotFound Code = "KEY_NOT_FOUND"
	// LockConflict is returned when prepare fails to acquire a row lock.
	LockConflict Code = "LOCK_CONFLICT"
	// VersionConflict is returned when the committed version of a key no
	// longer matches the version observed at first touch.
	VersionConflict Code = "VERSION_CONFLICT"
	// InsufficientAvailability is returned by the workflow controller
	// when a reservation asks for more inventory than is available.
	InsufficientAvailability Code = "INSUFFICIENT_AVAILABILITY"
	// InternalInvariant signals a broken implementation contract.
	InternalInvariant Code = "INTERNAL_INVARIANT"
	// Timeout signals that a downstream call exceeded its deadline.
	Timeout Code = "TIMEOUT"
)

// Error is a structured error carrying a stable code, the key it relates
// to (when applicable) and a human-readable message.
type Error struct {
	Code    Code
	Key     string
	Message string
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Key != "" {
		msg += " key=" + e.Key
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// New creates a structured error.
func New(code Code, key, message string) *Error {
	return &Error{Code: code, Key: key, Message: message}
}

// CodeOf extracts the structured code from an error chain. Errors that
// carry no code map to INTERNAL_INVARIANT.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalInvariant
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps a code to its stable HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case KeyExists, LockConflict, VersionConflict, InsufficientAvailability:
		return http.StatusConflict
	case KeyNotFound:
		return http.StatusNotFound
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromWire reconstructs a structured error from its wire representation.
func FromWire(code, key, message string) *Error {
	return &Error{Code: Code(code), Key: key, Message: message}
}
