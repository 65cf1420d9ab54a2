package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Validation wraps ErrValidation with a user-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the name of the missing resource.
func NotFound(resource string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, resource)
}

// Forbidden wraps ErrForbidden with a user-facing message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a user-facing message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InvalidState wraps ErrInvalidState with a user-facing message.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Message returns the text after the sentinel prefix, suitable for API responses.
// Errors that do not wrap a known sentinel return their full text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrForbidden, ErrConflict, ErrInvalidState} {
		prefix := sentinel.Error() + ": "
		if errors.Is(err, sentinel) {
			if idx := strings.Index(msg, prefix); idx >= 0 {
				return msg[idx+len(prefix):]
			}
		}
	}
	return msg
}
