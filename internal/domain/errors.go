package domain

import "errors"

var (
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrTargetUnreachable      = errors.New("target unreachable")
	ErrForbidden              = errors.New("forbidden")
	ErrDuplicatePending       = errors.New("pending request already exists")
	ErrNotFound               = errors.New("not found")
	ErrExpired                = errors.New("expired")
	ErrUnknownDevice          = errors.New("unknown device")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrConflict               = errors.New("concurrent modification")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrMissingIdentity        = errors.New("missing identity")
	ErrInvalidPayload         = errors.New("invalid payload")
)

// ErrorCode maps an error onto the stable code sent to consoles.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrTargetUnreachable):
		return "target_unreachable"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDuplicatePending):
		return "duplicate_pending"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}
