// Package apperr defines the typed error kinds shared by the local store, the
// hive repositories, and the session protocol.
package apperr

import "errors"

// Sentinel kinds. Callers compare with errors.Is; store and hivestore errors
// wrap one of these with fmt.Errorf("...: %w", Err*) for context.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrDatabase        = errors.New("database error")
	ErrProtocol        = errors.New("protocol error")
	ErrAuth            = errors.New("auth error")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyDone     = errors.New("already completed")
	ErrTimeout         = errors.New("timed out")
)

// Kind classifies err as one of the sentinels above, defaulting to ErrDatabase
// for anything unrecognized. Used by callers (sync engine, session
// response mapping) that
// need to choose a wire-level status from an arbitrary store error.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, ErrVersionMismatch):
		return ErrVersionMismatch
	case errors.Is(err, ErrProtocol):
		return ErrProtocol
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrForbidden):
		return ErrForbidden
	case errors.Is(err, ErrAlreadyDone):
		return ErrAlreadyDone
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrDatabase
	}
}
