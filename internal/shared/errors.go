package shared

import "errors"

var (
	// ErrUnauthenticated indicates a missing, invalid or expired session.
	// Recoverable by logging in again; never logged as an error.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the resolved identity lacks a permission or
	// violates a hierarchy rule.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the target entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate entry or a self-termination attempt.
	ErrConflict = errors.New("conflict")
	// ErrInvariant indicates corrupted state, e.g. two active sessions
	// sharing one token. Fatal to the operation, never partially applied.
	ErrInvariant = errors.New("invariant violation")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
