// Package errors defines the error taxonomy for the decision core.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential failures.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrRefreshReused  = errors.New("refresh token already rotated")
)

// Sentinel errors for session failures.
var (
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionInvalidated = errors.New("session invalidated")
	ErrSessionNotFound    = errors.New("session not found")
)

// Sentinel errors for identity and device state.
var (
	ErrIdentityInactive = errors.New("identity inactive")
	ErrIdentityLocked   = errors.New("identity locked")
	ErrDeviceRevoked    = errors.New("device revoked")
)

// Sentinel errors for the evaluation path.
var (
	ErrSnapshotNotLoaded = errors.New("policy snapshot not loaded")
	ErrDependencyTimeout = errors.New("dependency timeout")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// IsCredentialError reports whether err is any credential failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrRefreshReused)
}

// IsSessionError reports whether err is any session failure.
func IsSessionError(err error) bool {
	if errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionInvalidated) ||
		errors.Is(err, ErrSessionNotFound) {
		return true
	}
	var compromised *SessionCompromisedError
	return errors.As(err, &compromised)
}

// ValidationError represents a validation error with field-specific details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PolicyLoadError indicates a policy snapshot could not be loaded.
// It is fatal: the engine must not serve decisions until a valid
// snapshot replaces the rejected one.
type PolicyLoadError struct {
	Version string
	Detail  string
	Cause   error
}

func (e *PolicyLoadError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("policy load failed: %s", e.Detail)
	}
	return fmt.Sprintf("policy load failed (version %s): %s", e.Version, e.Detail)
}

func (e *PolicyLoadError) Unwrap() error {
	return e.Cause
}

// NewPolicyLoadError creates a new policy load error.
func NewPolicyLoadError(version, detail string, cause error) *PolicyLoadError {
	return &PolicyLoadError{Version: version, Detail: detail, Cause: cause}
}

// SessionCompromisedError signals that refresh-token reuse was detected
// and the whole session chain has been revoked.
type SessionCompromisedError struct {
	SessionID string
	Cause     error
}

func (e *SessionCompromisedError) Error() string {
	return fmt.Sprintf("session %s compromised: %v", e.SessionID, e.Cause)
}

func (e *SessionCompromisedError) Unwrap() error {
	return e.Cause
}

// NewSessionCompromisedError creates a new session compromised error.
func NewSessionCompromisedError(sessionID string, cause error) *SessionCompromisedError {
	return &SessionCompromisedError{SessionID: sessionID, Cause: cause}
}

// Reason returns the short machine-readable reason for an error, used as
// the deny reason on fail-closed decisions.
func Reason(err error) string {
	var policyErr *PolicyLoadError
	var compromised *SessionCompromisedError

	switch {
	case errors.As(err, &compromised):
		return "session_compromised"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrRefreshReused):
		return "refresh_reused"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionInvalidated):
		return "session_invalidated"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrIdentityInactive):
		return "identity_inactive"
	case errors.Is(err, ErrIdentityLocked):
		return "identity_locked"
	case errors.Is(err, ErrDeviceRevoked):
		return "device_revoked"
	case errors.Is(err, ErrSnapshotNotLoaded), errors.As(err, &policyErr):
		return "policy_unavailable"
	case errors.Is(err, ErrDependencyTimeout):
		return "dependency_timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
