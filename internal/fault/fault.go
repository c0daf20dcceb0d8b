// Package fault provides the stable, machine-readable error taxonomy shared
// by the governance, metering, and workflow layers.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class. Kinds are part of the API contract and
// must stay stable; reasons are for humans and must never leak storage
// internals.
type Kind string

const (
	KindNotInstalled        Kind = "not_installed"
	KindVersionLocked       Kind = "version_locked"
	KindNotApproved         Kind = "not_approved"
	KindRateLimited         Kind = "rate_limited"
	KindSuspended           Kind = "suspended"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindSkillNotFound       Kind = "skill_not_found"
	KindStepInputInvalid    Kind = "step_input_invalid"
	KindExecutorError       Kind = "executor_error"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindNotVisible          Kind = "not_visible"
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
)

// Error carries a Kind plus a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// New builds a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Storage wraps a storage-layer error as storage_unavailable without leaking
// the underlying driver message to callers.
func Storage(op string) *Error {
	return &Error{Kind: KindStorageUnavailable, Reason: "storage operation failed: " + op}
}
