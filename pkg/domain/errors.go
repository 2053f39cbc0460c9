package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels allow errors.Is matching on the typed errors below.
var (
	ErrNotFoundKind       = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrIncompleteEvidence = errors.New("incomplete evidence")
	ErrValidation         = errors.New("validation failed")
	ErrAlreadyActive      = errors.New("already active")
	ErrAlreadyInactive    = errors.New("already inactive")
	ErrAdmissionExhausted = errors.New("admission exhausted")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("version conflict")
)

// ErrNotFound is returned when an identifier does not resolve.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports whether target is ErrNotFoundKind.
func (e ErrNotFound) Is(target error) bool { return target == ErrNotFoundKind }

// InvalidTransitionError reports a lifecycle move that is illegal from the current state.
type InvalidTransitionError struct {
	RecordID  string
	Operation string
	From      State
	To        State
}

func (e InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("record %s: %s not allowed from %s", e.RecordID, e.Operation, e.From)
	}
	return fmt.Sprintf("record %s: %s cannot move %s to %s", e.RecordID, e.Operation, e.From, e.To)
}

// Is reports whether target is ErrInvalidTransition.
func (e InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IncompleteEvidenceError lists which evidence shapes were missing when a record
// was asked to leave work in progress.
type IncompleteEvidenceError struct {
	RecordID string
	Kind     Kind
	Missing  []string
}

func (e IncompleteEvidenceError) Error() string {
	return fmt.Sprintf("%s record %s lacks evidence: none of [%s]", e.Kind, e.RecordID, strings.Join(e.Missing, ", "))
}

// Is reports whether target is ErrIncompleteEvidence.
func (e IncompleteEvidenceError) Is(target error) bool { return target == ErrIncompleteEvidence }

// ValidationError reports an out of bounds replicate value or misconfiguration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// AlreadyActiveError is returned when reactivating an active record.
type AlreadyActiveError struct{ RecordID string }

func (e AlreadyActiveError) Error() string { return fmt.Sprintf("record %s is already active", e.RecordID) }

// Is reports whether target is ErrAlreadyActive.
func (e AlreadyActiveError) Is(target error) bool { return target == ErrAlreadyActive }

// AlreadyInactiveError is returned when deactivating an inactive record.
type AlreadyInactiveError struct{ RecordID string }

func (e AlreadyInactiveError) Error() string {
	return fmt.Sprintf("record %s is already inactive", e.RecordID)
}

// Is reports whether target is ErrAlreadyInactive.
func (e AlreadyInactiveError) Is(target error) bool { return target == ErrAlreadyInactive }

// AdmissionExhaustedError is returned when the replicate ceiling is reached
// without an acceptable batch.
type AdmissionExhaustedError struct {
	RecordID   string
	Replicates int
	Ceiling    int
}

func (e AdmissionExhaustedError) Error() string {
	return fmt.Sprintf("record %s: %d replicates submitted, ceiling %d reached without an acceptable batch", e.RecordID, e.Replicates, e.Ceiling)
}

// Is reports whether target is ErrAdmissionExhausted.
func (e AdmissionExhaustedError) Is(target error) bool { return target == ErrAdmissionExhausted }

// ForbiddenError is returned when the actor's role may not perform an operation.
type ForbiddenError struct {
	Operation string
	Role      Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Operation)
}

// Is reports whether target is ErrForbidden.
func (e ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// ConflictError is returned by stores when a save carries a stale version.
type ConflictError struct {
	RecordID string
	Expected int64
	Actual   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("record %s: version %d is stale (current %d)", e.RecordID, e.Expected, e.Actual)
}

// Is reports whether target is ErrConflict.
func (e ConflictError) Is(target error) bool { return target == ErrConflict }
