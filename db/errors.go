package db

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches exactly one of them with
// errors.Is, so callers can branch on category without type switches.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrIntegrityViolation     = errors.New("integrity violation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotAuthorized          = errors.New("action not authorized")
	ErrValidation             = errors.New("validation failed")
)

// InvalidArgumentError is returned for malformed calls: empty value maps,
// unknown columns, admin columns the operation does not accept.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument: %s", e.Op, e.Reason)
}

func (e InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// IntegrityViolationError reports stored data that breaks a row count or
// schema invariant, such as two checkpoints sharing a timestamp.
type IntegrityViolationError struct {
	Table  string
	RowID  string
	Reason string
}

func (e IntegrityViolationError) Error() string {
	if e.RowID == "" {
		return fmt.Sprintf("integrity violation in table %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("integrity violation in table %s row %s: %s", e.Table, e.RowID, e.Reason)
}

func (e IntegrityViolationError) Is(target error) bool { return target == ErrIntegrityViolation }

// InvalidStateTransitionError is returned when a row's sync state does not
// permit the requested operation.
type InvalidStateTransitionError struct {
	Table  string
	RowID  string
	From   string
	Reason string
}

func (e InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("row %s in table %s (state %s): %s", e.RowID, e.Table, e.From, e.Reason)
}

func (e InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// NotAuthorizedError is returned when the table's security policy denies
// the caller an action.
type NotAuthorizedError struct {
	Table  string
	Action string
	Reason string
}

func (e NotAuthorizedError) Error() string {
	return fmt.Sprintf("%s not authorized on table %s: %s", e.Action, e.Table, e.Reason)
}

func (e NotAuthorizedError) Is(target error) bool { return target == ErrNotAuthorized }

// ValidationError is returned for metadata values that fail a structural check
type ValidationError struct {
	Table     string
	Partition string
	Aspect    string
	Key       string
	Reason    string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("metadata %s/%s/%s/%s: %s", e.Table, e.Partition, e.Aspect, e.Key, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// resultLabel maps an operation error onto the telemetry result label
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotAuthorized):
		return "denied"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrValidation):
		return "rejected"
	default:
		return "failed"
	}
}
