package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode names a failure class carried in action results.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "not_found"
	CodeUnauthorized    ErrorCode = "unauthorized"
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeValidation      ErrorCode = "validation"
	CodeDatabase        ErrorCode = "database"
	CodeConflict        ErrorCode = "conflict"
	CodeInternal        ErrorCode = "internal"
)

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UnauthorizedError reports an actor lacking a capability.
type UnauthorizedError struct {
	Actor  string
	Action string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %s may not %s", e.Actor, e.Action)
}

// UnauthenticatedError reports a request without a usable identity.
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "unauthenticated"
	}
	return "unauthenticated: " + e.Reason
}

// ValidationError carries one or more input problems.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid request"
	}
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// DatabaseOperationError wraps a persistence failure.
type DatabaseOperationError struct {
	Op  string
	Err error
}

func (e *DatabaseOperationError) Error() string {
	return fmt.Sprintf("database operation %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseOperationError) Unwrap() error { return e.Err }

// ConflictError reports a request that was already processed.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

// Classify maps an error onto its ErrorCode.
func Classify(err error) ErrorCode {
	var (
		notFound *NotFoundError
		unauthz  *UnauthorizedError
		unauthn  *UnauthenticatedError
		invalid  *ValidationError
		dbErr    *DatabaseOperationError
		conflict *ConflictError
	)
	switch {
	case errors.As(err, &invalid):
		return CodeValidation
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &unauthn):
		return CodeUnauthenticated
	case errors.As(err, &unauthz):
		return CodeUnauthorized
	case errors.As(err, &conflict):
		return CodeConflict
	case errors.As(err, &dbErr):
		return CodeDatabase
	default:
		return CodeInternal
	}
}

// Messages returns the client-facing messages for err. Storage details
// never leave the process.
func Messages(err error) []string {
	var (
		invalid *ValidationError
		dbErr   *DatabaseOperationError
	)
	switch {
	case errors.As(err, &invalid):
		return append([]string(nil), invalid.Problems...)
	case errors.As(err, &dbErr):
		return []string{"storage failure during " + dbErr.Op}
	case Classify(err) == CodeInternal:
		return []string{"internal error"}
	default:
		return []string{err.Error()}
	}
}
