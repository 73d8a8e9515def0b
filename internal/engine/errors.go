package engine

import (
	"errors"
	"fmt"
)

// UsageError reports transaction misuse. These are raised synchronously
// to the caller from transaction methods, never through callbacks.
type UsageError struct {
	// Code identifies the misuse category.
	Code UsageErrorCode

	// Message is a human-readable description.
	Message string

	// Label identifies the transaction.
	Label string
}

// UsageErrorCode categorizes transaction misuse.
type UsageErrorCode string

const (
	// ErrCodeClosedTransaction indicates a Set after Commit.
	ErrCodeClosedTransaction UsageErrorCode = "CLOSED_TRANSACTION"

	// ErrCodeNoDefaultStore indicates Set without a bound default store.
	ErrCodeNoDefaultStore UsageErrorCode = "NO_DEFAULT_STORE"

	// ErrCodeEmptyTransaction indicates Commit with no effective writes.
	ErrCodeEmptyTransaction UsageErrorCode = "EMPTY_TRANSACTION"

	// ErrCodeNoMutation indicates Commit without a bound remote function.
	ErrCodeNoMutation UsageErrorCode = "NO_MUTATION"

	// ErrCodeForeignStore indicates a store already claimed by another
	// engine. Two engines rebasing one store would undo each other.
	ErrCodeForeignStore UsageErrorCode = "FOREIGN_STORE"
)

// Error implements the error interface.
func (e *UsageError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.Label)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUsageError reports whether err is a UsageError with the given code.
// Uses errors.As to handle wrapped errors.
func IsUsageError(err error, code UsageErrorCode) bool {
	var ue *UsageError
	if errors.As(err, &ue) {
		return ue.Code == code
	}
	return false
}

func usageErr(code UsageErrorCode, label, message string) *UsageError {
	return &UsageError{Code: code, Message: message, Label: label}
}

// DependentRollbackError is the reason handed to the error callback for
// a surviving mutation that failed rebase during another mutation's
// rollback. Cause is the structural failure; Origin names the mutation
// whose rollback triggered the cascade.
type DependentRollbackError struct {
	// OriginID is the id of the mutation whose failure started the
	// rollback.
	OriginID int64

	// OriginLabel is that mutation's action label.
	OriginLabel string

	// Cause is the patch application failure that retired this
	// mutation.
	Cause error
}

// Error implements the error interface.
func (e *DependentRollbackError) Error() string {
	return fmt.Sprintf("dependent mutation rolled back (origin %d %q): %v", e.OriginID, e.OriginLabel, e.Cause)
}

// Unwrap exposes the structural failure for errors.As chains.
func (e *DependentRollbackError) Unwrap() error {
	return e.Cause
}

// IsDependentRollback reports whether err marks a dependent cascade.
func IsDependentRollback(err error) bool {
	var de *DependentRollbackError
	return errors.As(err, &de)
}
