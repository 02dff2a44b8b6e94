/*
errors.go - Centralized error taxonomy for the leave core

PURPOSE:
  All error types in one place. Callers branch with errors.Is against the
  sentinels; structured types carry the context (amounts, dates, states)
  and unwrap to their sentinel.

TAXONOMY (who sees what):
  User-correctable:      ErrInsufficientBalance, ErrConflictBlocked
  Configuration errors:  ErrInvalidWorkingPattern, ErrUnknownLeaveType
  Approval gate:         ErrDocumentVerificationPending
  Integrity errors:      ErrInvalidTransition, ErrLedgerIntegrity
                         (programmer error - always logged, never ignored)
  Storage:               ErrRecordNotFound, ErrRequestNotFound,
                         ErrVersionConflict (retryable)
*/
package leave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a reserve would drive the
	// available balance negative. Shown to the requester.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidWorkingPattern is returned for working days/week outside
	// (0, 7]. A configuration error surfaced to HR, not the employee.
	ErrInvalidWorkingPattern = errors.New("invalid working pattern")

	// ErrUnknownLeaveType is returned for inactive or missing leave types.
	ErrUnknownLeaveType = errors.New("unknown leave type")

	// ErrDocumentVerificationPending blocks final approval of leave types
	// that require an HR-verified document. Not a failure of the approver's
	// action; the request stays where it is.
	ErrDocumentVerificationPending = errors.New("document verification pending")

	// ErrInvalidTransition is returned for a transition that is not legal
	// from the request's current state. Integrity error, always logged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflictBlocked is returned when submission is stopped by a hard
	// scheduling conflict. The message names the conflicting dates.
	ErrConflictBlocked = errors.New("conflicting commitment")

	// ErrLedgerIntegrity indicates a commit/release that does not match the
	// reservation it should undo. Programmer error, not user-facing.
	ErrLedgerIntegrity = errors.New("ledger integrity violation")

	// ErrInvalidDateSelection is returned for malformed date selections.
	ErrInvalidDateSelection = errors.New("invalid date selection")

	// ErrRecordNotFound / ErrRequestNotFound are storage-level misses.
	ErrRecordNotFound  = errors.New("balance record not found")
	ErrRequestNotFound = errors.New("leave request not found")

	// ErrVersionConflict is returned by the store when an optimistic
	// check-and-put loses a race. Safe to retry.
	ErrVersionConflict = errors.New("version conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.Key, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError details an illegal state machine transition.
type InvalidTransitionError struct {
	RequestID RequestID
	From      RequestState
	Action    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s request %s from state %s",
		e.Action, e.RequestID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictBlockedError details the hard conflict that stopped a submission.
type ConflictBlockedError struct {
	User      UserID
	Conflicts []ConflictEntry
}

func (e *ConflictBlockedError) Error() string {
	var parts []string
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s on %s", c.Kind, strings.Join(c.Dates.Strings(), ", ")))
	}
	return fmt.Sprintf("submission blocked for %s: %s", e.User, strings.Join(parts, "; "))
}

func (e *ConflictBlockedError) Unwrap() error { return ErrConflictBlocked }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is correctable by the requester.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConflictBlocked) ||
		errors.Is(err, ErrInvalidDateSelection) ||
		errors.Is(err, ErrDocumentVerificationPending)
}

// IsConfigError reports whether the error should be surfaced to HR/admins.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidWorkingPattern) ||
		errors.Is(err, ErrUnknownLeaveType)
}

// IsIntegrityError reports programmer/integrity errors that must be
// fatal-logged rather than shown to users.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLedgerIntegrity)
}

// IsRetryable reports whether the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound reports a missing record or request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrRequestNotFound)
}
