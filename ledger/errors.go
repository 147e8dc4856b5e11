/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
 1. Refund errors - NoCreditTransaction, AlreadyRefunded, RefundOfRefund
 2. Fee errors - PartialProcessorFeeRefundUnsupported, UnsupportedFeesPayer
 3. Integrity errors - InvariantViolation, InvalidTransition
 4. Lookup errors - TransactionNotFound, SettlementNotFound

USAGE:

	if errors.Is(err, ledger.ErrAlreadyRefunded) {
	    // someone else won the race
	}

	var fp *ledger.UnsupportedFeesPayerError
	if errors.As(err, &fp) { ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoCreditTransaction is returned when a refund is requested on a
	// transaction whose CREDIT counterpart cannot be found.
	ErrNoCreditTransaction = errors.New("no credit transaction")

	// ErrAlreadyRefunded is returned when RefundTransactionID is already set.
	ErrAlreadyRefunded = errors.New("transaction already refunded")

	// ErrRefundOfRefund is returned when asked to refund a refund row.
	ErrRefundOfRefund = errors.New("cannot refund a refund transaction")

	// ErrPartialProcessorFeeRefundUnsupported is reported when the processor
	// refunded a fee amount different from the recorded one.
	ErrPartialProcessorFeeRefundUnsupported = errors.New("partial processor fee refund not supported")

	// ErrUnsupportedFeesPayer is returned when an expense has a fees payer
	// that is neither COLLECTIVE nor PAYEE.
	ErrUnsupportedFeesPayer = errors.New("unsupported fees payer")

	// ErrInvariantViolation is returned by verification helpers.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrInvalidTransition is returned when a settlement would move backwards.
	ErrInvalidTransition = errors.New("invalid settlement transition")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSettlementNotFound is returned when updating a settlement that doesn't exist.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrDuplicateSettlement is returned when (group, kind) already has a settlement row.
	ErrDuplicateSettlement = errors.New("duplicate settlement")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PartialProcessorFeeRefundError carries the mismatch between what the
// processor refunded and what the ledger recorded.
type PartialProcessorFeeRefundError struct {
	TransactionID int64
	Refunded      int64
	Recorded      int64
}

func (e *PartialProcessorFeeRefundError) Error() string {
	return fmt.Sprintf("partial processor fee refund not supported: transaction %d refunded %d, recorded %d",
		e.TransactionID, e.Refunded, e.Recorded)
}

func (e *PartialProcessorFeeRefundError) Unwrap() error {
	return ErrPartialProcessorFeeRefundUnsupported
}

// UnsupportedFeesPayerError names the offending value.
type UnsupportedFeesPayerError struct {
	TransactionID int64
	FeesPayer     FeesPayer
}

func (e *UnsupportedFeesPayerError) Error() string {
	return fmt.Sprintf("refund not supported for fees payer %q (transaction %d)", e.FeesPayer, e.TransactionID)
}

func (e *UnsupportedFeesPayerError) Unwrap() error {
	return ErrUnsupportedFeesPayer
}

// InvariantViolationError describes a failed ledger check.
type InvariantViolationError struct {
	Invariant     string // "I1", "I2"
	Group         uuid.UUID
	Kind          Kind
	TransactionID int64
	Message       string
}

func (e *InvariantViolationError) Error() string {
	if e.TransactionID != 0 {
		return fmt.Sprintf("%s violated on transaction %d (%s/%s): %s", e.Invariant, e.TransactionID, e.Group, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s violated on %s/%s: %s", e.Invariant, e.Group, e.Kind, e.Message)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// InvalidTransitionError describes a rejected settlement move.
type InvalidTransitionError struct {
	Group uuid.UUID
	Kind  Kind
	From  SettlementStatus
	To    SettlementStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("settlement %s/%s cannot move from %s to %s", e.Group, e.Kind, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error comes from a concurrent or repeated write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyRefunded) || errors.Is(err, ErrDuplicateSettlement)
}

// IsClientError returns true if the request itself cannot be honoured.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoCreditTransaction) ||
		errors.Is(err, ErrRefundOfRefund) ||
		errors.Is(err, ErrUnsupportedFeesPayer) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrSettlementNotFound)
}
