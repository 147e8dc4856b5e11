/*
settlement.go - Settlement status of debt transactions

PURPOSE:
  Debt pairs (PLATFORM_TIP_DEBT, HOST_FEE_SHARE_DEBT) record money owed
  between a host and the platform. A Settlement row tracks whether that
  debt is still owed, already on an invoice, or paid.

STATE MACHINE (per TransactionGroup + Kind):

	OWED ──► INVOICED ──► SETTLED
	  └───────────────────►┘

  Moves are forward only. Settling twice is a no-op.

  This is the only in-place mutation in the ledger model; it must happen in
  the same unit of work as the rows that justify it.
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SettlementStatus string

const (
	SettlementOwed     SettlementStatus = "OWED"
	SettlementInvoiced SettlementStatus = "INVOICED"
	SettlementSettled  SettlementStatus = "SETTLED"
)

func (s SettlementStatus) rank() int {
	switch s {
	case SettlementOwed:
		return 0
	case SettlementInvoiced:
		return 1
	case SettlementSettled:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s SettlementStatus) Valid() bool { return s.rank() >= 0 }

// CanTransition reports whether moving from s to next is allowed.
func (s SettlementStatus) CanTransition(next SettlementStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// ParseSettlementStatus converts a stored string into a status.
func ParseSettlementStatus(v string) (SettlementStatus, error) {
	s := SettlementStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown settlement status %q", v)
	}
	return s, nil
}

// Settlement is keyed by (Group, Kind).
type Settlement struct {
	Group     uuid.UUID
	Kind      Kind
	Status    SettlementStatus
	ExpenseID *int64 // invoice expense, set by the invoicing process
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSettlement returns a settlement row for a debt transaction.
func NewSettlement(t Transaction, status SettlementStatus) Settlement {
	return Settlement{Group: t.Group, Kind: t.Kind, Status: status}
}

// CheckTransition returns an error when from -> to is not a forward move.
func CheckTransition(group uuid.UUID, kind Kind, from, to SettlementStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return &InvalidTransitionError{Group: group, Kind: kind, From: from, To: to}
}
