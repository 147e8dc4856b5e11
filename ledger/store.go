/*
store.go - Persistence contracts for the ledger

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Implementations: store/sqlite (default), store/postgres, ledger/store (memory).

KEY INTERFACES:
  Store:   pair creation, lookups by grouping key, refund linkage, settlements
  TxStore: Store + WithTx for the all-or-nothing refund cascade

WRITE SURFACE:
  - CreateDoubleEntry():      the only way rows are created, always as a pair
  - SetRefundTransactionID(): compare-and-set; fails with ErrAlreadyRefunded
                              when the row is already linked
  - UpdateTransactionData():  attaches processor metadata discovered at refund time
  - Create/UpdateSettlement:  settlement status, forward moves only

  There is no way to change an amount or delete a row.

LOOKUP SHAPES:
  Pair: the CREDIT and DEBIT of one (TransactionGroup, Kind)
  Quad: a pair and its refund pair, looked up by both groups at once
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Pair is the CREDIT and DEBIT rows of one (Group, Kind). Either may be nil
// when the pair is looked up and absent.
type Pair struct {
	Credit *Transaction
	Debit  *Transaction
}

// Found reports whether a CREDIT exists.
func (p Pair) Found() bool { return p.Credit != nil }

// Quad is an original pair and the pair that refunds it.
type Quad struct {
	Credit       *Transaction
	Debit        *Transaction
	RefundCredit *Transaction
	RefundDebit  *Transaction
}

// Complete reports whether all four rows were found.
func (q Quad) Complete() bool {
	return q.Credit != nil && q.Debit != nil && q.RefundCredit != nil && q.RefundDebit != nil
}

// PairFrom splits rows of a single (Group, Kind) into a Pair. Debt and
// non-debt rows of the same kind never share a group, so the first row of
// each type wins.
func PairFrom(rows []Transaction) Pair {
	var p Pair
	for i := range rows {
		row := rows[i]
		switch row.Type {
		case Credit:
			if p.Credit == nil {
				p.Credit = &row
			}
		case Debit:
			if p.Debit == nil {
				p.Debit = &row
			}
		}
	}
	return p
}

// QuadFrom splits rows of two groups into a Quad.
func QuadFrom(rows []Transaction, original, refund uuid.UUID) Quad {
	var orig, ref []Transaction
	for _, row := range rows {
		switch row.Group {
		case original:
			orig = append(orig, row)
		case refund:
			ref = append(ref, row)
		}
	}
	op, rp := PairFrom(orig), PairFrom(ref)
	return Quad{Credit: op.Credit, Debit: op.Debit, RefundCredit: rp.Credit, RefundDebit: rp.Debit}
}

// Store handles persistence of transactions and settlements.
type Store interface {
	// CreateDoubleEntry persists both rows of the draft atomically.
	CreateDoubleEntry(ctx context.Context, d Draft) (Pair, error)

	// GetTransaction returns nil, nil when the id does not exist.
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)

	// FindByGroupAndKind returns the rows of one (Group, Kind), ordered by id.
	FindByGroupAndKind(ctx context.Context, group uuid.UUID, kind Kind) ([]Transaction, error)

	// FindByGroup returns every row of a group, ordered by id.
	FindByGroup(ctx context.Context, group uuid.UUID) ([]Transaction, error)

	// FindTransactionQuad loads the pair of (original, kind) and of (refund, kind).
	FindTransactionQuad(ctx context.Context, original, refund uuid.UUID, kind Kind) (Quad, error)

	// SetRefundTransactionID links id to refundID. Only succeeds while the
	// row is unlinked; otherwise returns ErrAlreadyRefunded.
	SetRefundTransactionID(ctx context.Context, id, refundID int64) error

	// UpdateTransactionData replaces the data of a row.
	UpdateTransactionData(ctx context.Context, id int64, data Data) error

	// FindSettlement returns nil, nil when there is no row for (group, kind).
	FindSettlement(ctx context.Context, group uuid.UUID, kind Kind) (*Settlement, error)

	// CreateSettlement inserts a row; (group, kind) is unique.
	CreateSettlement(ctx context.Context, s Settlement) error

	// UpdateSettlementStatus moves an existing row forward.
	UpdateSettlementStatus(ctx context.Context, group uuid.UUID, kind Kind, status SettlementStatus) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// FindPair is a convenience over FindByGroupAndKind.
func FindPair(ctx context.Context, st Store, group uuid.UUID, kind Kind) (Pair, error) {
	rows, err := st.FindByGroupAndKind(ctx, group, kind)
	if err != nil {
		return Pair{}, err
	}
	return PairFrom(rows), nil
}
