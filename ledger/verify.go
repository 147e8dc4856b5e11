/*
verify.go - Invariant checks for reconciliation

PURPOSE:
  Detects rows that break the ledger invariants. Violations are returned,
  never corrected: they are surfaced for manual reconciliation.

CHECKS:
  I1 (balance):  for a non-debt pair, the CREDIT amount equals the negated
                 DEBIT net amount (and vice versa) with parties swapped
  I2 (net):      net ~= round((amountInHostCurrency + fees) / fx), within
                 NetAmountTolerance minor units
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// NetAmountTolerance absorbs FX rounding in the net amount identity.
const NetAmountTolerance = 10

// VerifyNetAmount checks I2 on a single row.
func VerifyNetAmount(t Transaction) error {
	expected := ComputeNet(t.AmountInHostCurrency, t.TotalFeesInHostCurrency(), t.HostCurrencyFxRate)
	diff := expected - t.NetAmountInCollectiveCurrency
	if diff < 0 {
		diff = -diff
	}
	if diff >= NetAmountTolerance {
		return &InvariantViolationError{
			Invariant:     "I2",
			Group:         t.Group,
			Kind:          t.Kind,
			TransactionID: t.ID,
			Message:       fmt.Sprintf("net amount %d, expected %d", t.NetAmountInCollectiveCurrency, expected),
		}
	}
	return nil
}

// VerifyPair checks I1 on a pair. Debt pairs are exempt from I1.
func VerifyPair(p Pair) error {
	if p.Credit == nil || p.Debit == nil {
		var t *Transaction
		if p.Credit != nil {
			t = p.Credit
		} else {
			t = p.Debit
		}
		if t == nil {
			return nil
		}
		if t.IsDebt {
			return nil
		}
		return violation(*t, "pair is missing its counterpart")
	}

	c, d := *p.Credit, *p.Debit
	if c.IsDebt && d.IsDebt {
		return nil
	}
	if c.CollectiveID != d.FromCollectiveID || c.FromCollectiveID != d.CollectiveID {
		return violation(c, fmt.Sprintf("parties not swapped: credit %d<-%d, debit %d<-%d",
			c.CollectiveID, c.FromCollectiveID, d.CollectiveID, d.FromCollectiveID))
	}
	if c.Amount != -d.NetAmountInCollectiveCurrency || c.NetAmountInCollectiveCurrency != -d.Amount {
		return violation(c, fmt.Sprintf("unbalanced: credit amount %d net %d, debit amount %d net %d",
			c.Amount, c.NetAmountInCollectiveCurrency, d.Amount, d.NetAmountInCollectiveCurrency))
	}
	return nil
}

func violation(t Transaction, msg string) error {
	return &InvariantViolationError{Invariant: "I1", Group: t.Group, Kind: t.Kind, TransactionID: t.ID, Message: msg}
}

// VerifyGroup checks every pair and every row of a group. The second return
// value is reserved for lookup failures.
func VerifyGroup(ctx context.Context, st Store, group uuid.UUID) ([]error, error) {
	rows, err := st.FindByGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", group, err)
	}

	byKind := make(map[Kind][]Transaction)
	for _, row := range rows {
		byKind[row.Kind] = append(byKind[row.Kind], row)
	}
	kinds := make([]Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var violations []error
	for _, k := range kinds {
		kindRows := byKind[k]
		if err := verifyCardinality(kindRows); err != nil {
			violations = append(violations, err)
		}
		if err := VerifyPair(PairFrom(kindRows)); err != nil {
			violations = append(violations, err)
		}
		for _, row := range kindRows {
			if err := VerifyNetAmount(row); err != nil {
				violations = append(violations, err)
			}
		}
	}
	return violations, nil
}

func verifyCardinality(rows []Transaction) error {
	var credits, debits int
	for _, row := range rows {
		if row.IsDebt {
			continue
		}
		switch row.Type {
		case Credit:
			credits++
		case Debit:
			debits++
		}
	}
	if credits > 1 || debits > 1 {
		return violation(rows[0], fmt.Sprintf("%d credits and %d debits share one group and kind", credits, debits))
	}
	return nil
}
