/*
Package refund reverses a transaction and every satellite around it.

PURPOSE:
  A contribution is recorded as a main pair plus satellite pairs (tip, tip
  debt, processor fee, host fee, host fee share, share debt, tax) sharing
  one TransactionGroup. Refunding it means writing the opposite of each of
  those pairs into a new group and linking every row to its counterpart.

FILES:
  - builder.go:    one refund draft from one original row
  - settlement.go: settlement status of debt rows during a refund
  - cascade.go:    the fixed-order walk over satellites
  - service.go:    refund by id, provider call, atomic unit, events

  Amounts are never edited. The only mutations are RefundTransactionID,
  Data on original rows, and settlement status.
*/
package refund

import (
	"fmt"

	"github.com/warp/ledger-engine/ledger"
)

// BuildRefund derives the refund draft of original, written from
// original.CollectiveID's point of view. refundedProcessorFee is what the
// payment processor gave back, in host currency; it only matters for
// expenses. The caller sets Group and CounterpartyHostCollectiveID.
func BuildRefund(original ledger.Transaction, actor ledger.Actor, extra ledger.Data, refundedProcessorFee int64) (ledger.Draft, error) {
	if original.IsRefund {
		return ledger.Draft{}, fmt.Errorf("transaction %d: %w", original.ID, ledger.ErrRefundOfRefund)
	}

	d := ledger.Draft{
		Kind:        original.Kind,
		Description: fmt.Sprintf("Refund of %q", original.Description),

		CollectiveID:     original.CollectiveID,
		FromCollectiveID: original.FromCollectiveID,
		HostCollectiveID: original.HostCollectiveID,

		Currency:           original.Currency,
		HostCurrency:       original.HostCurrency,
		HostCurrencyFxRate: original.HostCurrencyFxRate,

		OrderID:         original.OrderID,
		ExpenseID:       original.ExpenseID,
		PaymentMethodID: original.PaymentMethodID,
		PayoutMethodID:  original.PayoutMethodID,

		IsDebt:          original.IsDebt,
		IsRefund:        true,
		CreatedByUserID: actor.UserID,
	}

	// Fees come back. Host fees are refunded through their own satellite.
	d.HostFeeInHostCurrency = 0
	d.PlatformFeeInHostCurrency = -original.PlatformFeeInHostCurrency
	d.PaymentProcessorFeeInHostCurrency = -original.PaymentProcessorFeeInHostCurrency
	d.TaxAmount = -original.TaxAmount

	d.Amount = -original.Amount
	d.AmountInHostCurrency = -original.AmountInHostCurrency

	if original.Kind == ledger.KindExpense {
		adjustment, err := expenseFeeAdjustment(original, refundedProcessorFee)
		if err != nil {
			return ledger.Draft{}, err
		}
		d.AmountInHostCurrency += adjustment
		d.Amount += ledger.ToCollectiveCurrency(adjustment, original.HostCurrencyFxRate)
	}

	d = d.WithComputedNet()
	d.Data = original.Data.Merge(extra)
	return d, nil
}

// expenseFeeAdjustment is the host currency amount added back to an expense
// refund for the processor fee.
func expenseFeeAdjustment(original ledger.Transaction, refundedProcessorFee int64) (int64, error) {
	fee := abs(original.PaymentProcessorFeeInHostCurrency)
	switch payer := original.FeesPayer(); payer {
	case ledger.FeesPayerPayee:
		if refundedProcessorFee != 0 {
			return abs(refundedProcessorFee), nil
		}
		return fee, nil
	case ledger.FeesPayerCollective:
		return fee, nil
	default:
		return 0, &ledger.UnsupportedFeesPayerError{TransactionID: original.ID, FeesPayer: payer}
	}
}

// buildCover is the PAYMENT_PROCESSOR_COVER draft: the host gives the
// collective the fee the processor kept.
func buildCover(original ledger.Transaction, actor ledger.Actor, fee int64) ledger.Draft {
	fee = abs(fee)
	return ledger.Draft{
		Kind:                         ledger.KindPaymentProcessorCover,
		Description:                  fmt.Sprintf("Cover of payment processor fee for refund of %q", original.Description),
		CollectiveID:                 original.CollectiveID,
		FromCollectiveID:             hostOf(original),
		HostCollectiveID:             original.HostCollectiveID,
		CounterpartyHostCollectiveID: original.HostCollectiveID,
		Currency:                     original.Currency,
		HostCurrency:                 original.HostCurrency,
		HostCurrencyFxRate:           original.HostCurrencyFxRate,
		AmountInHostCurrency:         fee,
		Amount:                       ledger.ToCollectiveCurrency(fee, original.HostCurrencyFxRate),
		OrderID:                      original.OrderID,
		ExpenseID:                    original.ExpenseID,
		IsRefund:                     true,
		CreatedByUserID:              actor.UserID,
		Data:                         ledger.Data{"refundedTransactionId": original.ID},
	}.WithComputedNet()
}

func hostOf(t ledger.Transaction) int64 {
	if t.HostCollectiveID != nil {
		return *t.HostCollectiveID
	}
	return t.CollectiveID
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
