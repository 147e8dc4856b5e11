/*
doubleentry.go - Drafts and the CREDIT/DEBIT mirror

PURPOSE:
  A Draft is one side of a pair, written from CollectiveID's point of view.
  Entries() derives both rows. Stores persist the two rows atomically, so
  a CREDIT never exists without its DEBIT.

DIRECTION:
  Amount > 0  -> the draft row is the CREDIT (CollectiveID receives money)
  Amount <= 0 -> the draft row is the DEBIT  (CollectiveID gives money)

MIRROR RULES (opposite row):
  CollectiveID     <-> FromCollectiveID
  HostCollectiveID  =  CounterpartyHostCollectiveID
  Amount            = -draft.Net
  Net               = -draft.Amount
  AmountInHost      = -round(draft.Net * fx)
  fee columns, currencies and FX rate are kept

  With zero fee columns this is a plain negation, so the sum of Amount
  over the pair is zero.

NET AMOUNT:
  net = round((amountInHostCurrency + hostFee + platformFee + processorFee + tax) / fx)
*/
package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Draft describes a pair to be created by Store.CreateDoubleEntry.
type Draft struct {
	Group       uuid.UUID
	Kind        Kind
	Description string

	CollectiveID                 int64
	FromCollectiveID             int64
	HostCollectiveID             *int64
	CounterpartyHostCollectiveID *int64

	Currency                      string
	Amount                        int64
	NetAmountInCollectiveCurrency int64

	HostCurrency                      string
	HostCurrencyFxRate                decimal.Decimal
	AmountInHostCurrency              int64
	HostFeeInHostCurrency             int64
	PlatformFeeInHostCurrency         int64
	PaymentProcessorFeeInHostCurrency int64
	TaxAmount                         int64

	IsRefund bool
	IsDebt   bool

	OrderID         *int64
	ExpenseID       *int64
	PaymentMethodID *int64
	PayoutMethodID  *int64

	CreatedByUserID *int64
	Data            Data
}

// ComputeNet applies the net-amount identity to the draft's current columns.
func (d Draft) ComputeNet() int64 {
	return ComputeNet(d.AmountInHostCurrency,
		d.HostFeeInHostCurrency+d.PlatformFeeInHostCurrency+d.PaymentProcessorFeeInHostCurrency+d.TaxAmount,
		d.HostCurrencyFxRate)
}

// WithComputedNet returns the draft with NetAmountInCollectiveCurrency recomputed.
func (d Draft) WithComputedNet() Draft {
	d.NetAmountInCollectiveCurrency = d.ComputeNet()
	return d
}

// Entries returns the (credit, debit) rows for this draft. IDs and timestamps
// are left for the store to assign.
func (d Draft) Entries() (credit, debit Transaction) {
	self := d.row()
	other := d.mirror()
	if d.Amount > 0 {
		self.Type = Credit
		other.Type = Debit
		return self, other
	}
	self.Type = Debit
	other.Type = Credit
	return other, self
}

func (d Draft) row() Transaction {
	return Transaction{
		Group:                             d.Group,
		Kind:                              d.Kind,
		Description:                       d.Description,
		CollectiveID:                      d.CollectiveID,
		FromCollectiveID:                  d.FromCollectiveID,
		HostCollectiveID:                  copyInt64Ptr(d.HostCollectiveID),
		Currency:                          d.Currency,
		Amount:                            d.Amount,
		NetAmountInCollectiveCurrency:     d.NetAmountInCollectiveCurrency,
		HostCurrency:                      d.HostCurrency,
		HostCurrencyFxRate:                normalizeRate(d.HostCurrencyFxRate),
		AmountInHostCurrency:              d.AmountInHostCurrency,
		HostFeeInHostCurrency:             d.HostFeeInHostCurrency,
		PlatformFeeInHostCurrency:         d.PlatformFeeInHostCurrency,
		PaymentProcessorFeeInHostCurrency: d.PaymentProcessorFeeInHostCurrency,
		TaxAmount:                         d.TaxAmount,
		IsRefund:                          d.IsRefund,
		IsDebt:                            d.IsDebt,
		OrderID:                           copyInt64Ptr(d.OrderID),
		ExpenseID:                         copyInt64Ptr(d.ExpenseID),
		PaymentMethodID:                   copyInt64Ptr(d.PaymentMethodID),
		PayoutMethodID:                    copyInt64Ptr(d.PayoutMethodID),
		CreatedByUserID:                   copyInt64Ptr(d.CreatedByUserID),
		Data:                              d.Data.Clone(),
	}
}

func (d Draft) mirror() Transaction {
	t := d.row()
	t.CollectiveID, t.FromCollectiveID = d.FromCollectiveID, d.CollectiveID
	t.HostCollectiveID = copyInt64Ptr(d.CounterpartyHostCollectiveID)
	t.Amount = -d.NetAmountInCollectiveCurrency
	t.NetAmountInCollectiveCurrency = -d.Amount
	t.AmountInHostCurrency = -ToHostCurrency(d.NetAmountInCollectiveCurrency, d.HostCurrencyFxRate)
	return t
}

// =============================================================================
// CURRENCY MATH
// =============================================================================

// ComputeNet returns round((amountInHostCurrency + fees) / fx).
func ComputeNet(amountInHostCurrency, feesInHostCurrency int64, fx decimal.Decimal) int64 {
	return ToCollectiveCurrency(amountInHostCurrency+feesInHostCurrency, fx)
}

// ToCollectiveCurrency converts a host currency amount with the stored rate.
func ToCollectiveCurrency(amountInHostCurrency int64, fx decimal.Decimal) int64 {
	return decimal.NewFromInt(amountInHostCurrency).Div(normalizeRate(fx)).Round(0).IntPart()
}

// ToHostCurrency converts a collective currency amount with the stored rate.
func ToHostCurrency(amount int64, fx decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(normalizeRate(fx)).Round(0).IntPart()
}

func normalizeRate(fx decimal.Decimal) decimal.Decimal {
	if fx.IsZero() {
		return decimal.NewFromInt(1)
	}
	return fx
}
