/*
Package ledger provides the double-entry transaction model of the fiscal host platform.

PURPOSE:

	Every financial event (contribution, expense payout, fee, tip) is stored as a
	balanced CREDIT/DEBIT pair. Fees are not hidden in columns of the main row;
	they live in "satellite" pairs sharing the main pair's TransactionGroup.
	Reversing an event means writing new pairs, never editing amounts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: closed set of transaction kinds (CONTRIBUTION, HOST_FEE, ...)
  - Type: CREDIT or DEBIT
  - Transaction: an immutable ledger row (RefundTransactionID is the only mutable field)
  - Data: free-form JSON metadata attached to a row
  - Actor: who triggered a write

MONEY:

	All amounts are signed int64 minor units (cents). FX rates are decimals.
	Fee columns are stored negative on the row that pays them.

DESIGN PRINCIPLES:
 1. Append-only: refunds are new rows
 2. Balanced: a pair always nets out under the counterparty's perspective
 3. Correlated: all rows of one logical event share a TransactionGroup

SEE ALSO:
  - doubleentry.go: Draft and the CREDIT/DEBIT mirror
  - settlement.go: settlement status of debt rows
  - store.go: persistence contracts
  - verify.go: invariant checks
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND - What a transaction represents
// =============================================================================

type Kind string

const (
	KindContribution          Kind = "CONTRIBUTION"
	KindAddedFunds            Kind = "ADDED_FUNDS"
	KindExpense               Kind = "EXPENSE"
	KindHostFee               Kind = "HOST_FEE"
	KindHostFeeShare          Kind = "HOST_FEE_SHARE"
	KindHostFeeShareDebt      Kind = "HOST_FEE_SHARE_DEBT"
	KindPlatformTip           Kind = "PLATFORM_TIP"
	KindPlatformTipDebt       Kind = "PLATFORM_TIP_DEBT"
	KindPaymentProcessorFee   Kind = "PAYMENT_PROCESSOR_FEE"
	KindPaymentProcessorCover Kind = "PAYMENT_PROCESSOR_COVER"
	KindTax                   Kind = "TAX"
	KindBalanceTransfer       Kind = "BALANCE_TRANSFER"
	KindPrepaidPaymentMethod  Kind = "PREPAID_PAYMENT_METHOD"
)

// AllKinds returns every known kind, in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindContribution,
		KindAddedFunds,
		KindExpense,
		KindHostFee,
		KindHostFeeShare,
		KindHostFeeShareDebt,
		KindPlatformTip,
		KindPlatformTipDebt,
		KindPaymentProcessorFee,
		KindPaymentProcessorCover,
		KindTax,
		KindBalanceTransfer,
		KindPrepaidPaymentMethod,
	}
}

// ParseKind converts a stored string back into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transaction kind %q", s)
}

// IsDebt reports whether rows of this kind track money owed between host and platform.
func (k Kind) IsDebt() bool {
	return k == KindHostFeeShareDebt || k == KindPlatformTipDebt
}

func (k Kind) String() string { return string(k) }

// =============================================================================
// TYPE - Direction of a row
// =============================================================================

type Type string

const (
	Credit Type = "CREDIT"
	Debit  Type = "DEBIT"
)

// Opposite returns the other side of a pair.
func (t Type) Opposite() Type {
	if t == Credit {
		return Debit
	}
	return Credit
}

// =============================================================================
// FEES PAYER - Who absorbs the processor fee on an expense
// =============================================================================

type FeesPayer string

const (
	FeesPayerCollective FeesPayer = "COLLECTIVE"
	FeesPayerPayee      FeesPayer = "PAYEE"
)

// =============================================================================
// DATA - JSON metadata
// =============================================================================

type Data map[string]any

// Clone returns a shallow copy. Nil stays nil.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a copy of d with every key of extra written over it.
func (d Data) Merge(extra Data) Data {
	if d == nil && extra == nil {
		return nil
	}
	out := d.Clone()
	if out == nil {
		out = make(Data, len(extra))
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// =============================================================================
// ACTOR
// =============================================================================

// Actor identifies who requested a write. A nil UserID means the system.
type Actor struct {
	UserID *int64
}

func SystemActor() Actor { return Actor{} }

func UserActor(id int64) Actor { return Actor{UserID: &id} }

// =============================================================================
// TRANSACTION - One ledger row
// =============================================================================

type Transaction struct {
	ID          int64
	Group       uuid.UUID
	Kind        Kind
	Type        Type
	Description string

	// Parties
	CollectiveID     int64
	FromCollectiveID int64
	HostCollectiveID *int64

	// Money, collective currency
	Currency                      string
	Amount                        int64
	NetAmountInCollectiveCurrency int64

	// Money, host currency
	HostCurrency                      string
	HostCurrencyFxRate                decimal.Decimal
	AmountInHostCurrency              int64
	HostFeeInHostCurrency             int64
	PlatformFeeInHostCurrency         int64
	PaymentProcessorFeeInHostCurrency int64
	TaxAmount                         int64

	// Refund linkage
	IsRefund            bool
	IsDebt              bool
	RefundTransactionID *int64

	// Foreign references
	OrderID         *int64
	ExpenseID       *int64
	PaymentMethodID *int64
	PayoutMethodID  *int64

	CreatedByUserID *int64
	Data            Data
	CreatedAt       time.Time
}

// IsRefunded reports whether a refund has already been linked to this row.
func (t Transaction) IsRefunded() bool {
	return t.RefundTransactionID != nil
}

// FxRate returns the stored host currency rate, or 1 when none was recorded.
func (t Transaction) FxRate() decimal.Decimal {
	return normalizeRate(t.HostCurrencyFxRate)
}

// FeesPayer returns who paid the processor fee. Defaults to the collective.
func (t Transaction) FeesPayer() FeesPayer {
	if t.Data == nil {
		return FeesPayerCollective
	}
	v, ok := t.Data["feesPayer"]
	if !ok || v == nil {
		return FeesPayerCollective
	}
	s, ok := v.(string)
	if !ok {
		return FeesPayer(fmt.Sprint(v))
	}
	if s == "" {
		return FeesPayerCollective
	}
	return FeesPayer(s)
}

// TotalFeesInHostCurrency sums the four fee columns.
func (t Transaction) TotalFeesInHostCurrency() int64 {
	return t.HostFeeInHostCurrency + t.PlatformFeeInHostCurrency +
		t.PaymentProcessorFeeInHostCurrency + t.TaxAmount
}

func (t Transaction) String() string {
	return fmt.Sprintf("#%d %s %s %s %d %s", t.ID, t.Group, t.Kind, t.Type, t.Amount, t.Currency)
}

func int64Ptr(v int64) *int64 { return &v }

func copyInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return int64Ptr(*p)
}
