/*
ledger_test.go - Unit tests for the double-entry model

Tests for:
- Draft.Entries mirror rules
- Net amount identity and FX conversions
- Pair and net amount verification
- Settlement status transitions
- Error classification helpers
*/
package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntries_PositiveDraftIsCredit(t *testing.T) {
	// GIVEN: A contribution of 100.00 with a legacy processor fee column
	host := int64(1)
	d := Draft{
		Group:                             uuid.New(),
		Kind:                              KindContribution,
		CollectiveID:                      10,
		FromCollectiveID:                  20,
		HostCollectiveID:                  &host,
		Currency:                          "USD",
		Amount:                            10000,
		HostCurrency:                      "USD",
		HostCurrencyFxRate:                decimal.NewFromInt(1),
		AmountInHostCurrency:              10000,
		PaymentProcessorFeeInHostCurrency: -300,
	}.WithComputedNet()
	require.Equal(t, int64(9700), d.NetAmountInCollectiveCurrency)

	// WHEN
	credit, debit := d.Entries()

	// THEN: The draft row is the credit, the mirror swaps parties and amounts
	assert.Equal(t, Credit, credit.Type)
	assert.Equal(t, Debit, debit.Type)
	assert.Equal(t, int64(10), credit.CollectiveID)
	assert.Equal(t, int64(20), debit.CollectiveID)
	assert.Equal(t, int64(10), debit.FromCollectiveID)
	assert.Nil(t, debit.HostCollectiveID)
	assert.Equal(t, int64(-9700), debit.Amount)
	assert.Equal(t, int64(-10000), debit.NetAmountInCollectiveCurrency)
	assert.Equal(t, int64(-9700), debit.AmountInHostCurrency)
	assert.Equal(t, int64(-300), debit.PaymentProcessorFeeInHostCurrency)

	pair := Pair{Credit: &credit, Debit: &debit}
	assert.NoError(t, VerifyPair(pair))
	assert.NoError(t, VerifyNetAmount(credit))
	assert.NoError(t, VerifyNetAmount(debit))
}

func TestEntries_NegativeDraftIsDebit(t *testing.T) {
	host := int64(1)
	d := Draft{
		Group:                        uuid.New(),
		Kind:                         KindHostFee,
		CollectiveID:                 10,
		FromCollectiveID:             host,
		CounterpartyHostCollectiveID: &host,
		Currency:                     "USD",
		Amount:                       -450,
		HostCurrency:                 "USD",
		HostCurrencyFxRate:           decimal.NewFromInt(1),
		AmountInHostCurrency:         -450,
	}.WithComputedNet()

	credit, debit := d.Entries()

	assert.Equal(t, int64(10), debit.CollectiveID)
	assert.Equal(t, int64(-450), debit.Amount)
	assert.Equal(t, host, credit.CollectiveID)
	assert.Equal(t, int64(450), credit.Amount)
	require.NotNil(t, credit.HostCollectiveID)
	assert.Equal(t, host, *credit.HostCollectiveID)
	assert.Zero(t, credit.Amount+debit.Amount, "pair without fee columns sums to zero")
}

func TestEntries_DataIsCopied(t *testing.T) {
	d := Draft{Amount: 1, Data: Data{"a": 1}}
	credit, debit := d.Entries()
	credit.Data["a"] = 2
	assert.Equal(t, 1, debit.Data["a"])
	assert.Equal(t, 1, d.Data["a"])
}

func TestComputeNet_WithFX(t *testing.T) {
	// 10.00 EUR at 1.1 USD/EUR is 11.00 USD
	fx := decimal.RequireFromString("1.1")
	assert.Equal(t, int64(1100), ToHostCurrency(1000, fx))
	assert.Equal(t, int64(1000), ToCollectiveCurrency(1100, fx))
	assert.Equal(t, int64(727), ComputeNet(1100, -300, fx))

	// A missing rate means 1
	assert.Equal(t, int64(800), ComputeNet(1000, -200, decimal.Zero))
}

func TestVerifyNetAmount_Tolerance(t *testing.T) {
	row := Transaction{
		ID: 1, Kind: KindContribution, Amount: 1000, AmountInHostCurrency: 1000,
		HostCurrencyFxRate: decimal.NewFromInt(1), NetAmountInCollectiveCurrency: 991,
	}
	assert.NoError(t, VerifyNetAmount(row), "9 cents off is tolerated")

	row.NetAmountInCollectiveCurrency = 990
	err := VerifyNetAmount(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	var violation *InvariantViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "I2", violation.Invariant)
	assert.Equal(t, int64(1), violation.TransactionID)
}

func TestVerifyPair(t *testing.T) {
	base := func() (Transaction, Transaction) {
		return Draft{Kind: KindContribution, CollectiveID: 10, FromCollectiveID: 20, Amount: 500, AmountInHostCurrency: 500}.
			WithComputedNet().Entries()
	}

	t.Run("unbalanced", func(t *testing.T) {
		c, d := base()
		d.Amount = -499
		assert.ErrorIs(t, VerifyPair(Pair{Credit: &c, Debit: &d}), ErrInvariantViolation)
	})

	t.Run("parties not swapped", func(t *testing.T) {
		c, d := base()
		d.CollectiveID = 30
		assert.ErrorIs(t, VerifyPair(Pair{Credit: &c, Debit: &d}), ErrInvariantViolation)
	})

	t.Run("missing counterpart", func(t *testing.T) {
		c, _ := base()
		assert.ErrorIs(t, VerifyPair(Pair{Credit: &c}), ErrInvariantViolation)
	})

	t.Run("debt pairs are exempt", func(t *testing.T) {
		c, d := base()
		c.IsDebt, d.IsDebt = true, true
		d.Amount = 1
		assert.NoError(t, VerifyPair(Pair{Credit: &c, Debit: &d}))

		assert.NoError(t, VerifyPair(Pair{Debit: &d}))
	})
}

func TestPairFromAndQuadFrom(t *testing.T) {
	original, refund := uuid.New(), uuid.New()
	rows := []Transaction{
		{ID: 1, Group: original, Type: Credit},
		{ID: 2, Group: original, Type: Debit},
		{ID: 3, Group: refund, Type: Credit},
		{ID: 4, Group: refund, Type: Debit},
	}

	p := PairFrom(rows[:2])
	require.True(t, p.Found())
	assert.Equal(t, int64(1), p.Credit.ID)
	assert.Equal(t, int64(2), p.Debit.ID)

	q := QuadFrom(rows, original, refund)
	require.True(t, q.Complete())
	assert.Equal(t, int64(3), q.RefundCredit.ID)
	assert.Equal(t, int64(4), q.RefundDebit.ID)

	assert.False(t, QuadFrom(rows[:3], original, refund).Complete())
}

func TestSettlementStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SettlementStatus
		allowed  bool
	}{
		{SettlementOwed, SettlementOwed, true},
		{SettlementOwed, SettlementInvoiced, true},
		{SettlementOwed, SettlementSettled, true},
		{SettlementInvoiced, SettlementSettled, true},
		{SettlementSettled, SettlementSettled, true},
		{SettlementInvoiced, SettlementOwed, false},
		{SettlementSettled, SettlementInvoiced, false},
		{SettlementSettled, SettlementOwed, false},
		{SettlementOwed, SettlementStatus("PAID"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))

			err := CheckTransition(uuid.New(), KindPlatformTipDebt, tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}

	_, err := ParseSettlementStatus("PAID")
	assert.Error(t, err)
	s, err := ParseSettlementStatus("INVOICED")
	require.NoError(t, err)
	assert.Equal(t, SettlementInvoiced, s)
}

func TestKinds(t *testing.T) {
	for _, k := range AllKinds() {
		parsed, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("GIFT_CARD")
	assert.Error(t, err)

	assert.True(t, KindHostFeeShareDebt.IsDebt())
	assert.True(t, KindPlatformTipDebt.IsDebt())
	assert.False(t, KindHostFeeShare.IsDebt())
	assert.Equal(t, Debit, Credit.Opposite())
}

func TestTransaction_FeesPayer(t *testing.T) {
	assert.Equal(t, FeesPayerCollective, Transaction{}.FeesPayer())
	assert.Equal(t, FeesPayerCollective, Transaction{Data: Data{"feesPayer": ""}}.FeesPayer())
	assert.Equal(t, FeesPayerPayee, Transaction{Data: Data{"feesPayer": "PAYEE"}}.FeesPayer())
	assert.Equal(t, FeesPayer("SPLIT"), Transaction{Data: Data{"feesPayer": "SPLIT"}}.FeesPayer())
}

func TestData_Merge(t *testing.T) {
	base := Data{"a": 1, "b": 2}
	merged := base.Merge(Data{"b": 3, "c": 4})

	assert.Equal(t, Data{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Data{"a": 1, "b": 2}, base, "receiver is not modified")
	assert.Nil(t, Data(nil).Merge(nil))
	assert.Equal(t, Data{"x": true}, Data(nil).Merge(Data{"x": true}))
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("refund 7: %w", ErrAlreadyRefunded)
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsClientError(wrapped))

	assert.True(t, IsClientError(&UnsupportedFeesPayerError{TransactionID: 1, FeesPayer: "SPLIT"}))
	assert.True(t, IsClientError(&InvalidTransitionError{From: SettlementSettled, To: SettlementOwed}))
	assert.True(t, IsClientError(ErrRefundOfRefund))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrTransactionNotFound)))
	assert.True(t, errors.Is(&PartialProcessorFeeRefundError{}, ErrPartialProcessorFeeRefundUnsupported))
}
