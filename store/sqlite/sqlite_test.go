package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v int64) *int64 { return &v }

func contributionDraft(group uuid.UUID) ledger.Draft {
	return ledger.Draft{
		Group:                        group,
		Kind:                         ledger.KindContribution,
		Description:                  "Monthly donation",
		CollectiveID:                 10,
		FromCollectiveID:             20,
		HostCollectiveID:             ptr(1),
		CounterpartyHostCollectiveID: nil,
		Currency:                     "USD",
		Amount:                       9000,
		HostCurrency:                 "USD",
		HostCurrencyFxRate:           decimal.NewFromInt(1),
		AmountInHostCurrency:         9000,
		OrderID:                      ptr(5),
		Data:                         ledger.Data{"source": "test"},
	}.WithComputedNet()
}

func TestCreateDoubleEntry_RoundTrip(t *testing.T) {
	// GIVEN: An empty store
	s := newTestStore(t)
	ctx := context.Background()
	group := uuid.New()

	// WHEN: A contribution pair is created
	pair, err := s.CreateDoubleEntry(ctx, contributionDraft(group))
	require.NoError(t, err)

	// THEN: The credit is the draft row and has the lower id
	require.True(t, pair.Found())
	assert.Less(t, pair.Credit.ID, pair.Debit.ID)

	got, err := s.GetTransaction(ctx, pair.Credit.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, group, got.Group)
	assert.Equal(t, ledger.Credit, got.Type)
	assert.Equal(t, int64(9000), got.Amount)
	assert.Equal(t, int64(9000), got.NetAmountInCollectiveCurrency)
	assert.True(t, decimal.NewFromInt(1).Equal(got.HostCurrencyFxRate))
	assert.Equal(t, int64(5), *got.OrderID)
	assert.Equal(t, "test", got.Data["source"])
	assert.Nil(t, got.RefundTransactionID)

	debit, err := s.GetTransaction(ctx, pair.Debit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), debit.CollectiveID)
	assert.Equal(t, int64(10), debit.FromCollectiveID)
	assert.Equal(t, int64(-9000), debit.Amount)
	assert.Nil(t, debit.HostCollectiveID)

	rows, err := s.FindByGroupAndKind(ctx, group, ledger.KindContribution)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NoError(t, ledger.VerifyPair(ledger.PairFrom(rows)))
}

func TestCreateDoubleEntry_DuplicateKindInGroupFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	group := uuid.New()

	_, err := s.CreateDoubleEntry(ctx, contributionDraft(group))
	require.NoError(t, err)

	_, err = s.CreateDoubleEntry(ctx, contributionDraft(group))
	require.Error(t, err)

	rows, err := s.FindByGroup(ctx, group)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "failed pair must not leave a half-written row")
}

func TestGetTransaction_Missing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetTransaction(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetRefundTransactionID_OnlyOnce(t *testing.T) {
	// GIVEN: A pair and its refund pair
	s := newTestStore(t)
	ctx := context.Background()
	original, err := s.CreateDoubleEntry(ctx, contributionDraft(uuid.New()))
	require.NoError(t, err)
	refund, err := s.CreateDoubleEntry(ctx, contributionDraft(uuid.New()))
	require.NoError(t, err)

	// WHEN: The original credit is linked twice
	require.NoError(t, s.SetRefundTransactionID(ctx, original.Credit.ID, refund.Debit.ID))
	err = s.SetRefundTransactionID(ctx, original.Credit.ID, refund.Credit.ID)

	// THEN: The second link is rejected and the first one is kept
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
	got, err := s.GetTransaction(ctx, original.Credit.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefundTransactionID)
	assert.Equal(t, refund.Debit.ID, *got.RefundTransactionID)

	assert.ErrorIs(t, s.SetRefundTransactionID(ctx, 999, refund.Debit.ID), ledger.ErrTransactionNotFound)
}

func TestFindTransactionQuad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	originalGroup, refundGroup := uuid.New(), uuid.New()

	_, err := s.CreateDoubleEntry(ctx, contributionDraft(originalGroup))
	require.NoError(t, err)

	quad, err := s.FindTransactionQuad(ctx, originalGroup, refundGroup, ledger.KindContribution)
	require.NoError(t, err)
	assert.False(t, quad.Complete())

	_, err = s.CreateDoubleEntry(ctx, contributionDraft(refundGroup))
	require.NoError(t, err)

	quad, err = s.FindTransactionQuad(ctx, originalGroup, refundGroup, ledger.KindContribution)
	require.NoError(t, err)
	require.True(t, quad.Complete())
	assert.Equal(t, originalGroup, quad.Credit.Group)
	assert.Equal(t, refundGroup, quad.RefundDebit.Group)
}

func TestUpdateTransactionData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pair, err := s.CreateDoubleEntry(ctx, contributionDraft(uuid.New()))
	require.NoError(t, err)

	require.NoError(t, s.UpdateTransactionData(ctx, pair.Credit.ID, ledger.Data{"refundReason": "duplicate"}))

	got, err := s.GetTransaction(ctx, pair.Credit.ID)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", got.Data["refundReason"])
	assert.ErrorIs(t, s.UpdateTransactionData(ctx, 999, nil), ledger.ErrTransactionNotFound)
}

func TestSettlements_Lifecycle(t *testing.T) {
	// GIVEN: An OWED settlement
	s := newTestStore(t)
	ctx := context.Background()
	group := uuid.New()
	require.NoError(t, s.CreateSettlement(ctx, ledger.Settlement{
		Group: group, Kind: ledger.KindHostFeeShareDebt, Status: ledger.SettlementOwed,
	}))

	// WHEN/THEN: It moves forward only
	require.NoError(t, s.UpdateSettlementStatus(ctx, group, ledger.KindHostFeeShareDebt, ledger.SettlementInvoiced))
	require.NoError(t, s.UpdateSettlementStatus(ctx, group, ledger.KindHostFeeShareDebt, ledger.SettlementSettled))

	err := s.UpdateSettlementStatus(ctx, group, ledger.KindHostFeeShareDebt, ledger.SettlementOwed)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	got, err := s.FindSettlement(ctx, group, ledger.KindHostFeeShareDebt)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.SettlementSettled, got.Status)

	assert.ErrorIs(t, s.CreateSettlement(ctx, ledger.Settlement{
		Group: group, Kind: ledger.KindHostFeeShareDebt, Status: ledger.SettlementOwed,
	}), ledger.ErrDuplicateSettlement)

	missing, err := s.FindSettlement(ctx, uuid.New(), ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.UpdateSettlementStatus(ctx, uuid.New(), ledger.KindPlatformTipDebt, ledger.SettlementSettled),
		ledger.ErrSettlementNotFound)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A unit of work that writes a pair then fails
	s := newTestStore(t)
	ctx := context.Background()
	group := uuid.New()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st ledger.Store) error {
		if _, err := st.CreateDoubleEntry(ctx, contributionDraft(group)); err != nil {
			return err
		}
		rows, err := st.FindByGroup(ctx, group)
		if err != nil {
			return err
		}
		assert.Len(t, rows, 2, "writes are visible inside the transaction")
		return boom
	})

	// THEN: Nothing is persisted
	assert.ErrorIs(t, err, boom)
	rows, err := s.FindByGroup(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWithTx_Commit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	group := uuid.New()

	err := s.WithTx(ctx, func(st ledger.Store) error {
		pair, err := st.CreateDoubleEntry(ctx, contributionDraft(group))
		if err != nil {
			return err
		}
		return st.CreateSettlement(ctx, ledger.NewSettlement(*pair.Credit, ledger.SettlementOwed))
	})
	require.NoError(t, err)

	rows, err := s.FindByGroup(ctx, group)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	settlement, err := s.FindSettlement(ctx, group, ledger.KindContribution)
	require.NoError(t, err)
	assert.NotNil(t, settlement)
}

func TestDirectory_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := fees.Collective{
		ID: 1, Slug: "host", Currency: "USD",
		HostFeePercent: fees.Percent(8),
		Settings:       fees.FeeSettings{StripeHostFeePercent: fees.Percent(4.5)},
		Plan:           &fees.HostPlan{HostFeeSharePercent: fees.Percent(10)},
	}
	require.NoError(t, s.SaveCollective(ctx, host))
	require.NoError(t, s.SaveCollective(ctx, fees.Collective{ID: 10, Slug: "babel", Currency: "USD", HostCollectiveID: ptr(1)}))
	require.NoError(t, s.SavePaymentMethod(ctx, fees.PaymentMethod{ID: 3, Service: "stripe", Type: "creditcard", Currency: "USD"}))
	require.NoError(t, s.SaveOrder(ctx, fees.Order{
		ID: 5, CollectiveID: 10, FromCollectiveID: 20, PaymentMethodID: ptr(3),
		Currency: "USD", TotalAmount: 10000, PlatformTipAmount: 1000,
	}))

	gotHost, err := s.GetCollective(ctx, 1)
	require.NoError(t, err)
	require.True(t, gotHost.HostFeePercent.Valid)
	assert.True(t, decimal.NewFromInt(8).Equal(gotHost.HostFeePercent.Decimal))
	require.True(t, gotHost.Settings.StripeHostFeePercent.Valid)
	assert.Equal(t, "4.5", gotHost.Settings.StripeHostFeePercent.Decimal.String())
	require.NotNil(t, gotHost.Plan)
	assert.True(t, gotHost.Plan.HostFeeSharePercent.Valid)

	collective, err := s.GetCollective(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, collective.Plan)
	assert.False(t, collective.HostFeePercent.Valid)

	pm, err := s.GetPaymentMethod(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, fees.FamilyCard, pm.Family())

	order, err := s.GetOrder(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), order.PlatformTipAmount)
	assert.False(t, order.HostFeePercent.Valid)

	_, err = s.GetOrder(ctx, 404)
	assert.ErrorIs(t, err, fees.ErrNotFound)
}
