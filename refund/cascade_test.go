package refund

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// MockReporter records reported fee mismatches.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) ReportPartialFeeRefund(ctx context.Context, err *ledger.PartialProcessorFeeRefundError) {
	m.Called(ctx, err)
}

func newCascade(reporter Reporter) *Cascade {
	return NewCascade(nil, reporter, nil, nil)
}

func refundPairOf(t *testing.T, st ledger.Store, group uuid.UUID, kind ledger.Kind) ledger.Pair {
	t.Helper()
	p, err := ledger.FindPair(context.Background(), st, group, kind)
	require.NoError(t, err)
	return p
}

func TestCascade_RefundsEverySatellite(t *testing.T) {
	// GIVEN: A contribution with a processor fee satellite
	s := seedContribution(t)
	c := newCascade(nil)

	// WHEN: The processor returned the whole fee
	out, err := runInTx(t, c, s.st, s.main().Credit.ID, Request{
		RefundedProcessorFee: 300,
		Data:                 ledger.Data{"refundReason": "duplicate"},
		Actor:                ledger.UserActor(99),
	})

	// THEN: One refund pair per original pair, in cascade order
	require.NoError(t, err)
	require.Len(t, out.Pairs, 7)
	var kinds []ledger.Kind
	for _, p := range out.Pairs {
		kinds = append(kinds, p.Credit.Kind)
		assert.Equal(t, out.RefundGroup, p.Credit.Group)
		assert.True(t, p.Credit.IsRefund)
		assert.True(t, p.Debit.IsRefund)
	}
	assert.Equal(t, []ledger.Kind{
		ledger.KindPlatformTip,
		ledger.KindPlatformTipDebt,
		ledger.KindPaymentProcessorFee,
		ledger.KindHostFee,
		ledger.KindHostFeeShare,
		ledger.KindHostFeeShareDebt,
		ledger.KindContribution,
	}, kinds)
	assert.Empty(t, out.Reports)

	// AND: Every original row points at its opposite refund row
	ctx := context.Background()
	for kind, p := range s.pairs {
		refund := refundPairOf(t, s.st, out.RefundGroup, kind)
		require.True(t, refund.Found(), "kind %s", kind)

		credit, err := s.st.GetTransaction(ctx, p.Credit.ID)
		require.NoError(t, err)
		debit, err := s.st.GetTransaction(ctx, p.Debit.ID)
		require.NoError(t, err)
		require.NotNil(t, credit.RefundTransactionID, "kind %s", kind)
		require.NotNil(t, debit.RefundTransactionID, "kind %s", kind)
		assert.Equal(t, refund.Debit.ID, *credit.RefundTransactionID)
		assert.Equal(t, refund.Credit.ID, *debit.RefundTransactionID)
		assert.Equal(t, p.Debit.ID, *refund.Credit.RefundTransactionID)
		assert.Equal(t, p.Credit.ID, *refund.Debit.RefundTransactionID)
	}

	// AND: The reason lands on the original main pair and the main refund only
	assert.Equal(t, "duplicate", out.Original.Data["refundReason"])
	assert.Equal(t, "duplicate", out.Refund.Credit.Data["refundReason"])
	tipRefund := refundPairOf(t, s.st, out.RefundGroup, ledger.KindPlatformTip)
	assert.Nil(t, tipRefund.Credit.Data["refundReason"])

	// AND: Everybody is back where they started
	groups := []uuid.UUID{s.group, out.RefundGroup}
	assert.Equal(t, int64(8250), balanceOf(t, s.st, []uuid.UUID{s.group}, collectiveID))
	assert.Zero(t, balanceOf(t, s.st, groups, collectiveID))
	assert.Zero(t, balanceOf(t, s.st, groups, hostID))
	assert.Zero(t, balanceOf(t, s.st, groups, platformID))
	assert.Zero(t, balanceOf(t, s.st, groups, contributorID))

	violations, err := ledger.VerifyGroup(ctx, s.st, out.RefundGroup)
	require.NoError(t, err)
	assert.Empty(t, violations)

	// AND: Both debt refunds are owed in the next settlement cycle
	for _, kind := range []ledger.Kind{ledger.KindPlatformTipDebt, ledger.KindHostFeeShareDebt} {
		settlement, err := s.st.FindSettlement(ctx, out.RefundGroup, kind)
		require.NoError(t, err)
		require.NotNil(t, settlement, "kind %s", kind)
		assert.Equal(t, ledger.SettlementOwed, settlement.Status)

		original, err := s.st.FindSettlement(ctx, s.group, kind)
		require.NoError(t, err)
		assert.Equal(t, ledger.SettlementOwed, original.Status, "owed debts are left alone")
	}

	assert.Equal(t, int64(99), *out.Refund.Credit.CreatedByUserID)
}

func TestCascade_DebitIsNormalizedToCredit(t *testing.T) {
	s := seedContribution(t)

	out, err := runInTx(t, newCascade(nil), s.st, s.main().Debit.ID, Request{RefundedProcessorFee: 300})

	require.NoError(t, err)
	assert.Equal(t, s.main().Credit.ID, out.Original.ID)
	assert.Equal(t, ledger.Credit, out.Original.Type)
	assert.Equal(t, out.Refund.Debit.ID, *out.Original.RefundTransactionID)
}

func TestCascade_SecondRefundFails(t *testing.T) {
	// GIVEN: A contribution already refunded
	s := seedContribution(t)
	c := newCascade(nil)
	first, err := runInTx(t, c, s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})
	require.NoError(t, err)
	written := first.Refund.Debit.ID
	for _, p := range first.Pairs {
		if p.Debit.ID > written {
			written = p.Debit.ID
		}
		if p.Credit.ID > written {
			written = p.Credit.ID
		}
	}

	// WHEN: It is refunded again
	_, err = runInTx(t, c, s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})

	// THEN: Nothing new is written
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
	next, err := s.st.GetTransaction(context.Background(), written+1)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCascade_RefusesRefundRows(t *testing.T) {
	st := store.NewTxMemory()
	d := ledger.Draft{
		Group:                uuid.New(),
		Kind:                 ledger.KindContribution,
		CollectiveID:         collectiveID,
		FromCollectiveID:     contributorID,
		Currency:             "USD",
		Amount:               -500,
		HostCurrency:         "USD",
		HostCurrencyFxRate:   decimal.NewFromInt(1),
		AmountInHostCurrency: -500,
		IsRefund:             true,
	}.WithComputedNet()
	pair, err := st.CreateDoubleEntry(context.Background(), d)
	require.NoError(t, err)

	_, err = runInTx(t, newCascade(nil), st, pair.Credit.ID, Request{})
	assert.ErrorIs(t, err, ledger.ErrRefundOfRefund)
}

func TestCascade_MissingTransaction(t *testing.T) {
	_, err := newCascade(nil).Run(context.Background(), store.NewMemory(), nil, Request{})
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestCascade_PartialProcessorFeeIsReported(t *testing.T) {
	// GIVEN: The processor only gave back 2.00 of a 3.00 fee
	s := seedContribution(t)
	ppf := s.pairs[ledger.KindPaymentProcessorFee]
	reporter := new(MockReporter)
	reporter.On("ReportPartialFeeRefund", mock.Anything, &ledger.PartialProcessorFeeRefundError{
		TransactionID: ppf.Credit.ID, Refunded: 200, Recorded: 300,
	}).Once()

	// WHEN
	out, err := runInTx(t, newCascade(reporter), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 200})

	// THEN: The refund goes through without the fee pair
	require.NoError(t, err)
	reporter.AssertExpectations(t)
	assert.Len(t, out.Pairs, 6)
	require.Len(t, out.Reports, 1)
	assert.ErrorIs(t, out.Reports[0], ledger.ErrPartialProcessorFeeRefundUnsupported)

	row, err := s.st.GetTransaction(context.Background(), ppf.Credit.ID)
	require.NoError(t, err)
	assert.Nil(t, row.RefundTransactionID)
	assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorFee).Found())
}

func TestCascade_KeptProcessorFeeIsNotRefunded(t *testing.T) {
	s := seedContribution(t)
	reporter := new(MockReporter)

	out, err := runInTx(t, newCascade(reporter), s.st, s.main().Credit.ID, Request{})

	require.NoError(t, err)
	reporter.AssertNotCalled(t, "ReportPartialFeeRefund", mock.Anything, mock.Anything)
	assert.Len(t, out.Pairs, 6)
	assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorFee).Found())
	assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorCover).Found())

	// The collective is short of the fee the processor kept.
	groups := []uuid.UUID{s.group, out.RefundGroup}
	assert.Equal(t, int64(-300), balanceOf(t, s.st, groups, collectiveID))
}

func TestCascade_LegacyFee(t *testing.T) {
	t.Run("processor kept the fee: host covers it", func(t *testing.T) {
		s := seedContribution(t, withLegacyFee())

		out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{})

		require.NoError(t, err)
		assert.Len(t, out.Pairs, 7)
		cover := refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorCover)
		require.True(t, cover.Found())
		assert.Equal(t, collectiveID, cover.Credit.CollectiveID)
		assert.Equal(t, hostID, cover.Credit.FromCollectiveID)
		assert.Equal(t, int64(300), cover.Credit.Amount)
		assert.True(t, cover.Credit.IsRefund)
		assert.Equal(t, s.main().Credit.ID, cover.Credit.Data["refundedTransactionId"])
		assert.Equal(t, hostID, cover.Debit.CollectiveID)

		// The main refund gives the fee column back
		assert.Equal(t, int64(300), out.Refund.Credit.PaymentProcessorFeeInHostCurrency)
	})

	t.Run("payee pays the fee: no cover", func(t *testing.T) {
		s := seedContribution(t, withLegacyFee(), withFeesPayer("PAYEE"))

		out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{})

		require.NoError(t, err)
		assert.Len(t, out.Pairs, 6)
		assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorCover).Found())
	})

	t.Run("processor refunded the fee: no cover", func(t *testing.T) {
		s := seedContribution(t, withLegacyFee())
		reporter := new(MockReporter)

		out, err := runInTx(t, newCascade(reporter), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})

		require.NoError(t, err)
		reporter.AssertNotCalled(t, "ReportPartialFeeRefund", mock.Anything, mock.Anything)
		assert.Len(t, out.Pairs, 6)
		assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindPaymentProcessorCover).Found())
	})

	t.Run("mismatch is reported", func(t *testing.T) {
		s := seedContribution(t, withLegacyFee())
		reporter := new(MockReporter)
		reporter.On("ReportPartialFeeRefund", mock.Anything, mock.MatchedBy(func(e *ledger.PartialProcessorFeeRefundError) bool {
			return e.TransactionID == s.main().Credit.ID && e.Refunded == 100 && e.Recorded == 300
		})).Once()

		out, err := runInTx(t, newCascade(reporter), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 100})

		require.NoError(t, err)
		reporter.AssertExpectations(t)
		assert.Len(t, out.Pairs, 6)
		assert.Len(t, out.Reports, 1)
	})
}

func TestCascade_SkipsSatelliteRefundedBefore(t *testing.T) {
	// GIVEN: The host fee was refunded on its own
	s := seedContribution(t)
	hostFee := s.pairs[ledger.KindHostFee]
	require.NoError(t, s.st.SetRefundTransactionID(context.Background(), hostFee.Credit.ID, 9999))

	// WHEN
	out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})

	// THEN
	require.NoError(t, err)
	assert.Len(t, out.Pairs, 6)
	assert.False(t, refundPairOf(t, s.st, out.RefundGroup, ledger.KindHostFee).Found())
	row, err := s.st.GetTransaction(context.Background(), hostFee.Credit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), *row.RefundTransactionID)
}

func TestCascade_InvoicedDebtIsSettled(t *testing.T) {
	s := seedContribution(t, withTipDebtStatus(ledger.SettlementInvoiced))
	ctx := context.Background()

	out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})
	require.NoError(t, err)

	original, err := s.st.FindSettlement(ctx, s.group, ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementSettled, original.Status)

	refund, err := s.st.FindSettlement(ctx, out.RefundGroup, ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, ledger.SettlementOwed, refund.Status)

	share, err := s.st.FindSettlement(ctx, s.group, ledger.KindHostFeeShareDebt)
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementOwed, share.Status)
}

func TestCascade_InvoicedShareDebtIsSettled(t *testing.T) {
	// GIVEN: The host fee share debt is already on an invoice
	s := seedContribution(t, withShareDebtStatus(ledger.SettlementInvoiced))
	ctx := context.Background()

	// WHEN
	out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})
	require.NoError(t, err)

	// THEN: The invoiced row is settled and the refund is owed in the next cycle
	original, err := s.st.FindSettlement(ctx, s.group, ledger.KindHostFeeShareDebt)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, ledger.SettlementSettled, original.Status)

	refund, err := s.st.FindSettlement(ctx, out.RefundGroup, ledger.KindHostFeeShareDebt)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, ledger.SettlementOwed, refund.Status)
	assert.ErrorIs(t, s.st.CreateSettlement(ctx, ledger.NewSettlement(*refundPairOf(t, s.st, out.RefundGroup, ledger.KindHostFeeShareDebt).Credit, ledger.SettlementOwed)), ledger.ErrDuplicateSettlement)

	// AND: The tip debt was owed and stays owed
	tip, err := s.st.FindSettlement(ctx, s.group, ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementOwed, tip.Status)
}

func TestCascade_DataReplacesOriginalData(t *testing.T) {
	s := seedContribution(t, withFeesPayer("COLLECTIVE"))
	ctx := context.Background()

	_, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{
		RefundedProcessorFee: 300,
		Data:                 ledger.Data{"charge": "refunded"},
	})
	require.NoError(t, err)

	for _, id := range []int64{s.main().Credit.ID, s.main().Debit.ID} {
		row, err := s.st.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.Data{"charge": "refunded"}, row.Data)
	}
}

func TestCascade_MissingSettlementIsTreatedAsOwed(t *testing.T) {
	s := seedContribution(t, withoutSettlements())
	ctx := context.Background()

	out, err := runInTx(t, newCascade(nil), s.st, s.main().Credit.ID, Request{RefundedProcessorFee: 300})
	require.NoError(t, err)

	original, err := s.st.FindSettlement(ctx, s.group, ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	assert.Nil(t, original)

	refund, err := s.st.FindSettlement(ctx, out.RefundGroup, ledger.KindPlatformTipDebt)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, ledger.SettlementOwed, refund.Status)
}

func TestCascade_FailureRollsBackEverything(t *testing.T) {
	// GIVEN: An expense with a host fee and an unsupported fees payer
	st := store.NewTxMemory()
	ctx := context.Background()
	group := uuid.New()
	one := decimal.NewFromInt(1)

	exp, err := st.CreateDoubleEntry(ctx, ledger.Draft{
		Group:                             group,
		Kind:                              ledger.KindExpense,
		CollectiveID:                      30,
		FromCollectiveID:                  collectiveID,
		HostCollectiveID:                  ptr(hostID),
		Currency:                          "USD",
		Amount:                            5000,
		HostCurrency:                      "USD",
		HostCurrencyFxRate:                one,
		AmountInHostCurrency:              5000,
		PaymentProcessorFeeInHostCurrency: -100,
		ExpenseID:                         ptr(77),
		Data:                              ledger.Data{"feesPayer": "SPLIT"},
	}.WithComputedNet())
	require.NoError(t, err)
	fee, err := st.CreateDoubleEntry(ctx, ledger.Draft{
		Group:                group,
		Kind:                 ledger.KindHostFee,
		CollectiveID:         collectiveID,
		FromCollectiveID:     hostID,
		Currency:             "USD",
		Amount:               -250,
		HostCurrency:         "USD",
		HostCurrencyFxRate:   one,
		AmountInHostCurrency: -250,
	}.WithComputedNet())
	require.NoError(t, err)

	// WHEN: The main refund fails after the host fee refund was written
	_, err = runInTx(t, newCascade(nil), st, exp.Credit.ID, Request{})

	// THEN: The host fee refund is gone too
	assert.ErrorIs(t, err, ledger.ErrUnsupportedFeesPayer)
	row, err := st.GetTransaction(ctx, fee.Credit.ID)
	require.NoError(t, err)
	assert.Nil(t, row.RefundTransactionID)
	next, err := st.GetTransaction(ctx, fee.Credit.ID+1)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCascade_RefundOutsideATransaction(t *testing.T) {
	s := seedContribution(t)
	tx, err := s.st.GetTransaction(context.Background(), s.main().Credit.ID)
	require.NoError(t, err)

	refunded, err := newCascade(nil).Refund(context.Background(), s.st, tx, Request{RefundedProcessorFee: 300})

	require.NoError(t, err)
	assert.True(t, refunded.IsRefunded())
}
