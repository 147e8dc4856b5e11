package contribution

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/fx"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/refund"
)

const (
	hostID        int64 = 1
	platformID    int64 = 2
	collectiveID  int64 = 10
	contributorID int64 = 20
	cardID        int64 = 3
)

func ptr(v int64) *int64 { return &v }

type env struct {
	st       *store.TxMemory
	recorder *Recorder
}

// newEnv: a USD host charging 5% on card payments to a USD collective.
func newEnv(t *testing.T, collectiveCurrency string) env {
	t.Helper()
	ctx := context.Background()
	st := store.NewTxMemory()

	host := fees.Collective{ID: hostID, Slug: "host", Currency: "USD"}
	host.Settings.StripeHostFeePercent = fees.Percent(5)
	require.NoError(t, st.SaveCollective(ctx, host))
	require.NoError(t, st.SaveCollective(ctx, fees.Collective{ID: collectiveID, Slug: "babel", Currency: collectiveCurrency, HostCollectiveID: ptr(hostID)}))
	require.NoError(t, st.SaveCollective(ctx, fees.Collective{ID: collectiveID + 1, Slug: "orphan", Currency: "USD"}))
	require.NoError(t, st.SavePaymentMethod(ctx, fees.PaymentMethod{ID: cardID, Service: "stripe", Type: "creditcard"}))

	rec := NewRecorder(Config{
		Store:                st,
		Directory:            st,
		Resolver:             fees.NewResolver(st, fees.DefaultDefaults(), nil),
		FX:                   fx.NewStatic(map[string]decimal.Decimal{"EUR/USD": decimal.RequireFromString("1.1")}),
		PlatformCollectiveID: platformID,
	})
	return env{st: st, recorder: rec}
}

func (e env) order(t *testing.T, o fees.Order) {
	t.Helper()
	if o.CollectiveID == 0 {
		o.CollectiveID = collectiveID
	}
	o.FromCollectiveID = contributorID
	o.PaymentMethodID = ptr(cardID)
	require.NoError(t, e.st.SaveOrder(context.Background(), o))
}

func balance(t *testing.T, st ledger.Store, groups []uuid.UUID, collective int64) int64 {
	t.Helper()
	var total int64
	for _, g := range groups {
		rows, err := st.FindByGroup(context.Background(), g)
		require.NoError(t, err)
		for _, row := range rows {
			if row.CollectiveID == collective {
				total += row.NetAmountInCollectiveCurrency
			}
		}
	}
	return total
}

func TestRecord_DecomposesTheCharge(t *testing.T) {
	// GIVEN: $100 with a $10 tip, paid by card with a $3 processor fee
	e := newEnv(t, "USD")
	e.order(t, fees.Order{ID: 5, Currency: "USD", TotalAmount: 10000, PlatformTipAmount: 1000})
	ctx := context.Background()

	// WHEN
	rec, err := e.recorder.Record(ctx, 5, Charge{ProcessorFeeInHostCurrency: 300, Description: "Donation to Babel"})

	// THEN: Every satellite exists with the resolved percents
	require.NoError(t, err)
	assert.Equal(t, "5", rec.HostFeePercent.String())
	assert.Equal(t, "15", rec.HostFeeSharePercent.String())
	assert.Len(t, rec.Pairs, 7)

	amounts := map[ledger.Kind]int64{
		ledger.KindContribution:        9000,
		ledger.KindPlatformTip:         1000,
		ledger.KindPlatformTipDebt:     -1000,
		ledger.KindPaymentProcessorFee: -300,
		ledger.KindHostFee:             -450,
		ledger.KindHostFeeShare:        -68,
		ledger.KindHostFeeShareDebt:    -68,
	}
	for kind, want := range amounts {
		pair, ok := rec.Pairs[kind]
		require.True(t, ok, "kind %s", kind)
		draftRow := pair.Credit
		if want < 0 {
			draftRow = pair.Debit
		}
		assert.Equal(t, want, draftRow.Amount, "kind %s", kind)
		assert.Equal(t, rec.Group, draftRow.Group)
		assert.Equal(t, int64(5), *draftRow.OrderID)
	}

	assert.Equal(t, collectiveID, rec.Main().Credit.CollectiveID)
	assert.Equal(t, contributorID, rec.Main().Debit.CollectiveID)
	assert.Equal(t, platformID, rec.Pairs[ledger.KindPlatformTip].Credit.CollectiveID)
	assert.Equal(t, hostID, rec.Pairs[ledger.KindHostFee].Credit.CollectiveID)
	assert.Equal(t, platformID, rec.Pairs[ledger.KindHostFeeShare].Credit.CollectiveID)

	// AND: Debts start owed
	for _, kind := range []ledger.Kind{ledger.KindPlatformTipDebt, ledger.KindHostFeeShareDebt} {
		s, err := e.st.FindSettlement(ctx, rec.Group, kind)
		require.NoError(t, err)
		require.NotNil(t, s, "kind %s", kind)
		assert.Equal(t, ledger.SettlementOwed, s.Status)
	}

	// AND: The collective keeps 100 - 10 - 3 - 4.50
	assert.Equal(t, int64(8250), balance(t, e.st, []uuid.UUID{rec.Group}, collectiveID))

	violations, err := ledger.VerifyGroup(ctx, e.st, rec.Group)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRecord_ThenRefund_BalancesToZero(t *testing.T) {
	// GIVEN: A recorded charge
	e := newEnv(t, "USD")
	e.order(t, fees.Order{ID: 5, Currency: "USD", TotalAmount: 10000, PlatformTipAmount: 1000})
	ctx := context.Background()
	rec, err := e.recorder.Record(ctx, 5, Charge{ProcessorFeeInHostCurrency: 300})
	require.NoError(t, err)

	// WHEN: It is refunded with the full processor fee
	svc := refund.NewService(refund.ServiceConfig{Store: e.st})
	res, err := svc.RefundByID(ctx, refund.RefundCommand{TransactionID: rec.Main().Credit.ID, RefundedProcessorFee: 300})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 7, res.Pairs)
	groups := []uuid.UUID{rec.Group, res.RefundGroup}
	for _, id := range []int64{collectiveID, hostID, platformID, contributorID} {
		assert.Zero(t, balance(t, e.st, groups, id), "collective %d", id)
	}
}

func TestRecord_TipEligibleOrderHasNoShare(t *testing.T) {
	e := newEnv(t, "USD")
	e.order(t, fees.Order{ID: 6, Currency: "USD", TotalAmount: 5000, PlatformTipEligible: true})

	rec, err := e.recorder.Record(context.Background(), 6, Charge{})

	require.NoError(t, err)
	assert.Equal(t, "0", rec.HostFeeSharePercent.String())
	assert.Contains(t, rec.Pairs, ledger.KindHostFee)
	assert.NotContains(t, rec.Pairs, ledger.KindHostFeeShare)
	assert.NotContains(t, rec.Pairs, ledger.KindHostFeeShareDebt)
	assert.NotContains(t, rec.Pairs, ledger.KindPlatformTip)
	assert.NotContains(t, rec.Pairs, ledger.KindPaymentProcessorFee)
}

func TestRecord_ConvertsToHostCurrency(t *testing.T) {
	// GIVEN: A EUR collective under a USD host
	e := newEnv(t, "EUR")
	e.order(t, fees.Order{ID: 7, Currency: "EUR", TotalAmount: 10000, TaxAmount: 500})

	rec, err := e.recorder.Record(context.Background(), 7, Charge{ProcessorFeeInHostCurrency: 330})

	require.NoError(t, err)
	assert.Equal(t, "1.1", rec.FxRate.String())
	main := rec.Main().Credit
	assert.Equal(t, int64(10000), main.Amount)
	assert.Equal(t, int64(11000), main.AmountInHostCurrency)

	hostFee := rec.Pairs[ledger.KindHostFee].Debit
	assert.Equal(t, int64(-550), hostFee.AmountInHostCurrency)
	assert.Equal(t, int64(-500), hostFee.Amount)

	ppf := rec.Pairs[ledger.KindPaymentProcessorFee].Debit
	assert.Equal(t, int64(-300), ppf.Amount)

	tax := rec.Pairs[ledger.KindTax].Debit
	assert.Equal(t, int64(-500), tax.Amount)

	violations, err := ledger.VerifyGroup(context.Background(), e.st, rec.Group)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRecord_Errors(t *testing.T) {
	t.Run("collective without host", func(t *testing.T) {
		e := newEnv(t, "USD")
		e.order(t, fees.Order{ID: 8, CollectiveID: collectiveID + 1, Currency: "USD", TotalAmount: 1000})
		_, err := e.recorder.Record(context.Background(), 8, Charge{})
		assert.ErrorIs(t, err, ErrNoHost)
	})

	t.Run("tip above total", func(t *testing.T) {
		e := newEnv(t, "USD")
		e.order(t, fees.Order{ID: 9, Currency: "USD", TotalAmount: 1000, PlatformTipAmount: 2000})
		_, err := e.recorder.Record(context.Background(), 9, Charge{})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown order", func(t *testing.T) {
		e := newEnv(t, "USD")
		_, err := e.recorder.Record(context.Background(), 404, Charge{})
		assert.ErrorIs(t, err, fees.ErrNotFound)
	})

	t.Run("missing rate", func(t *testing.T) {
		e := newEnv(t, "USD")
		e.order(t, fees.Order{ID: 10, Currency: "GBP", TotalAmount: 1000})
		_, err := e.recorder.Record(context.Background(), 10, Charge{})
		assert.ErrorIs(t, err, fx.ErrRateUnavailable)
	})
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, int64(68), percentOf(450, decimal.NewFromInt(15)))
	assert.Equal(t, int64(450), percentOf(9000, decimal.NewFromInt(5)))
	assert.Zero(t, percentOf(0, decimal.NewFromInt(5)))
	assert.Equal(t, int64(35), percentOf(1000, decimal.RequireFromString("3.5")))
}
