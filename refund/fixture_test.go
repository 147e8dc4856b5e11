package refund

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

const (
	hostID        int64 = 1
	platformID    int64 = 2
	collectiveID  int64 = 10
	contributorID int64 = 20
)

func ptr(v int64) *int64 { return &v }

// seeded is a recorded contribution and everything around it.
type seeded struct {
	st    *store.TxMemory
	group uuid.UUID
	pairs map[ledger.Kind]ledger.Pair
}

func (s seeded) main() ledger.Pair { return s.pairs[ledger.KindContribution] }

type seedOption func(*seedConfig)

type seedConfig struct {
	legacyFee       bool
	skipOpen        bool
	tipDebtStatus   ledger.SettlementStatus
	shareDebtStatus ledger.SettlementStatus
	feesPayer       string
	paymentMethod   *int64
}

// withLegacyFee puts the processor fee on the contribution row instead of a satellite.
func withLegacyFee() seedOption { return func(c *seedConfig) { c.legacyFee = true } }

// withoutSettlements skips creating settlement rows for debts.
func withoutSettlements() seedOption { return func(c *seedConfig) { c.skipOpen = true } }

func withTipDebtStatus(s ledger.SettlementStatus) seedOption {
	return func(c *seedConfig) { c.tipDebtStatus = s }
}

func withShareDebtStatus(s ledger.SettlementStatus) seedOption {
	return func(c *seedConfig) { c.shareDebtStatus = s }
}

func withFeesPayer(p string) seedOption { return func(c *seedConfig) { c.feesPayer = p } }

// withPaymentMethod charges the contribution to method id.
func withPaymentMethod(id int64) seedOption { return func(c *seedConfig) { c.paymentMethod = &id } }

// seedContribution records $100 with a $10 tip, a $3 processor fee, a 5%
// host fee (4.50) and a 15% share of it (0.68).
func seedContribution(t *testing.T, opts ...seedOption) seeded {
	t.Helper()
	st := store.NewTxMemory()
	group, pairs := seedRows(t, st, opts...)
	return seeded{st: st, group: group, pairs: pairs}
}

// seedRows writes the contribution of seedContribution into st.
func seedRows(t *testing.T, st ledger.Store, opts ...seedOption) (uuid.UUID, map[ledger.Kind]ledger.Pair) {
	t.Helper()
	cfg := seedConfig{tipDebtStatus: ledger.SettlementOwed, shareDebtStatus: ledger.SettlementOwed}
	for _, o := range opts {
		o(&cfg)
	}

	ctx := context.Background()
	group := uuid.New()
	one := decimal.NewFromInt(1)

	base := func(kind ledger.Kind, to, from int64, host, counterpartyHost *int64, amount int64) ledger.Draft {
		return ledger.Draft{
			Group:                        group,
			Kind:                         kind,
			Description:                  "Donation to Babel",
			CollectiveID:                 to,
			FromCollectiveID:             from,
			HostCollectiveID:             host,
			CounterpartyHostCollectiveID: counterpartyHost,
			Currency:                     "USD",
			Amount:                       amount,
			HostCurrency:                 "USD",
			HostCurrencyFxRate:           one,
			AmountInHostCurrency:         amount,
			OrderID:                      ptr(5),
		}
	}

	main := base(ledger.KindContribution, collectiveID, contributorID, ptr(hostID), nil, 9000)
	if cfg.legacyFee {
		main.PaymentProcessorFeeInHostCurrency = -300
	}
	main.PaymentMethodID = cfg.paymentMethod
	if cfg.feesPayer != "" {
		main.Data = ledger.Data{"feesPayer": cfg.feesPayer}
	}

	tipDebt := base(ledger.KindPlatformTipDebt, platformID, hostID, ptr(platformID), ptr(hostID), -1000)
	tipDebt.IsDebt = true
	shareDebt := base(ledger.KindHostFeeShareDebt, platformID, hostID, ptr(platformID), ptr(hostID), -68)
	shareDebt.IsDebt = true

	drafts := []ledger.Draft{
		main,
		base(ledger.KindPlatformTip, platformID, contributorID, ptr(platformID), nil, 1000),
		tipDebt,
	}
	if !cfg.legacyFee {
		drafts = append(drafts, base(ledger.KindPaymentProcessorFee, collectiveID, hostID, ptr(hostID), ptr(hostID), -300))
	}
	drafts = append(drafts,
		base(ledger.KindHostFee, collectiveID, hostID, ptr(hostID), ptr(hostID), -450),
		base(ledger.KindHostFeeShare, hostID, platformID, ptr(hostID), ptr(platformID), -68),
		shareDebt,
	)

	pairs := make(map[ledger.Kind]ledger.Pair)
	for _, d := range drafts {
		p, err := st.CreateDoubleEntry(ctx, d.WithComputedNet())
		require.NoError(t, err)
		pairs[d.Kind] = p
		if d.IsDebt && !cfg.skipOpen {
			status := cfg.shareDebtStatus
			if d.Kind == ledger.KindPlatformTipDebt {
				status = cfg.tipDebtStatus
			}
			require.NoError(t, st.CreateSettlement(ctx, ledger.NewSettlement(*p.Credit, status)))
		}
	}
	return group, pairs
}

// balanceOf sums the net amount of every row held by collective.
func balanceOf(t *testing.T, st *store.TxMemory, groups []uuid.UUID, collective int64) int64 {
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

// runInTx runs the cascade the way the service does.
func runInTx(t *testing.T, c *Cascade, st *store.TxMemory, id int64, req Request) (*Outcome, error) {
	t.Helper()
	var out *Outcome
	err := st.WithTx(context.Background(), func(tx ledger.Store) error {
		row, err := tx.GetTransaction(context.Background(), id)
		if err != nil {
			return err
		}
		out, err = c.Run(context.Background(), tx, row, req)
		return err
	})
	return out, err
}
