package refund

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
)

// Tracker applies settlement rules to debt pairs.
//
//	OWED:              untouched; the refund pair nets it out
//	INVOICED, SETTLED: moved to SETTLED, it was already accounted for
//	missing:           treated as OWED
//
// Either way the refund pair gets its own OWED row so the next settlement
// cycle picks it up.
type Tracker struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewTracker(logger *slog.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, metrics: m}
}

// Applies reports whether kind carries settlement state.
func (t *Tracker) Applies(kind ledger.Kind) bool {
	return kind.IsDebt()
}

// Open creates the OWED row of a newly recorded debt pair.
func (t *Tracker) Open(ctx context.Context, st ledger.Store, debt ledger.Pair) error {
	row := debt.Credit
	if row == nil {
		row = debt.Debit
	}
	if row == nil || !t.Applies(row.Kind) {
		return nil
	}
	if err := st.CreateSettlement(ctx, ledger.NewSettlement(*row, ledger.SettlementOwed)); err != nil {
		return fmt.Errorf("open settlement %s/%s: %w", row.Group, row.Kind, err)
	}
	t.metrics.ObserveSettlement(string(row.Kind), "", string(ledger.SettlementOwed))
	return nil
}

// BeforeDebtRefund updates the settlement of the debt being refunded.
func (t *Tracker) BeforeDebtRefund(ctx context.Context, st ledger.Store, debt ledger.Transaction) error {
	if !t.Applies(debt.Kind) {
		return nil
	}
	s, err := st.FindSettlement(ctx, debt.Group, debt.Kind)
	if err != nil {
		return fmt.Errorf("find settlement %s/%s: %w", debt.Group, debt.Kind, err)
	}
	if s == nil {
		t.logger.Warn("debt transaction has no settlement, treating as owed",
			"transaction_id", debt.ID, "group", debt.Group, "kind", debt.Kind)
		return nil
	}

	switch s.Status {
	case ledger.SettlementOwed, ledger.SettlementSettled:
		return nil
	case ledger.SettlementInvoiced:
		if err := st.UpdateSettlementStatus(ctx, debt.Group, debt.Kind, ledger.SettlementSettled); err != nil {
			return fmt.Errorf("settle %s/%s: %w", debt.Group, debt.Kind, err)
		}
		t.metrics.ObserveSettlement(string(debt.Kind), string(s.Status), string(ledger.SettlementSettled))
		t.logger.Info("invoiced debt marked settled before refund",
			"group", debt.Group, "kind", debt.Kind)
		return nil
	default:
		return fmt.Errorf("settlement %s/%s has unknown status %q", debt.Group, debt.Kind, s.Status)
	}
}

// AfterDebtRefund creates the OWED row of the refund pair.
func (t *Tracker) AfterDebtRefund(ctx context.Context, st ledger.Store, refund ledger.Pair) error {
	return t.Open(ctx, st, refund)
}
