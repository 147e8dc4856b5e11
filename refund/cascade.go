/*
cascade.go - Fixed-order refund of a transaction and its satellites

ORDER:
 1. normalize to the CREDIT side; reject refunded rows and refunds
 2. allocate the refund TransactionGroup
 3. PLATFORM_TIP, then PLATFORM_TIP_DEBT (settlement tracked)
 4. processor fee: PAYMENT_PROCESSOR_FEE satellite, or PAYMENT_PROCESSOR_COVER
    for fees carried on the main row
 5. HOST_FEE, then HOST_FEE_SHARE, then HOST_FEE_SHARE_DEBT (settlement tracked)
 6. TAX
 7. the main transaction
 8. associate: after each refund pair is written, the four rows are cross-linked

  Steps run sequentially in one Store. The caller owns atomicity (WithTx).
  Any error stops the cascade and is returned as is, except a processor fee
  mismatch, which is reported and skips step 4 only.
*/
package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
)

// =============================================================================
// KIND ROLES
// =============================================================================

type role int

const (
	roleMain role = iota
	roleTip
	roleTipDebt
	roleProcessorFee
	roleHostFee
	roleHostFeeShare
	roleHostFeeShareDebt
	roleTax
	roleCover
)

// roleOf is exhaustive over ledger.AllKinds.
func roleOf(k ledger.Kind) (role, error) {
	switch k {
	case ledger.KindContribution, ledger.KindAddedFunds, ledger.KindExpense,
		ledger.KindBalanceTransfer, ledger.KindPrepaidPaymentMethod:
		return roleMain, nil
	case ledger.KindPlatformTip:
		return roleTip, nil
	case ledger.KindPlatformTipDebt:
		return roleTipDebt, nil
	case ledger.KindPaymentProcessorFee:
		return roleProcessorFee, nil
	case ledger.KindHostFee:
		return roleHostFee, nil
	case ledger.KindHostFeeShare:
		return roleHostFeeShare, nil
	case ledger.KindHostFeeShareDebt:
		return roleHostFeeShareDebt, nil
	case ledger.KindTax:
		return roleTax, nil
	case ledger.KindPaymentProcessorCover:
		return roleCover, nil
	}
	return 0, fmt.Errorf("no refund role for kind %q", k)
}

// =============================================================================
// REPORTER - observability sink for skipped fee refunds
// =============================================================================

type Reporter interface {
	ReportPartialFeeRefund(ctx context.Context, err *ledger.PartialProcessorFeeRefundError)
}

// LogReporter logs and counts partial fee refunds.
type LogReporter struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (r LogReporter) ReportPartialFeeRefund(ctx context.Context, err *ledger.PartialProcessorFeeRefundError) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "processor fee refund skipped",
		"transaction_id", err.TransactionID,
		"refunded", err.Refunded,
		"recorded", err.Recorded,
		"error", err)
	r.Metrics.ObservePartialFeeRefund()
}

// =============================================================================
// CASCADE
// =============================================================================

// Request carries the inputs of one refund.
type Request struct {
	// Processor fee given back by the rail, host currency minor units.
	RefundedProcessorFee int64
	// Merged into the main refund row and written onto the original pair.
	Data  ledger.Data
	Actor ledger.Actor
	// Refund group. uuid.Nil allocates a new one.
	Group uuid.UUID
}

// Outcome describes what a cascade wrote.
type Outcome struct {
	Original    *ledger.Transaction // reloaded, RefundTransactionID set
	Refund      ledger.Pair         // refund of the main pair
	RefundGroup uuid.UUID
	Pairs       []ledger.Pair // every pair written, in order
	Reports     []error       // reported, non-fatal problems
}

type Cascade struct {
	tracker  *Tracker
	reporter Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewCascade(tracker *Tracker, reporter Reporter, m *metrics.Metrics, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker(logger, m)
	}
	if reporter == nil {
		reporter = LogReporter{Logger: logger, Metrics: m}
	}
	return &Cascade{tracker: tracker, reporter: reporter, metrics: m, logger: logger}
}

// Refund refunds tx and its satellites, returning the refunded original.
func (c *Cascade) Refund(ctx context.Context, st ledger.Store, tx *ledger.Transaction, req Request) (*ledger.Transaction, error) {
	out, err := c.Run(ctx, st, tx, req)
	if err != nil {
		return nil, err
	}
	return out.Original, nil
}

// run holds the state of one cascade.
type run struct {
	c     *Cascade
	st    ledger.Store
	req   Request
	main  ledger.Transaction
	group uuid.UUID
	out   *Outcome
}

// Run is Refund with the full outcome.
func (c *Cascade) Run(ctx context.Context, st ledger.Store, tx *ledger.Transaction, req Request) (*Outcome, error) {
	// 1. normalize
	main, err := c.creditSide(ctx, st, tx)
	if err != nil {
		return nil, err
	}
	if main.IsRefunded() {
		return nil, fmt.Errorf("transaction %d: %w", main.ID, ledger.ErrAlreadyRefunded)
	}
	if main.IsRefund {
		return nil, fmt.Errorf("transaction %d: %w", main.ID, ledger.ErrRefundOfRefund)
	}
	mainRole, err := roleOf(main.Kind)
	if err != nil {
		return nil, err
	}

	// 2. refund group
	group := req.Group
	if group == uuid.Nil {
		group = uuid.New()
	}

	r := &run{c: c, st: st, req: req, main: *main, group: group, out: &Outcome{RefundGroup: group}}
	c.logger.DebugContext(ctx, "refund cascade started",
		"transaction_id", main.ID, "kind", main.Kind, "group", main.Group, "refund_group", group)

	// 3. tips
	if err := r.satellite(ctx, ledger.KindPlatformTip); err != nil {
		return nil, err
	}
	if err := r.satellite(ctx, ledger.KindPlatformTipDebt); err != nil {
		return nil, err
	}

	// 4. processor fee
	if mainRole != roleProcessorFee {
		if err := r.processorFee(ctx); err != nil {
			return nil, err
		}
	}

	// 5. host fee and its share
	for _, kind := range []ledger.Kind{ledger.KindHostFee, ledger.KindHostFeeShare, ledger.KindHostFeeShareDebt} {
		if err := r.satellite(ctx, kind); err != nil {
			return nil, err
		}
	}

	// 6. tax
	if err := r.satellite(ctx, ledger.KindTax); err != nil {
		return nil, err
	}

	// 7. main
	refundPair, err := r.refundPair(ctx, r.main, req.Data, req.RefundedProcessorFee, req.Data)
	if err != nil {
		return nil, err
	}
	r.out.Refund = refundPair

	original, err := st.GetTransaction(ctx, main.ID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction %d: %w", main.ID, err)
	}
	r.out.Original = original

	c.logger.InfoContext(ctx, "refund cascade completed",
		"transaction_id", main.ID, "refund_group", group, "pairs", len(r.out.Pairs))
	return r.out, nil
}

// creditSide returns the CREDIT of tx's pair. A DEBIT between two different
// collectives is swapped for its CREDIT.
func (c *Cascade) creditSide(ctx context.Context, st ledger.Store, tx *ledger.Transaction) (*ledger.Transaction, error) {
	if tx == nil {
		return nil, ledger.ErrTransactionNotFound
	}
	if tx.Type == ledger.Credit || tx.FromCollectiveID == tx.CollectiveID {
		return tx, nil
	}
	pair, err := ledger.FindPair(ctx, st, tx.Group, tx.Kind)
	if err != nil {
		return nil, fmt.Errorf("find credit of transaction %d: %w", tx.ID, err)
	}
	if pair.Credit == nil {
		return nil, fmt.Errorf("transaction %d: %w", tx.ID, ledger.ErrNoCreditTransaction)
	}
	return pair.Credit, nil
}

// satellite refunds the (main.Group, kind) pair when it exists and is not
// the main transaction itself.
func (r *run) satellite(ctx context.Context, kind ledger.Kind) error {
	if kind == r.main.Kind {
		return nil
	}
	pair, err := ledger.FindPair(ctx, r.st, r.main.Group, kind)
	if err != nil {
		return fmt.Errorf("find %s of group %s: %w", kind, r.main.Group, err)
	}
	if !pair.Found() || r.skipRefunded(ctx, *pair.Credit) {
		return nil
	}
	_, err = r.refundPair(ctx, *pair.Credit, nil, 0, nil)
	return err
}

// skipRefunded reports satellites refunded on their own before.
func (r *run) skipRefunded(ctx context.Context, t ledger.Transaction) bool {
	if !t.IsRefunded() {
		return false
	}
	r.c.logger.InfoContext(ctx, "satellite already refunded, skipping",
		"transaction_id", t.ID, "kind", t.Kind, "refund_transaction_id", *t.RefundTransactionID)
	return true
}

// refundPair builds, persists and associates the refund of original, with
// settlement tracking for debt kinds.
func (r *run) refundPair(ctx context.Context, original ledger.Transaction, extra ledger.Data, refundedFee int64, associateData ledger.Data) (ledger.Pair, error) {
	draft, err := BuildRefund(original, r.req.Actor, extra, refundedFee)
	if err != nil {
		return ledger.Pair{}, err
	}
	draft.Group = r.group

	pair, err := ledger.FindPair(ctx, r.st, original.Group, original.Kind)
	if err != nil {
		return ledger.Pair{}, fmt.Errorf("find pair of transaction %d: %w", original.ID, err)
	}
	if pair.Debit != nil {
		draft.CounterpartyHostCollectiveID = pair.Debit.HostCollectiveID
	}

	tracked := r.c.tracker.Applies(original.Kind)
	if tracked {
		if err := r.c.tracker.BeforeDebtRefund(ctx, r.st, original); err != nil {
			return ledger.Pair{}, err
		}
	}

	created, err := r.st.CreateDoubleEntry(ctx, draft)
	if err != nil {
		return ledger.Pair{}, fmt.Errorf("create refund of transaction %d: %w", original.ID, err)
	}
	r.c.metrics.ObservePair(string(draft.Kind), true)
	r.out.Pairs = append(r.out.Pairs, created)

	if err := associate(ctx, r.st, original, *created.Credit, associateData); err != nil {
		return ledger.Pair{}, err
	}

	if tracked {
		if err := r.c.tracker.AfterDebtRefund(ctx, r.st, created); err != nil {
			return ledger.Pair{}, err
		}
	}
	return created, nil
}

// processorFee is step 4.
func (r *run) processorFee(ctx context.Context) error {
	refunded := r.req.RefundedProcessorFee

	pair, err := ledger.FindPair(ctx, r.st, r.main.Group, ledger.KindPaymentProcessorFee)
	if err != nil {
		return fmt.Errorf("find processor fee of group %s: %w", r.main.Group, err)
	}

	if pair.Found() {
		if r.skipRefunded(ctx, *pair.Credit) {
			return nil
		}
		recorded := abs(pair.Credit.AmountInHostCurrency)
		if refunded == 0 {
			return nil
		}
		if abs(refunded) != recorded {
			r.report(ctx, &ledger.PartialProcessorFeeRefundError{
				TransactionID: pair.Credit.ID, Refunded: refunded, Recorded: recorded,
			})
			return nil
		}
		_, err := r.refundPair(ctx, *pair.Credit, nil, 0, nil)
		return err
	}

	// Fee carried on the main row.
	fee := r.main.PaymentProcessorFeeInHostCurrency
	if fee == 0 {
		return nil
	}
	if refunded != 0 {
		if abs(refunded) != abs(fee) {
			r.report(ctx, &ledger.PartialProcessorFeeRefundError{
				TransactionID: r.main.ID, Refunded: refunded, Recorded: abs(fee),
			})
		}
		return nil
	}
	if r.main.FeesPayer() != ledger.FeesPayerCollective {
		return nil
	}

	draft := buildCover(r.main, r.req.Actor, fee)
	draft.Group = r.group
	created, err := r.st.CreateDoubleEntry(ctx, draft)
	if err != nil {
		return fmt.Errorf("create processor fee cover for transaction %d: %w", r.main.ID, err)
	}
	r.c.metrics.ObservePair(string(draft.Kind), true)
	r.out.Pairs = append(r.out.Pairs, created)
	return nil
}

func (r *run) report(ctx context.Context, err *ledger.PartialProcessorFeeRefundError) {
	r.out.Reports = append(r.out.Reports, err)
	r.c.reporter.ReportPartialFeeRefund(ctx, err)
}

// =============================================================================
// ASSOCIATE
// =============================================================================

// associate cross-links the original pair of original and the refund pair
// that contains refundCredit. When data is not nil it is written onto both
// original rows.
func associate(ctx context.Context, st ledger.Store, original, refundCredit ledger.Transaction, data ledger.Data) error {
	q, err := st.FindTransactionQuad(ctx, original.Group, refundCredit.Group, original.Kind)
	if err != nil {
		return fmt.Errorf("find quad of transaction %d: %w", original.ID, err)
	}
	if !q.Complete() {
		return fmt.Errorf("associate refund of transaction %d: %w", original.ID, ledger.ErrNoCreditTransaction)
	}

	links := []struct{ row, target int64 }{
		{q.Debit.ID, q.RefundCredit.ID},
		{q.Credit.ID, q.RefundDebit.ID},
		{q.RefundCredit.ID, q.Debit.ID},
		{q.RefundDebit.ID, q.Credit.ID},
	}
	for _, l := range links {
		if err := st.SetRefundTransactionID(ctx, l.row, l.target); err != nil {
			if errors.Is(err, ledger.ErrAlreadyRefunded) {
				return fmt.Errorf("transaction %d: %w", l.row, err)
			}
			return fmt.Errorf("link transaction %d to %d: %w", l.row, l.target, err)
		}
	}

	if data != nil {
		for _, row := range []*ledger.Transaction{q.Credit, q.Debit} {
			if err := st.UpdateTransactionData(ctx, row.ID, data.Clone()); err != nil {
				return fmt.Errorf("update data of transaction %d: %w", row.ID, err)
			}
		}
	}
	return nil
}
