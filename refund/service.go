package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/payments"
)

// RefundCommand asks for the refund of one transaction.
type RefundCommand struct {
	TransactionID        int64
	RefundedProcessorFee int64
	ActorID              *int64
	Note                 string
	// SkipProvider records the refund without calling the payment rail.
	SkipProvider bool
}

// RefundResult identifies the refund pair of the main transaction.
type RefundResult struct {
	OriginalID  int64     `json:"original_id"`
	CreditID    int64     `json:"credit_id"`
	DebitID     int64     `json:"debit_id"`
	RefundGroup uuid.UUID `json:"refund_group"`
	Pairs       int       `json:"pairs"`
}

// Service is the entry point for callers that refund by id.
type Service struct {
	store     ledger.TxStore
	cascade   *Cascade
	providers *payments.Registry
	methods   fees.Directory
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	groups    groupLocks
}

// ServiceConfig groups the collaborators of a Service. Providers and
// Methods may be nil, in which case no payment rail is ever called.
type ServiceConfig struct {
	Store     ledger.TxStore
	Cascade   *Cascade
	Providers *payments.Registry
	Methods   fees.Directory
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Cascade == nil {
		cfg.Cascade = NewCascade(nil, nil, cfg.Metrics, cfg.Logger)
	}
	return &Service{
		store:     cfg.Store,
		cascade:   cfg.Cascade,
		providers: cfg.Providers,
		methods:   cfg.Methods,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// RefundByID calls the payment rail when needed, then runs the cascade in
// one atomic unit.
func (s *Service) RefundByID(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	started := time.Now()
	res, err := s.refundByID(ctx, cmd)
	s.metrics.ObserveRefund(outcomeOf(err), started)
	if err != nil {
		s.logger.WarnContext(ctx, "refund failed", "transaction_id", cmd.TransactionID, "error", err)
		return RefundResult{}, err
	}
	return res, nil
}

func (s *Service) refundByID(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	tx, err := s.load(ctx, cmd.TransactionID)
	if err != nil {
		return RefundResult{}, err
	}

	// Refunds of one group are serialized within this process: the rail is
	// called at most once for a group the ledger has not refunded yet.
	unlock := s.groups.lock(tx.Group)
	defer unlock()
	if tx, err = s.load(ctx, cmd.TransactionID); err != nil {
		return RefundResult{}, err
	}
	if tx.IsRefunded() {
		return RefundResult{}, fmt.Errorf("transaction %d: %w", tx.ID, ledger.ErrAlreadyRefunded)
	}

	actor := ledger.Actor{UserID: cmd.ActorID}
	req := Request{RefundedProcessorFee: cmd.RefundedProcessorFee, Actor: actor}
	if cmd.Note != "" {
		req.Data = ledger.Data{"refundReason": cmd.Note}
	}

	if !cmd.SkipProvider {
		result, called, err := s.callProvider(ctx, *tx, actor, cmd.Note)
		if err != nil {
			return RefundResult{}, err
		}
		if called {
			req.RefundedProcessorFee = result.RefundedProcessorFee
			if result.Data != nil {
				req.Data = req.Data.Merge(result.Data)
			}
		}
	}

	var out *Outcome
	err = s.store.WithTx(ctx, func(st ledger.Store) error {
		fresh, err := st.GetTransaction(ctx, cmd.TransactionID)
		if err != nil {
			return err
		}
		out, err = s.cascade.Run(ctx, st, fresh, req)
		return err
	})
	if err != nil {
		return RefundResult{}, err
	}

	res := RefundResult{
		OriginalID:  out.Original.ID,
		CreditID:    out.Refund.Credit.ID,
		DebitID:     out.Refund.Debit.ID,
		RefundGroup: out.RefundGroup,
		Pairs:       len(out.Pairs),
	}
	s.publish(ctx, *out.Original, res)
	return res, nil
}

func (s *Service) load(ctx context.Context, id int64) (*ledger.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", id, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %d: %w", id, ledger.ErrTransactionNotFound)
	}
	return tx, nil
}

// groupLocks hands out one mutex per transaction group, dropped once no
// caller holds or waits for it.
type groupLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*groupLock
}

type groupLock struct {
	sync.Mutex
	refs int
}

func (g *groupLocks) lock(group uuid.UUID) (unlock func()) {
	g.mu.Lock()
	if g.locks == nil {
		g.locks = make(map[uuid.UUID]*groupLock)
	}
	l, ok := g.locks[group]
	if !ok {
		l = &groupLock{}
		g.locks[group] = l
	}
	l.refs++
	g.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, group)
		}
		g.mu.Unlock()
	}
}

// callProvider reports called=false for offline methods and missing setups.
func (s *Service) callProvider(ctx context.Context, tx ledger.Transaction, actor ledger.Actor, note string) (payments.Result, bool, error) {
	if s.providers == nil || s.methods == nil || tx.PaymentMethodID == nil {
		return payments.Result{}, false, nil
	}
	pm, err := s.methods.GetPaymentMethod(ctx, *tx.PaymentMethodID)
	if err != nil {
		return payments.Result{}, false, fmt.Errorf("load payment method %d: %w", *tx.PaymentMethodID, err)
	}
	provider, err := s.providers.Get(pm.Service)
	if err != nil {
		return payments.Result{}, false, err
	}
	if provider.RefundTransactionOnlyInDatabase() {
		return payments.Result{}, false, nil
	}
	result, err := provider.RefundTransaction(ctx, tx, actor, note)
	if err != nil {
		return payments.Result{}, false, fmt.Errorf("refund transaction %d with %s: %w", tx.ID, pm.Service, err)
	}
	s.logger.InfoContext(ctx, "payment provider refunded",
		"transaction_id", tx.ID, "service", pm.Service, "refunded_processor_fee", result.RefundedProcessorFee)
	return result, true, nil
}

func (s *Service) publish(ctx context.Context, original ledger.Transaction, res RefundResult) {
	err := events.PublishJSON(ctx, s.publisher, events.SubjectRefundCompleted, events.RefundCompleted{
		TransactionID:  original.ID,
		Kind:           string(original.Kind),
		Group:          original.Group.String(),
		RefundGroup:    res.RefundGroup.String(),
		RefundCreditID: res.CreditID,
		RefundDebitID:  res.DebitID,
		Pairs:          res.Pairs,
		Amount:         original.Amount,
		Currency:       original.Currency,
		At:             time.Now().UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish refund event", "transaction_id", original.ID, "error", err)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ledger.ErrAlreadyRefunded):
		return "already_refunded"
	case ledger.IsClientError(err) || ledger.IsNotFound(err):
		return "client_error"
	default:
		return "error"
	}
}
