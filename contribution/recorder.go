/*
Package contribution records a paid order as a main pair plus fee satellites.

PURPOSE:
  The inverse of the refund cascade. A charge of an order becomes, in one
  new TransactionGroup:

	CONTRIBUTION            collective  <- contributor   total - tip
	PLATFORM_TIP            platform    <- contributor   tip
	PLATFORM_TIP_DEBT       platform    -> host          tip, debt (OWED)
	PAYMENT_PROCESSOR_FEE   collective  -> host          processor fee
	HOST_FEE                collective  -> host          host fee % of amount
	HOST_FEE_SHARE          host        -> platform      share % of host fee
	HOST_FEE_SHARE_DEBT     platform    -> host          share, debt (OWED)
	TAX                     collective  -> host          order tax

  Main rows carry no fee columns; every fee is its own pair.
  Zero amounts produce no pair. Debt pairs are skipped when the host is
  the platform itself.

FX:
  The rate order currency -> host currency is fetched once, here. Rows of
  host and platform that only move host money use the host currency and
  a rate of 1.
*/
package contribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/fx"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/refund"
)

// ErrNoHost is returned when the order's collective has no fiscal host.
var ErrNoHost = errors.New("collective has no fiscal host")

// ErrInvalidAmount is returned for orders whose tip exceeds the total.
var ErrInvalidAmount = errors.New("invalid order amount")

// Charge is what the payment rail reported for the order.
type Charge struct {
	ProcessorFeeInHostCurrency int64
	Description                string
	At                         time.Time
}

// Recorded is the result of one Record call.
type Recorded struct {
	OrderID             int64
	Group               uuid.UUID
	FxRate              decimal.Decimal
	HostFeePercent      decimal.Decimal
	HostFeeSharePercent decimal.Decimal
	Pairs               map[ledger.Kind]ledger.Pair
}

// Main returns the CONTRIBUTION pair.
func (r Recorded) Main() ledger.Pair { return r.Pairs[ledger.KindContribution] }

type Config struct {
	Store                ledger.TxStore
	Directory            fees.Directory
	Resolver             *fees.Resolver
	FX                   fx.Provider
	Tracker              *refund.Tracker
	PlatformCollectiveID int64
	Publisher            events.Publisher
	Metrics              *metrics.Metrics
	Logger               *slog.Logger
}

type Recorder struct {
	cfg Config
}

func NewRecorder(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = refund.NewTracker(cfg.Logger, cfg.Metrics)
	}
	return &Recorder{cfg: cfg}
}

// parties are loaded before the write transaction starts.
type parties struct {
	order      *fees.Order
	collective *fees.Collective
	host       *fees.Collective
	fromHostID *int64
	platformID int64
}

// Record decomposes the charge of orderID and persists every pair atomically.
func (r *Recorder) Record(ctx context.Context, orderID int64, charge Charge) (Recorded, error) {
	p, err := r.load(ctx, orderID)
	if err != nil {
		return Recorded{}, err
	}
	order := p.order
	if order.PlatformTipAmount < 0 || order.PlatformTipAmount > order.TotalAmount {
		return Recorded{}, fmt.Errorf("order %d tip %d of total %d: %w", order.ID, order.PlatformTipAmount, order.TotalAmount, ErrInvalidAmount)
	}

	at := charge.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rate, err := r.cfg.FX.Rate(ctx, order.Currency, p.host.Currency, at)
	if err != nil {
		return Recorded{}, fmt.Errorf("fx rate for order %d: %w", order.ID, err)
	}
	hostFeePct, err := r.cfg.Resolver.HostFeePercent(ctx, order)
	if err != nil {
		return Recorded{}, err
	}
	sharePct, err := r.cfg.Resolver.HostFeeSharePercent(ctx, order)
	if err != nil {
		return Recorded{}, err
	}

	group := uuid.New()
	drafts := r.drafts(p, group, charge, rate, hostFeePct, sharePct)

	pairs := make(map[ledger.Kind]ledger.Pair, len(drafts))
	err = r.cfg.Store.WithTx(ctx, func(st ledger.Store) error {
		for _, d := range drafts {
			pair, err := st.CreateDoubleEntry(ctx, d)
			if err != nil {
				return fmt.Errorf("create %s for order %d: %w", d.Kind, order.ID, err)
			}
			if d.IsDebt {
				if err := r.cfg.Tracker.Open(ctx, st, pair); err != nil {
					return err
				}
			}
			pairs[d.Kind] = pair
		}
		return nil
	})
	if err != nil {
		return Recorded{}, err
	}
	for _, d := range drafts {
		r.cfg.Metrics.ObservePair(string(d.Kind), false)
	}

	r.cfg.Logger.InfoContext(ctx, "order recorded",
		"order_id", order.ID, "group", group, "pairs", len(pairs),
		"host_fee_percent", hostFeePct.String(), "host_fee_share_percent", sharePct.String())

	if err := events.PublishJSON(ctx, r.cfg.Publisher, events.SubjectTransactionsRecorded, events.TransactionsRecorded{
		OrderID: order.ID, Group: group.String(), Pairs: len(pairs), At: at,
	}); err != nil {
		r.cfg.Logger.ErrorContext(ctx, "failed to publish recorded event", "order_id", order.ID, "error", err)
	}

	return Recorded{
		OrderID:             order.ID,
		Group:               group,
		FxRate:              rate,
		HostFeePercent:      hostFeePct,
		HostFeeSharePercent: sharePct,
		Pairs:               pairs,
	}, nil
}

func (r *Recorder) load(ctx context.Context, orderID int64) (parties, error) {
	dir := r.cfg.Directory
	order, err := dir.GetOrder(ctx, orderID)
	if err != nil {
		return parties{}, err
	}
	collective, err := dir.GetCollective(ctx, order.CollectiveID)
	if err != nil {
		return parties{}, err
	}
	order.Collective = collective
	if collective.HostCollectiveID == nil {
		return parties{}, fmt.Errorf("collective %d: %w", collective.ID, ErrNoHost)
	}
	host, err := dir.GetCollective(ctx, *collective.HostCollectiveID)
	if err != nil {
		return parties{}, err
	}
	if order.PaymentMethodID != nil {
		pm, err := dir.GetPaymentMethod(ctx, *order.PaymentMethodID)
		if err != nil {
			return parties{}, err
		}
		order.PaymentMethod = pm
	}

	var fromHostID *int64
	if from, err := dir.GetCollective(ctx, order.FromCollectiveID); err == nil {
		fromHostID = from.HostCollectiveID
	} else if !errors.Is(err, fees.ErrNotFound) {
		return parties{}, err
	}

	platformID := r.cfg.PlatformCollectiveID
	if platformID == 0 {
		platformID = host.ID
	}
	return parties{order: order, collective: collective, host: host, fromHostID: fromHostID, platformID: platformID}, nil
}

// drafts builds the pairs of one charge, in creation order.
func (r *Recorder) drafts(p parties, group uuid.UUID, charge Charge, rate, hostFeePct, sharePct decimal.Decimal) []ledger.Draft {
	order, c, host := p.order, p.collective, p.host
	hostID := host.ID
	one := decimal.NewFromInt(1)

	base := func(kind ledger.Kind, collectiveID, fromID int64, hostCollectiveID, counterpartyHost *int64) ledger.Draft {
		return ledger.Draft{
			Group:                        group,
			Kind:                         kind,
			Description:                  charge.Description,
			CollectiveID:                 collectiveID,
			FromCollectiveID:             fromID,
			HostCollectiveID:             hostCollectiveID,
			CounterpartyHostCollectiveID: counterpartyHost,
			Currency:                     order.Currency,
			HostCurrency:                 host.Currency,
			HostCurrencyFxRate:           rate,
			OrderID:                      &order.ID,
			PaymentMethodID:              order.PaymentMethodID,
		}
	}
	// inOrderCurrency sets amounts from an order currency value.
	inOrderCurrency := func(d ledger.Draft, amount int64) ledger.Draft {
		d.Amount = amount
		d.AmountInHostCurrency = ledger.ToHostCurrency(amount, rate)
		return d.WithComputedNet()
	}
	// inHostCurrency sets amounts from a host currency value.
	inHostCurrency := func(d ledger.Draft, amountInHost int64) ledger.Draft {
		d.AmountInHostCurrency = amountInHost
		d.Amount = ledger.ToCollectiveCurrency(amountInHost, rate)
		return d.WithComputedNet()
	}
	// hostMoney makes a draft whose both sides hold host currency.
	hostMoney := func(d ledger.Draft, amountInHost int64) ledger.Draft {
		d.Currency = host.Currency
		d.HostCurrencyFxRate = one
		d.AmountInHostCurrency = amountInHost
		d.Amount = amountInHost
		return d.WithComputedNet()
	}

	hostPtr := &hostID
	platformPtr := &p.platformID
	tip := order.PlatformTipAmount
	contributionAmount := order.TotalAmount - tip

	var out []ledger.Draft
	main := inOrderCurrency(base(ledger.KindContribution, c.ID, order.FromCollectiveID, hostPtr, p.fromHostID), contributionAmount)
	out = append(out, main)

	if tip > 0 {
		out = append(out, inOrderCurrency(base(ledger.KindPlatformTip, p.platformID, order.FromCollectiveID, platformPtr, p.fromHostID), tip))
		if p.platformID != hostID {
			d := base(ledger.KindPlatformTipDebt, p.platformID, hostID, platformPtr, hostPtr)
			d.IsDebt = true
			out = append(out, inOrderCurrency(d, -tip))
		}
	}

	if fee := charge.ProcessorFeeInHostCurrency; fee > 0 {
		out = append(out, inHostCurrency(base(ledger.KindPaymentProcessorFee, c.ID, hostID, hostPtr, hostPtr), -fee))
	}

	hostFee := percentOf(main.AmountInHostCurrency, hostFeePct)
	if hostFee > 0 {
		out = append(out, inHostCurrency(base(ledger.KindHostFee, c.ID, hostID, hostPtr, hostPtr), -hostFee))

		share := percentOf(hostFee, sharePct)
		if share > 0 && p.platformID != hostID {
			out = append(out, hostMoney(base(ledger.KindHostFeeShare, hostID, p.platformID, hostPtr, platformPtr), -share))
			d := base(ledger.KindHostFeeShareDebt, p.platformID, hostID, platformPtr, hostPtr)
			d.IsDebt = true
			out = append(out, hostMoney(d, -share))
		}
	}

	if order.TaxAmount > 0 {
		out = append(out, inOrderCurrency(base(ledger.KindTax, c.ID, hostID, hostPtr, hostPtr), -order.TaxAmount))
	}
	return out
}

// percentOf returns round(amount * pct / 100).
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}
