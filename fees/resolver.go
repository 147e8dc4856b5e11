/*
resolver.go - Host fee and host fee share precedence

PURPOSE:
  Computes the percentages for an order from most to least specific source.
  Each source is a lazy candidate; candidates are evaluated in order and the
  first one that is defined wins. Values are never averaged or merged.

HOST FEE PERCENT:
  1. order override
  2. payment method family override: collective, then parent, then host
     (prepaid uses the payment method's own percent)
  3. UseCustomHostFee at collective, then parent: their own HostFeePercent
  4. collective HostFeePercent, then host HostFeePercent
  5. Defaults.HostFeePercent

HOST FEE SHARE PERCENT:
  0 when the order is platform-tip eligible (checked before anything loads)
  1. payment method family override: host settings, then host plan
  2. host settings default, then host plan default
  3. Defaults.HostFeeSharePercent

SIDE EFFECTS:
  Fills order.Collective and order.PaymentMethod when nil. Nothing else.
*/
package fees

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Defaults are the platform-wide fallbacks.
type Defaults struct {
	HostFeePercent      decimal.Decimal
	HostFeeSharePercent decimal.Decimal
}

// DefaultDefaults matches the platform constants.
func DefaultDefaults() Defaults {
	return Defaults{
		HostFeePercent:      decimal.Zero,
		HostFeeSharePercent: decimal.NewFromInt(15),
	}
}

// candidate yields a value or "not defined". Errors stop the evaluation.
type candidate func() (decimal.NullDecimal, error)

// firstDefined evaluates candidates in order and returns the first Valid one.
func firstDefined(cands []candidate) (decimal.NullDecimal, error) {
	for _, c := range cands {
		v, err := c()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		if v.Valid {
			return v, nil
		}
	}
	return decimal.NullDecimal{}, nil
}

func value(v decimal.NullDecimal) candidate {
	return func() (decimal.NullDecimal, error) { return v, nil }
}

// Resolver computes fee percentages from a Directory.
type Resolver struct {
	dir      Directory
	defaults Defaults
	logger   *slog.Logger
}

func NewResolver(dir Directory, defaults Defaults, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, defaults: defaults, logger: logger}
}

// QuoteForOrder loads the order and returns both percentages.
func (r *Resolver) QuoteForOrder(ctx context.Context, orderID int64) (Quote, error) {
	order, err := r.dir.GetOrder(ctx, orderID)
	if err != nil {
		return Quote{}, err
	}
	hostFee, err := r.HostFeePercent(ctx, order)
	if err != nil {
		return Quote{}, err
	}
	share, err := r.HostFeeSharePercent(ctx, order)
	if err != nil {
		return Quote{}, err
	}
	return Quote{OrderID: order.ID, HostFeePercent: hostFee, HostFeeSharePercent: share}, nil
}

// HostFeePercent returns the host fee percent for order.
func (r *Resolver) HostFeePercent(ctx context.Context, order *Order) (decimal.Decimal, error) {
	if err := r.populate(ctx, order); err != nil {
		return decimal.Zero, err
	}
	c := order.Collective
	parent := r.lazyCollective(ctx, c.ParentCollectiveID)
	host := r.lazyCollective(ctx, c.HostCollectiveID)
	pm := order.PaymentMethod

	cands := []candidate{value(order.HostFeePercent)}

	settingOf := func(pick func(FeeSettings) decimal.NullDecimal) []candidate {
		return []candidate{
			func() (decimal.NullDecimal, error) { return pick(c.Settings), nil },
			parent.setting(pick),
			host.setting(pick),
		}
	}
	switch pm.Family() {
	case FamilyManual:
		cands = append(cands, settingOf(func(s FeeSettings) decimal.NullDecimal { return s.BankTransfersHostFeePercent })...)
	case FamilyPrepaid:
		cands = append(cands, value(pm.HostFeePercent))
	case FamilyHost:
		cands = append(cands, settingOf(func(s FeeSettings) decimal.NullDecimal { return s.AddedFundsHostFeePercent })...)
	case FamilyCard:
		cands = append(cands, settingOf(func(s FeeSettings) decimal.NullDecimal { return s.StripeHostFeePercent })...)
	case FamilyWallet:
		cands = append(cands, settingOf(func(s FeeSettings) decimal.NullDecimal { return s.PaypalHostFeePercent })...)
	}

	cands = append(cands,
		func() (decimal.NullDecimal, error) {
			if c.Settings.UseCustomHostFee {
				return c.HostFeePercent, nil
			}
			return Unset, nil
		},
		func() (decimal.NullDecimal, error) {
			p, err := parent.get()
			if err != nil || p == nil || !p.Settings.UseCustomHostFee {
				return Unset, err
			}
			return p.HostFeePercent, nil
		},
		value(c.HostFeePercent),
		host.percent(),
		value(decimal.NewNullDecimal(r.defaults.HostFeePercent)),
	)

	v, err := firstDefined(cands)
	if err != nil {
		return decimal.Zero, fmt.Errorf("host fee percent for order %d: %w", order.ID, err)
	}
	return v.Decimal, nil
}

// HostFeeSharePercent returns the platform's share of the host fee for order.
func (r *Resolver) HostFeeSharePercent(ctx context.Context, order *Order) (decimal.Decimal, error) {
	if order.PlatformTipEligible {
		return decimal.Zero, nil
	}
	if err := r.populate(ctx, order); err != nil {
		return decimal.Zero, err
	}
	host := r.lazyCollective(ctx, order.Collective.HostCollectiveID)

	shareOf := func(pickSettings func(FeeSettings) decimal.NullDecimal, pickPlan func(HostPlan) decimal.NullDecimal) []candidate {
		return []candidate{host.setting(pickSettings), host.plan(pickPlan)}
	}

	var cands []candidate
	switch order.PaymentMethod.Family() {
	case FamilyManual:
		cands = shareOf(
			func(s FeeSettings) decimal.NullDecimal { return s.BankTransfersHostFeeSharePercent },
			func(p HostPlan) decimal.NullDecimal { return p.BankTransfersHostFeeSharePercent })
	case FamilyCard:
		cands = shareOf(
			func(s FeeSettings) decimal.NullDecimal { return s.StripeHostFeeSharePercent },
			func(p HostPlan) decimal.NullDecimal { return p.StripeHostFeeSharePercent })
	case FamilyWallet:
		cands = shareOf(
			func(s FeeSettings) decimal.NullDecimal { return s.PaypalHostFeeSharePercent },
			func(p HostPlan) decimal.NullDecimal { return p.PaypalHostFeeSharePercent })
	}

	cands = append(cands,
		host.setting(func(s FeeSettings) decimal.NullDecimal { return s.HostFeeSharePercent }),
		host.plan(func(p HostPlan) decimal.NullDecimal { return p.HostFeeSharePercent }),
		value(decimal.NewNullDecimal(r.defaults.HostFeeSharePercent)),
	)

	v, err := firstDefined(cands)
	if err != nil {
		return decimal.Zero, fmt.Errorf("host fee share percent for order %d: %w", order.ID, err)
	}
	return v.Decimal, nil
}

// populate fills the order's cached associations.
func (r *Resolver) populate(ctx context.Context, order *Order) error {
	if order.Collective == nil {
		c, err := r.dir.GetCollective(ctx, order.CollectiveID)
		if err != nil {
			return fmt.Errorf("load collective of order %d: %w", order.ID, err)
		}
		order.Collective = c
	}
	if order.PaymentMethod == nil && order.PaymentMethodID != nil {
		pm, err := r.dir.GetPaymentMethod(ctx, *order.PaymentMethodID)
		if err != nil {
			return fmt.Errorf("load payment method of order %d: %w", order.ID, err)
		}
		order.PaymentMethod = pm
	}
	return nil
}

// =============================================================================
// LAZY COLLECTIVE - loaded at most once, only if a candidate needs it
// =============================================================================

type lazyCollective struct {
	load   func() (*Collective, error)
	loaded bool
	c      *Collective
	err    error
}

func (r *Resolver) lazyCollective(ctx context.Context, id *int64) *lazyCollective {
	return &lazyCollective{load: func() (*Collective, error) {
		if id == nil {
			return nil, nil
		}
		r.logger.Debug("loading collective for fee resolution", "collective_id", *id)
		return r.dir.GetCollective(ctx, *id)
	}}
}

func (l *lazyCollective) get() (*Collective, error) {
	if !l.loaded {
		l.c, l.err = l.load()
		l.loaded = true
	}
	return l.c, l.err
}

func (l *lazyCollective) setting(pick func(FeeSettings) decimal.NullDecimal) candidate {
	return func() (decimal.NullDecimal, error) {
		c, err := l.get()
		if err != nil || c == nil {
			return Unset, err
		}
		return pick(c.Settings), nil
	}
}

func (l *lazyCollective) plan(pick func(HostPlan) decimal.NullDecimal) candidate {
	return func() (decimal.NullDecimal, error) {
		c, err := l.get()
		if err != nil || c == nil || c.Plan == nil {
			return Unset, err
		}
		return pick(*c.Plan), nil
	}
}

func (l *lazyCollective) percent() candidate {
	return func() (decimal.NullDecimal, error) {
		c, err := l.get()
		if err != nil || c == nil {
			return Unset, err
		}
		return c.HostFeePercent, nil
	}
}
