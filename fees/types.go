/*
Package fees resolves the host fee and host fee share percentages of an order.

PURPOSE:
  Before charging, callers need to know how much of an order the host keeps
  (host fee) and how much of that the platform takes (host fee share).
  Both come from an ordered list of configuration sources; the first one
  that is defined wins.

KEY CONCEPTS:
  - Collective: an account; may have a parent and a fiscal host
  - FeeSettings: per-collective overrides, keyed by payment method family
  - HostPlan: the host's platform plan, carrying share overrides
  - PaymentMethod: how an order is paid; its Family picks the override keys
  - Order: the thing being priced; caches its Collective and PaymentMethod

PERCENTS:
  Percentages are decimals on a 0-100 scale ("5" means 5%).
  decimal.NullDecimal distinguishes "not configured" from "0".

SEE ALSO:
  - resolver.go: precedence lists
  - directory.go: lookups the resolver needs
*/
package fees

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLECTIVE
// =============================================================================

type Collective struct {
	ID                 int64               `json:"id"`
	Slug               string              `json:"slug"`
	Name               string              `json:"name"`
	Currency           string              `json:"currency"`
	HostCollectiveID   *int64              `json:"host_collective_id,omitempty"`
	ParentCollectiveID *int64              `json:"parent_collective_id,omitempty"`
	HostFeePercent     decimal.NullDecimal `json:"host_fee_percent"`
	Settings           FeeSettings         `json:"settings"`
	Plan               *HostPlan           `json:"plan,omitempty"`
}

// FeeSettings are the fee overrides a collective (or host) can configure.
type FeeSettings struct {
	UseCustomHostFee bool `json:"use_custom_host_fee"`

	BankTransfersHostFeePercent decimal.NullDecimal `json:"bank_transfers_host_fee_percent"`
	AddedFundsHostFeePercent    decimal.NullDecimal `json:"added_funds_host_fee_percent"`
	StripeHostFeePercent        decimal.NullDecimal `json:"stripe_host_fee_percent"`
	PaypalHostFeePercent        decimal.NullDecimal `json:"paypal_host_fee_percent"`

	HostFeeSharePercent              decimal.NullDecimal `json:"host_fee_share_percent"`
	BankTransfersHostFeeSharePercent decimal.NullDecimal `json:"bank_transfers_host_fee_share_percent"`
	StripeHostFeeSharePercent        decimal.NullDecimal `json:"stripe_host_fee_share_percent"`
	PaypalHostFeeSharePercent        decimal.NullDecimal `json:"paypal_host_fee_share_percent"`
}

// HostPlan carries the platform's share of the host fee.
type HostPlan struct {
	HostFeeSharePercent              decimal.NullDecimal `json:"host_fee_share_percent"`
	BankTransfersHostFeeSharePercent decimal.NullDecimal `json:"bank_transfers_host_fee_share_percent"`
	StripeHostFeeSharePercent        decimal.NullDecimal `json:"stripe_host_fee_share_percent"`
	PaypalHostFeeSharePercent        decimal.NullDecimal `json:"paypal_host_fee_share_percent"`
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

// Family groups payment methods that share override keys.
type Family string

const (
	FamilyManual  Family = "manual"  // bank transfer, pledged
	FamilyPrepaid Family = "prepaid" // prepaid budget with its own fee
	FamilyHost    Family = "host"    // funds added by the host
	FamilyCard    Family = "card"    // stripe
	FamilyWallet  Family = "wallet"  // paypal
	FamilyOther   Family = "other"
)

type PaymentMethod struct {
	ID             int64               `json:"id"`
	Service        string              `json:"service"`
	Type           string              `json:"type"`
	Currency       string              `json:"currency"`
	HostFeePercent decimal.NullDecimal `json:"host_fee_percent"`
}

// Family maps service/type to the override family.
func (pm *PaymentMethod) Family() Family {
	if pm == nil {
		return FamilyManual
	}
	switch pm.Service {
	case "stripe":
		return FamilyCard
	case "paypal":
		return FamilyWallet
	case "opencollective", "":
		switch pm.Type {
		case "manual", "":
			return FamilyManual
		case "prepaid":
			return FamilyPrepaid
		case "host":
			return FamilyHost
		}
	}
	return FamilyOther
}

// =============================================================================
// ORDER
// =============================================================================

type Order struct {
	ID                  int64               `json:"id"`
	CollectiveID        int64               `json:"collective_id"`
	FromCollectiveID    int64               `json:"from_collective_id"`
	PaymentMethodID     *int64              `json:"payment_method_id,omitempty"`
	Currency            string              `json:"currency"`
	TotalAmount         int64               `json:"total_amount"`
	PlatformTipAmount   int64               `json:"platform_tip_amount"`
	TaxAmount           int64               `json:"tax_amount"`
	PlatformTipEligible bool                `json:"platform_tip_eligible"`
	HostFeePercent      decimal.NullDecimal `json:"host_fee_percent"`

	// Populated lazily by the resolver.
	Collective    *Collective    `json:"-"`
	PaymentMethod *PaymentMethod `json:"-"`
}

// Quote is what a caller needs before charging an order.
type Quote struct {
	OrderID             int64           `json:"order_id"`
	HostFeePercent      decimal.Decimal `json:"host_fee_percent"`
	HostFeeSharePercent decimal.Decimal `json:"host_fee_share_percent"`
}

// Percent returns a defined NullDecimal.
func Percent(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

// Unset is the undefined NullDecimal.
var Unset = decimal.NullDecimal{}
