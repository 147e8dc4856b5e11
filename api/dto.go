/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Transactions:
    TransactionDTO, PairDTO

  Refunds:
    RefundRequest, RefundResponse

  Orders:
    RecordRequest, RecordResponse, FeeQuoteDTO

  Verification and settlements:
    VerifyResponse, SettlementDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode()
  in handlers.go before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO is one ledger row. Amounts are minor units.
type TransactionDTO struct {
	ID          int64  `json:"id"`
	Group       string `json:"transaction_group"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Description string `json:"description"`

	CollectiveID     int64  `json:"collective_id"`
	FromCollectiveID int64  `json:"from_collective_id"`
	HostCollectiveID *int64 `json:"host_collective_id,omitempty"`

	Currency                      string `json:"currency"`
	Amount                        int64  `json:"amount"`
	NetAmountInCollectiveCurrency int64  `json:"net_amount_in_collective_currency"`

	HostCurrency                      string `json:"host_currency"`
	HostCurrencyFxRate                string `json:"host_currency_fx_rate"`
	AmountInHostCurrency              int64  `json:"amount_in_host_currency"`
	HostFeeInHostCurrency             int64  `json:"host_fee_in_host_currency"`
	PlatformFeeInHostCurrency         int64  `json:"platform_fee_in_host_currency"`
	PaymentProcessorFeeInHostCurrency int64  `json:"payment_processor_fee_in_host_currency"`
	TaxAmount                         int64  `json:"tax_amount"`

	IsRefund            bool   `json:"is_refund"`
	IsDebt              bool   `json:"is_debt"`
	RefundTransactionID *int64 `json:"refund_transaction_id,omitempty"`

	OrderID         *int64 `json:"order_id,omitempty"`
	ExpenseID       *int64 `json:"expense_id,omitempty"`
	PaymentMethodID *int64 `json:"payment_method_id,omitempty"`
	CreatedByUserID *int64 `json:"created_by_user_id,omitempty"`

	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// PairDTO identifies the two rows of one (group, kind).
type PairDTO struct {
	CreditID int64 `json:"credit_id"`
	DebitID  int64 `json:"debit_id"`
}

// =============================================================================
// REFUNDS
// =============================================================================

// RefundRequest is the body of POST /api/transactions/{id}/refund.
type RefundRequest struct {
	RefundedProcessorFee int64  `json:"refunded_processor_fee" validate:"gte=0"`
	ActorID              *int64 `json:"actor_id" validate:"omitempty,gt=0"`
	Note                 string `json:"note" validate:"max=500"`
	SkipProvider         bool   `json:"skip_provider"`
}

// RefundResponse identifies the refund of the main transaction.
type RefundResponse struct {
	OriginalID  int64  `json:"original_id"`
	CreditID    int64  `json:"credit_id"`
	DebitID     int64  `json:"debit_id"`
	RefundGroup string `json:"refund_group"`
	Pairs       int    `json:"pairs"`
}

// =============================================================================
// ORDERS
// =============================================================================

// RecordRequest is the body of POST /api/orders/{id}/transactions.
type RecordRequest struct {
	ProcessorFee int64  `json:"processor_fee" validate:"gte=0"`
	Description  string `json:"description" validate:"max=255"`
}

// RecordResponse lists the pairs written for one charge.
type RecordResponse struct {
	OrderID             int64              `json:"order_id"`
	Group               string             `json:"transaction_group"`
	FxRate              string             `json:"fx_rate"`
	HostFeePercent      string             `json:"host_fee_percent"`
	HostFeeSharePercent string             `json:"host_fee_share_percent"`
	Pairs               map[string]PairDTO `json:"pairs"`
}

// FeeQuoteDTO is the fee quote of an order.
type FeeQuoteDTO struct {
	OrderID             int64  `json:"order_id"`
	HostFeePercent      string `json:"host_fee_percent"`
	HostFeeSharePercent string `json:"host_fee_share_percent"`
}

// =============================================================================
// VERIFICATION AND SETTLEMENTS
// =============================================================================

// VerifyResponse reports the invariant violations of one group.
type VerifyResponse struct {
	Group      string   `json:"transaction_group"`
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

type SettlementDTO struct {
	Group  string `json:"transaction_group"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse lists what a scenario recorded.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO      `json:"scenario"`
	Recorded []RecordResponse `json:"recorded"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                                tx.ID,
		Group:                             tx.Group.String(),
		Kind:                              string(tx.Kind),
		Type:                              string(tx.Type),
		Description:                       tx.Description,
		CollectiveID:                      tx.CollectiveID,
		FromCollectiveID:                  tx.FromCollectiveID,
		HostCollectiveID:                  tx.HostCollectiveID,
		Currency:                          tx.Currency,
		Amount:                            tx.Amount,
		NetAmountInCollectiveCurrency:     tx.NetAmountInCollectiveCurrency,
		HostCurrency:                      tx.HostCurrency,
		HostCurrencyFxRate:                tx.FxRate().String(),
		AmountInHostCurrency:              tx.AmountInHostCurrency,
		HostFeeInHostCurrency:             tx.HostFeeInHostCurrency,
		PlatformFeeInHostCurrency:         tx.PlatformFeeInHostCurrency,
		PaymentProcessorFeeInHostCurrency: tx.PaymentProcessorFeeInHostCurrency,
		TaxAmount:                         tx.TaxAmount,
		IsRefund:                          tx.IsRefund,
		IsDebt:                            tx.IsDebt,
		RefundTransactionID:               tx.RefundTransactionID,
		OrderID:                           tx.OrderID,
		ExpenseID:                         tx.ExpenseID,
		PaymentMethodID:                   tx.PaymentMethodID,
		CreatedByUserID:                   tx.CreatedByUserID,
		Data:                              tx.Data,
	}
	if !tx.CreatedAt.IsZero() {
		dto.CreatedAt = tx.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toPairDTOs(pairs map[ledger.Kind]ledger.Pair) map[string]PairDTO {
	out := make(map[string]PairDTO, len(pairs))
	for kind, p := range pairs {
		var dto PairDTO
		if p.Credit != nil {
			dto.CreditID = p.Credit.ID
		}
		if p.Debit != nil {
			dto.DebitID = p.Debit.ID
		}
		out[string(kind)] = dto
	}
	return out
}

func toFeeQuoteDTO(q fees.Quote) FeeQuoteDTO {
	return FeeQuoteDTO{
		OrderID:             q.OrderID,
		HostFeePercent:      q.HostFeePercent.String(),
		HostFeeSharePercent: q.HostFeeSharePercent.String(),
	}
}
