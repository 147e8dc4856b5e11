/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes refunds, ledger lookups, verification and fee quotes via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  refund service, the contribution recorder and the fee resolver.

ENDPOINTS:
  Transactions:
    GET    /api/transactions                   Latest rows (?limit=)
    GET    /api/transactions/{id}              One row
    POST   /api/transactions/{id}/refund       Refund cascade

  Groups:
    GET    /api/groups/{group}/transactions    Rows of a TransactionGroup
    GET    /api/groups/{group}/verify          Invariant check

  Settlements:
    GET    /api/settlements/{group}/{kind}     Settlement status of a debt

  Orders:
    GET    /api/orders/{id}/fees               Host fee and share percents
    POST   /api/orders/{id}/transactions       Record a charge

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body or path, validation errors
  - 404: Transaction, settlement or directory record not found
  - 409: Already refunded, duplicate settlement
  - 422: Business rule (refund of a refund, unsupported fees payer, ...)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. ActorID in refund bodies is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/ledger-engine/contribution"
	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/fx"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/refund"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API reads and seeds.
type Store interface {
	ledger.TxStore
	fees.DirectoryStore
}

// resetter is implemented by stores that can be wiped for scenarios.
type resetter interface {
	Reset(ctx context.Context) error
}

// recentLister is implemented by stores that can list the latest rows.
type recentLister interface {
	RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Refunds  *refund.Service
	Recorder *contribution.Recorder
	Resolver *fees.Resolver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// PlatformCollectiveID is the platform account seeded by scenarios.
	PlatformCollectiveID int64

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// HandlerConfig groups the collaborators of a Handler.
type HandlerConfig struct {
	Store    Store
	Refunds  *refund.Service
	Recorder *contribution.Recorder
	Resolver *fees.Resolver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	PlatformCollectiveID int64
}

// NewHandler creates a new handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		Store:    cfg.Store,
		Refunds:  cfg.Refunds,
		Recorder: cfg.Recorder,
		Resolver: cfg.Resolver,
		Metrics:  cfg.Metrics,
		Logger:   cfg.Logger,

		PlatformCollectiveID: cfg.PlatformCollectiveID,

		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the latest rows, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.Store.(recentLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store cannot list transactions", nil)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	txs, err := lister.RecentTransactions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns one row.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// RefundTransaction refunds a transaction and its satellites.
func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Refunds.RefundByID(r.Context(), refund.RefundCommand{
		TransactionID:        id,
		RefundedProcessorFee: req.RefundedProcessorFee,
		ActorID:              req.ActorID,
		Note:                 req.Note,
		SkipProvider:         req.SkipProvider,
	})
	if err != nil {
		writeDomainError(w, "Refund failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, RefundResponse{
		OriginalID:  res.OriginalID,
		CreditID:    res.CreditID,
		DebitID:     res.DebitID,
		RefundGroup: res.RefundGroup.String(),
		Pairs:       res.Pairs,
	})
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// GetGroupTransactions returns every row of a TransactionGroup.
func (h *Handler) GetGroupTransactions(w http.ResponseWriter, r *http.Request) {
	group, ok := pathGroup(w, r)
	if !ok {
		return
	}

	txs, err := h.Store.FindByGroup(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list group", err)
		return
	}
	if len(txs) == 0 {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// VerifyGroup checks pair balance and the net amount identity of a group.
func (h *Handler) VerifyGroup(w http.ResponseWriter, r *http.Request) {
	group, ok := pathGroup(w, r)
	if !ok {
		return
	}

	violations, err := ledger.VerifyGroup(r.Context(), h.Store, group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify group", err)
		return
	}

	resp := VerifyResponse{Group: group.String(), OK: len(violations) == 0, Violations: []string{}}
	for _, v := range violations {
		resp.Violations = append(resp.Violations, v.Error())
	}
	if !resp.OK {
		h.Logger.WarnContext(r.Context(), "group failed verification", "group", group, "violations", len(violations))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// GetSettlement returns the settlement status of a debt.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	group, ok := pathGroup(w, r)
	if !ok {
		return
	}
	kind, err := ledger.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid kind", err)
		return
	}

	s, err := h.Store.FindSettlement(r.Context(), group, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settlement", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Settlement not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, SettlementDTO{Group: s.Group.String(), Kind: string(s.Kind), Status: string(s.Status)})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// GetOrderFees quotes the host fee and host fee share of an order.
func (h *Handler) GetOrderFees(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	q, err := h.Resolver.QuoteForOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to quote order", err)
		return
	}
	h.Metrics.ObserveQuote()
	writeJSON(w, http.StatusOK, toFeeQuoteDTO(q))
}

// RecordOrder records the charge of an order as a main pair and satellites.
func (h *Handler) RecordOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RecordRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Recorder.Record(r.Context(), id, contribution.Charge{
		ProcessorFeeInHostCurrency: req.ProcessorFee,
		Description:                req.Description,
	})
	if err != nil {
		writeDomainError(w, "Failed to record order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(rec))
}

func toRecordResponse(rec contribution.Recorded) RecordResponse {
	return RecordResponse{
		OrderID:             rec.OrderID,
		Group:               rec.Group.String(),
		FxRate:              rec.FxRate.String(),
		HostFeePercent:      rec.HostFeePercent.String(),
		HostFeeSharePercent: rec.HostFeeSharePercent.String(),
		Pairs:               toPairDTOs(rec.Pairs),
	}
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store cannot be reset", nil)
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) (int, string) {
	switch {
	case ledger.IsNotFound(err), errors.Is(err, fees.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case ledger.IsConflict(err):
		return http.StatusConflict, "conflict"
	case ledger.IsClientError(err),
		errors.Is(err, contribution.ErrNoHost),
		errors.Is(err, contribution.ErrInvalidAmount),
		errors.Is(err, fx.ErrRateUnavailable):
		return http.StatusUnprocessableEntity, "unprocessable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusOf(err)
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

// decode reads and validates a JSON body. An empty body is a zero request.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
	}
	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s %q", name, raw), err)
		return 0, false
	}
	return id, true
}

func pathGroup(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	group, err := uuid.Parse(chi.URLParam(r, "group"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction group", err)
		return uuid.Nil, false
	}
	return group, true
}
