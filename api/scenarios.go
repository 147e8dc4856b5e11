/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a fiscal
	host, its collectives and a few paid orders, then record the charges
	so there is a ledger to refund and verify.

AVAILABLE SCENARIOS:

	card-donation:   USD collective, card order with a platform tip
	bank-transfer:   manual payment, tip eligible, no processor fee
	eur-collective:  EUR collective under a USD host (FX conversion)

HOW SCENARIOS WORK:
 1. Reset database when the store supports it
 2. Save platform, host, collectives and payment methods
 3. Save orders
 4. Record each charge through the contribution recorder

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "card-donation"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description and a seed function
 2. Return the directory records and the charges to record

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase, shared helpers
  - contribution/recorder.go: how a charge becomes pairs
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/ledger-engine/contribution"
	"github.com/warp/ledger-engine/fees"
)

// DefaultPlatformCollectiveID is the platform account seeded by scenarios
// when the handler is not told otherwise.
const DefaultPlatformCollectiveID int64 = 8686

// Directory ids used by every scenario.
const (
	scenarioHostID        int64 = 11004
	scenarioContributorID int64 = 301
	scenarioCardID        int64 = 401
	scenarioBankID        int64 = 402
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioCharge struct {
	orderID int64
	charge  contribution.Charge
}

type scenarioData struct {
	collectives []fees.Collective
	methods     []fees.PaymentMethod
	orders      []fees.Order
	charges     []scenarioCharge
}

type scenario struct {
	ScenarioDTO
	seed func(platformID int64) scenarioData
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "card-donation",
			Name:        "Card Donation",
			Description: "USD collective, $110 card order with a $10 platform tip",
		},
		seed: seedCardDonation,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "bank-transfer",
			Name:        "Bank Transfer",
			Description: "Manual payment on a tip eligible order, bank transfer host fee",
		},
		seed: seedBankTransfer,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "eur-collective",
			Name:        "EUR Collective",
			Description: "EUR collective under a USD host, amounts converted at the charge rate",
		},
		seed: seedEURCollective,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if rs, ok := h.Store.(resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
			return
		}
	}
	h.setScenario("")

	recorded, err := h.loadScenario(ctx, s)
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.setScenario(s.ID)
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", s.ID, "charges", len(recorded))

	writeJSON(w, http.StatusOK, LoadScenarioResponse{Scenario: s.ScenarioDTO, Recorded: recorded})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) ([]RecordResponse, error) {
	data := s.seed(h.platformID())

	for _, c := range data.collectives {
		if err := h.Store.SaveCollective(ctx, c); err != nil {
			return nil, fmt.Errorf("save collective %d: %w", c.ID, err)
		}
	}
	for _, pm := range data.methods {
		if err := h.Store.SavePaymentMethod(ctx, pm); err != nil {
			return nil, fmt.Errorf("save payment method %d: %w", pm.ID, err)
		}
	}
	for _, o := range data.orders {
		if err := h.Store.SaveOrder(ctx, o); err != nil {
			return nil, fmt.Errorf("save order %d: %w", o.ID, err)
		}
	}

	recorded := make([]RecordResponse, 0, len(data.charges))
	for _, c := range data.charges {
		rec, err := h.Recorder.Record(ctx, c.orderID, c.charge)
		if err != nil {
			return nil, fmt.Errorf("record order %d: %w", c.orderID, err)
		}
		recorded = append(recorded, toRecordResponse(rec))
	}
	return recorded, nil
}

func (h *Handler) platformID() int64 {
	if h.PlatformCollectiveID != 0 {
		return h.PlatformCollectiveID
	}
	return DefaultPlatformCollectiveID
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// baseDirectory is the platform, the host, one contributor and the two
// payment methods every scenario shares.
func baseDirectory(platformID int64, host fees.Collective) scenarioData {
	return scenarioData{
		collectives: []fees.Collective{
			{ID: platformID, Slug: "platform", Name: "Platform", Currency: "USD"},
			host,
			{ID: scenarioContributorID, Slug: "alice", Name: "Alice Johnson", Currency: "USD"},
		},
		methods: []fees.PaymentMethod{
			{ID: scenarioCardID, Service: "stripe", Type: "creditcard", Currency: "USD"},
			{ID: scenarioBankID, Service: "opencollective", Type: "manual", Currency: "USD"},
		},
	}
}

func usdHost(settings fees.FeeSettings) fees.Collective {
	return fees.Collective{
		ID:             scenarioHostID,
		Slug:           "foundation",
		Name:           "Open Source Foundation",
		Currency:       "USD",
		HostFeePercent: fees.Percent(10),
		Settings:       settings,
	}
}

func hosted(id int64, slug, currency string) fees.Collective {
	host := scenarioHostID
	return fees.Collective{ID: id, Slug: slug, Name: slug, Currency: currency, HostCollectiveID: &host}
}

func seedCardDonation(platformID int64) scenarioData {
	d := baseDirectory(platformID, usdHost(fees.FeeSettings{StripeHostFeePercent: fees.Percent(5)}))
	d.collectives = append(d.collectives, hosted(201, "babel", "USD"))

	card := scenarioCardID
	d.orders = []fees.Order{{
		ID:                1001,
		CollectiveID:      201,
		FromCollectiveID:  scenarioContributorID,
		PaymentMethodID:   &card,
		Currency:          "USD",
		TotalAmount:       11000,
		PlatformTipAmount: 1000,
	}}
	d.charges = []scenarioCharge{{orderID: 1001, charge: contribution.Charge{
		ProcessorFeeInHostCurrency: 349,
		Description:                "Monthly donation to Babel",
	}}}
	return d
}

func seedBankTransfer(platformID int64) scenarioData {
	d := baseDirectory(platformID, usdHost(fees.FeeSettings{BankTransfersHostFeePercent: fees.Percent(4)}))
	d.collectives = append(d.collectives, hosted(202, "webpack", "USD"))

	bank := scenarioBankID
	d.orders = []fees.Order{{
		ID:                  1002,
		CollectiveID:        202,
		FromCollectiveID:    scenarioContributorID,
		PaymentMethodID:     &bank,
		Currency:            "USD",
		TotalAmount:         50000,
		PlatformTipEligible: true,
	}}
	d.charges = []scenarioCharge{{orderID: 1002, charge: contribution.Charge{
		Description: "Bank transfer to Webpack",
	}}}
	return d
}

func seedEURCollective(platformID int64) scenarioData {
	d := baseDirectory(platformID, usdHost(fees.FeeSettings{}))
	d.collectives = append(d.collectives, hosted(203, "berlin-meetup", "EUR"))

	card := scenarioCardID
	d.orders = []fees.Order{{
		ID:                1003,
		CollectiveID:      203,
		FromCollectiveID:  scenarioContributorID,
		PaymentMethodID:   &card,
		Currency:          "EUR",
		TotalAmount:       5000,
		PlatformTipAmount: 500,
		TaxAmount:         450,
	}}
	d.charges = []scenarioCharge{{orderID: 1003, charge: contribution.Charge{
		ProcessorFeeInHostCurrency: 180,
		Description:                "Ticket for Berlin meetup",
	}}}
	return d
}
