// Package metrics holds the prometheus collectors of the ledger engine.
//
// Collectors are registered on an explicit registry passed to New, so
// tests can build as many Metrics as they like.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledger"

type Metrics struct {
	RefundsTotal          *prometheus.CounterVec
	RefundDuration        prometheus.Histogram
	PartialFeeRefunds     prometheus.Counter
	SettlementTransitions *prometheus.CounterVec
	PairsCreated          *prometheus.CounterVec
	FeeQuotes             prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefundsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refunds_total",
				Help:      "Refund requests by outcome.",
			},
			[]string{"outcome"}, // success, already_refunded, client_error, error
		),
		RefundDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refund_duration_seconds",
				Help:      "Duration of a refund including the provider call.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PartialFeeRefunds: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_processor_fee_refunds_total",
				Help:      "Processor fee refunds skipped because the refunded amount did not match.",
			},
		),
		SettlementTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_transitions_total",
				Help:      "Settlement rows created or moved during refunds.",
			},
			[]string{"kind", "from", "to"},
		),
		PairsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_created_total",
				Help:      "Double-entry pairs written, by kind.",
			},
			[]string{"kind", "refund"},
		),
		FeeQuotes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fee_quotes_total",
				Help:      "Fee percent quotes computed.",
			},
		),
	}
}

// ObserveRefund records one refund attempt.
func (m *Metrics) ObserveRefund(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(outcome).Inc()
	m.RefundDuration.Observe(time.Since(started).Seconds())
}

// ObserveSettlement records a settlement row creation (from "") or move.
func (m *Metrics) ObserveSettlement(kind, from, to string) {
	if m == nil {
		return
	}
	m.SettlementTransitions.WithLabelValues(kind, from, to).Inc()
}

// ObservePair counts a written pair.
func (m *Metrics) ObservePair(kind string, refund bool) {
	if m == nil {
		return
	}
	label := "false"
	if refund {
		label = "true"
	}
	m.PairsCreated.WithLabelValues(kind, label).Inc()
}

// ObservePartialFeeRefund counts a skipped processor fee refund.
func (m *Metrics) ObservePartialFeeRefund() {
	if m == nil {
		return
	}
	m.PartialFeeRefunds.Inc()
}

// ObserveQuote counts a fee quote.
func (m *Metrics) ObserveQuote() {
	if m == nil {
		return
	}
	m.FeeQuotes.Inc()
}
