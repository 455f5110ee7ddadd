// Package metrics provides Prometheus metrics for the settlement engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	PurchaseCounter   *prometheus.CounterVec
	TransitionCounter *prometheus.CounterVec
	ClaimCounter      *prometheus.CounterVec
	PayoutCounter     *prometheus.CounterVec
	PayoutAmount      prometheus.Histogram
	TxRetryCounter    *prometheus.CounterVec
	TxDuration        *prometheus.HistogramVec
	OverdueGauge      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers the engine collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		PurchaseCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundledger",
			Name:      "license_purchases_total",
			Help:      "Licenses sold, by channel and purchase type.",
		}, []string{"channel", "purchase_type"}),
		TransitionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundledger",
			Name:      "round_transitions_total",
			Help:      "Round transitions applied, by source and target stage.",
		}, []string{"from_stage", "to_stage"}),
		ClaimCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundledger",
			Name:      "royalty_claims_total",
			Help:      "Royalty claims processed, by final status.",
		}, []string{"status"}),
		PayoutCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundledger",
			Name:      "payouts_total",
			Help:      "Payout state changes, by resulting status.",
		}, []string{"status"}),
		PayoutAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roundledger",
			Name:      "payout_request_amount",
			Help:      "Requested payout amounts.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		}),
		TxRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundledger",
			Name:      "tx_retries_total",
			Help:      "Transaction retries after transient storage failures, by SQLSTATE class.",
		}, []string{"reason"}),
		TxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roundledger",
			Name:      "tx_duration_seconds",
			Help:      "Transaction wall time, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		OverdueGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "roundledger",
			Name:      "insurance_records",
			Help:      "Insured licenses at the last sweep, by derived status.",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.PurchaseCounter,
		m.TransitionCounter,
		m.ClaimCounter,
		m.PayoutCounter,
		m.PayoutAmount,
		m.TxRetryCounter,
		m.TxDuration,
		m.OverdueGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordPurchase counts a sold license.
func (m *Metrics) RecordPurchase(channel, purchaseType string) {
	if m == nil {
		return
	}
	m.PurchaseCounter.WithLabelValues(channel, purchaseType).Inc()
}

// RecordTransition counts a round transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionCounter.WithLabelValues(from, to).Inc()
}

// RecordClaim counts a processed royalty claim.
func (m *Metrics) RecordClaim(status string) {
	if m == nil {
		return
	}
	m.ClaimCounter.WithLabelValues(status).Inc()
}

// RecordPayout counts a payout state change.
func (m *Metrics) RecordPayout(status string) {
	if m == nil {
		return
	}
	m.PayoutCounter.WithLabelValues(status).Inc()
}

// ObservePayoutAmount records a requested payout amount.
func (m *Metrics) ObservePayoutAmount(amount float64) {
	if m == nil {
		return
	}
	m.PayoutAmount.Observe(amount)
}

// RecordTxRetry counts a transaction retry.
func (m *Metrics) RecordTxRetry(reason string) {
	if m == nil {
		return
	}
	m.TxRetryCounter.WithLabelValues(reason).Inc()
}

// ObserveTx records how long a transaction took.
func (m *Metrics) ObserveTx(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TxDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetInsuranceCounts replaces the insurance gauges.
func (m *Metrics) SetInsuranceCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.OverdueGauge.WithLabelValues(status).Set(float64(n))
	}
}
