// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	metrics "github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all broker pipeline metrics using luxfi/metric.
type Metrics struct {
	metricsInstance metrics.Metrics

	// Assessment metrics
	OffersAssessed   metrics.Counter
	OffersAccepted   metrics.Counter
	OffersRejected   metrics.Counter
	OffersFunded     metrics.Counter
	AssessmentErrors metrics.Counter

	// Evaluator metrics
	EvaluatorFallbacks metrics.Counter

	// Proof metrics
	ProofsValid   metrics.Counter
	ProofsInvalid metrics.Counter

	// Settlement metrics
	SharesSent       metrics.Counter
	SharesFailed     metrics.Counter
	RetriesRun       metrics.Counter
	RetriesExhausted metrics.Counter

	// Latency metrics
	AssessmentDuration metrics.Histogram
	FundingDuration    metrics.Histogram
	SettlementDuration metrics.Histogram
}

// NewMetrics creates the broker metrics instance.
func NewMetrics() (*Metrics, error) {
	factory := metrics.NewPrometheusFactory()
	metricsInstance := factory.New("payattn")

	m := &Metrics{
		metricsInstance: metricsInstance,
	}

	m.OffersAssessed = metricsInstance.NewCounter("offers_assessed_total", "Total number of offers assessed")
	m.OffersAccepted = metricsInstance.NewCounter("offers_accepted_total", "Total number of offers accepted by the evaluator")
	m.OffersRejected = metricsInstance.NewCounter("offers_rejected_total", "Total number of offers rejected by the evaluator")
	m.OffersFunded = metricsInstance.NewCounter("offers_funded_total", "Total number of escrows funded")
	m.AssessmentErrors = metricsInstance.NewCounter("assessment_errors_total", "Total number of per-offer assessment errors")

	m.EvaluatorFallbacks = metricsInstance.NewCounter("evaluator_fallbacks_total", "Total number of deterministic fallback decisions")

	m.ProofsValid = metricsInstance.NewCounter("proofs_valid_total", "Total number of attribute proofs that verified")
	m.ProofsInvalid = metricsInstance.NewCounter("proofs_invalid_total", "Total number of attribute proofs that failed verification")

	m.SharesSent = metricsInstance.NewCounter("settlement_shares_sent_total", "Total number of settlement shares transferred")
	m.SharesFailed = metricsInstance.NewCounter("settlement_shares_failed_total", "Total number of settlement shares that failed")
	m.RetriesRun = metricsInstance.NewCounter("settlement_retries_total", "Total number of settlement share retries")
	m.RetriesExhausted = metricsInstance.NewCounter("settlement_retries_exhausted_total", "Total number of shares that hit the attempt cap")

	m.AssessmentDuration = metricsInstance.NewHistogram("assessment_duration_seconds", "Duration of a full assessment run", prometheus.DefBuckets)
	m.FundingDuration = metricsInstance.NewHistogram("funding_duration_seconds", "Duration of a single escrow funding", prometheus.DefBuckets)
	m.SettlementDuration = metricsInstance.NewHistogram("settlement_duration_seconds", "Duration of a three-way settlement", prometheus.DefBuckets)

	return m, nil
}

// Gatherer returns the prometheus gatherer backing these metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if g, ok := m.metricsInstance.(interface{ Gatherer() prometheus.Gatherer }); ok {
		return g.Gatherer()
	}
	return prometheus.DefaultGatherer
}
