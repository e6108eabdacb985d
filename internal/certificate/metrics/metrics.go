// Package metrics provides observability for the certificate module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for certificate operations.
// All methods are nil-receiver safe so callers never have to guard.
type Metrics struct {
	Issued       prometheus.Counter
	Deactivated  prometheus.Counter
	DatesUpdated prometheus.Counter

	// Verification outcomes: valid, expired, not_yet_valid, not_found, malformed
	Verifications *prometheus.CounterVec

	MirrorWriteFailures prometheus.Counter

	IssueLatency  prometheus.Histogram
	VerifyLatency prometheus.Histogram
}

// New creates a new Metrics instance with all certificate module metrics registered.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certmint_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		Deactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certmint_certificates_deactivated_total",
			Help: "Total number of certificates deactivated",
		}),
		DatesUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certmint_certificate_date_amendments_total",
			Help: "Total number of validity window amendments",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certmint_certificate_verifications_total",
			Help: "Total verification requests by outcome",
		}, []string{"outcome"}),
		MirrorWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certmint_mirror_write_failures_total",
			Help: "Total artifact writes that failed and were queued for repair",
		}),
		IssueLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certmint_certificate_issue_duration_seconds",
			Help:    "Duration of certificate issuance including identifier generation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		VerifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certmint_certificate_verify_duration_seconds",
			Help:    "Duration of certificate verification (read path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementIssued records a successful issuance.
func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

// IncrementDeactivated records a successful deactivation.
func (m *Metrics) IncrementDeactivated() {
	if m != nil {
		m.Deactivated.Inc()
	}
}

// IncrementDatesUpdated records a successful validity window amendment.
func (m *Metrics) IncrementDatesUpdated() {
	if m != nil {
		m.DatesUpdated.Inc()
	}
}

// IncrementVerification records one verification request by outcome.
func (m *Metrics) IncrementVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

// IncrementMirrorWriteFailure records an artifact write queued for repair.
func (m *Metrics) IncrementMirrorWriteFailure() {
	if m != nil {
		m.MirrorWriteFailures.Inc()
	}
}

// ObserveIssue records the duration of an issuance.
func (m *Metrics) ObserveIssue(d time.Duration) {
	if m != nil {
		m.IssueLatency.Observe(d.Seconds())
	}
}

// ObserveVerify records the duration of a verification.
func (m *Metrics) ObserveVerify(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
