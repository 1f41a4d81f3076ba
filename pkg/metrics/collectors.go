package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics contains metrics for the decision orchestrator.
type DecisionMetrics struct {
	DecisionsTotal  *prometheus.CounterVec
	DecisionLatency *prometheus.HistogramVec
	RiskScore       prometheus.Histogram
	DeniedByReason  *prometheus.CounterVec
}

// NewDecisionMetrics creates decision orchestrator metrics.
func NewDecisionMetrics() *DecisionMetrics {
	reg := GetRegistry()

	m := &DecisionMetrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "decision",
				Name:      "evaluations_total",
				Help:      "Total decision evaluations",
			},
			[]string{"effect"},
		),
		DecisionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zta",
				Subsystem: "decision",
				Name:      "evaluation_duration_seconds",
				Help:      "Decision evaluation duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{},
		),
		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "zta",
				Subsystem: "decision",
				Name:      "risk_score",
				Help:      "Distribution of computed risk scores",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		DeniedByReason: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "decision",
				Name:      "denied_total",
				Help:      "Denied decisions by reason",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(m.DecisionsTotal, m.DecisionLatency, m.RiskScore, m.DeniedByReason)
	return m
}

// TokenMetrics contains metrics for the token lifecycle.
type TokenMetrics struct {
	OperationsTotal *prometheus.CounterVec
	ReuseDetected   prometheus.Counter
	RevokedActive   prometheus.Gauge
}

// NewTokenMetrics creates token lifecycle metrics.
func NewTokenMetrics() *TokenMetrics {
	reg := GetRegistry()

	m := &TokenMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "token",
				Name:      "operations_total",
				Help:      "Total token operations",
			},
			[]string{"operation", "result"},
		),
		ReuseDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "token",
				Name:      "refresh_reuse_total",
				Help:      "Refresh token reuse detections",
			},
		),
		RevokedActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "zta",
				Subsystem: "token",
				Name:      "revoked_active",
				Help:      "Unexpired entries in the revocation set",
			},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.ReuseDetected, m.RevokedActive)
	return m
}

// TrustMetrics contains metrics for the trust state store.
type TrustMetrics struct {
	OutcomesTotal   *prometheus.CounterVec
	AnomaliesTotal  *prometheus.CounterVec
	SessionsEvicted prometheus.Counter
}

// NewTrustMetrics creates trust store metrics.
func NewTrustMetrics() *TrustMetrics {
	reg := GetRegistry()

	m := &TrustMetrics{
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "trust",
				Name:      "outcomes_total",
				Help:      "Trust score updates by outcome",
			},
			[]string{"outcome"},
		),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "trust",
				Name:      "anomalies_total",
				Help:      "Detected session anomalies",
			},
			[]string{"anomaly"},
		),
		SessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "trust",
				Name:      "sessions_evicted_total",
				Help:      "Sessions evicted by the per-identity cap",
			},
		),
	}

	reg.MustRegister(m.OutcomesTotal, m.AnomaliesTotal, m.SessionsEvicted)
	return m
}

// AuditMetrics contains metrics for the audit pipeline.
type AuditMetrics struct {
	EventsTotal   *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	DroppedEvents prometheus.Counter
	WriteLatency  prometheus.Histogram
}

// NewAuditMetrics creates audit pipeline metrics.
func NewAuditMetrics() *AuditMetrics {
	reg := GetRegistry()

	m := &AuditMetrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Audit events appended by category",
			},
			[]string{"category"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "zta",
				Subsystem: "audit",
				Name:      "queue_depth",
				Help:      "Pending events in the audit queue",
			},
		),
		DroppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "zta",
				Subsystem: "audit",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the queue was full",
			},
		),
		WriteLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "zta",
				Subsystem: "audit",
				Name:      "write_duration_seconds",
				Help:      "Audit append duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.EventsTotal, m.QueueDepth, m.DroppedEvents, m.WriteLatency)
	return m
}
