package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records counters for the webhook-to-notification pipeline.
type PipelineMetrics struct {
	webhookResults   *prometheus.CounterVec
	ledgerResults    *prometheus.CounterVec
	ledgerDuration   *prometheus.HistogramVec
	dispatchAttempts *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	fraudAlerts      *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	webhookResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_results",
		Help: "Webhook verification outcomes by result.",
	}, []string{"result"})
	ledgerResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_apply_results",
		Help: "Ledger apply outcomes by transaction type and status.",
	}, []string{"type", "status"})
	ledgerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_apply_duration_seconds",
		Help:    "Duration of ledger apply operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	dispatchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts",
		Help: "Notification delivery attempts by channel and result.",
	}, []string{"channel", "result"})
	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Duration of provider delivery calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	fraudAlerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_alerts",
		Help: "Fraud alerts raised by rule.",
	}, []string{"rule"})
	reg.MustRegister(webhookResults, ledgerResults, ledgerDuration, dispatchAttempts, dispatchDuration, fraudAlerts)
	return &PipelineMetrics{
		webhookResults:   webhookResults,
		ledgerResults:    ledgerResults,
		ledgerDuration:   ledgerDuration,
		dispatchAttempts: dispatchAttempts,
		dispatchDuration: dispatchDuration,
		fraudAlerts:      fraudAlerts,
	}
}

// IncWebhookResult increments the webhook counter for the given result.
func (p *PipelineMetrics) IncWebhookResult(result string) {
	if p == nil || p.webhookResults == nil {
		return
	}
	p.webhookResults.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncLedgerResult records one ledger apply outcome.
func (p *PipelineMetrics) IncLedgerResult(txType, status string) {
	if p == nil || p.ledgerResults == nil {
		return
	}
	p.ledgerResults.WithLabelValues(normalizeLabel(txType), normalizeLabel(status)).Inc()
}

// ObserveLedgerDuration records how long a ledger apply took.
func (p *PipelineMetrics) ObserveLedgerDuration(txType string, duration time.Duration) {
	if p == nil || p.ledgerDuration == nil {
		return
	}
	p.ledgerDuration.WithLabelValues(normalizeLabel(txType)).Observe(duration.Seconds())
}

// IncDispatchAttempt records one delivery attempt for a channel.
func (p *PipelineMetrics) IncDispatchAttempt(channel, result string) {
	if p == nil || p.dispatchAttempts == nil {
		return
	}
	p.dispatchAttempts.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
}

// ObserveDispatchDuration records how long a provider call took.
func (p *PipelineMetrics) ObserveDispatchDuration(channel string, duration time.Duration) {
	if p == nil || p.dispatchDuration == nil {
		return
	}
	p.dispatchDuration.WithLabelValues(normalizeLabel(channel)).Observe(duration.Seconds())
}

// IncFraudAlert records a raised alert for the named rule.
func (p *PipelineMetrics) IncFraudAlert(rule string) {
	if p == nil || p.fraudAlerts == nil {
		return
	}
	p.fraudAlerts.WithLabelValues(normalizeLabel(rule)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
