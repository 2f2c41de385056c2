// Package metrics provides custom Prometheus metrics for the ordersentry
// alert engine.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains all Prometheus metrics related to alert dispatch and
// escalation. A nil *AlertMetrics is valid; every method no-ops.
type AlertMetrics struct {
	Dispatched       prometheus.Counter
	DispatchFailures *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	Acknowledged     prometheus.Counter
	Dismissed        prometheus.Counter
	Superseded       prometheus.Counter
	RateLimited      prometheus.Counter
	ActiveAlerts     prometheus.Gauge
	PushFailures     *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewAlertMetrics creates a new instance of AlertMetrics registered with the
// given Prometheus registry.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register alert metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for AlertMetrics.
func (m *AlertMetrics) initMetrics() {
	m.Dispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_dispatched_total",
		Help: "Total number of immediate order alerts dispatched",
	})

	m.DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_dispatch_failures_total",
		Help: "Total number of failed alert delivery attempts by stage",
	}, []string{"stage"})

	m.Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_escalations_total",
		Help: "Total number of escalation follow-ups issued by urgency label",
	}, []string{"label"})

	m.Acknowledged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_acknowledged_total",
		Help: "Total number of alerts acknowledged by operators",
	})

	m.Dismissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_dismissed_total",
		Help: "Total number of alerts dismissed by operators",
	})

	m.Superseded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_superseded_total",
		Help: "Total number of alert sequences cancelled by a newer event for the same order",
	})

	m.RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_rate_limited_total",
		Help: "Total number of order events rejected by the rate limiter",
	})

	m.ActiveAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alert_active",
		Help: "Number of alerts currently pending acknowledgment",
	})

	m.PushFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_push_failures_total",
		Help: "Total number of exhausted push delivery attempts by provider",
	}, []string{"provider"})
}

// Describe implements the prometheus.Collector interface.
func (m *AlertMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Dispatched.Describe(ch)
	m.DispatchFailures.Describe(ch)
	m.Escalations.Describe(ch)
	m.Acknowledged.Describe(ch)
	m.Dismissed.Describe(ch)
	m.Superseded.Describe(ch)
	m.RateLimited.Describe(ch)
	m.ActiveAlerts.Describe(ch)
	m.PushFailures.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *AlertMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Dispatched.Collect(ch)
	m.DispatchFailures.Collect(ch)
	m.Escalations.Collect(ch)
	m.Acknowledged.Collect(ch)
	m.Dismissed.Collect(ch)
	m.Superseded.Collect(ch)
	m.RateLimited.Collect(ch)
	m.ActiveAlerts.Collect(ch)
	m.PushFailures.Collect(ch)
}

// IncDispatched counts a dispatched immediate alert.
func (m *AlertMetrics) IncDispatched() {
	if m == nil {
		return
	}
	m.Dispatched.Inc()
}

// IncDispatchFailure counts a failed delivery attempt for a stage
// ("initial" or "fallback").
func (m *AlertMetrics) IncDispatchFailure(stage string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(stage).Inc()
}

// IncEscalation counts an issued escalation follow-up.
func (m *AlertMetrics) IncEscalation(label string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(label).Inc()
}

// IncAcknowledged counts an operator acknowledgment.
func (m *AlertMetrics) IncAcknowledged() {
	if m == nil {
		return
	}
	m.Acknowledged.Inc()
}

// IncDismissed counts an operator dismissal.
func (m *AlertMetrics) IncDismissed() {
	if m == nil {
		return
	}
	m.Dismissed.Inc()
}

// IncSuperseded counts a supersession of an existing alert sequence.
func (m *AlertMetrics) IncSuperseded() {
	if m == nil {
		return
	}
	m.Superseded.Inc()
}

// IncRateLimited counts a rejected order event.
func (m *AlertMetrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// SetActiveAlerts records the number of pending alerts.
func (m *AlertMetrics) SetActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.ActiveAlerts.Set(float64(n))
}

// IncPushFailure counts an exhausted push delivery attempt.
func (m *AlertMetrics) IncPushFailure(provider string) {
	if m == nil {
		return
	}
	m.PushFailures.WithLabelValues(provider).Inc()
}
