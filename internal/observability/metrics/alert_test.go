package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertMetricsRegisterAndCount(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewAlertMetrics(registry)
	require.NoError(t, err)

	m.IncDispatched()
	m.IncDispatchFailure("initial")
	m.IncEscalation("High")
	m.IncEscalation("High")
	m.IncAcknowledged()
	m.SetActiveAlerts(3)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Dispatched), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.DispatchFailures.WithLabelValues("initial")), 0.001)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.Escalations.WithLabelValues("High")), 0.001)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.ActiveAlerts), 0.001)
}

func TestAlertMetricsDoubleRegisterFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewAlertMetrics(registry)
	require.NoError(t, err)

	_, err = NewAlertMetrics(registry)
	assert.Error(t, err)
}

func TestAlertMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *AlertMetrics
	assert.NotPanics(t, func() {
		m.IncDispatched()
		m.IncDispatchFailure("initial")
		m.IncEscalation("High")
		m.IncAcknowledged()
		m.IncDismissed()
		m.IncSuperseded()
		m.IncRateLimited()
		m.SetActiveAlerts(1)
		m.IncPushFailure("webhook")
	})
}
