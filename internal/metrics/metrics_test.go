package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Transition("pending", "accepted")
	m.Transition("pending", "accepted")
	m.Verification("rejected", "client_mismatch")
	m.Delivered(3)
	m.Delivered(0)
	m.Dropped(1)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Webhook("sent")
	m.SLAEscalation("critical")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("rejected", "client_mismatch")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.busDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slaEscalations.WithLabelValues("critical")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Transition("pending", "accepted")
		m.Verification("accepted", "")
		m.Delivered(1)
		m.Dropped(1)
		m.SessionOpened()
		m.SessionClosed()
		m.Webhook("failed")
		m.SLAEscalation("attention")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Transition("arrived", "verified")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dispatch_assignment_transitions_total{from="arrived",to="verified"} 1`)
}
