package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/health":               "/health",
		"/ws":                   "/ws",
		"/api/push":             "/api/push",
		"/api/accounts/123/xyz": "/api/accounts",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/accounts/9", nil))

	RecordGatewayRequest("get", "success", 20*time.Millisecond)
	RecordGatewayRetry()
	SetQueueLength(2)
	RecordQueueOutcome("resolved")
	AddRealtimeConnections(1)
	RecordRealtimeEvent("", "inbound")
	RecordNotification("system")

	families, err := Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"wealthflow_http_requests_total",
		"wealthflow_gateway_requests_total",
		"wealthflow_gateway_retries_total",
		"wealthflow_offline_queue_length",
		"wealthflow_realtime_events_total",
		"wealthflow_notify_created_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `wealthflow_http_requests_total{method="GET",path="/api/accounts",status="418"}`), body)
	assert.Contains(t, body, `wealthflow_realtime_events_total{direction="inbound",type="unknown"}`)
}
