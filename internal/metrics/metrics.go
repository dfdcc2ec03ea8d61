// Package metrics exposes Prometheus collectors for the gateway, offline queue,
// realtime hub and notification engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wealthflow"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of gateway network attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method"},
	)

	gatewayRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Retries issued after transient failures.",
		},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "length",
			Help:      "Mutations waiting in the offline queue.",
		},
	)

	queueOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "items_total",
			Help:      "Offline queue item outcomes (enqueued, resolved, requeued, rejected).",
		},
		[]string{"result"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Authenticated websocket connections held by the hub.",
		},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime envelopes by type and direction.",
		},
		[]string{"type", "direction"},
	)

	notificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "created_total",
			Help:      "Notifications created by type.",
		},
		[]string{"type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		gatewayRequests,
		gatewayDuration,
		gatewayRetries,
		queueLength,
		queueOutcomes,
		realtimeConnections,
		realtimeEvents,
		notificationsCreated,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordGatewayRequest(method, outcome string, duration time.Duration) {
	gatewayRequests.WithLabelValues(strings.ToUpper(method), outcome).Inc()
	if duration > 0 {
		gatewayDuration.WithLabelValues(strings.ToUpper(method)).Observe(duration.Seconds())
	}
}

func RecordGatewayRetry() {
	gatewayRetries.Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func RecordQueueOutcome(result string) {
	queueOutcomes.WithLabelValues(result).Inc()
}

func AddRealtimeConnections(delta int) {
	realtimeConnections.Add(float64(delta))
}

func RecordRealtimeEvent(eventType, direction string) {
	if eventType == "" {
		eventType = "unknown"
	}
	realtimeEvents.WithLabelValues(eventType, direction).Inc()
}

func RecordNotification(notificationType string) {
	notificationsCreated.WithLabelValues(notificationType).Inc()
}

// InstrumentHandler records request counts and durations for every path except /metrics
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		method := strings.ToUpper(r.Method)
		path := canonicalPath(r.URL.Path)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "api" {
		return "/api/" + parts[1]
	}
	return "/" + parts[0]
}
