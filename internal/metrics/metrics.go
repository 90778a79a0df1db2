// Package metrics собирает метрики prometheus signaldesk.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signaldesk"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	viewTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "transitions_total",
			Help:      "Page changes applied by coordinators",
		},
		[]string{"page"},
	)

	gateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Subscription gate decisions",
		},
		[]string{"kind"},
	)

	callbackOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callback",
			Name:      "outcomes_total",
			Help:      "Identity provider redirects by outcome",
		},
		[]string{"outcome"},
	)

	historyCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "corrections_total",
			Help:      "Back/forward navigations replaced by the gate-approved path",
		},
	)

	realtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Payment channel reconnect attempts",
		},
	)

	realtimeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "polling_fallbacks_total",
			Help:      "Payment watchers that gave up on the channel and kept polling",
		},
	)

	activeCoordinators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "active_count",
			Help:      "Client coordinators currently in memory",
		},
	)

	paymentsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reviewed_total",
			Help:      "Payments approved or rejected by admins",
		},
		[]string{"status"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack нужен для websocket-маршрутов.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware считает запросы и их длительность по шаблону маршрута chi.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		pattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// Handler отдаёт метрики в формате prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition фиксирует смену страницы.
func RecordTransition(page string) { viewTransitions.WithLabelValues(page).Inc() }

// RecordGateDecision фиксирует решение гейта.
func RecordGateDecision(kind string) { gateDecisions.WithLabelValues(kind).Inc() }

// RecordCallback фиксирует итог обработки редиректа.
func RecordCallback(outcome string) { callbackOutcomes.WithLabelValues(outcome).Inc() }

// RecordHistoryCorrection фиксирует подмену пути при навигации назад.
func RecordHistoryCorrection() { historyCorrections.Inc() }

// RecordReconnect фиксирует попытку переподключения канала платежа.
func RecordReconnect() { realtimeReconnects.Inc() }

// RecordPollingFallback фиксирует отказ от канала в пользу опроса.
func RecordPollingFallback() { realtimeFallbacks.Inc() }

// CoordinatorStarted и CoordinatorStopped ведут счётчик координаторов в памяти.
func CoordinatorStarted() { activeCoordinators.Inc() }

// CoordinatorStopped см. CoordinatorStarted.
func CoordinatorStopped() { activeCoordinators.Dec() }

// RecordPaymentReview фиксирует решение по платежу.
func RecordPaymentReview(status string) { paymentsReviewed.WithLabelValues(status).Inc() }
