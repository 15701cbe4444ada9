package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	workOrders      *prometheus.CounterVec
	stockConflicts  prometheus.Counter
	compensations   *prometheus.CounterVec
}

var _ orders.Recorder = (*Metrics)(nil)

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik alur work order.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workshop_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	workOrders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_work_orders_total",
		Help: "Work order submissions by variant and outcome.",
	}, []string{"variant", "outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workshop_stock_conflicts_total",
		Help: "Conditional stock decrements that lost a race.",
	})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_compensations_total",
		Help: "Compensation runs by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, workOrders, conflicts, compensations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		workOrders:      workOrders,
		stockConflicts:  conflicts,
		compensations:   compensations,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// WorkOrderOutcome mencatat hasil satu pengajuan work order.
func (m *Metrics) WorkOrderOutcome(variant, outcome string) {
	if m == nil {
		return
	}
	m.workOrders.WithLabelValues(variant, outcome).Inc()
}

// StockConflict mencatat decrement stok yang gagal karena perubahan bersamaan.
func (m *Metrics) StockConflict() {
	if m == nil {
		return
	}
	m.stockConflicts.Inc()
}

// CompensationOutcome mencatat hasil kompensasi saga.
func (m *Metrics) CompensationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
