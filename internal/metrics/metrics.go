// Package metrics exposes Prometheus instruments for the auction service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auctionhouse"

type Metrics struct {
	registry *prometheus.Registry

	bidsTotal    *prometheus.CounterVec
	closesTotal  *prometheus.CounterVec
	txRetries    prometheus.Counter
	opDuration   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	wsClients    prometheus.GaugeFunc
}

// New registers all instruments on a fresh registry. clients, if set,
// reports the number of connected websocket clients.
func New(clients func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		bidsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bids_total",
			Help:      "Bid operations by kind and result",
		}, []string{"op", "result"}),
		closesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "auction_closes_total",
			Help:      "Auction closes by outcome",
		}, []string{"outcome"}),
		txRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "concurrent_modifications_total",
			Help:      "Operations rejected after exhausting transaction retries",
		}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if clients != nil {
		m.wsClients = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket clients",
		}, func() float64 { return float64(clients()) })
	}
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveBid counts a bid operation (place, update, cancel, expire)
func (m *Metrics) ObserveBid(op, result string) {
	if m == nil {
		return
	}
	m.bidsTotal.WithLabelValues(op, result).Inc()
}

// ObserveClose counts an auction close by outcome
func (m *Metrics) ObserveClose(outcome string) {
	if m == nil {
		return
	}
	m.closesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// Time returns a func that records the elapsed time of op when called
func (m *Metrics) Time(op string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Middleware records request counts and latency by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
