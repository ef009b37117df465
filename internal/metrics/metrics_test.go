package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBid("place", "ok")
	m.ObserveClose("sold")
	m.ObserveConflict()
	m.Time("close")()
	assert.Nil(t, m.Registry())

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestCounters(t *testing.T) {
	m := New(func() int { return 3 })

	m.ObserveBid("place", "ok")
	m.ObserveBid("place", "ok")
	m.ObserveBid("place", "bid_too_low")
	m.ObserveClose("reserve_not_met")
	m.ObserveConflict()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bidsTotal.WithLabelValues("place", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bidsTotal.WithLabelValues("place", "bid_too_low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.closesTotal.WithLabelValues("reserve_not_met")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.wsClients))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(nil)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/auctions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auctions/42", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/auctions/{id}", "404")))

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "auctionhouse_http_requests_total"))
}
