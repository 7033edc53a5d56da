// Package metrics provides Prometheus instrumentation for the simulation engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecosim/perps-engine/internal/model"
)

var (
	// TicksTotal counts completed simulation ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecosim_ticks_total",
		Help: "Total number of simulation ticks",
	})

	// TickLatency tracks how long one tick transition takes.
	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecosim_tick_latency_seconds",
		Help:    "Tick transition latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	// PositionsOpened counts opened positions by symbol and direction.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecosim_positions_opened_total",
		Help: "Total positions opened",
	}, []string{"symbol", "direction"})

	// PositionsClosed counts positions closed by the player.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecosim_positions_closed_total",
		Help: "Total positions closed by the player",
	}, []string{"symbol", "direction"})

	// Liquidations counts forced closes.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecosim_liquidations_total",
		Help: "Total positions liquidated",
	}, []string{"symbol"})

	// OpenRejections counts open requests rejected by validation.
	OpenRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecosim_open_rejections_total",
		Help: "Open-position requests rejected by validation",
	})

	// QuestCompletions counts quest completions by quest id.
	QuestCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecosim_quest_completions_total",
		Help: "Total quests completed",
	}, []string{"quest"})

	// Balance is the current cash balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecosim_balance",
		Help: "Current simulated cash balance",
	})

	// EcoTokens is the accumulated ECO token count.
	EcoTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecosim_eco_tokens",
		Help: "Accumulated ECO tokens",
	})

	// SustainabilityScore is the latest 0..100 score.
	SustainabilityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecosim_sustainability_score",
		Help: "Current sustainability score",
	})

	// OpenPositions is the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecosim_open_positions",
		Help: "Number of currently open positions",
	})

	// AssetPrice is the latest simulated price per asset.
	AssetPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ecosim_asset_price",
		Help: "Latest simulated asset price",
	}, []string{"symbol"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecosim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JournalWriteFailures counts journal entries that could not be stored.
	JournalWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecosim_journal_write_failures_total",
		Help: "Journal entries dropped because the store rejected them",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecosim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecosim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveState sets the state gauges from a snapshot.
func ObserveState(s *model.GameState) {
	if s == nil {
		return
	}
	Balance.Set(s.Balance.InexactFloat64())
	EcoTokens.Set(float64(s.EcoTokens))
	SustainabilityScore.Set(float64(s.SustainabilityScore))
	OpenPositions.Set(float64(len(s.Positions)))
	for sym, px := range s.Prices {
		AssetPrice.WithLabelValues(string(sym)).Set(px.InexactFloat64())
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not the raw path, keeps position IDs out of labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
