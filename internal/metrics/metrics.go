package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics for the market data client
var (
	// Orderbook metrics
	OrderbookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_orderbook_updates_total",
			Help: "Total number of orderbook diff updates applied",
		},
		[]string{"symbol"},
	)

	OrderbookStaleDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_orderbook_stale_drops_total",
			Help: "Total number of depth diffs dropped by the generation gate",
		},
		[]string{"symbol"},
	)

	OrderbookResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_orderbook_resyncs_total",
			Help: "Total number of snapshot refetches after a diff gap",
		},
		[]string{"symbol"},
	)

	OrderbookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_orderbook_depth",
			Help: "Current orderbook depth (number of levels)",
		},
		[]string{"symbol", "side"},
	)

	OrderbookBestBid = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_orderbook_best_bid",
			Help: "Current best bid price",
		},
		[]string{"symbol"},
	)

	OrderbookBestAsk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_orderbook_best_ask",
			Help: "Current best ask price",
		},
		[]string{"symbol"},
	)

	// Stream metrics
	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_stream_messages_total",
			Help: "Total number of WebSocket messages by stream kind",
		},
		[]string{"symbol", "kind"},
	)

	SnapshotsPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "md_snapshots_pending",
			Help: "Outstanding startup snapshots per barrier",
		},
		[]string{"barrier"},
	)

	ConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "md_connection_status",
			Help: "WebSocket connection status (1=connected, 0=disconnected)",
		},
	)

	EngineRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "md_engine_restarts_total",
			Help: "Total number of supervisor-driven engine restarts",
		},
	)

	// REST metrics
	RestFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "md_rest_fetch_duration_seconds",
			Help:    "Time to fetch data from the exchange REST API",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	RestFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_rest_fetch_errors_total",
			Help: "Total number of REST API fetch errors",
		},
		[]string{"endpoint"},
	)

	// Trader metrics
	OrdersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_orders_submitted_total",
			Help: "Total number of order submissions by outcome",
		},
		[]string{"symbol", "outcome"},
	)

	OrdersDeferred = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "md_orders_deferred",
			Help: "Orders queued while awaiting readiness",
		},
	)

	// Redis metrics
	RedisPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "md_redis_publish_duration_seconds",
			Help:    "Time to publish message to Redis",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"channel"},
	)

	RedisPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_redis_publish_errors_total",
			Help: "Total number of Redis publish errors",
		},
		[]string{"channel"},
	)
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram
func (t *Timer) ObserveDuration(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// RecordOrderbookUpdate records metrics for an applied depth diff
func RecordOrderbookUpdate(symbol string, bidDepth, askDepth int, bestBid, bestAsk float64) {
	OrderbookUpdates.WithLabelValues(symbol).Inc()
	OrderbookDepth.WithLabelValues(symbol, "bid").Set(float64(bidDepth))
	OrderbookDepth.WithLabelValues(symbol, "ask").Set(float64(askDepth))

	if bestBid > 0 {
		OrderbookBestBid.WithLabelValues(symbol).Set(bestBid)
	}
	if bestAsk > 0 {
		OrderbookBestAsk.WithLabelValues(symbol).Set(bestAsk)
	}
}

// RecordConnectionStatus records WebSocket connection status
func RecordConnectionStatus(connected bool) {
	status := 0.0
	if connected {
		status = 1.0
	}
	ConnectionStatus.Set(status)
}

// Server starts the Prometheus metrics HTTP server
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics server
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

// Stop stops the metrics server gracefully
func (s *Server) Stop() error {
	return s.server.Close()
}
