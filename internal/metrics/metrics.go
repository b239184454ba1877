// Package metrics exposes Prometheus metrics and the /healthz endpoint of
// the trading engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one engine instance.
type Metrics struct {
	CandlesTotal    prometheus.Counter
	SkippedCycles   *prometheus.CounterVec // labels: cause
	PipelineDur     prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec // labels: direction
	EntriesTotal    *prometheus.CounterVec // labels: side
	RejectionsTotal *prometheus.CounterVec // labels: reason
	ClosesTotal     *prometheus.CounterVec // labels: reason

	Balance    prometheus.Gauge
	Equity     prometheus.Gauge
	InPosition prometheus.Gauge

	SessionsTotal  prometheus.Counter
	SessionActive  prometheus.Gauge
	StreamRestarts prometheus.Counter

	PublishErrors            *prometheus.CounterVec // labels: kind
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_candles_total",
			Help: "Closed candles received from the stream",
		}),
		SkippedCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_skipped_cycles_total",
			Help: "Candle events that produced no decision (data_unavailable, transport, indicator)",
		}, []string{"cause"}),
		PipelineDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "papertrader_pipeline_duration_seconds",
			Help:    "Fetch, compute and decide latency per closed candle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_signals_total",
			Help: "Signals generated by direction",
		}, []string{"direction"}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_entries_total",
			Help: "Positions opened by side",
		}, []string{"side"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_entry_rejections_total",
			Help: "Entries refused by a risk gate",
		}, []string{"reason"}),
		ClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_closes_total",
			Help: "Positions closed by reason",
		}, []string{"reason"}),

		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_balance",
			Help: "Account cash balance in quote units",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_equity",
			Help: "Balance plus reserved margin plus unrealized PnL",
		}),
		InPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_in_position",
			Help: "1 while a position is open",
		}),

		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_sessions_total",
			Help: "Trading sessions started",
		}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_session_active",
			Help: "1 while a session is running",
		}),
		StreamRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_stream_restarts_total",
			Help: "Kline stream subscriptions restarted after dying",
		}),

		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "papertrader_publish_errors_total",
			Help: "Failed control-channel writes by record kind",
		}, []string{"kind"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "papertrader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "papertrader_redis_buffered_writes_total",
			Help: "Records kept locally while Redis writes were failing",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.SkippedCycles,
		m.PipelineDur,
		m.SignalsTotal,
		m.EntriesTotal,
		m.RejectionsTotal,
		m.ClosesTotal,
		m.Balance,
		m.Equity,
		m.InPosition,
		m.SessionsTotal,
		m.SessionActive,
		m.StreamRestarts,
		m.PublishErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// HealthStatus represents the engine health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastCandleTime  time.Time `json:"last_candle_time"`
	SessionActive   bool      `json:"session_active"`
	RedisConnected  bool      `json:"redis_connected"`
	JournalOK       bool      `json:"journal_ok"`
	JournalEnabled  bool      `json:"journal_enabled"`

	// Liveness check results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessionActive(v bool) {
	h.mu.Lock()
	h.SessionActive = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the trade journal database.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalEnabled = true
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. sqlDB may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckJournal(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The stream only counts while a
// session is running; an idle engine waiting for START is healthy.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	streamDown := h.SessionActive && !h.StreamConnected
	journalDown := h.JournalEnabled && !h.JournalOK
	if streamDown || journalDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Second).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		SessionActive    bool    `json:"session_active"`
		StreamConnected  bool    `json:"stream_connected"`
		LastCandleTime   string  `json:"last_candle_time"`
		CandleAge        string  `json:"candle_age"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		SessionActive:    h.SessionActive,
		StreamConnected:  h.StreamConnected,
		LastCandleTime:   h.LastCandleTime.Format(time.RFC3339),
		CandleAge:        candleAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default Prometheus registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
