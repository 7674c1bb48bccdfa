// Package metrics exposes Prometheus instrumentation and the health
// endpoint for the stock analysis service.
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

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Indicator updater
	RefreshDur         prometheus.Histogram
	BarsUpdatedTotal   prometheus.Counter
	StocksRefreshed    prometheus.Counter
	RefreshErrorsTotal prometheus.Counter

	// Permission mutations and polling
	MutationsTotal   *prometheus.CounterVec // labels: action
	MutationErrors   prometheus.Counter
	PollsTotal       prometheus.Counter
	PollsWithChanges prometheus.Counter

	// Cache health
	CacheErrorsTotal prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockanalysis_indicator_refresh_duration_seconds",
			Help:    "Full indicator recompute latency per stock",
			Buckets: prometheus.DefBuckets,
		}),
		BarsUpdatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_indicator_bars_updated_total",
			Help: "Price bars whose indicator columns were rewritten",
		}),
		StocksRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_indicator_stocks_refreshed_total",
			Help: "Stocks processed by the indicator updater",
		}),
		RefreshErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_indicator_refresh_errors_total",
			Help: "Indicator refreshes aborted by a storage error",
		}),

		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockanalysis_permission_mutations_total",
			Help: "Role permission mutations applied (by action)",
		}, []string{"action"}),
		MutationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_permission_mutation_errors_total",
			Help: "Role permission mutations that failed",
		}),
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_permission_polls_total",
			Help: "Permission change polls served",
		}),
		PollsWithChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_permission_polls_with_changes_total",
			Help: "Polls that reported a permission change",
		}),

		CacheErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockanalysis_cache_errors_total",
			Help: "Cache operations that failed and were degraded to a miss",
		}),
	}

	prometheus.MustRegister(
		m.RefreshDur,
		m.BarsUpdatedTotal,
		m.StocksRefreshed,
		m.RefreshErrorsTotal,
		m.MutationsTotal,
		m.MutationErrors,
		m.PollsTotal,
		m.PollsWithChanges,
		m.CacheErrorsTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	DBOK           bool      `json:"db_ok"`
	RedisConnected bool      `json:"redis_connected"`
	LastRefreshAt  time.Time `json:"last_refresh_at"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	DBLatencyMs    float64   `json:"db_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		DBOK:      true,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetDBOK(v bool) {
	h.mu.Lock()
	h.DBOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRefreshAt(t time.Time) {
	h.mu.Lock()
	h.LastRefreshAt = t
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

// CheckDB runs a ping against the relational store and records latency.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client
// may be nil when that backend is not configured.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckDB(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.DBOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.RedisConnected {
		// Cache loss degrades change propagation but the service works.
		overallStatus = "degraded"
	}

	lastRefresh := ""
	if !h.LastRefreshAt.IsZero() {
		lastRefresh = h.LastRefreshAt.Format(time.RFC3339)
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		DBOK           bool    `json:"db_ok"`
		DBLatencyMs    float64 `json:"db_latency_ms"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		LastRefreshAt  string  `json:"last_refresh_at,omitempty"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		DBOK:           h.DBOK,
		DBLatencyMs:    h.DBLatencyMs,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		LastRefreshAt:  lastRefresh,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
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

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

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
