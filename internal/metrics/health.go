package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	SQLiteOK       bool
	SQLiteEnabled  bool
	FeedEnabled    bool
	FeedConnected  bool
	LastBarTime    time.Time
	Instruments    int
	halted         map[string]bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// SetSQLite records whether SQLite is configured and currently usable.
func (h *HealthStatus) SetSQLite(enabled, ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = enabled
	h.SQLiteOK = ok
	h.mu.Unlock()
}

// SetFeed records whether the WebSocket feed is configured and connected.
func (h *HealthStatus) SetFeed(enabled, connected bool) {
	h.mu.Lock()
	h.FeedEnabled = enabled
	h.FeedConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// SetHalted marks or clears a symbol whose engine stopped on an exhausted
// correction.
func (h *HealthStatus) SetHalted(symbol string, halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !halted {
		delete(h.halted, symbol)
		return
	}
	if h.halted == nil {
		h.halted = make(map[string]bool)
	}
	h.halted[symbol] = true
}

// HaltedSymbols returns the halted symbols, sorted.
func (h *HealthStatus) HaltedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.haltedLocked()
}

func (h *HealthStatus) haltedLocked() []string {
	out := make([]string, 0, len(h.halted))
	for s := range h.halted {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.Instruments = n
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

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
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
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// healthReport is the /healthz body.
type healthReport struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	RedisConnected  bool     `json:"redis_connected"`
	RedisLatencyMs  float64  `json:"redis_latency_ms"`
	SQLiteEnabled   bool     `json:"sqlite_enabled"`
	SQLiteOK        bool     `json:"sqlite_ok"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
	FeedEnabled     bool     `json:"feed_enabled"`
	FeedConnected   bool     `json:"feed_connected"`
	LastBarTime     string   `json:"last_bar_time,omitempty"`
	BarAge          string   `json:"bar_age,omitempty"`
	Instruments     int      `json:"instruments"`
	Halted          []string `json:"halted,omitempty"`
	LastCheckAt     string   `json:"last_check_at,omitempty"`
}

// report computes overall status: Redis down is unhealthy, an enabled
// dependency down or a halted symbol is degraded.
func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if (h.SQLiteEnabled && !h.SQLiteOK) || (h.FeedEnabled && !h.FeedConnected) || len(h.halted) > 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if !h.RedisConnected {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	r := healthReport{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		FeedEnabled:     h.FeedEnabled,
		FeedConnected:   h.FeedConnected,
		Instruments:     h.Instruments,
	}
	if len(h.halted) > 0 {
		r.Halted = h.haltedLocked()
	}
	if !h.LastBarTime.IsZero() {
		r.LastBarTime = h.LastBarTime.Format(time.RFC3339)
		r.BarAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer nil means the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: Handler(health, gatherer)},
	}
}

// Handler returns the mux serving /metrics and /healthz, for mounting on
// another server.
func Handler(health *HealthStatus, gatherer prometheus.Gatherer) *http.ServeMux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return mux
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
