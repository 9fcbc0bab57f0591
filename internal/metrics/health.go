package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks the process dependencies for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol           string
	GatewayConnected bool
	LastPushTime     time.Time
	LastTickTime     time.Time
	MarketOpen       bool

	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	now func() time.Time
}

// NewHealthStatus returns a status with every dependency down.
func NewHealthStatus(symbol string) *HealthStatus {
	return &HealthStatus{
		Symbol:    symbol,
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

func (h *HealthStatus) SetGatewayConnected(v bool) {
	h.mu.Lock()
	h.GatewayConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPushTime(t time.Time) {
	h.mu.Lock()
	h.LastPushTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

// SetRedis records whether the signal publisher is configured and reachable.
func (h *HealthStatus) SetRedis(enabled, connected bool) {
	h.mu.Lock()
	h.RedisEnabled = enabled
	h.RedisConnected = connected
	h.mu.Unlock()
}

// SetSQLite records whether the bar archive is configured and usable.
func (h *HealthStatus) SetSQLite(enabled, ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = enabled
	h.SQLiteOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the archive and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the optional dependencies every interval.
// Either argument may be nil.
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

type healthReport struct {
	Status           string  `json:"status"`
	Symbol           string  `json:"symbol"`
	Uptime           string  `json:"uptime"`
	GatewayConnected bool    `json:"gateway_connected"`
	MarketOpen       bool    `json:"market_open"`
	LastPushTime     string  `json:"last_push_time,omitempty"`
	LastTickTime     string  `json:"last_tick_time,omitempty"`
	RedisEnabled     bool    `json:"redis_enabled"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	SQLiteEnabled    bool    `json:"sqlite_enabled"`
	SQLiteOK         bool    `json:"sqlite_ok"`
	SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
	LastCheckAt      string  `json:"last_check_at,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ServeHTTP handles /healthz. A lost gateway connection is unhealthy; an
// enabled sink that is down is degraded.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if (h.RedisEnabled && !h.RedisConnected) || (h.SQLiteEnabled && !h.SQLiteOK) {
		status = "degraded"
	}
	if !h.GatewayConnected {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	report := healthReport{
		Status:           status,
		Symbol:           h.Symbol,
		Uptime:           h.now().Sub(h.StartedAt).Round(time.Second).String(),
		GatewayConnected: h.GatewayConnected,
		MarketOpen:       h.MarketOpen,
		LastPushTime:     formatTime(h.LastPushTime),
		LastTickTime:     formatTime(h.LastTickTime),
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteEnabled:    h.SQLiteEnabled,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      formatTime(h.LastCheckAt),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
