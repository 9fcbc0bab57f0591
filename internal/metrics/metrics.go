// Package metrics exposes Prometheus metrics, the /healthz status and the
// /signal inspection endpoint of the strategy process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	Evaluations  *prometheus.CounterVec // labels: action
	SignalsTotal *prometheus.CounterVec // labels: action (BUY/SELL actually emitted)
	EvalDur      prometheus.Histogram

	CacheLookups    *prometheus.CounterVec // labels: result=hit|miss
	HistoryErrors   prometheus.Counter
	ConfirmFailures *prometheus.CounterVec // labels: kind=trend|capital_flow

	PushEvents        *prometheus.CounterVec // labels: lane, status
	TicksTotal        prometheus.Counter
	GatewayReconnects prometheus.Counter

	// Sinks
	FanoutDropsTotal         *prometheus.CounterVec // labels: subscriber
	RedisWrites              *prometheus.CounterVec // labels: result=ok|error|rejected
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	BarsArchived             prometheus.Counter
	SQLiteFlushErrors        prometheus.Counter
	NotifyFailures           prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_evaluations_total",
			Help: "Strategy evaluations by resulting action",
		}, []string{"action"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_signals_total",
			Help: "BUY/SELL signals emitted",
		}, []string{"action"}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "masignal_evaluation_duration_seconds",
			Help:    "Indicator + crossover + policy latency, including confirmation queries",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_cache_lookups_total",
			Help: "K-line cache lookups by result",
		}, []string{"result"}),
		HistoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_history_errors_total",
			Help: "Failed or empty history fetches",
		}),
		ConfirmFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_confirmation_failures_total",
			Help: "Market trend / capital flow queries that failed",
		}, []string{"kind"}),

		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_push_events_total",
			Help: "Push events by lane and outcome",
		}, []string{"lane", "status"}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_ticks_total",
			Help: "Intraday ticks accepted",
		}),
		GatewayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_gateway_reconnects_total",
			Help: "Push stream reconnection attempts",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_fanout_drops_total",
			Help: "Signals dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		RedisWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masignal_redis_writes_total",
			Help: "Signal writes to Redis by result",
		}, []string{"result"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masignal_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BarsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_bars_archived_total",
			Help: "Bars written to the SQLite archive",
		}),
		SQLiteFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_sqlite_flush_errors_total",
			Help: "Failed SQLite batch commits",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masignal_notify_failures_total",
			Help: "Signal alerts that could not be delivered",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masignal_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.Evaluations,
		m.SignalsTotal,
		m.EvalDur,
		m.CacheLookups,
		m.HistoryErrors,
		m.ConfirmFailures,
		m.PushEvents,
		m.TicksTotal,
		m.GatewayReconnects,
		m.FanoutDropsTotal,
		m.RedisWrites,
		m.RedisCircuitBreakerState,
		m.BarsArchived,
		m.SQLiteFlushErrors,
		m.NotifyFailures,
		m.MarketState,
	)

	return m
}

// CacheHook returns a klinecache lookup observer.
func (m *Metrics) CacheHook() func(hit bool) {
	return func(hit bool) {
		if hit {
			m.CacheLookups.WithLabelValues("hit").Inc()
		} else {
			m.CacheLookups.WithLabelValues("miss").Inc()
		}
	}
}
