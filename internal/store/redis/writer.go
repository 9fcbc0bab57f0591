// Package redis publishes emitted signals to Redis: an append-only stream per
// symbol, a latest-signal key and a pub/sub channel for live consumers.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"masignal/internal/model"
)

const (
	signalStreamMaxLen = 5000
	defaultLatestTTL   = 24 * time.Hour
)

// WriterConfig configures the signal writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // default 24h
	MaxFailures  int           // breaker threshold, default 5
	ResetTimeout time.Duration // breaker open period, default 10s
}

func (c *WriterConfig) defaults() {
	if c.LatestTTL == 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

// SignalWriter writes BUY/SELL signals to Redis.
type SignalWriter struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	ttl     time.Duration
	log     *slog.Logger

	// OnWrite is called with the outcome of every write: "ok", "error" or "rejected".
	OnWrite func(result string)
}

// New connects to Redis and pings the server.
func New(cfg WriterConfig, log *slog.Logger) (*SignalWriter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := NewWithClient(client, cfg, log)
	w.log.Info("connected", slog.String("addr", cfg.Addr))
	return w, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg WriterConfig, log *slog.Logger) *SignalWriter {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	w := &SignalWriter{
		client:  client,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		ttl:     cfg.LatestTTL,
		log:     log.With(slog.String("component", "redis")),
	}
	w.breaker.OnStateChange = func(from, to State) {
		w.log.Warn("circuit breaker transition", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	return w
}

// Client returns the underlying client for health checks.
func (w *SignalWriter) Client() *goredis.Client { return w.client }

// Breaker returns the writer's circuit breaker.
func (w *SignalWriter) Breaker() *CircuitBreaker { return w.breaker }

// WriteSignal appends sig to "signal:{symbol}", sets "signal:latest:{symbol}"
// and publishes on "pub:signal:{symbol}" in one pipeline. NONE is ignored.
func (w *SignalWriter) WriteSignal(ctx context.Context, sig model.Signal) error {
	if !sig.Actionable() {
		return nil
	}
	data := string(sig.JSON())

	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: sig.StreamKey(),
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, sig.LatestKey(), data, w.ttl)
		pipe.Publish(ctx, sig.PubSubChannel(), data)
		_, err := pipe.Exec(ctx)
		return err
	})

	switch {
	case err == nil:
		w.result("ok")
		return nil
	case err == ErrCircuitOpen:
		w.result("rejected")
		return err
	default:
		w.result("error")
		return fmt.Errorf("redis signal pipeline: %w", err)
	}
}

// Run writes signals from ch until ctx is cancelled or ch is closed.
func (w *SignalWriter) Run(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if err := w.WriteSignal(ctx, sig); err != nil && err != ErrCircuitOpen {
				w.log.Warn("signal write failed",
					slog.String("symbol", sig.Symbol),
					slog.String("action", string(sig.Action)),
					slog.Any("error", err))
			}
		}
	}
}

// Close closes the client.
func (w *SignalWriter) Close() error {
	return w.client.Close()
}

func (w *SignalWriter) result(r string) {
	if w.OnWrite != nil {
		w.OnWrite(r)
	}
}
