// Package runner owns the strategy process lifecycle: connect to the quote
// gateway, register the push handler, subscribe, evaluate once at cold
// start, then idle until the context is cancelled.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"masignal/internal/model"
)

// ErrSubscribe is returned when the initial subscription fails.
var ErrSubscribe = errors.New("runner: subscription failed")

// Gateway is the external connection the runner owns.
type Gateway interface {
	model.Subscriber
	model.PushSource
	Connect(ctx context.Context) error
	Close() error
}

// Strategy is the evaluation surface the runner drives.
type Strategy interface {
	Symbol() string
	Granularity() model.Granularity
	GenerateSignal(ctx context.Context) model.Signal
	Stop()
}

// Options tunes the runner.
type Options struct {
	// IdleInterval is the keep-alive tick; it never drives computation.
	IdleInterval time.Duration
	Logger       *slog.Logger
	// Status describes the market session for the idle log line.
	Status func(now time.Time) string
}

// Runner wires one strategy to one gateway connection.
type Runner struct {
	gw      Gateway
	strat   Strategy
	handler model.PushHandler
	idle    time.Duration
	status  func(time.Time) string
	log     *slog.Logger

	closeOnce sync.Once
	closeErr  error

	// OnSignal receives the cold-start result when it is a BUY or SELL.
	OnSignal func(sig model.Signal)
	// OnConnected is called with the gateway state after connect and close.
	OnConnected func(ok bool)
}

// New creates a runner. handler receives every push for the strategy's symbol.
func New(gw Gateway, strat Strategy, handler model.PushHandler, opts Options) *Runner {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		gw:      gw,
		strat:   strat,
		handler: handler,
		idle:    opts.IdleInterval,
		status:  opts.Status,
		log:     opts.Logger.With(slog.String("component", "runner"), slog.String("symbol", strat.Symbol())),
	}
}

// Subscriptions returns the feeds requested for the strategy: its bar
// granularity plus intraday ticks.
func (r *Runner) Subscriptions() []model.SubType {
	return []model.SubType{model.SubTypeFor(r.strat.Granularity()), model.SubRTData}
}

// Run blocks until ctx is cancelled. Connection and subscription failures are
// fatal: the gateway is closed and the error returned before any evaluation.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.gw.Connect(ctx); err != nil {
		r.close()
		return fmt.Errorf("runner: connect: %w", err)
	}
	r.connected(true)

	symbol := r.strat.Symbol()
	r.gw.SetPushHandler(symbol, r.handler)

	subs := r.Subscriptions()
	if err := r.gw.Subscribe(ctx, []string{symbol}, subs); err != nil {
		r.log.Error("subscribe failed, closing connection", slog.Any("error", err))
		r.close()
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	r.log.Info("subscribed", slog.Any("subtypes", subs))

	sig := r.strat.GenerateSignal(ctx)
	r.log.Info("cold start signal",
		slog.String("action", string(sig.Action)),
		slog.String("reason", sig.Reason),
		slog.Time("bar_ts", sig.BarTS),
		slog.String("trace_id", sig.TraceID))
	if sig.Actionable() && r.OnSignal != nil {
		r.OnSignal(sig)
	}

	ticker := time.NewTicker(r.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopping")
			r.strat.Stop()
			return r.close()
		case now := <-ticker.C:
			if r.status != nil {
				r.log.Debug("idle", slog.String("market", r.status(now)))
			}
		}
	}
}

// close releases the gateway exactly once.
func (r *Runner) close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.gw.Close()
		r.connected(false)
		if r.closeErr != nil {
			r.log.Warn("gateway close failed", slog.Any("error", r.closeErr))
		}
	})
	return r.closeErr
}

func (r *Runner) connected(ok bool) {
	if r.OnConnected != nil {
		r.OnConnected(ok)
	}
}
