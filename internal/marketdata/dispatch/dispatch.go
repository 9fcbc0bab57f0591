// Package dispatch routes asynchronous push events from the quote gateway
// into the strategy. Bar pushes update the working window and re-evaluate;
// tick pushes are validated and counted only.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"masignal/internal/model"
)

var (
	// ErrPushTransport wraps a failure status reported by the push source.
	ErrPushTransport = errors.New("dispatch: push reported transport failure")
	// ErrUnexpectedSymbol is returned for pushes addressed to another symbol.
	ErrUnexpectedSymbol = errors.New("dispatch: push for unexpected symbol")
)

// Push lanes and outcomes reported through OnPush.
const (
	LaneBar  = "bar"
	LaneTick = "tick"

	StatusOK      = "ok"
	StatusError   = "error"
	StatusIgnored = "ignored"
	StatusDropped = "dropped"
)

// Evaluator is the strategy surface the dispatcher drives.
type Evaluator interface {
	Symbol() string
	Granularity() model.Granularity
	ApplyBars(ctx context.Context, bars []model.Bar) (model.Signal, error)
}

// Dispatcher implements model.PushHandler for a single strategy.
type Dispatcher struct {
	eval Evaluator
	log  *slog.Logger

	ticks    atomic.Int64
	tickMu   sync.Mutex
	lastTick model.Tick
	hasTick  bool

	// OnSignal receives every BUY/SELL produced by a bar push.
	OnSignal func(sig model.Signal)
	// OnBars receives each batch after it was applied to the window.
	OnBars func(g model.Granularity, bars []model.Bar)
	// OnPush is called once per event with its lane and outcome.
	OnPush func(lane, status string)
}

var _ model.PushHandler = (*Dispatcher)(nil)

// New creates a dispatcher for eval.
func New(eval Evaluator, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		eval: eval,
		log:  log.With(slog.String("component", "dispatch"), slog.String("symbol", eval.Symbol())),
	}
}

// OnBarPush applies a bar batch. A batch carrying a failure status leaves the
// window untouched and returns ErrPushTransport.
func (d *Dispatcher) OnBarPush(ctx context.Context, p model.BarPush) error {
	if p.Err != nil {
		d.log.Warn("bar push failed", slog.Any("error", p.Err))
		d.observe(LaneBar, StatusError)
		return fmt.Errorf("%w: %v", ErrPushTransport, p.Err)
	}
	if p.Symbol != "" && p.Symbol != d.eval.Symbol() {
		d.observe(LaneBar, StatusIgnored)
		return fmt.Errorf("%w: %s", ErrUnexpectedSymbol, p.Symbol)
	}
	if p.Granularity != "" && p.Granularity != d.eval.Granularity() {
		d.log.Debug("ignoring bar push for other granularity", slog.String("ktype", string(p.Granularity)))
		d.observe(LaneBar, StatusIgnored)
		return nil
	}

	bars := make([]model.Bar, 0, len(p.Bars))
	for _, b := range p.Bars {
		if b.Symbol == "" {
			b.Symbol = d.eval.Symbol()
		}
		if b.Symbol != d.eval.Symbol() || b.TS.IsZero() {
			continue
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		d.observe(LaneBar, StatusIgnored)
		return nil
	}

	sig, err := d.eval.ApplyBars(ctx, bars)
	if err != nil {
		d.log.Warn("bar push dropped", slog.Int("bars", len(bars)), slog.Any("error", err))
		d.observe(LaneBar, StatusDropped)
		return err
	}
	d.observe(LaneBar, StatusOK)

	if d.OnBars != nil {
		d.OnBars(d.eval.Granularity(), bars)
	}
	if sig.Actionable() {
		d.log.Info("signal",
			slog.String("action", string(sig.Action)),
			slog.String("reason", sig.Reason),
			slog.Time("bar_ts", sig.BarTS),
			slog.Float64("close", sig.Close),
			slog.String("trace_id", sig.TraceID))
		if d.OnSignal != nil {
			d.OnSignal(sig)
		}
	}
	return nil
}

// OnTickPush validates a tick batch. Accepted ticks are counted but never
// trigger recomputation.
func (d *Dispatcher) OnTickPush(_ context.Context, p model.TickPush) error {
	if p.Err != nil {
		d.log.Warn("tick push failed", slog.Any("error", p.Err))
		d.observe(LaneTick, StatusError)
		return fmt.Errorf("%w: %v", ErrPushTransport, p.Err)
	}
	if p.Symbol != "" && p.Symbol != d.eval.Symbol() {
		d.observe(LaneTick, StatusIgnored)
		return fmt.Errorf("%w: %s", ErrUnexpectedSymbol, p.Symbol)
	}

	d.ticks.Add(int64(len(p.Ticks)))
	if n := len(p.Ticks); n > 0 {
		d.tickMu.Lock()
		d.lastTick = p.Ticks[n-1]
		d.hasTick = true
		d.tickMu.Unlock()
	}
	d.observe(LaneTick, StatusOK)
	return nil
}

// TickCount returns the number of accepted ticks.
func (d *Dispatcher) TickCount() int64 {
	return d.ticks.Load()
}

// LastTick returns the most recent accepted tick.
func (d *Dispatcher) LastTick() (model.Tick, bool) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()
	return d.lastTick, d.hasTick
}

func (d *Dispatcher) observe(lane, status string) {
	if d.OnPush != nil {
		d.OnPush(lane, status)
	}
}
