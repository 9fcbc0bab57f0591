// Package strategy implements the dual moving-average crossover strategy:
// crossover detection, the multi-factor signal policy and the stateful
// MAStrategy that owns the working bar window and the last signal.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"masignal/internal/indicator"
	"masignal/internal/klinecache"
	"masignal/internal/logger"
	"masignal/internal/model"
)

var (
	// ErrNoHistory is returned when no bar window could be loaded.
	ErrNoHistory = errors.New("strategy: bar history unavailable")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("strategy: stopped")
)

// Options wires the strategy's collaborators.
type Options struct {
	Cache     *klinecache.Cache
	History   model.HistoryFetcher
	Confirmer Confirmer
	Logger    *slog.Logger
	Now       func() time.Time

	// MaxBars caps the working window; 0 keeps every bar.
	MaxBars int
}

type emitKey struct {
	action model.Action
	barTS  int64
}

// MAStrategy evaluates one symbol. All window mutation, cache writes and
// evaluation run under a single mutex, so the bar-push sequence
// (upsert → cache set → evaluate) is atomic to every other caller.
type MAStrategy struct {
	symbol      string
	granularity model.Granularity
	cfg         Config
	policy      Policy

	cache   *klinecache.Cache
	history model.HistoryFetcher
	confirm Confirmer
	log     *slog.Logger
	now     func() time.Time
	maxBars int

	mu      sync.Mutex
	window  *model.BarWindow
	last    model.Signal
	hasLast bool
	emitted emitKey
	stopped bool

	// Optional hooks
	OnEvaluate      func(sig model.Signal, took time.Duration)
	OnHistoryError  func(err error)
	OnHistoryLoaded func(g model.Granularity, bars []model.Bar)
}

// New creates a strategy for symbol at granularity g.
func New(symbol string, g model.Granularity, cfg Config, opts Options) (*MAStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy config: %w", err)
	}
	if opts.History == nil {
		return nil, errors.New("strategy: history fetcher is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = klinecache.New(klinecache.ClockFunc(opts.Now), nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MAStrategy{
		symbol:      symbol,
		granularity: g,
		cfg:         cfg,
		policy:      NewPolicy(cfg),
		cache:       opts.Cache,
		history:     opts.History,
		confirm:     opts.Confirmer,
		log:         opts.Logger.With(slog.String("symbol", symbol), slog.String("ktype", string(g))),
		now:         opts.Now,
		maxBars:     opts.MaxBars,
	}, nil
}

// Symbol returns the traded symbol.
func (s *MAStrategy) Symbol() string { return s.symbol }

// Granularity returns the bar granularity.
func (s *MAStrategy) Granularity() model.Granularity { return s.granularity }

// Config returns the strategy parameters.
func (s *MAStrategy) Config() Config { return s.cfg }

// GenerateSignal loads the window from the cache (fetching history on a miss)
// and evaluates it. Failures are absorbed into a NONE signal.
func (s *MAStrategy) GenerateSignal(ctx context.Context) model.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = s.trace(ctx)
	if s.stopped {
		return s.noneLocked(ctx, "strategy stopped")
	}
	if err := s.loadLocked(ctx); err != nil {
		s.log.Warn("no signal: history unavailable", append([]any{slog.Any("error", err)}, logger.LogWithTrace(ctx)...)...)
		return s.noneLocked(ctx, "history unavailable")
	}
	return s.evaluateLocked(ctx)
}

// ApplyBars merges pushed bars into the window, writes the window back to the
// cache and re-evaluates. When no window is loaded yet, history is loaded
// first; if that fails the push is dropped and ErrNoHistory returned.
func (s *MAStrategy) ApplyBars(ctx context.Context, bars []model.Bar) (model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = s.trace(ctx)
	if s.stopped {
		return s.noneLocked(ctx, "strategy stopped"), ErrStopped
	}
	if s.window == nil {
		if err := s.loadLocked(ctx); err != nil {
			return s.noneLocked(ctx, "history unavailable"), err
		}
	}

	added, replaced := s.window.Merge(bars)
	trimmed := s.window.Trim(s.maxBars)
	s.cache.Set(s.symbol, s.granularity, s.cfg.HistoryCount(), s.window)

	s.log.Debug("bars applied",
		append([]any{
			slog.Int("added", added),
			slog.Int("replaced", replaced),
			slog.Int("trimmed", trimmed),
			slog.Int("window", s.window.Len()),
		}, logger.LogWithTrace(ctx)...)...)

	return s.evaluateLocked(ctx), nil
}

// LastSignal returns the most recent BUY/SELL. NONE results never overwrite it.
func (s *MAStrategy) LastSignal() (model.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Window returns a copy of the working window (nil before the first load).
func (s *MAStrategy) Window() *model.BarWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		return nil
	}
	return s.window.Clone()
}

// Stop waits for any in-flight evaluation to finish and refuses further work.
func (s *MAStrategy) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *MAStrategy) trace(ctx context.Context) context.Context {
	if logger.TraceID(ctx) != "" {
		return ctx
	}
	return logger.WithTraceID(ctx, logger.GenerateTraceID(s.symbol, s.now()))
}

// loadLocked reads the window from the cache, or fetches and caches history.
func (s *MAStrategy) loadLocked(ctx context.Context) error {
	count := s.cfg.HistoryCount()
	if w, hit := s.cache.Get(s.symbol, s.granularity, count); hit {
		s.window = w
		return nil
	}

	s.log.Info("cache miss, fetching history", append([]any{slog.Int("max_count", count)}, logger.LogWithTrace(ctx)...)...)
	bars, err := s.history.FetchHistory(ctx, s.symbol, s.granularity, count)
	if err != nil {
		if s.OnHistoryError != nil {
			s.OnHistoryError(err)
		}
		return fmt.Errorf("%w: %v", ErrNoHistory, err)
	}
	if len(bars) == 0 {
		if s.OnHistoryError != nil {
			s.OnHistoryError(ErrNoHistory)
		}
		return fmt.Errorf("%w: empty response", ErrNoHistory)
	}

	w := model.NewBarWindow(bars)
	w.Trim(s.maxBars)
	s.window = w
	s.cache.Set(s.symbol, s.granularity, count, w)
	if s.OnHistoryLoaded != nil {
		s.OnHistoryLoaded(s.granularity, bars)
	}
	return nil
}

func (s *MAStrategy) evaluateLocked(ctx context.Context) model.Signal {
	start := time.Now()
	sig := model.Signal{
		Symbol:      s.symbol,
		Action:      model.ActionNone,
		EvaluatedAt: s.now(),
		TraceID:     logger.TraceID(ctx),
	}
	if last, ok := s.window.Last(); ok {
		sig.BarTS = last.TS
		sig.Close = last.Close
		sig.Volume = last.Volume
	}

	frame, ok := indicator.Compute(s.window.Bars(), s.cfg.ShortPeriod, s.cfg.LongPeriod)
	if !ok {
		sig.Reason = "insufficient bars: have " + strconv.Itoa(s.window.Len()) + ", need " + strconv.Itoa(s.cfg.LongPeriod)
		s.log.Warn("no signal: insufficient bars", append([]any{slog.Int("bars", s.window.Len())}, logger.LogWithTrace(ctx)...)...)
		s.observe(sig, start)
		return sig
	}

	d := s.policy.Evaluate(ctx, frame, s.symbol, s.confirm)
	sig.Action = d.Action
	sig.Reason = d.Reason
	sig.ShortMA = d.Row.ShortMA
	sig.LongMA = d.Row.LongMA
	sig.VolumeMA = d.Row.VolumeMA

	if sig.Actionable() {
		key := emitKey{action: sig.Action, barTS: sig.BarTS.UnixNano()}
		if key == s.emitted {
			sig.Action = model.ActionNone
			sig.Reason = "already signalled for this bar"
		} else {
			s.emitted = key
			s.last = sig
			s.hasLast = true
		}
	}

	attrs := append([]any{
		slog.String("cross", d.Cross.String()),
		slog.String("action", string(sig.Action)),
		slog.String("reason", sig.Reason),
		slog.Float64("short_ma", sig.ShortMA),
		slog.Float64("long_ma", sig.LongMA),
		slog.Int64("volume", sig.Volume),
		slog.Float64("volume_ma", sig.VolumeMA),
	}, logger.LogWithTrace(ctx)...)
	if d.Cross == CrossNone {
		s.log.Debug("evaluated", attrs...)
	} else {
		s.log.Info("evaluated", attrs...)
	}

	s.observe(sig, start)
	return sig
}

func (s *MAStrategy) noneLocked(ctx context.Context, reason string) model.Signal {
	return model.Signal{
		Symbol:      s.symbol,
		Action:      model.ActionNone,
		EvaluatedAt: s.now(),
		Reason:      reason,
		TraceID:     logger.TraceID(ctx),
	}
}

func (s *MAStrategy) observe(sig model.Signal, start time.Time) {
	if s.OnEvaluate != nil {
		s.OnEvaluate(sig, time.Since(start))
	}
}
