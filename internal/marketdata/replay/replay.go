// Package replay feeds archived bars through a push handler one bar at a
// time, as the live feed would, for backtesting.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"masignal/internal/model"
)

// BarReader reads archived bars with ts after afterTS, ascending.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, g model.Granularity, afterTS time.Time) ([]model.Bar, error)
}

// Stats summarises one replay.
type Stats struct {
	Pushed  int
	Dropped int
	First   time.Time
	Last    time.Time
}

// Replayer reads archived bars and replays them at a configurable speed
// multiplier.
type Replayer struct {
	reader BarReader
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by reader.
func New(reader BarReader, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{
		reader: reader,
		log:    log.With(slog.String("component", "replay")),
		sleep:  sleepCtx,
	}
}

// Run pushes every archived bar of (symbol, g) after from to h as a
// single-bar push. speed controls pacing: 1.0 = real time, 10.0 = 10x,
// 0 = as fast as possible. A push the handler rejects is counted as
// dropped and the replay continues.
func (r *Replayer) Run(ctx context.Context, symbol string, g model.Granularity, from time.Time, speed float64, h model.PushHandler) (Stats, error) {
	bars, err := r.reader.ReadBars(ctx, symbol, g, from)
	if err != nil {
		return Stats{}, fmt.Errorf("replay: %w", err)
	}
	return r.Push(ctx, symbol, g, bars, speed, h)
}

// Push replays bars that are already in memory.
func (r *Replayer) Push(ctx context.Context, symbol string, g model.Granularity, bars []model.Bar, speed float64, h model.PushHandler) (Stats, error) {
	var st Stats
	if len(bars) == 0 {
		r.log.Info("no bars to replay", slog.String("symbol", symbol), slog.String("ktype", string(g)))
		return st, nil
	}
	r.log.Info("replay starting",
		slog.String("symbol", symbol),
		slog.String("ktype", string(g)),
		slog.Int("bars", len(bars)),
		slog.Float64("speed", speed))

	var prevTS time.Time
	for _, b := range bars {
		if err := ctx.Err(); err != nil {
			r.log.Info("replay cancelled", slog.Int("pushed", st.Pushed))
			return st, err
		}

		// Simulate time gaps between bars, capped so daily bars stay watchable.
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return st, err
				}
			}
		}
		prevTS = b.TS

		err := h.OnBarPush(ctx, model.BarPush{Symbol: symbol, Granularity: g, Bars: []model.Bar{b}})
		if err != nil {
			st.Dropped++
			r.log.Debug("bar rejected", slog.Time("ts", b.TS), slog.String("error", err.Error()))
			continue
		}
		if st.Pushed == 0 {
			st.First = b.TS
		}
		st.Pushed++
		st.Last = b.TS
	}

	r.log.Info("replay completed", slog.Int("pushed", st.Pushed), slog.Int("dropped", st.Dropped))
	return st, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Seed serves a fixed bar set as history: the newest maxCount bars, ascending.
type Seed []model.Bar

// FetchHistory implements model.HistoryFetcher.
func (s Seed) FetchHistory(_ context.Context, symbol string, _ model.Granularity, maxCount int) ([]model.Bar, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("replay seed: no bars for %s", symbol)
	}
	bars := []model.Bar(s)
	if maxCount > 0 && len(bars) > maxCount {
		bars = bars[len(bars)-maxCount:]
	}
	return append([]model.Bar(nil), bars...), nil
}

// Split separates the first n bars (the seed) from the rest.
func Split(bars []model.Bar, n int) (Seed, []model.Bar) {
	if n > len(bars) {
		n = len(bars)
	}
	return Seed(bars[:n:n]), bars[n:]
}
