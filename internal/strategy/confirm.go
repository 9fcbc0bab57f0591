package strategy

import (
	"context"
	"log/slog"

	"masignal/internal/logger"
	"masignal/internal/model"
)

// MarketConfirmer checks the broad-market trend on a reference index and the
// traded symbol's capital flow through the gateway. Query failures are logged
// and count as not confirmed.
type MarketConfirmer struct {
	snapshots    model.SnapshotFetcher
	flows        model.CapitalFlowFetcher
	marketSymbol string
	period       model.FlowPeriod
	log          *slog.Logger

	// OnFailure is called with "trend" or "capital_flow" when a query fails.
	OnFailure func(kind string)
}

// NewMarketConfirmer creates a confirmer. marketSymbol is the index whose
// snapshot decides the trend, e.g. "HK.800000".
func NewMarketConfirmer(snapshots model.SnapshotFetcher, flows model.CapitalFlowFetcher, marketSymbol string, period model.FlowPeriod, log *slog.Logger) *MarketConfirmer {
	if period == "" {
		period = model.FlowIntraday
	}
	if log == nil {
		log = slog.Default()
	}
	return &MarketConfirmer{
		snapshots:    snapshots,
		flows:        flows,
		marketSymbol: marketSymbol,
		period:       period,
		log:          log,
	}
}

// MarketTrendUp reports whether the reference index is up on the day.
func (m *MarketConfirmer) MarketTrendUp(ctx context.Context) bool {
	snap, err := m.snapshots.FetchSnapshot(ctx, m.marketSymbol)
	if err != nil {
		m.log.Warn("market snapshot query failed",
			append([]any{slog.String("market", m.marketSymbol), slog.Any("error", err)}, logger.LogWithTrace(ctx)...)...)
		m.failed("trend")
		return false
	}
	m.log.Debug("market trend",
		append([]any{slog.String("market", m.marketSymbol), slog.Float64("change_rate", snap.ChangeRate)}, logger.LogWithTrace(ctx)...)...)
	return snap.TrendUp()
}

// CapitalInflow reports whether the latest main-force flow for symbol is positive.
func (m *MarketConfirmer) CapitalInflow(ctx context.Context, symbol string) bool {
	flow, err := m.flows.FetchCapitalFlow(ctx, symbol, m.period)
	if err != nil {
		m.log.Warn("capital flow query failed",
			append([]any{slog.String("symbol", symbol), slog.Any("error", err)}, logger.LogWithTrace(ctx)...)...)
		m.failed("capital_flow")
		return false
	}
	m.log.Debug("capital flow",
		append([]any{slog.String("symbol", symbol), slog.Float64("main_in_flow", flow.MainInflow)}, logger.LogWithTrace(ctx)...)...)
	return flow.NetInflow()
}

func (m *MarketConfirmer) failed(kind string) {
	if m.OnFailure != nil {
		m.OnFailure(kind)
	}
}

// StaticConfirmer returns fixed answers. Used by the backtest, where no live
// market snapshot exists.
type StaticConfirmer struct {
	TrendUp bool
	Inflow  bool
}

func (s StaticConfirmer) MarketTrendUp(context.Context) bool { return s.TrendUp }

func (s StaticConfirmer) CapitalInflow(context.Context, string) bool { return s.Inflow }
