package model

import "context"

// ── Collaborator Port Interfaces ──
// These decouple the strategy core from the concrete quote gateway. Each
// returns a non-nil error on failure; callers never use the data then.

// HistoryFetcher loads historical bars, oldest first.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, symbol string, g Granularity, maxCount int) ([]Bar, error)
}

// SnapshotFetcher loads a market snapshot for a symbol or index.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
}

// CapitalFlowFetcher loads the latest capital-flow record for a symbol.
type CapitalFlowFetcher interface {
	FetchCapitalFlow(ctx context.Context, symbol string, period FlowPeriod) (CapitalFlow, error)
}

// Subscriber subscribes symbols to push feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, symbols []string, subs []SubType) error
}

// PushSource routes push events for a symbol to a registered handler.
type PushSource interface {
	SetPushHandler(symbol string, h PushHandler)
}
