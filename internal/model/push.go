package model

import "context"

// BarPush is one bar batch delivered by the push source. Err is set when the
// source reports a failed delivery; Bars must then be ignored.
type BarPush struct {
	Symbol      string
	Granularity Granularity
	Bars        []Bar
	Err         error
}

// TickPush is one intraday tick batch delivered by the push source.
type TickPush struct {
	Symbol string
	Ticks  []Tick
	Err    error
}

// PushHandler receives push events for one symbol. The push source calls it
// from a single goroutine, in delivery order.
type PushHandler interface {
	OnBarPush(ctx context.Context, p BarPush) error
	OnTickPush(ctx context.Context, p TickPush) error
}
