package model

import (
	"encoding/json"
	"time"
)

// Action is the trading decision of one evaluation.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is the result of one strategy evaluation. Signals are ephemeral;
// only the latest BUY/SELL is kept for inspection.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	BarTS       time.Time `json:"bar_ts"`       // timestamp of the evaluated bar
	EvaluatedAt time.Time `json:"evaluated_at"` // wall-clock evaluation time
	Reason      string    `json:"reason"`
	Close       float64   `json:"close"`
	ShortMA     float64   `json:"short_ma"`
	LongMA      float64   `json:"long_ma"`
	Volume      int64     `json:"volume"`
	VolumeMA    float64   `json:"volume_ma"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Actionable reports whether the signal is a BUY or SELL.
func (s *Signal) Actionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// StreamKey returns the Redis stream key: "signal:{symbol}".
func (s *Signal) StreamKey() string {
	return "signal:" + s.Symbol
}

// LatestKey returns the Redis key holding the latest signal.
func (s *Signal) LatestKey() string {
	return "signal:latest:" + s.Symbol
}

// PubSubChannel returns the Redis pub/sub channel for live signal updates.
func (s *Signal) PubSubChannel() string {
	return "pub:signal:" + s.Symbol
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
