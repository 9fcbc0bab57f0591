package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Granularity is the bar period type, using the gateway's K-line names.
type Granularity string

const (
	KDay     Granularity = "K_DAY"
	KWeek    Granularity = "K_WEEK"
	KMonth   Granularity = "K_MON"
	KQuarter Granularity = "K_QUARTER"
	KYear    Granularity = "K_YEAR"
	K1M      Granularity = "K_1M"
	K3M      Granularity = "K_3M"
	K5M      Granularity = "K_5M"
	K15M     Granularity = "K_15M"
	K30M     Granularity = "K_30M"
	K60M     Granularity = "K_60M"
)

var granularities = map[Granularity]bool{
	KDay: true, KWeek: true, KMonth: true, KQuarter: true, KYear: true,
	K1M: true, K3M: true, K5M: true, K15M: true, K30M: true, K60M: true,
}

// ParseGranularity accepts the gateway name in any case, e.g. "k_day".
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(s)))
	if !granularities[g] {
		return "", fmt.Errorf("unknown granularity %q", s)
	}
	return g, nil
}

// Intraday reports whether bars of this granularity are minute buckets.
func (g Granularity) Intraday() bool {
	switch g {
	case K1M, K3M, K5M, K15M, K30M, K60M:
		return true
	}
	return false
}

// SubType is a push feed type accepted by the gateway's subscribe call.
type SubType string

const (
	SubQuote  SubType = "QUOTE"
	SubTicker SubType = "TICKER"
	SubRTData SubType = "RT_DATA"
)

// SubTypeFor returns the K-line push feed for a granularity.
func SubTypeFor(g Granularity) SubType {
	return SubType(g)
}

// Bar is one trading period for a single symbol. Bars are immutable once
// received; TS is the trading-day or intraday bucket key.
type Bar struct {
	Symbol   string    `json:"code"`
	TS       time.Time `json:"ts"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Turnover float64   `json:"turnover"`
}

// JSON returns the JSON-encoded bar (ignoring errors for logging usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
