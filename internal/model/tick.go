package model

import "time"

// Tick is one intraday time-sharing point (RT_DATA) for a symbol.
type Tick struct {
	Symbol   string    `json:"code"`
	TS       time.Time `json:"ts"`
	Price    float64   `json:"cur_price"`
	AvgPrice float64   `json:"avg_price"`
	Volume   int64     `json:"volume"`
}
