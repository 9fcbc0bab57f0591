package model

import "time"

// MarketSnapshot is the subset of a market snapshot used for trend checks.
type MarketSnapshot struct {
	Symbol     string    `json:"code"`
	LastPrice  float64   `json:"last_price"`
	PrevClose  float64   `json:"prev_close_price"`
	ChangeRate float64   `json:"change_rate"` // percent
	UpdateTime time.Time `json:"update_time"`
}

// TrendUp reports a rising market: change rate strictly above zero.
func (s MarketSnapshot) TrendUp() bool {
	return s.ChangeRate > 0
}

// FlowPeriod selects the capital-flow aggregation window.
type FlowPeriod string

const (
	FlowIntraday FlowPeriod = "INTRADAY"
	FlowDay      FlowPeriod = "DAY"
	FlowWeek     FlowPeriod = "WEEK"
	FlowMonth    FlowPeriod = "MONTH"
)

// CapitalFlow is the latest capital-flow record for a symbol.
type CapitalFlow struct {
	Symbol        string    `json:"code"`
	MainInflow    float64   `json:"main_in_flow"`
	SuperInflow   float64   `json:"super_in_flow"`
	BigInflow     float64   `json:"big_in_flow"`
	MidInflow     float64   `json:"mid_in_flow"`
	SmallInflow   float64   `json:"sml_in_flow"`
	LastValidTime time.Time `json:"last_valid_time"`
}

// NetInflow reports positive main-force inflow.
func (f CapitalFlow) NetInflow() bool {
	return f.MainInflow > 0
}
