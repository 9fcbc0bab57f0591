package quotegw

import (
	"encoding/json"
	"fmt"
	"time"

	"masignal/internal/model"
)

// TimeKeyLayout is the gateway's bar and tick timestamp format, expressed
// in the exchange's local time.
const TimeKeyLayout = "2006-01-02 15:04:05"

// REST routes and the push endpoint.
const (
	RouteLogin       = "/api/v1/login"
	RouteHistory     = "/api/v1/kline/history"
	RouteSnapshot    = "/api/v1/market/snapshot"
	RouteCapitalFlow = "/api/v1/capital/flow"
	RouteSubscribe   = "/api/v1/subscribe"
	RoutePush        = "/ws"
)

// RetOK is the success return code.
const RetOK = 0

// Envelope wraps every REST response.
type Envelope struct {
	RetCode        int             `json:"ret_code"`
	Msg            string          `json:"msg"`
	Data           json.RawMessage `json:"data,omitempty"`
	NextPageReqKey string          `json:"next_page_req_key,omitempty"`
}

// APIError is a non-zero ret_code from the gateway.
type APIError struct {
	Op      string
	RetCode int
	Msg     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quotegw %s: ret_code %d: %s", e.Op, e.RetCode, e.Msg)
}

// LoginRequest is the body of POST /api/v1/login.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

// LoginResponse is the data of a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// SubscribeRequest is the body of POST /api/v1/subscribe.
type SubscribeRequest struct {
	CodeList    []string `json:"code_list"`
	SubTypeList []string `json:"subtype_list"`
}

// BarDTO is a K-line record on the wire.
type BarDTO struct {
	Code     string  `json:"code"`
	TimeKey  string  `json:"time_key"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Turnover float64 `json:"turnover"`
}

// Bar converts the record, reading time_key in loc.
func (d BarDTO) Bar(loc *time.Location) (model.Bar, error) {
	ts, err := time.ParseInLocation(TimeKeyLayout, d.TimeKey, loc)
	if err != nil {
		return model.Bar{}, fmt.Errorf("bar time_key %q: %w", d.TimeKey, err)
	}
	return model.Bar{
		Symbol:   d.Code,
		TS:       ts,
		Open:     d.Open,
		High:     d.High,
		Low:      d.Low,
		Close:    d.Close,
		Volume:   d.Volume,
		Turnover: d.Turnover,
	}, nil
}

// NewBarDTO renders a bar for the wire in loc.
func NewBarDTO(b model.Bar, loc *time.Location) BarDTO {
	return BarDTO{
		Code:     b.Symbol,
		TimeKey:  b.TS.In(loc).Format(TimeKeyLayout),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
		Turnover: b.Turnover,
	}
}

// TickDTO is an intraday time-share record on the wire.
type TickDTO struct {
	Code     string  `json:"code"`
	Time     string  `json:"time"`
	CurPrice float64 `json:"cur_price"`
	AvgPrice float64 `json:"avg_price"`
	Volume   int64   `json:"volume"`
}

// Tick converts the record, reading time in loc.
func (d TickDTO) Tick(loc *time.Location) (model.Tick, error) {
	ts, err := time.ParseInLocation(TimeKeyLayout, d.Time, loc)
	if err != nil {
		return model.Tick{}, fmt.Errorf("tick time %q: %w", d.Time, err)
	}
	return model.Tick{Symbol: d.Code, TS: ts, Price: d.CurPrice, AvgPrice: d.AvgPrice, Volume: d.Volume}, nil
}

// SnapshotDTO is a market snapshot on the wire.
type SnapshotDTO struct {
	Code           string  `json:"code"`
	LastPrice      float64 `json:"last_price"`
	PrevClosePrice float64 `json:"prev_close_price"`
	ChangeRate     float64 `json:"change_rate"` // percent
	UpdateTime     string  `json:"update_time"`
}

// CapitalFlowDTO is one capital-flow record on the wire.
type CapitalFlowDTO struct {
	LastValidTime string  `json:"last_valid_time"`
	InFlow        float64 `json:"in_flow"`
	MainInFlow    float64 `json:"main_in_flow"`
	SuperInFlow   float64 `json:"super_in_flow"`
	BigInFlow     float64 `json:"big_in_flow"`
	MidInFlow     float64 `json:"mid_in_flow"`
	SmlInFlow     float64 `json:"sml_in_flow"`
}

// PushFrame is one WebSocket push message. Type is a K-line subtype
// (e.g. "K_DAY") or "RT_DATA"; a non-zero RetCode marks a failed push.
type PushFrame struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	RetCode int             `json:"ret_code"`
	Msg     string          `json:"msg,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
