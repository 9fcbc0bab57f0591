package strategy

import (
	"context"

	"masignal/internal/indicator"
	"masignal/internal/model"
)

// Confirmer answers the external BUY confirmations. Implementations absorb
// query failures and report false.
type Confirmer interface {
	MarketTrendUp(ctx context.Context) bool
	CapitalInflow(ctx context.Context, symbol string) bool
}

// Suppression and trigger reasons reported with every decision.
const (
	ReasonNoCrossover       = "no crossover"
	ReasonNotEnoughRows     = "fewer than two defined rows"
	ReasonGoldenConfirmed   = "golden cross confirmed by volume, trend and capital flow"
	ReasonVolumeNotExpanded = "golden cross without volume expansion"
	ReasonTrendNotUp        = "golden cross against market trend"
	ReasonNoInflow          = "golden cross without capital inflow"
	ReasonDeathConfirmed    = "death cross confirmed by volume contraction"
	ReasonVolumeNotShrunk   = "death cross without volume contraction"
)

// Decision is the policy outcome for the current row.
type Decision struct {
	Action model.Action
	Cross  Cross
	Reason string
	Row    indicator.Row
}

// Policy combines the crossover with its confirmations.
//
// BUY needs a golden cross, expanded volume, an up market trend and net
// capital inflow. SELL needs only a death cross and contracted volume.
type Policy struct {
	cfg Config
}

// NewPolicy creates a policy for cfg.
func NewPolicy(cfg Config) Policy {
	return Policy{cfg: cfg}
}

// VolumeConfirms checks the volume rule for a BUY (expansion) or SELL (contraction) candidate.
func (p Policy) VolumeConfirms(row indicator.Row, buy bool) bool {
	if !row.VolumeOK {
		return false
	}
	v := float64(row.Bar.Volume)
	if buy {
		return v > row.VolumeMA*p.cfg.BuyVolumeRatio
	}
	return v < row.VolumeMA*p.cfg.SellVolumeRatio
}

// Evaluate decides on the last row of frame. External confirmations are only
// queried for a volume-confirmed golden cross, in order, stopping at the first
// failure; a nil confirmer never confirms.
func (p Policy) Evaluate(ctx context.Context, frame indicator.Frame, symbol string, conf Confirmer) Decision {
	prev, cur, ok := LastTwo(frame)
	if !ok {
		d := Decision{Action: model.ActionNone, Cross: CrossNone, Reason: ReasonNotEnoughRows}
		if n := len(frame.Rows); n > 0 {
			d.Row = frame.Rows[n-1]
		}
		return d
	}

	d := Decision{Action: model.ActionNone, Cross: Classify(prev, cur), Row: cur}
	switch d.Cross {
	case CrossGolden:
		switch {
		case !p.VolumeConfirms(cur, true):
			d.Reason = ReasonVolumeNotExpanded
		case conf == nil || !conf.MarketTrendUp(ctx):
			d.Reason = ReasonTrendNotUp
		case !conf.CapitalInflow(ctx, symbol):
			d.Reason = ReasonNoInflow
		default:
			d.Action = model.ActionBuy
			d.Reason = ReasonGoldenConfirmed
		}
	case CrossDeath:
		if p.VolumeConfirms(cur, false) {
			d.Action = model.ActionSell
			d.Reason = ReasonDeathConfirmed
		} else {
			d.Reason = ReasonVolumeNotShrunk
		}
	default:
		d.Reason = ReasonNoCrossover
	}
	return d
}
