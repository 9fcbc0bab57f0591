package strategy

import (
	"context"
	"testing"

	"masignal/internal/indicator"
	"masignal/internal/model"
)

type countingConfirmer struct {
	trend, inflow           bool
	trendCalls, inflowCalls int
}

func (c *countingConfirmer) MarketTrendUp(context.Context) bool {
	c.trendCalls++
	return c.trend
}

func (c *countingConfirmer) CapitalInflow(context.Context, string) bool {
	c.inflowCalls++
	return c.inflow
}

func volRow(short, long float64, volume int64, volumeMA float64) indicator.Row {
	r := maRow(short, long)
	r.Bar = model.Bar{Symbol: "HK.00700", Volume: volume}
	r.VolumeMA = volumeMA
	r.VolumeOK = true
	return r
}

func pair(prev, cur indicator.Row) indicator.Frame {
	return indicator.Frame{ShortPeriod: 5, LongPeriod: 20, Rows: []indicator.Row{prev, cur}}
}

func TestPolicy_BuyConfirmed(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	conf := &countingConfirmer{trend: true, inflow: true}

	d := p.Evaluate(context.Background(), pair(volRow(9, 10, 100, 100), volRow(11, 10, 130, 100)), "HK.00700", conf)
	if d.Action != model.ActionBuy {
		t.Fatalf("expected BUY, got %s (%s)", d.Action, d.Reason)
	}
	if d.Cross != CrossGolden || d.Reason != ReasonGoldenConfirmed {
		t.Errorf("unexpected decision %+v", d)
	}
	if conf.trendCalls != 1 || conf.inflowCalls != 1 {
		t.Errorf("expected one query each, got trend=%d inflow=%d", conf.trendCalls, conf.inflowCalls)
	}
}

func TestPolicy_BuySuppressedByTrend(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	conf := &countingConfirmer{trend: false, inflow: true}

	d := p.Evaluate(context.Background(), pair(volRow(9, 10, 100, 100), volRow(11, 10, 130, 100)), "HK.00700", conf)
	if d.Action != model.ActionNone || d.Reason != ReasonTrendNotUp {
		t.Fatalf("expected NONE/%q, got %s/%q", ReasonTrendNotUp, d.Action, d.Reason)
	}
	if conf.inflowCalls != 0 {
		t.Errorf("capital flow should not be queried after a failed trend check")
	}
}

func TestPolicy_BuySuppressedByInflow(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	conf := &countingConfirmer{trend: true, inflow: false}

	d := p.Evaluate(context.Background(), pair(volRow(9, 10, 100, 100), volRow(11, 10, 130, 100)), "HK.00700", conf)
	if d.Action != model.ActionNone || d.Reason != ReasonNoInflow {
		t.Fatalf("expected NONE/%q, got %s/%q", ReasonNoInflow, d.Action, d.Reason)
	}
}

func TestPolicy_VolumeNotExpandedSkipsQueries(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	conf := &countingConfirmer{trend: true, inflow: true}

	// 120 is not strictly greater than 100 × 1.2.
	d := p.Evaluate(context.Background(), pair(volRow(9, 10, 100, 100), volRow(11, 10, 120, 100)), "HK.00700", conf)
	if d.Action != model.ActionNone || d.Reason != ReasonVolumeNotExpanded {
		t.Fatalf("expected NONE/%q, got %s/%q", ReasonVolumeNotExpanded, d.Action, d.Reason)
	}
	if conf.trendCalls != 0 || conf.inflowCalls != 0 {
		t.Errorf("no external query expected, got trend=%d inflow=%d", conf.trendCalls, conf.inflowCalls)
	}
}

func TestPolicy_NilConfirmerNeverBuys(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d := p.Evaluate(context.Background(), pair(volRow(9, 10, 100, 100), volRow(11, 10, 130, 100)), "HK.00700", nil)
	if d.Action != model.ActionNone {
		t.Fatalf("expected NONE without confirmer, got %s", d.Action)
	}
}

func TestPolicy_SellIgnoresConfirmations(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	conf := &countingConfirmer{trend: false, inflow: false}

	d := p.Evaluate(context.Background(), pair(volRow(11, 10, 100, 100), volRow(9, 10, 80, 100)), "HK.00700", conf)
	if d.Action != model.ActionSell || d.Reason != ReasonDeathConfirmed {
		t.Fatalf("expected SELL, got %s (%s)", d.Action, d.Reason)
	}
	if conf.trendCalls != 0 || conf.inflowCalls != 0 {
		t.Errorf("SELL must not query confirmations")
	}
}

func TestPolicy_SellNeedsVolumeContraction(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d := p.Evaluate(context.Background(), pair(volRow(11, 10, 100, 100), volRow(9, 10, 90, 100)), "HK.00700", nil)
	if d.Action != model.ActionNone || d.Reason != ReasonVolumeNotShrunk {
		t.Fatalf("expected NONE/%q, got %s/%q", ReasonVolumeNotShrunk, d.Action, d.Reason)
	}
}

func TestPolicy_NoCrossover(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d := p.Evaluate(context.Background(), pair(volRow(11, 10, 100, 100), volRow(12, 10, 500, 100)), "HK.00700", nil)
	if d.Action != model.ActionNone || d.Cross != CrossNone || d.Reason != ReasonNoCrossover {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{ShortPeriod: 0, LongPeriod: 20, BuyVolumeRatio: 1.2, SellVolumeRatio: 0.85},
		{ShortPeriod: 20, LongPeriod: 20, BuyVolumeRatio: 1.2, SellVolumeRatio: 0.85},
		{ShortPeriod: 5, LongPeriod: 20, BuyVolumeRatio: 1.0, SellVolumeRatio: 0.85},
		{ShortPeriod: 5, LongPeriod: 20, BuyVolumeRatio: 1.2, SellVolumeRatio: 1.0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, c)
		}
	}
	if got := DefaultConfig().HistoryCount(); got != 40 {
		t.Errorf("HistoryCount = %d, want 40", got)
	}
}
