package strategy

import (
	"context"
	"errors"
	"testing"

	"masignal/internal/logger"
	"masignal/internal/model"
)

type fakeSnapshots struct {
	snap  model.MarketSnapshot
	err   error
	asked string
}

func (f *fakeSnapshots) FetchSnapshot(_ context.Context, symbol string) (model.MarketSnapshot, error) {
	f.asked = symbol
	return f.snap, f.err
}

type fakeFlows struct {
	flow   model.CapitalFlow
	err    error
	period model.FlowPeriod
}

func (f *fakeFlows) FetchCapitalFlow(_ context.Context, _ string, period model.FlowPeriod) (model.CapitalFlow, error) {
	f.period = period
	return f.flow, f.err
}

func TestMarketConfirmer_Trend(t *testing.T) {
	snaps := &fakeSnapshots{snap: model.MarketSnapshot{ChangeRate: 0.42}}
	c := NewMarketConfirmer(snaps, &fakeFlows{}, "HK.800000", "", logger.Discard())

	if !c.MarketTrendUp(context.Background()) {
		t.Fatal("positive change rate should confirm")
	}
	if snaps.asked != "HK.800000" {
		t.Errorf("queried %q, want the market index", snaps.asked)
	}

	snaps.snap.ChangeRate = 0
	if c.MarketTrendUp(context.Background()) {
		t.Error("flat market must not confirm")
	}
}

func TestMarketConfirmer_FailuresCountAsFalse(t *testing.T) {
	var failures []string
	snaps := &fakeSnapshots{err: errors.New("gateway down")}
	flows := &fakeFlows{err: errors.New("gateway down")}
	c := NewMarketConfirmer(snaps, flows, "HK.800000", model.FlowIntraday, logger.Discard())
	c.OnFailure = func(kind string) { failures = append(failures, kind) }

	if c.MarketTrendUp(context.Background()) {
		t.Error("failed snapshot must not confirm")
	}
	if c.CapitalInflow(context.Background(), "HK.00700") {
		t.Error("failed capital flow must not confirm")
	}
	if len(failures) != 2 || failures[0] != "trend" || failures[1] != "capital_flow" {
		t.Errorf("failures = %v", failures)
	}
}

func TestMarketConfirmer_Inflow(t *testing.T) {
	flows := &fakeFlows{flow: model.CapitalFlow{MainInflow: 1.5e6}}
	c := NewMarketConfirmer(&fakeSnapshots{}, flows, "HK.800000", "", logger.Discard())

	if !c.CapitalInflow(context.Background(), "HK.00700") {
		t.Fatal("positive main inflow should confirm")
	}
	if flows.period != model.FlowIntraday {
		t.Errorf("period = %q, want INTRADAY default", flows.period)
	}

	flows.flow.MainInflow = -10
	if c.CapitalInflow(context.Background(), "HK.00700") {
		t.Error("outflow must not confirm")
	}
}
