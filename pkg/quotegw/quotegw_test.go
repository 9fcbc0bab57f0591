package quotegw_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"masignal/internal/logger"
	"masignal/internal/marketdata/gatewaysim"
	"masignal/internal/model"
	"masignal/pkg/quotegw"
)

const (
	testUser   = "trader"
	testPass   = "secret"
	testSecret = "JBSWY3DPEHPK3PXP"
	symbol     = "HK.00700"
)

var hkt = time.FixedZone("HKT", 8*3600)

type env struct {
	sim *gatewaysim.Server
	srv *httptest.Server
	cfg quotegw.Config
}

func newEnv(t *testing.T, pageSize int) *env {
	t.Helper()
	sim := gatewaysim.New(gatewaysim.Config{
		User:       testUser,
		Password:   testPass,
		TOTPSecret: testSecret,
		Location:   hkt,
		PageSize:   pageSize,
	}, logger.Discard())
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	return &env{
		sim: sim,
		srv: srv,
		cfg: quotegw.Config{
			BaseURL:           srv.URL,
			WSURL:             "ws" + strings.TrimPrefix(srv.URL, "http") + quotegw.RoutePush,
			User:              testUser,
			Password:          testPass,
			TOTPSecret:        testSecret,
			Timeout:           2 * time.Second,
			Location:          hkt,
			ReconnectDelay:    10 * time.Millisecond,
			MaxReconnectDelay: 50 * time.Millisecond,
			HeartbeatInterval: 200 * time.Millisecond,
		},
	}
}

func dayBars(n int, start time.Time) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		px := 100 + float64(i)
		out[i] = model.Bar{
			Symbol: symbol,
			TS:     start.AddDate(0, 0, i),
			Open:   px, High: px + 1, Low: px - 1, Close: px,
			Volume:   int64(1000 + i),
			Turnover: px * 1000,
		}
	}
	return out
}

func newClient(t *testing.T, e *env) *quotegw.Client {
	t.Helper()
	c, err := quotegw.NewClient(e.cfg, logger.Discard())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newEnv(t, 0)
	e.cfg.Password = "wrong"
	c, err := quotegw.NewClient(e.cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	err = c.Login(context.Background())
	var apiErr *quotegw.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.RetCode != gatewaysim.RetAuth {
		t.Errorf("ret_code = %d, want %d", apiErr.RetCode, gatewaysim.RetAuth)
	}
	if c.Token() != "" {
		t.Error("token set after failed login")
	}
}

func TestQueriesRequireSession(t *testing.T) {
	e := newEnv(t, 0)
	c, _ := quotegw.NewClient(e.cfg, logger.Discard())
	expired := 0
	c.SessionExpiryHook = func() { expired++ }

	_, err := c.FetchSnapshot(context.Background(), symbol)
	var apiErr *quotegw.APIError
	if !errors.As(err, &apiErr) || apiErr.RetCode != gatewaysim.RetAuth {
		t.Fatalf("expected auth APIError, got %v", err)
	}
	if expired != 1 {
		t.Errorf("SessionExpiryHook called %d times, want 1", expired)
	}
}

func TestFetchHistoryPages(t *testing.T) {
	e := newEnv(t, 7)
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, hkt)
	e.sim.SetBars(symbol, model.KDay, dayBars(20, start))
	c := newClient(t, e)

	bars, err := c.FetchHistory(context.Background(), symbol, model.KDay, 15)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(bars) != 15 {
		t.Fatalf("got %d bars, want 15", len(bars))
	}
	// Newest 15 of 20: closes 105..119, oldest first.
	if bars[0].Close != 105 || bars[14].Close != 119 {
		t.Errorf("closes = %.0f..%.0f, want 105..119", bars[0].Close, bars[14].Close)
	}
	if !bars[14].TS.Equal(start.AddDate(0, 0, 19)) {
		t.Errorf("last ts = %v, want %v", bars[14].TS, start.AddDate(0, 0, 19))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
	// Pages of 7, 7 and 1.
	if got := e.sim.Requests(quotegw.RouteHistory); got != 3 {
		t.Errorf("history requests = %d, want 3", got)
	}
}

func TestFetchHistoryShortSeries(t *testing.T) {
	e := newEnv(t, 0)
	e.sim.SetBars(symbol, model.KDay, dayBars(4, time.Date(2026, 1, 5, 0, 0, 0, 0, hkt)))
	c := newClient(t, e)

	bars, err := c.FetchHistory(context.Background(), symbol, model.KDay, 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 4 {
		t.Errorf("got %d bars, want 4", len(bars))
	}
	if _, err := c.FetchHistory(context.Background(), "HK.09999", model.KDay, 40); err == nil {
		t.Error("expected error for unknown code")
	}
}

func TestSnapshotAndCapitalFlow(t *testing.T) {
	e := newEnv(t, 0)
	now := time.Date(2026, 3, 2, 10, 15, 0, 0, hkt)
	e.sim.SetSnapshot(model.MarketSnapshot{Symbol: "HK.800000", LastPrice: 20500, PrevClose: 20000, ChangeRate: 2.5, UpdateTime: now})
	e.sim.SetCapitalFlow(symbol,
		model.CapitalFlow{MainInflow: 5e6, LastValidTime: now.Add(-time.Minute)},
		model.CapitalFlow{MainInflow: -2e6, SuperInflow: -1e6, LastValidTime: now},
	)
	c := newClient(t, e)
	ctx := context.Background()

	snap, err := c.FetchSnapshot(ctx, "HK.800000")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TrendUp() || snap.ChangeRate != 2.5 || !snap.UpdateTime.Equal(now) {
		t.Errorf("snapshot = %+v", snap)
	}

	flow, err := c.FetchCapitalFlow(ctx, symbol, model.FlowIntraday)
	if err != nil {
		t.Fatal(err)
	}
	if flow.NetInflow() {
		t.Error("latest record has outflow; NetInflow should be false")
	}
	if flow.SuperInflow != -1e6 || !flow.LastValidTime.Equal(now) {
		t.Errorf("flow = %+v", flow)
	}

	e.sim.FailRoute(quotegw.RouteSnapshot, 500, "busy")
	_, err = c.FetchSnapshot(ctx, "HK.800000")
	var apiErr *quotegw.APIError
	if !errors.As(err, &apiErr) || apiErr.RetCode != 500 || apiErr.Msg != "busy" {
		t.Errorf("expected injected failure, got %v", err)
	}
}

func TestSubscribeValidates(t *testing.T) {
	e := newEnv(t, 0)
	c := newClient(t, e)
	if err := c.Subscribe(context.Background(), nil, []model.SubType{model.SubRTData}); err == nil {
		t.Error("expected error for empty code list")
	}
	if err := c.Subscribe(context.Background(), []string{symbol}, []model.SubType{model.SubTypeFor(model.KDay)}); err != nil {
		t.Fatal(err)
	}
	if !e.sim.Subscribed(symbol, model.SubType("K_DAY")) {
		t.Error("simulator did not record K_DAY subscription")
	}
}

// ---- push stream ----

type recorder struct {
	bars  chan model.BarPush
	ticks chan model.TickPush
}

func newRecorder() *recorder {
	return &recorder{bars: make(chan model.BarPush, 16), ticks: make(chan model.TickPush, 16)}
}

func (r *recorder) OnBarPush(_ context.Context, p model.BarPush) error {
	r.bars <- p
	return nil
}

func (r *recorder) OnTickPush(_ context.Context, p model.TickPush) error {
	r.ticks <- p
	return nil
}

func connectGateway(t *testing.T, e *env, h model.PushHandler, hooks func(*quotegw.Gateway)) *quotegw.Gateway {
	t.Helper()
	gw, err := quotegw.NewGateway(e.cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if hooks != nil {
		hooks(gw)
	}
	gw.SetPushHandler(symbol, h)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	subs := []model.SubType{model.SubTypeFor(model.KDay), model.SubRTData}
	if err := gw.Subscribe(ctx, []string{symbol}, subs); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, "push client", func() bool { return e.sim.Clients() == 1 })
	return gw
}

func receiveBars(t *testing.T, r *recorder) model.BarPush {
	t.Helper()
	select {
	case p := <-r.bars:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no bar push received")
	}
	return model.BarPush{}
}

func TestGatewayDeliversPushes(t *testing.T) {
	e := newEnv(t, 0)
	rec := newRecorder()
	connectGateway(t, e, rec, nil)

	bar := dayBars(1, time.Date(2026, 3, 2, 0, 0, 0, 0, hkt))[0]
	if n := e.sim.PushBars(symbol, model.KDay, []model.Bar{bar}); n != 1 {
		t.Fatalf("PushBars reached %d clients, want 1", n)
	}
	p := receiveBars(t, rec)
	if p.Err != nil || p.Granularity != model.KDay || p.Symbol != symbol {
		t.Fatalf("push = %+v", p)
	}
	if len(p.Bars) != 1 || !p.Bars[0].TS.Equal(bar.TS) || p.Bars[0].Close != bar.Close || p.Bars[0].Volume != bar.Volume {
		t.Errorf("bars = %+v, want %+v", p.Bars, bar)
	}

	tick := model.Tick{Symbol: symbol, TS: time.Date(2026, 3, 2, 10, 0, 1, 0, hkt), Price: 101.5, AvgPrice: 101.2, Volume: 300}
	e.sim.PushTicks(symbol, []model.Tick{tick})
	select {
	case tp := <-rec.ticks:
		if len(tp.Ticks) != 1 || tp.Ticks[0].Price != 101.5 || !tp.Ticks[0].TS.Equal(tick.TS) {
			t.Errorf("ticks = %+v", tp.Ticks)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick push received")
	}

	e.sim.PushError(symbol, "K_DAY", 1001, "feed interrupted")
	p = receiveBars(t, rec)
	var apiErr *quotegw.APIError
	if !errors.As(p.Err, &apiErr) || apiErr.RetCode != 1001 {
		t.Errorf("expected push APIError, got %v", p.Err)
	}
}

func TestGatewayReconnectsWithNewSession(t *testing.T) {
	e := newEnv(t, 0)
	rec := newRecorder()
	reconnects := make(chan struct{}, 4)
	gw := connectGateway(t, e, rec, func(gw *quotegw.Gateway) {
		gw.Stream().OnReconnect = func() { reconnects <- struct{}{} }
	})

	e.sim.RevokeSessions()
	e.sim.DropClients()

	select {
	case <-reconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("OnReconnect not called")
	}
	waitFor(t, "re-login", func() bool { return gw.Logins() == 2 })
	waitFor(t, "resubscribe", func() bool { return e.sim.Subscribed(symbol, model.SubRTData) })
	waitFor(t, "push client after reconnect", func() bool { return e.sim.Clients() == 1 })

	bar := dayBars(1, time.Date(2026, 3, 3, 0, 0, 0, 0, hkt))[0]
	e.sim.PushBars(symbol, model.KDay, []model.Bar{bar})
	p := receiveBars(t, rec)
	if len(p.Bars) != 1 || !p.Bars[0].TS.Equal(bar.TS) {
		t.Errorf("bars after reconnect = %+v", p.Bars)
	}
}

func TestGatewayCloseIsIdempotent(t *testing.T) {
	e := newEnv(t, 0)
	gw := connectGateway(t, e, newRecorder(), nil)
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "client gone", func() bool { return e.sim.Clients() == 0 })
}

func TestConnectFailsWithoutGateway(t *testing.T) {
	gw, err := quotegw.NewGateway(quotegw.Config{BaseURL: "http://127.0.0.1:1", WSURL: "ws://127.0.0.1:1/ws", Timeout: time.Second}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if err := gw.Close(); err != nil {
		t.Errorf("Close after failed connect: %v", err)
	}
}
