// cmd/mockgateway serves a simulated quote gateway for local development.
// It speaks the same REST + WebSocket protocol as the real gateway, seeds a
// random-walk bar history per symbol and then emits one new bar per
// interval, plus intraday ticks.
//
// Config (env vars):
//
//	MOCKGW_ADDR           listen address (default ":11111")
//	MOCKGW_SYMBOLS        comma-separated codes (default "HK.00700,HK.800000")
//	MOCKGW_KTYPE          pushed bar granularity (default "K_DAY")
//	MOCKGW_SEED_BARS      history length per symbol (default 120)
//	MOCKGW_BAR_INTERVAL   time between new bars (default 5s)
//	MOCKGW_TICK_INTERVAL  time between ticks (default 500ms)
//	GATEWAY_USER / GATEWAY_PASSWORD / GATEWAY_TOTP_SECRET  accepted credentials
package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"masignal/internal/logger"
	"masignal/internal/marketdata/gatewaysim"
	"masignal/internal/markethours"
	"masignal/internal/model"
)

type settings struct {
	Addr         string        `envconfig:"MOCKGW_ADDR" default:":11111"`
	Symbols      []string      `envconfig:"MOCKGW_SYMBOLS" default:"HK.00700,HK.800000"`
	KType        string        `envconfig:"MOCKGW_KTYPE" default:"K_DAY"`
	SeedBars     int           `envconfig:"MOCKGW_SEED_BARS" default:"120"`
	BarInterval  time.Duration `envconfig:"MOCKGW_BAR_INTERVAL" default:"5s"`
	TickInterval time.Duration `envconfig:"MOCKGW_TICK_INTERVAL" default:"500ms"`
	User         string        `envconfig:"GATEWAY_USER"`
	Password     string        `envconfig:"GATEWAY_PASSWORD"`
	TOTPSecret   string        `envconfig:"GATEWAY_TOTP_SECRET"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	code      string
	price     float64
	prevClose float64
	day       time.Time
	volume    int64
}

// walkPrice applies a small random walk (±1.5%) per bar.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*3 - 1.5) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// nextTradingDay skips weekends and exchange holidays.
func nextTradingDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, 1)
		if markethours.IsTradingDay(d) {
			return d
		}
	}
}

func (in *instrument) nextBar(rng *rand.Rand) model.Bar {
	in.day = nextTradingDay(in.day)
	open := in.price
	in.prevClose = in.price
	in.price = walkPrice(rng, in.price)
	hi, lo := max(open, in.price), min(open, in.price)
	vol := int64(float64(in.volume) * (0.5 + rng.Float64()))
	return model.Bar{
		Symbol:   in.code,
		TS:       in.day,
		Open:     round3(open),
		High:     round3(hi * (1 + rng.Float64()*0.005)),
		Low:      round3(lo * (1 - rng.Float64()*0.005)),
		Close:    round3(in.price),
		Volume:   vol,
		Turnover: round3(float64(vol) * in.price),
	}
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func startPrice(code string) float64 {
	defaults := map[string]float64{
		"HK.00700":  380,
		"HK.09988":  85,
		"HK.800000": 20000,
	}
	if p, ok := defaults[code]; ok {
		return p
	}
	return 100
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[mockgateway] starting simulated quote gateway...")

	_ = godotenv.Load()
	var cfg settings
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("[mockgateway] config: %v", err)
	}
	g, err := model.ParseGranularity(cfg.KType)
	if err != nil {
		log.Fatalf("[mockgateway] %v", err)
	}
	if len(cfg.Symbols) == 0 {
		log.Fatalf("[mockgateway] no symbols configured via MOCKGW_SYMBOLS")
	}

	lg := logger.Init("mockgateway", logger.ParseLevel(cfg.LogLevel))
	sim := gatewaysim.New(gatewaysim.Config{
		User:       cfg.User,
		Password:   cfg.Password,
		TOTPSecret: cfg.TOTPSecret,
		Location:   markethours.HKT,
	}, lg)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	today := time.Now().In(markethours.HKT)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, markethours.HKT).
		AddDate(0, 0, -cfg.SeedBars*7/5-10)

	instruments := make([]*instrument, 0, len(cfg.Symbols))
	for _, code := range cfg.Symbols {
		code = strings.TrimSpace(code)
		in := &instrument{code: code, price: startPrice(code), day: start, volume: 1_000_000}
		bars := make([]model.Bar, 0, cfg.SeedBars)
		for i := 0; i < cfg.SeedBars; i++ {
			bars = append(bars, in.nextBar(rng))
		}
		sim.SetBars(code, g, bars)
		publishQuotes(sim, rng, in)
		instruments = append(instruments, in)
		log.Printf("[mockgateway] %s seeded with %d bars, last close %.3f", code, len(bars), in.price)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runGenerator(ctx, sim, rng, instruments, g, cfg.BarInterval, cfg.TickInterval)

	srv := &http.Server{Addr: cfg.Addr, Handler: sim.Handler()}
	go func() {
		log.Printf("[mockgateway] listening on %s  (WebSocket: ws://localhost%s/ws)", cfg.Addr, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[mockgateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[mockgateway] shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// runGenerator emits a new bar per barEvery and a tick per tickEvery for
// every instrument. The rng is only touched from this goroutine.
func runGenerator(ctx context.Context, sim *gatewaysim.Server, rng *rand.Rand, instruments []*instrument, g model.Granularity, barEvery, tickEvery time.Duration) {
	bars := time.NewTicker(barEvery)
	defer bars.Stop()
	ticks := time.NewTicker(tickEvery)
	defer ticks.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bars.C:
			for _, in := range instruments {
				b := in.nextBar(rng)
				n := sim.PushBars(in.code, g, []model.Bar{b})
				publishQuotes(sim, rng, in)
				log.Printf("[mockgateway] %s bar %s close=%.3f → %d clients",
					in.code, b.TS.Format("2006-01-02"), b.Close, n)
			}
		case now := <-ticks.C:
			for _, in := range instruments {
				px := round3(in.price * (1 + (rng.Float64()*0.2-0.1)/100))
				sim.PushTicks(in.code, []model.Tick{{
					Symbol:   in.code,
					TS:       now,
					Price:    px,
					AvgPrice: round3((in.prevClose + in.price) / 2),
					Volume:   int64(rng.Intn(5000) + 100),
				}})
			}
		}
	}
}

// publishQuotes refreshes the snapshot and capital flow of in.
func publishQuotes(sim *gatewaysim.Server, rng *rand.Rand, in *instrument) {
	now := time.Now()
	change := 0.0
	if in.prevClose > 0 {
		change = (in.price - in.prevClose) / in.prevClose * 100
	}
	sim.SetSnapshot(model.MarketSnapshot{
		Symbol:     in.code,
		LastPrice:  round3(in.price),
		PrevClose:  round3(in.prevClose),
		ChangeRate: change,
		UpdateTime: now,
	})
	mainFlow := (rng.Float64()*2 - 1) * 5e7
	sim.SetCapitalFlow(in.code, model.CapitalFlow{
		Symbol:        in.code,
		MainInflow:    mainFlow,
		SuperInflow:   mainFlow * 0.6,
		BigInflow:     mainFlow * 0.4,
		MidInflow:     (rng.Float64()*2 - 1) * 1e7,
		SmallInflow:   (rng.Float64()*2 - 1) * 1e7,
		LastValidTime: now,
	})
}
