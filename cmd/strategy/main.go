// cmd/strategy runs the moving-average crossover strategy for one symbol.
//
// It connects to the quote gateway, evaluates once at cold start, then
// re-evaluates on every bar push. BUY/SELL signals fan out to Redis, the
// notifiers and the /signal endpoint; every bar is archived to SQLite.
//
// Configuration is read from the environment (and .env); see config.Config.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"masignal/config"
	"masignal/internal/klinecache"
	"masignal/internal/logger"
	"masignal/internal/marketdata/bus"
	"masignal/internal/marketdata/dispatch"
	"masignal/internal/markethours"
	"masignal/internal/metrics"
	"masignal/internal/model"
	"masignal/internal/notification"
	"masignal/internal/ringbuf"
	"masignal/internal/runner"
	redisstore "masignal/internal/store/redis"
	sqlitestore "masignal/internal/store/sqlite"
	"masignal/internal/strategy"
	"masignal/pkg/quotegw"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[strategy] %v", err)
	}
	lg := logger.Init("strategy", logger.ParseLevel(cfg.LogLevel))

	g, _ := cfg.Granularity()
	period, _ := cfg.FlowPeriod()
	loc, _ := cfg.Location()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Symbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("shutdown signal received, cleaning up")
		cancel()
	}()

	var sinks sync.WaitGroup

	// ---- SQLite bar archive (off hot path) ----
	var archive *sqlitestore.Store
	barCh := make(chan model.BarPush, 1024)
	if cfg.SQLiteEnabled() {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		archive, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath}, lg)
		if err != nil {
			lg.Error("sqlite init failed, continuing without archive", slog.Any("error", err))
			archive = nil
		}
	}
	health.SetSQLite(archive != nil, archive != nil)
	if archive != nil {
		archive.OnFlush = func(rows int, err error) {
			if err != nil {
				prom.SQLiteFlushErrors.Inc()
				return
			}
			prom.BarsArchived.Add(float64(rows))
		}
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			archive.Run(ctx, barCh)
		}()
	}
	archiveBars := func(g model.Granularity, bars []model.Bar) {
		if archive == nil {
			return
		}
		select {
		case barCh <- model.BarPush{Symbol: cfg.Symbol, Granularity: g, Bars: bars}:
		default:
			lg.Warn("archive queue full, dropping bars", slog.Int("bars", len(bars)))
		}
	}

	// ---- Redis signal publisher ----
	var publisher *redisstore.SignalWriter
	if cfg.RedisEnabled() {
		publisher, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, lg)
		if err != nil {
			lg.Warn("redis init failed, continuing without publisher", slog.Any("error", err))
			publisher = nil
		} else {
			publisher.OnWrite = func(result string) {
				prom.RedisWrites.WithLabelValues(result).Inc()
			}
		}
	}
	health.SetRedis(cfg.RedisEnabled(), publisher != nil)

	var rdbProbe *goredis.Client
	if publisher != nil {
		rdbProbe = publisher.Client()
	}
	var sqlProbe *sql.DB
	if archive != nil {
		sqlProbe = archive.DB()
	}
	health.StartLivenessChecker(ctx, rdbProbe, sqlProbe, 10*time.Second)

	// ---- Signal fan-out: Redis + notifiers ----
	signalCh := make(chan model.Signal, 256)
	fanout := bus.New[model.Signal](256)
	var subscribers []string

	notifier := notification.Multi{notification.NewLogNotifier(lg)}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	notifyCh := fanout.Subscribe()
	subscribers = append(subscribers, "notify")
	sinks.Add(1)
	go func() {
		defer sinks.Done()
		notification.Forward(ctx, notifier, notifyCh, func(err error) {
			prom.NotifyFailures.Inc()
			lg.Warn("notification failed", slog.Any("error", err))
		})
	}()

	if publisher != nil {
		redisCh := fanout.Subscribe()
		subscribers = append(subscribers, "redis")
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			publisher.Run(ctx, redisCh)
		}()
	}

	recent := ringbuf.New[model.Signal](200)
	historyCh := fanout.Subscribe()
	subscribers = append(subscribers, "history")
	go func() {
		for sig := range historyCh {
			recent.Push(sig)
		}
	}()

	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(subscribers[idx]).Inc()
	}
	go fanout.Run(ctx, signalCh)

	emit := func(sig model.Signal) {
		prom.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
		select {
		case signalCh <- sig:
		default:
			lg.Warn("signal queue full, dropping", slog.String("action", string(sig.Action)))
		}
	}

	// ---- Quote gateway ----
	gw, err := quotegw.NewGateway(cfg.QuoteGateway(loc), lg)
	if err != nil {
		lg.Error("gateway config invalid", slog.Any("error", err))
		os.Exit(1)
	}
	gw.Stream().OnReconnect = func() { prom.GatewayReconnects.Inc() }
	gw.Stream().OnState = health.SetGatewayConnected

	// ---- Strategy ----
	cache := klinecache.New(klinecache.SystemClock, loc)
	cache.OnLookup = prom.CacheHook()

	confirmer := strategy.NewMarketConfirmer(gw, gw, cfg.MarketSymbol, period, lg)
	confirmer.OnFailure = func(kind string) {
		prom.ConfirmFailures.WithLabelValues(kind).Inc()
	}

	strat, err := strategy.New(cfg.Symbol, g, cfg.StrategyConfig(), strategy.Options{
		Cache:     cache,
		History:   gw,
		Confirmer: confirmer,
		Logger:    lg,
		MaxBars:   cfg.MaxWindowBars,
	})
	if err != nil {
		lg.Error("strategy init failed", slog.Any("error", err))
		os.Exit(1)
	}
	strat.OnEvaluate = func(sig model.Signal, took time.Duration) {
		prom.Evaluations.WithLabelValues(string(sig.Action)).Inc()
		prom.EvalDur.Observe(took.Seconds())
	}
	strat.OnHistoryError = func(error) { prom.HistoryErrors.Inc() }
	strat.OnHistoryLoaded = archiveBars

	// ---- Live update dispatcher ----
	disp := dispatch.New(strat, lg)
	disp.OnSignal = emit
	disp.OnBars = archiveBars
	disp.OnPush = func(lane, status string) {
		prom.PushEvents.WithLabelValues(lane, status).Inc()
		if status != dispatch.StatusOK {
			return
		}
		switch lane {
		case dispatch.LaneBar:
			health.SetLastPushTime(time.Now())
		case dispatch.LaneTick:
			health.SetLastTickTime(time.Now())
		}
	}

	// ---- HTTP: /metrics, /healthz, /signal ----
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health, signalBoard{strat, recent}, lg)
	metricsSrv.Start()

	// ---- Periodic state: market session, tick counter, breaker, fan-out ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var ticks int64
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				open := markethours.IsMarketOpen(now)
				health.SetMarketOpen(open)
				if open {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
				if n := disp.TickCount(); n > ticks {
					prom.TicksTotal.Add(float64(n - ticks))
					ticks = n
				}
				if publisher != nil {
					prom.RedisCircuitBreakerState.Set(float64(publisher.Breaker().CurrentState()))
				}
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 && s.Len*2 > s.Cap {
						lg.Warn("signal subscriber lagging", slog.String("subscriber", subscribers[i]), slog.Int("queued", s.Len))
					}
				}
			}
		}
	}()

	// ---- Runner ----
	run := runner.New(gw, strat, disp, runner.Options{
		IdleInterval: cfg.IdleInterval,
		Logger:       lg,
		Status:       markethours.StatusString,
	})
	run.OnSignal = emit
	run.OnConnected = health.SetGatewayConnected

	log.Println("[strategy] ╔═══════════════════════════════════════════════════════════════╗")
	log.Println("[strategy] ║  MA Crossover Strategy                                        ║")
	log.Println("[strategy] ║                                                               ║")
	log.Println("[strategy] ║  [Gateway push] → [Dispatcher] → [Policy] → [Redis/Notify]    ║")
	log.Printf("[strategy] ║  Symbol: %-12s  KType: %-10s  MA: %3d/%-3d           ║", cfg.Symbol, g, cfg.ShortPeriod, cfg.LongPeriod)
	log.Printf("[strategy] ║  Trend ref: %-12s  Flow: %-10s                      ║", cfg.MarketSymbol, period)
	log.Printf("[strategy] ║  Metrics: %-52s║", cfg.MetricsAddr)
	log.Println("[strategy] ╚═══════════════════════════════════════════════════════════════╝")
	lg.Info("market status", slog.String("status", markethours.StatusString(time.Now())))

	exitCode := 0
	if err := run.Run(ctx); err != nil {
		lg.Error("runner stopped", slog.Any("error", err))
		exitCode = 1
		cancel()
	}

	// Sinks flush on cancellation.
	sinks.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		lg.Warn("metrics server stop", slog.Any("error", err))
	}
	if publisher != nil {
		publisher.Close()
	}
	if archive != nil {
		archive.Close()
	}

	lg.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// signalBoard serves the last signal from the strategy and the recent ones
// from the fan-out history.
type signalBoard struct {
	*strategy.MAStrategy
	recent *ringbuf.Ring[model.Signal]
}

func (b signalBoard) RecentSignals(n int) []model.Signal {
	return b.recent.Last(n)
}
