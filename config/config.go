// Package config loads the strategy process settings from the environment,
// after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"masignal/internal/model"
	"masignal/internal/strategy"
	"masignal/pkg/quotegw"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Strategy
	Symbol          string  `envconfig:"STRATEGY_SYMBOL" default:"HK.00700"`
	KType           string  `envconfig:"STRATEGY_KTYPE" default:"K_DAY"`
	ShortPeriod     int     `envconfig:"SHORT_PERIOD" default:"5"`
	LongPeriod      int     `envconfig:"LONG_PERIOD" default:"20"`
	BuyVolumeRatio  float64 `envconfig:"BUY_VOLUME_RATIO" default:"1.2"`
	SellVolumeRatio float64 `envconfig:"SELL_VOLUME_RATIO" default:"0.85"`

	// Confirmations
	MarketSymbol      string `envconfig:"MARKET_SYMBOL" default:"HK.800000"`
	CapitalFlowPeriod string `envconfig:"CAPITAL_FLOW_PERIOD" default:"INTRADAY"`

	// Runtime
	MaxWindowBars int           `envconfig:"MAX_WINDOW_BARS" default:"0"` // 0 = unbounded
	IdleInterval  time.Duration `envconfig:"IDLE_INTERVAL" default:"60s"`
	CalendarTZ    string        `envconfig:"CALENDAR_TZ" default:"Asia/Hong_Kong"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`

	Gateway Gateway

	// Infrastructure; empty Redis or SQLite settings disable that sink.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/bars.db"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`

	// Alerts
	WebhookURL       string `envconfig:"WEBHOOK_URL"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
}

// Gateway holds the quote gateway endpoint and credentials.
type Gateway struct {
	URL        string        `envconfig:"GATEWAY_URL" default:"http://127.0.0.1:11111"`
	WSURL      string        `envconfig:"GATEWAY_WS_URL" default:"ws://127.0.0.1:11111/ws"`
	User       string        `envconfig:"GATEWAY_USER"`
	Password   string        `envconfig:"GATEWAY_PASSWORD"`
	TOTPSecret string        `envconfig:"GATEWAY_TOTP_SECRET"`
	Timeout    time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"7s"`
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	return LoadFrom()
}

// LoadFrom reads the given env files (default .env) and then the
// environment. Missing files are ignored; variables already set win.
func LoadFrom(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting that has a fixed domain.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Symbol) == "" {
		errs = append(errs, errors.New("STRATEGY_SYMBOL is empty"))
	}
	if _, err := c.Granularity(); err != nil {
		errs = append(errs, err)
	}
	if err := c.StrategyConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FlowPeriod(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxWindowBars < 0 {
		errs = append(errs, fmt.Errorf("MAX_WINDOW_BARS must be >= 0, got %d", c.MaxWindowBars))
	}
	if c.MaxWindowBars > 0 && c.MaxWindowBars < c.LongPeriod+1 {
		errs = append(errs, fmt.Errorf("MAX_WINDOW_BARS (%d) leaves no room for a crossover on LONG_PERIOD %d", c.MaxWindowBars, c.LongPeriod))
	}
	if c.IdleInterval <= 0 {
		errs = append(errs, fmt.Errorf("IDLE_INTERVAL must be positive, got %s", c.IdleInterval))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// StrategyConfig returns the crossover parameters.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		ShortPeriod:     c.ShortPeriod,
		LongPeriod:      c.LongPeriod,
		BuyVolumeRatio:  c.BuyVolumeRatio,
		SellVolumeRatio: c.SellVolumeRatio,
	}
}

// Granularity parses STRATEGY_KTYPE.
func (c *Config) Granularity() (model.Granularity, error) {
	return model.ParseGranularity(c.KType)
}

// FlowPeriod parses CAPITAL_FLOW_PERIOD.
func (c *Config) FlowPeriod() (model.FlowPeriod, error) {
	p := model.FlowPeriod(strings.ToUpper(strings.TrimSpace(c.CapitalFlowPeriod)))
	switch p {
	case model.FlowIntraday, model.FlowDay, model.FlowWeek, model.FlowMonth:
		return p, nil
	}
	return "", fmt.Errorf("unknown capital flow period %q", c.CapitalFlowPeriod)
}

// Location loads CALENDAR_TZ.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.CalendarTZ)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TZ: %w", err)
	}
	return loc, nil
}

// QuoteGateway maps the gateway settings onto the client config.
func (c *Config) QuoteGateway(loc *time.Location) quotegw.Config {
	return quotegw.Config{
		BaseURL:    c.Gateway.URL,
		WSURL:      c.Gateway.WSURL,
		User:       c.Gateway.User,
		Password:   c.Gateway.Password,
		TOTPSecret: c.Gateway.TOTPSecret,
		Timeout:    c.Gateway.Timeout,
		Location:   loc,
	}
}

// RedisEnabled reports whether signals are published to Redis.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// SQLiteEnabled reports whether bars are archived.
func (c *Config) SQLiteEnabled() bool { return c.SQLitePath != "" }
