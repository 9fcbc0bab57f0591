// Package quotegw is a client for the quote gateway: REST queries for
// history, snapshots and capital flow, plus a WebSocket push stream.
//
// Usage example:
//
//	gw, err := quotegw.NewGateway(quotegw.Config{BaseURL: "http://127.0.0.1:11111", WSURL: "ws://127.0.0.1:11111/ws"}, log)
//	if err != nil { return err }
//	if err := gw.Connect(ctx); err != nil { return err }
//	bars, err := gw.FetchHistory(ctx, "HK.00700", model.KDay, 40)
package quotegw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"masignal/internal/model"
)

// ---- Config & client ----

type Config struct {
	BaseURL    string // default: http://127.0.0.1:11111
	WSURL      string // default: ws://127.0.0.1:11111/ws
	User       string
	Password   string
	TOTPSecret string // base32; empty sends no code

	Timeout  time.Duration  // default: 7s
	Location *time.Location // exchange calendar for time_key; default UTC

	ReconnectDelay    time.Duration // default: 2s
	MaxReconnectDelay time.Duration // default: 30s
	HeartbeatInterval time.Duration // default: 10s
}

const (
	defaultBaseURL = "http://127.0.0.1:11111"
	defaultWSURL   = "ws://127.0.0.1:11111/ws"
)

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = defaultWSURL
	}
	if c.Timeout == 0 {
		c.Timeout = 7 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
}

// Client issues REST requests against the gateway.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	token  string
	subs   map[string][]model.SubType // symbol -> subtypes, replayed after reconnect
	nsubs  []string                   // subscription order
	logins int

	// SessionExpiryHook is called when a request is rejected with HTTP 401.
	SessionExpiryHook func()
}

// NewClient validates cfg and creates a client. No request is made.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("quotegw: base url: %w", err)
	}
	if _, err := url.Parse(cfg.WSURL); err != nil {
		return nil, fmt.Errorf("quotegw: ws url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    u,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With(slog.String("component", "quotegw")),
		now:        time.Now,
		subs:       make(map[string][]model.SubType),
	}, nil
}

// Location returns the calendar used to read time keys.
func (c *Client) Location() *time.Location { return c.cfg.Location }

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Logins reports how many sessions were opened.
func (c *Client) Logins() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logins
}

// Login opens a session, generating a one-time code from the TOTP secret.
func (c *Client) Login(ctx context.Context) error {
	req := LoginRequest{User: c.cfg.User, Password: c.cfg.Password}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
		if err != nil {
			return fmt.Errorf("quotegw login: totp: %w", err)
		}
		req.TOTP = code
	}

	var resp LoginResponse
	if _, err := c.doRequest(ctx, "login", http.MethodPost, RouteLogin, nil, req, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return &APIError{Op: "login", RetCode: -1, Msg: "empty token"}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.logins++
	c.mu.Unlock()
	c.log.Info("session opened", slog.String("user", c.cfg.User))
	return nil
}

// FetchHistory returns up to maxCount of the most recent bars, oldest
// first, following page_req_key until the gateway has no more pages.
func (c *Client) FetchHistory(ctx context.Context, symbol string, g model.Granularity, maxCount int) ([]model.Bar, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("quotegw history: max_count must be positive, got %d", maxCount)
	}
	var (
		out  []model.Bar
		page string
	)
	for len(out) < maxCount {
		q := url.Values{}
		q.Set("code", symbol)
		q.Set("ktype", string(g))
		q.Set("max_count", strconv.Itoa(maxCount-len(out)))
		if page != "" {
			q.Set("page_req_key", page)
		}

		var rows []BarDTO
		next, err := c.doRequest(ctx, "history", http.MethodGet, RouteHistory, q, nil, &rows)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			b, err := r.Bar(c.cfg.Location)
			if err != nil {
				return nil, fmt.Errorf("quotegw history: %w", err)
			}
			if b.Symbol == "" {
				b.Symbol = symbol
			}
			out = append(out, b)
		}
		if next == "" || len(rows) == 0 {
			break
		}
		page = next
	}
	if len(out) > maxCount {
		out = out[len(out)-maxCount:]
	}
	return out, nil
}

// FetchSnapshot returns the market snapshot of symbol.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (model.MarketSnapshot, error) {
	q := url.Values{}
	q.Set("code", symbol)
	var rows []SnapshotDTO
	if _, err := c.doRequest(ctx, "snapshot", http.MethodGet, RouteSnapshot, q, nil, &rows); err != nil {
		return model.MarketSnapshot{}, err
	}
	if len(rows) == 0 {
		return model.MarketSnapshot{}, &APIError{Op: "snapshot", RetCode: -1, Msg: "no snapshot for " + symbol}
	}
	r := rows[0]
	snap := model.MarketSnapshot{
		Symbol:     r.Code,
		LastPrice:  r.LastPrice,
		PrevClose:  r.PrevClosePrice,
		ChangeRate: r.ChangeRate,
	}
	if r.UpdateTime != "" {
		if ts, err := time.ParseInLocation(TimeKeyLayout, r.UpdateTime, c.cfg.Location); err == nil {
			snap.UpdateTime = ts
		}
	}
	return snap, nil
}

// FetchCapitalFlow returns the latest capital-flow record of symbol.
func (c *Client) FetchCapitalFlow(ctx context.Context, symbol string, period model.FlowPeriod) (model.CapitalFlow, error) {
	q := url.Values{}
	q.Set("code", symbol)
	q.Set("period_type", string(period))
	var rows []CapitalFlowDTO
	if _, err := c.doRequest(ctx, "capital_flow", http.MethodGet, RouteCapitalFlow, q, nil, &rows); err != nil {
		return model.CapitalFlow{}, err
	}
	if len(rows) == 0 {
		return model.CapitalFlow{}, &APIError{Op: "capital_flow", RetCode: -1, Msg: "no capital flow for " + symbol}
	}
	r := rows[len(rows)-1]
	flow := model.CapitalFlow{
		Symbol:      symbol,
		MainInflow:  r.MainInFlow,
		SuperInflow: r.SuperInFlow,
		BigInflow:   r.BigInFlow,
		MidInflow:   r.MidInFlow,
		SmallInflow: r.SmlInFlow,
	}
	if ts, err := time.ParseInLocation(TimeKeyLayout, r.LastValidTime, c.cfg.Location); err == nil {
		flow.LastValidTime = ts
	}
	return flow, nil
}

// Subscribe registers push subtypes for symbols and remembers them so a
// reconnecting stream can replay the request.
func (c *Client) Subscribe(ctx context.Context, symbols []string, subs []model.SubType) error {
	if len(symbols) == 0 || len(subs) == 0 {
		return errors.New("quotegw subscribe: empty code or subtype list")
	}
	if err := c.subscribe(ctx, symbols, subs); err != nil {
		return err
	}
	c.mu.Lock()
	for _, s := range symbols {
		if _, ok := c.subs[s]; !ok {
			c.nsubs = append(c.nsubs, s)
		}
		c.subs[s] = mergeSubTypes(c.subs[s], subs)
	}
	c.mu.Unlock()
	return nil
}

// Resubscribe replays every remembered subscription.
func (c *Client) Resubscribe(ctx context.Context) error {
	c.mu.RLock()
	type entry struct {
		symbol string
		subs   []model.SubType
	}
	entries := make([]entry, 0, len(c.nsubs))
	for _, s := range c.nsubs {
		entries = append(entries, entry{s, append([]model.SubType(nil), c.subs[s]...)})
	}
	c.mu.RUnlock()

	for _, e := range entries {
		if err := c.subscribe(ctx, []string{e.symbol}, e.subs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context, symbols []string, subs []model.SubType) error {
	req := SubscribeRequest{CodeList: symbols}
	for _, s := range subs {
		req.SubTypeList = append(req.SubTypeList, string(s))
	}
	_, err := c.doRequest(ctx, "subscribe", http.MethodPost, RouteSubscribe, nil, req, nil)
	return err
}

func mergeSubTypes(have, add []model.SubType) []model.SubType {
	seen := make(map[model.SubType]bool, len(have))
	for _, s := range have {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			have = append(have, s)
			seen[s] = true
		}
	}
	return have
}

// ---- Request helper ----

// doRequest sends one request and decodes the envelope's data into out.
// It returns the envelope's next_page_req_key.
func (c *Client) doRequest(ctx context.Context, op, method, route string, query url.Values, body any, out any) (string, error) {
	u := c.baseURL.JoinPath(route)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("quotegw %s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return "", fmt.Errorf("quotegw %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("quotegw %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("quotegw %s: read body: %w", op, err)
	}
	c.log.Debug("request",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized && c.SessionExpiryHook != nil {
		c.SessionExpiryHook()
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("quotegw %s: http %d", op, resp.StatusCode)
		}
		return "", fmt.Errorf("quotegw %s: decode envelope: %w", op, err)
	}
	if env.RetCode != RetOK {
		return "", &APIError{Op: op, RetCode: env.RetCode, Msg: env.Msg}
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("quotegw %s: http %d", op, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("quotegw %s: decode data: %w", op, err)
		}
	}
	return env.NextPageReqKey, nil
}
