// Package gatewaysim is an in-process quote gateway speaking the same REST
// and WebSocket protocol as the real one. It backs cmd/mockgateway and the
// gateway client tests.
package gatewaysim

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"masignal/internal/model"
	"masignal/pkg/quotegw"
)

// Return codes used by the simulator.
const (
	RetBadRequest = 400
	RetAuth       = 401
	RetNotFound   = 404
)

// Config holds the simulator's accepted credentials.
type Config struct {
	User       string
	Password   string
	TOTPSecret string // empty skips one-time code validation
	Location   *time.Location
	PageSize   int // history page size, default 500
}

type seriesKey struct {
	code  string
	ktype model.Granularity
}

type failure struct {
	retCode int
	msg     string
}

// Server holds the simulated market and its sessions.
type Server struct {
	cfg Config
	log *slog.Logger
	hub *hub

	upgrader websocket.Upgrader

	mu        sync.RWMutex
	bars      map[seriesKey][]model.Bar
	snapshots map[string]model.MarketSnapshot
	flows     map[string][]model.CapitalFlow
	tokens    map[string]bool
	subs      map[string]map[model.SubType]bool
	fail      map[string]failure
	requests  map[string]int
}

// New creates an empty simulator.
func New(cfg Config, log *slog.Logger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log.With(slog.String("component", "gatewaysim")),
		hub: newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		bars:      make(map[seriesKey][]model.Bar),
		snapshots: make(map[string]model.MarketSnapshot),
		flows:     make(map[string][]model.CapitalFlow),
		tokens:    make(map[string]bool),
		subs:      make(map[string]map[model.SubType]bool),
		fail:      make(map[string]failure),
		requests:  make(map[string]int),
	}
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(quotegw.RouteLogin, s.handleLogin)
	mux.HandleFunc(quotegw.RouteHistory, s.authed(quotegw.RouteHistory, s.handleHistory))
	mux.HandleFunc(quotegw.RouteSnapshot, s.authed(quotegw.RouteSnapshot, s.handleSnapshot))
	mux.HandleFunc(quotegw.RouteCapitalFlow, s.authed(quotegw.RouteCapitalFlow, s.handleCapitalFlow))
	mux.HandleFunc(quotegw.RouteSubscribe, s.authed(quotegw.RouteSubscribe, s.handleSubscribe))
	mux.HandleFunc(quotegw.RoutePush, s.handlePush)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"gatewaysim"}`))
	})
	return mux
}

// ---- Market state ----

// SetBars replaces the stored series for (code, g).
func (s *Server) SetBars(code string, g model.Granularity, bars []model.Bar) {
	cp := append([]model.Bar(nil), bars...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].TS.Before(cp[j].TS) })
	s.mu.Lock()
	s.bars[seriesKey{code, g}] = cp
	s.mu.Unlock()
}

// Bars returns a copy of the stored series for (code, g).
func (s *Server) Bars(code string, g model.Granularity) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Bar(nil), s.bars[seriesKey{code, g}]...)
}

// SetSnapshot stores the snapshot returned for snap.Symbol.
func (s *Server) SetSnapshot(snap model.MarketSnapshot) {
	s.mu.Lock()
	s.snapshots[snap.Symbol] = snap
	s.mu.Unlock()
}

// SetCapitalFlow stores the capital-flow records for code, oldest first.
func (s *Server) SetCapitalFlow(code string, flows ...model.CapitalFlow) {
	s.mu.Lock()
	s.flows[code] = append([]model.CapitalFlow(nil), flows...)
	s.mu.Unlock()
}

// FailRoute makes every request to route answer with retCode until
// cleared with retCode 0.
func (s *Server) FailRoute(route string, retCode int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if retCode == quotegw.RetOK {
		delete(s.fail, route)
		return
	}
	s.fail[route] = failure{retCode, msg}
}

// Requests returns how many requests route has served.
func (s *Server) Requests(route string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[route]
}

// Subscribed reports whether code is subscribed to sub.
func (s *Server) Subscribed(code string, sub model.SubType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[code][sub]
}

// Clients returns the number of connected push clients.
func (s *Server) Clients() int { return s.hub.len() }

// DropClients closes every push connection.
func (s *Server) DropClients() { s.hub.dropAll() }

// RevokeSessions invalidates every token and subscription.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	s.tokens = make(map[string]bool)
	s.subs = make(map[string]map[model.SubType]bool)
	s.mu.Unlock()
}

// ---- Push ----

// PushBars upserts bars into the (code, g) series and pushes them when
// code is subscribed to g. It returns how many clients took the frame.
func (s *Server) PushBars(code string, g model.Granularity, bars []model.Bar) int {
	s.mu.Lock()
	k := seriesKey{code, g}
	w := model.NewBarWindow(s.bars[k])
	w.Merge(bars)
	s.bars[k] = w.Bars()
	subscribed := s.subs[code][model.SubTypeFor(g)]
	s.mu.Unlock()

	if !subscribed {
		return 0
	}
	rows := make([]quotegw.BarDTO, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, quotegw.NewBarDTO(b, s.cfg.Location))
	}
	return s.push(quotegw.PushFrame{Type: string(g), Code: code}, rows)
}

// PushTicks pushes time-share records when code is subscribed to RT_DATA.
func (s *Server) PushTicks(code string, ticks []model.Tick) int {
	if !s.Subscribed(code, model.SubRTData) {
		return 0
	}
	rows := make([]quotegw.TickDTO, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, quotegw.TickDTO{
			Code:     code,
			Time:     t.TS.In(s.cfg.Location).Format(quotegw.TimeKeyLayout),
			CurPrice: t.Price,
			AvgPrice: t.AvgPrice,
			Volume:   t.Volume,
		})
	}
	return s.push(quotegw.PushFrame{Type: string(model.SubRTData), Code: code}, rows)
}

// PushError pushes a failed frame of the given type.
func (s *Server) PushError(code, frameType string, retCode int, msg string) int {
	return s.push(quotegw.PushFrame{Type: frameType, Code: code, RetCode: retCode, Msg: msg}, nil)
}

func (s *Server) push(f quotegw.PushFrame, data any) int {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.Error("encode push", slog.String("error", err.Error()))
			return 0
		}
		f.Data = raw
	}
	msg, err := json.Marshal(f)
	if err != nil {
		s.log.Error("encode frame", slog.String("error", err.Error()))
		return 0
	}
	return s.hub.broadcast(msg)
}

// ---- HTTP handlers ----

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.count(quotegw.RouteLogin)
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, quotegw.Envelope{RetCode: RetBadRequest, Msg: "method not allowed"})
		return
	}
	if f, ok := s.failure(quotegw.RouteLogin); ok {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: f.retCode, Msg: f.msg})
		return
	}
	var req quotegw.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, quotegw.Envelope{RetCode: RetBadRequest, Msg: "bad login body"})
		return
	}
	if req.User != s.cfg.User || req.Password != s.cfg.Password {
		writeEnvelope(w, http.StatusUnauthorized, quotegw.Envelope{RetCode: RetAuth, Msg: "invalid credentials"})
		return
	}
	if s.cfg.TOTPSecret != "" && !totp.Validate(req.TOTP, s.cfg.TOTPSecret) {
		writeEnvelope(w, http.StatusUnauthorized, quotegw.Envelope{RetCode: RetAuth, Msg: "invalid totp"})
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()
	s.log.Info("session opened", slog.String("user", req.User))
	writeData(w, quotegw.LoginResponse{Token: token}, "")
}

func (s *Server) authed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.count(route)
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.validToken(tok) {
			writeEnvelope(w, http.StatusUnauthorized, quotegw.Envelope{RetCode: RetAuth, Msg: "session expired"})
			return
		}
		if f, ok := s.failure(route); ok {
			writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: f.retCode, Msg: f.msg})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	g, err := model.ParseGranularity(q.Get("ktype"))
	if err != nil {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetBadRequest, Msg: err.Error()})
		return
	}
	maxCount, err := strconv.Atoi(q.Get("max_count"))
	if err != nil || maxCount <= 0 {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetBadRequest, Msg: "max_count must be a positive integer"})
		return
	}
	offset := 0
	if key := q.Get("page_req_key"); key != "" {
		if offset, err = strconv.Atoi(key); err != nil || offset < 0 {
			writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetBadRequest, Msg: "bad page_req_key"})
			return
		}
	}

	series := s.Bars(code, g)
	if len(series) == 0 {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetNotFound, Msg: "no kline for " + code})
		return
	}

	// The first request selects the newest bars; later pages walk forward
	// from offset, which indexes the full series.
	if offset == 0 && len(series) > maxCount {
		offset = len(series) - maxCount
	}
	end := offset + min(maxCount, s.cfg.PageSize)
	if end > len(series) {
		end = len(series)
	}
	if offset > end {
		offset = end
	}
	rows := make([]quotegw.BarDTO, 0, end-offset)
	for _, b := range series[offset:end] {
		rows = append(rows, quotegw.NewBarDTO(b, s.cfg.Location))
	}
	next := ""
	if end < len(series) && len(rows) < maxCount {
		next = strconv.Itoa(end)
	}
	writeData(w, rows, next)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	s.mu.RLock()
	snap, ok := s.snapshots[code]
	s.mu.RUnlock()
	if !ok {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetNotFound, Msg: "no snapshot for " + code})
		return
	}
	writeData(w, []quotegw.SnapshotDTO{{
		Code:           snap.Symbol,
		LastPrice:      snap.LastPrice,
		PrevClosePrice: snap.PrevClose,
		ChangeRate:     snap.ChangeRate,
		UpdateTime:     snap.UpdateTime.In(s.cfg.Location).Format(quotegw.TimeKeyLayout),
	}}, "")
}

func (s *Server) handleCapitalFlow(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	s.mu.RLock()
	flows := s.flows[code]
	s.mu.RUnlock()
	if len(flows) == 0 {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetNotFound, Msg: "no capital flow for " + code})
		return
	}
	rows := make([]quotegw.CapitalFlowDTO, 0, len(flows))
	for _, f := range flows {
		rows = append(rows, quotegw.CapitalFlowDTO{
			LastValidTime: f.LastValidTime.In(s.cfg.Location).Format(quotegw.TimeKeyLayout),
			InFlow:        f.MainInflow + f.SmallInflow + f.MidInflow,
			MainInFlow:    f.MainInflow,
			SuperInFlow:   f.SuperInflow,
			BigInFlow:     f.BigInflow,
			MidInFlow:     f.MidInflow,
			SmlInFlow:     f.SmallInflow,
		})
	}
	writeData(w, rows, "")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req quotegw.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CodeList) == 0 || len(req.SubTypeList) == 0 {
		writeEnvelope(w, http.StatusOK, quotegw.Envelope{RetCode: RetBadRequest, Msg: "code_list and subtype_list are required"})
		return
	}
	s.mu.Lock()
	for _, code := range req.CodeList {
		if s.subs[code] == nil {
			s.subs[code] = make(map[model.SubType]bool)
		}
		for _, st := range req.SubTypeList {
			s.subs[code][model.SubType(st)] = true
		}
	}
	s.mu.Unlock()
	writeData(w, nil, "")
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	s.count(quotegw.RoutePush)
	if !s.validToken(r.URL.Query().Get("token")) {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.log.Info("client connected", slog.String("remote", r.RemoteAddr))

	ch := s.hub.register(conn)
	defer func() {
		s.hub.unregister(conn)
		conn.Close()
		s.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
	}()

	// Reader: answers pings and notices a closed peer.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump.
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ---- helpers ----

func (s *Server) count(route string) {
	s.mu.Lock()
	s.requests[route]++
	s.mu.Unlock()
}

func (s *Server) failure(route string) (failure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fail[route]
	return f, ok
}

func (s *Server) validToken(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[tok]
}

func writeData(w http.ResponseWriter, data any, next string) {
	env := quotegw.Envelope{RetCode: quotegw.RetOK, NextPageReqKey: next}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			writeEnvelope(w, http.StatusInternalServerError, quotegw.Envelope{RetCode: 500, Msg: err.Error()})
			return
		}
		env.Data = raw
	}
	writeEnvelope(w, http.StatusOK, env)
}

func writeEnvelope(w http.ResponseWriter, status int, env quotegw.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
