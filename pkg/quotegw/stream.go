package quotegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"masignal/internal/model"
)

// Stream reads push frames from the gateway's WebSocket and hands them to
// the handler registered for each frame's code. It reconnects with
// exponential backoff and replays subscriptions after every reconnect.
type Stream struct {
	client *Client
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]model.PushHandler

	// OnReconnect is called after a connection is lost, before the backoff wait.
	OnReconnect func()
	// OnState is called with true on every successful dial and false on every disconnect.
	OnState func(connected bool)
	// OnFrame is called for every decoded frame with its type and whether a handler took it.
	OnFrame func(frameType string, handled bool)
}

// NewStream creates a push stream sharing client's session.
func NewStream(client *Client) *Stream {
	return &Stream{
		client:   client,
		cfg:      client.cfg,
		dialer:   websocket.DefaultDialer,
		log:      client.log.With(slog.String("stream", "push")),
		handlers: make(map[string]model.PushHandler),
	}
}

// SetPushHandler routes pushes for symbol to h. A nil h removes the route.
func (s *Stream) SetPushHandler(symbol string, h model.PushHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, symbol)
		return
	}
	s.handlers[symbol] = h
}

func (s *Stream) handler(symbol string) model.PushHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[symbol]
}

// Dial opens one connection using the client's session token.
func (s *Stream) Dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("quotegw dial: %w", err)
	}
	q := u.Query()
	q.Set("token", s.client.Token())
	u.RawQuery = q.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("quotegw dial: %w", errUnauthorized)
		}
		return nil, fmt.Errorf("quotegw dial: %w", err)
	}
	s.log.Info("connected", slog.String("url", s.cfg.WSURL))
	if s.OnState != nil {
		s.OnState(true)
	}
	return conn, nil
}

var errUnauthorized = errors.New("session rejected")

// Run serves conn, then keeps reconnecting until ctx is cancelled.
// conn may be nil, in which case Run dials first.
func (s *Stream) Run(ctx context.Context, conn *websocket.Conn) {
	delay := s.cfg.ReconnectDelay

	for {
		if conn != nil {
			err := s.serve(ctx, conn)
			if s.OnState != nil {
				s.OnState(false)
			}
			if err == nil {
				return
			}
			s.log.Warn("disconnected", slog.String("error", err.Error()), slog.Duration("retry_in", delay))
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			conn = nil
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		next, err := s.redial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("reconnect failed", slog.String("error", err.Error()))
			delay *= 2
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}
			continue
		}
		delay = s.cfg.ReconnectDelay
		conn = next
	}
}

// redial dials again, opening a new session when the old token is
// rejected, and replays subscriptions on success.
func (s *Stream) redial(ctx context.Context) (*websocket.Conn, error) {
	conn, err := s.Dial(ctx)
	if errors.Is(err, errUnauthorized) {
		if lerr := s.client.Login(ctx); lerr != nil {
			return nil, lerr
		}
		conn, err = s.Dial(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := s.client.Resubscribe(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("quotegw resubscribe: %w", err)
	}
	return conn, nil
}

// serve reads frames until the connection fails (non-nil error) or ctx is
// cancelled (nil).
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	interval := s.cfg.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(3 * interval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * interval))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
					s.log.Debug("ping failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(3 * interval))

		var f PushFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.Warn("bad frame", slog.String("error", err.Error()))
			continue
		}
		s.dispatch(ctx, f)
	}
}

// dispatch decodes one frame and calls its symbol's handler on this goroutine.
func (s *Stream) dispatch(ctx context.Context, f PushFrame) {
	h := s.handler(f.Code)
	if s.OnFrame != nil {
		s.OnFrame(f.Type, h != nil)
	}
	if h == nil {
		s.log.Debug("no handler for frame", slog.String("code", f.Code), slog.String("type", f.Type))
		return
	}

	var err error
	if f.Type == string(model.SubRTData) {
		err = h.OnTickPush(ctx, s.tickPush(f))
	} else {
		g, perr := model.ParseGranularity(f.Type)
		if perr != nil {
			s.log.Debug("ignoring frame", slog.String("type", f.Type))
			return
		}
		err = h.OnBarPush(ctx, s.barPush(f, g))
	}
	if err != nil {
		s.log.Warn("push handler failed",
			slog.String("code", f.Code),
			slog.String("type", f.Type),
			slog.String("error", err.Error()))
	}
}

func (s *Stream) barPush(f PushFrame, g model.Granularity) model.BarPush {
	p := model.BarPush{Symbol: f.Code, Granularity: g}
	if f.RetCode != RetOK {
		p.Err = &APIError{Op: "push", RetCode: f.RetCode, Msg: f.Msg}
		return p
	}
	var rows []BarDTO
	if err := json.Unmarshal(f.Data, &rows); err != nil {
		p.Err = fmt.Errorf("decode bar push: %w", err)
		return p
	}
	for _, r := range rows {
		b, err := r.Bar(s.cfg.Location)
		if err != nil {
			p.Err = err
			p.Bars = nil
			return p
		}
		if b.Symbol == "" {
			b.Symbol = f.Code
		}
		p.Bars = append(p.Bars, b)
	}
	return p
}

func (s *Stream) tickPush(f PushFrame) model.TickPush {
	p := model.TickPush{Symbol: f.Code}
	if f.RetCode != RetOK {
		p.Err = &APIError{Op: "push", RetCode: f.RetCode, Msg: f.Msg}
		return p
	}
	var rows []TickDTO
	if err := json.Unmarshal(f.Data, &rows); err != nil {
		p.Err = fmt.Errorf("decode tick push: %w", err)
		return p
	}
	for _, r := range rows {
		t, err := r.Tick(s.cfg.Location)
		if err != nil {
			p.Err = err
			p.Ticks = nil
			return p
		}
		if t.Symbol == "" {
			t.Symbol = f.Code
		}
		p.Ticks = append(p.Ticks, t)
	}
	return p
}
