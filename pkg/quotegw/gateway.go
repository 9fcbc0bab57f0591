package quotegw

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"masignal/internal/model"
)

// Gateway bundles the REST client and the push stream behind one
// connection lifecycle.
type Gateway struct {
	*Client
	stream *Stream

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewGateway creates an unconnected gateway.
func NewGateway(cfg Config, log *slog.Logger) (*Gateway, error) {
	c, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Gateway{Client: c, stream: NewStream(c)}, nil
}

// Stream exposes the push stream for hooks.
func (g *Gateway) Stream() *Stream { return g.stream }

// SetPushHandler routes pushes for symbol to h.
func (g *Gateway) SetPushHandler(symbol string, h model.PushHandler) {
	g.stream.SetPushHandler(symbol, h)
}

// Connect logs in and opens the push stream. The stream keeps
// reconnecting in the background until ctx is cancelled or Close is called.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return errors.New("quotegw: already connected")
	}

	if err := g.Login(ctx); err != nil {
		return err
	}
	conn, err := g.stream.Dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.stream.Run(runCtx, conn)
	}()
	return nil
}

// Close stops the stream and waits for its goroutine. Safe to call more than once.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		cancel, done := g.cancel, g.done
		g.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
	return nil
}
