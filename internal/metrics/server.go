package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"masignal/internal/model"
)

// SignalSource exposes the last emitted signal.
type SignalSource interface {
	LastSignal() (model.Signal, bool)
}

// SignalHandler serves the last BUY/SELL as JSON, or 204 when none was emitted yet.
func SignalHandler(src SignalSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sig, ok := src.LastSignal()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sig)
	}
}

// HistorySource exposes recently emitted signals, oldest first.
type HistorySource interface {
	RecentSignals(n int) []model.Signal
}

// SignalsHandler serves up to ?limit= (default 50) recent signals as a JSON array.
func SignalsHandler(src HistorySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		sigs := src.RecentSignals(limit)
		if sigs == nil {
			sigs = []model.Signal{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sigs)
	}
}

// Server runs an HTTP server exposing /metrics, /healthz, /signal and /signals.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates the server. gatherer is usually prometheus.DefaultGatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, signals SignalSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: NewMux(gatherer, health, signals),
		},
		log: log.With(slog.String("component", "metrics")),
	}
}

// NewMux builds the route table.
func NewMux(gatherer prometheus.Gatherer, health *HealthStatus, signals SignalSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	if signals != nil {
		mux.Handle("/signal", SignalHandler(signals))
		if h, ok := signals.(HistorySource); ok {
			mux.Handle("/signals", SignalsHandler(h))
		}
	}
	return mux
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
