package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"masignal/internal/logger"
	"masignal/internal/model"
)

func buySignal() model.Signal {
	return model.Signal{
		Symbol:   "HK.00700",
		Action:   model.ActionBuy,
		BarTS:    time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC),
		Close:    110,
		ShortMA:  102,
		LongMA:   100.5,
		Volume:   2000,
		VolumeMA: 1200,
		Reason:   "golden cross confirmed",
	}
}

func TestWebhookNotifier_PostsSignal(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), SignalAlert(buySignal())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Title != "BUY HK.00700" || got.Signal == nil || got.Signal.Close != 110 || got.TS == "" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifier_EscapesMarkdown(t *testing.T) {
	var body map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("123:abc", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), SignalAlert(buySignal())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if body["chat_id"] != "42" || !strings.Contains(body["text"], `HK\.00700`) {
		t.Errorf("unexpected body %v", body)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestForward_SkipsNoneAndReportsErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	n := Multi{NewLogNotifier(logger.Discard()), rec}

	ch := make(chan model.Signal, 3)
	ch <- model.Signal{Symbol: "HK.00700", Action: model.ActionNone}
	ch <- buySignal()
	close(ch)

	var errs []error
	Forward(context.Background(), n, ch, func(err error) { errs = append(errs, err) })

	if len(rec.alerts) != 1 || rec.alerts[0].Signal.Action != model.ActionBuy {
		t.Fatalf("alerts = %+v", rec.alerts)
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v, want one", errs)
	}
}
