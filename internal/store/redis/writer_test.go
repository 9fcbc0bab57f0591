package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"masignal/internal/logger"
	"masignal/internal/model"
)

// unreachableWriter points at a closed port so every pipeline fails fast.
func unreachableWriter(maxFailures int) *SignalWriter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewWithClient(client, WriterConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour}, logger.Discard())
}

func TestWriteSignal_SkipsNone(t *testing.T) {
	w := unreachableWriter(1)
	defer w.Close()

	var results []string
	w.OnWrite = func(r string) { results = append(results, r) }

	if err := w.WriteSignal(context.Background(), model.Signal{Symbol: "HK.00700", Action: model.ActionNone}); err != nil {
		t.Fatalf("NONE should be a no-op, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("NONE must not reach Redis, results=%v", results)
	}
}

func TestWriteSignal_BreakerOpensOnUnreachableRedis(t *testing.T) {
	w := unreachableWriter(2)
	defer w.Close()

	var results []string
	w.OnWrite = func(r string) { results = append(results, r) }

	sig := model.Signal{Symbol: "HK.00700", Action: model.ActionBuy, BarTS: time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)}
	for i := 0; i < 2; i++ {
		if err := w.WriteSignal(context.Background(), sig); err == nil || err == ErrCircuitOpen {
			t.Fatalf("write %d: expected a pipeline error, got %v", i, err)
		}
	}
	if err := w.WriteSignal(context.Background(), sig); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	want := []string{"error", "error", "rejected"}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d = %s, want %s", i, results[i], want[i])
		}
	}
}

func TestSignalKeys(t *testing.T) {
	sig := model.Signal{Symbol: "HK.00700"}
	if sig.StreamKey() != "signal:HK.00700" || sig.LatestKey() != "signal:latest:HK.00700" || sig.PubSubChannel() != "pub:signal:HK.00700" {
		t.Errorf("unexpected keys %s %s %s", sig.StreamKey(), sig.LatestKey(), sig.PubSubChannel())
	}
}
