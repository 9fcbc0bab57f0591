package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"masignal/internal/logger"
	"masignal/internal/model"
)

var day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "bars.db")}, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dayBar(i int, close float64) model.Bar {
	return model.Bar{Symbol: "HK.00700", TS: day0.AddDate(0, 0, i), Open: close, High: close + 1, Low: close - 1, Close: close, Volume: int64(1000 + i)}
}

func TestSaveBars_UpsertAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBars(model.KDay, []model.Bar{dayBar(2, 102), dayBar(0, 100), dayBar(1, 101)}); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	if err := s.SaveBars(model.KDay, []model.Bar{dayBar(1, 150)}); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	bars, err := s.ReadBars(ctx, "HK.00700", model.KDay, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	for i, b := range bars {
		if !b.TS.Equal(day0.AddDate(0, 0, i)) {
			t.Errorf("bar %d ts = %v, not ascending", i, b.TS)
		}
	}
	if bars[1].Close != 150 {
		t.Errorf("same-key write should replace, close = %v", bars[1].Close)
	}

	after, err := s.ReadBars(ctx, "HK.00700", model.KDay, day0)
	if err != nil || len(after) != 2 {
		t.Errorf("ReadBars after day0: %d bars, err %v", len(after), err)
	}

	other, _ := s.ReadBars(ctx, "HK.00700", model.KWeek, time.Time{})
	if len(other) != 0 {
		t.Errorf("granularities must not mix, got %d weekly bars", len(other))
	}
}

func TestFetchHistory_NewestAscending(t *testing.T) {
	s := openTestStore(t)
	var bars []model.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, dayBar(i, float64(100+i)))
	}
	if err := s.SaveBars(model.KDay, bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	got, err := s.FetchHistory(context.Background(), "HK.00700", model.KDay, 4)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 4 || got[0].Close != 106 || got[3].Close != 109 {
		t.Fatalf("unexpected history %+v", got)
	}

	if _, err := s.FetchHistory(context.Background(), "HK.09988", model.KDay, 4); err == nil {
		t.Error("expected error for a symbol with no bars")
	}
}

func TestRun_FlushesOnClose(t *testing.T) {
	s := openTestStore(t)
	flushed := 0
	s.OnFlush = func(rows int, err error) {
		if err != nil {
			t.Errorf("flush error: %v", err)
		}
		flushed += rows
	}

	ch := make(chan model.BarPush, 4)
	ch <- model.BarPush{Symbol: "HK.00700", Granularity: model.KDay, Bars: []model.Bar{dayBar(0, 100), dayBar(1, 101)}}
	ch <- model.BarPush{Symbol: "HK.00700", Granularity: model.KDay, Bars: []model.Bar{dayBar(2, 102)}}
	close(ch)

	s.Run(context.Background(), ch)

	if flushed != 3 {
		t.Errorf("flushed %d rows, want 3", flushed)
	}
	n, err := s.CountBars(context.Background(), "HK.00700", model.KDay)
	if err != nil || n != 3 {
		t.Errorf("CountBars = %d, %v", n, err)
	}
}
