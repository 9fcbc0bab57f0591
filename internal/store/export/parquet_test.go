package export

import (
	"path/filepath"
	"testing"
	"time"

	"masignal/internal/model"
)

func TestWriteSignalsKeepsOrderAndValues(t *testing.T) {
	ts := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)
	signals := []model.Signal{
		{Symbol: "HK.00700", Action: model.ActionBuy, BarTS: ts, Close: 110, ShortMA: 102, LongMA: 100.5, Volume: 2000, VolumeMA: 1200, Reason: "golden cross confirmed"},
		{Symbol: "HK.00700", Action: model.ActionSell, BarTS: ts.AddDate(0, 0, 2), Close: 70, ShortMA: 98, LongMA: 99.5, Volume: 500, VolumeMA: 1100},
	}
	path := filepath.Join(t.TempDir(), "signals.parquet")
	if err := WriteSignals(path, signals); err != nil {
		t.Fatalf("WriteSignals: %v", err)
	}

	rows, err := ReadSignals(path)
	if err != nil {
		t.Fatalf("ReadSignals: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Action != "BUY" || rows[1].Action != "SELL" {
		t.Errorf("actions = %s, %s", rows[0].Action, rows[1].Action)
	}
	if !rows[1].Time().Equal(ts.AddDate(0, 0, 2)) {
		t.Errorf("second bar ts = %v", rows[1].Time())
	}
	if rows[0].ShortMA != 102 || rows[0].VolumeMA != 1200 || rows[0].Reason != "golden cross confirmed" {
		t.Errorf("first row = %+v", rows[0])
	}
}

func TestWriteSignalsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := WriteSignals(path, nil); err != nil {
		t.Fatalf("WriteSignals: %v", err)
	}
	rows, err := ReadSignals(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows", len(rows))
	}
}
