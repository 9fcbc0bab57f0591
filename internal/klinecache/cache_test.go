package klinecache

import (
	"testing"
	"time"

	"masignal/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func testWindow(n int) *model.BarWindow {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = model.Bar{Symbol: "HK.00700", TS: start.AddDate(0, 0, i), Close: float64(100 + i), Volume: 1000}
	}
	return model.NewBarWindow(bars)
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("HK.00700", model.KDay, 40)
	b := Key("HK.00700", model.KDay, 40)
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != "HK.00700_K_DAY_40" {
		t.Errorf("unexpected key %q", a)
	}
	if Key("HK.00700", model.KDay, 41) == a || Key("HK.00700", model.KWeek, 40) == a {
		t.Error("distinct arguments must not collide")
	}
}

func TestGet_MissWhenEmpty(t *testing.T) {
	c := New(&fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}, nil)
	if _, hit := c.Get("HK.00700", model.KDay, 40); hit {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetThenGet_SameDayHit(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	c := New(clk, nil)
	w := testWindow(40)

	c.Set("HK.00700", model.KDay, 40, w)
	clk.Advance(10 * time.Hour) // still 2026-03-02

	got, hit := c.Get("HK.00700", model.KDay, 40)
	if !hit {
		t.Fatal("expected hit on the same day")
	}
	if got.Len() != w.Len() {
		t.Fatalf("expected %d bars, got %d", w.Len(), got.Len())
	}
	gb, wb := got.Bars(), w.Bars()
	for i := range wb {
		if gb[i] != wb[i] {
			t.Fatalf("bar %d differs: %+v vs %+v", i, gb[i], wb[i])
		}
	}
}

func TestGet_StaleAfterDateChange(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)}
	c := New(clk, nil)
	c.Set("HK.00700", model.KDay, 40, testWindow(40))

	clk.Advance(time.Hour) // 2026-03-03 00:30

	if _, hit := c.Get("HK.00700", model.KDay, 40); hit {
		t.Fatal("expected miss after date change")
	}
	if c.Len() != 1 {
		t.Errorf("stale entry must be kept, got len=%d", c.Len())
	}

	// The next Set overwrites and restamps.
	c.Set("HK.00700", model.KDay, 40, testWindow(41))
	got, hit := c.Get("HK.00700", model.KDay, 40)
	if !hit || got.Len() != 41 {
		t.Errorf("expected fresh hit with 41 bars, hit=%v len=%d", hit, got.Len())
	}
}

func TestGet_UsesCalendarLocation(t *testing.T) {
	hkt := time.FixedZone("HKT", 8*3600)
	// 2026-03-02 20:00 UTC is already 2026-03-03 04:00 in Hong Kong.
	clk := &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	c := New(clk, hkt)
	c.Set("HK.00700", model.KDay, 40, testWindow(40))

	clk.Advance(5 * time.Hour)
	if _, hit := c.Get("HK.00700", model.KDay, 40); hit {
		t.Fatal("expected miss once the Hong Kong date rolled over")
	}
}

func TestCache_StoresCopies(t *testing.T) {
	c := New(&fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}, nil)
	w := testWindow(3)
	c.Set("HK.00700", model.KDay, 3, w)

	w.Upsert(model.Bar{TS: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	got, _ := c.Get("HK.00700", model.KDay, 3)
	if got.Len() != 3 {
		t.Fatalf("caller mutation leaked into cache: len=%d", got.Len())
	}

	got.Upsert(model.Bar{TS: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)})
	again, _ := c.Get("HK.00700", model.KDay, 3)
	if again.Len() != 3 {
		t.Fatalf("returned window aliases cache entry: len=%d", again.Len())
	}
}

func TestOnLookup(t *testing.T) {
	c := New(&fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}, nil)
	var hits, misses int
	c.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}
	c.Get("A", model.KDay, 1)
	c.Set("A", model.KDay, 1, testWindow(1))
	c.Get("A", model.KDay, 1)
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit 1 miss, got %d/%d", hits, misses)
	}
}
