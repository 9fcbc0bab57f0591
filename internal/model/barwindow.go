package model

import (
	"sort"
	"time"
)

// BarWindow is an ordered bar sequence for one symbol: ascending by TS and
// unique by TS. Gaps between trading days are tolerated, never backfilled.
//
// BarWindow is not safe for concurrent use; the owning strategy serializes
// access and the cache stores clones.
type BarWindow struct {
	bars []Bar
}

// NewBarWindow builds a window from bars in any order. When two bars share a
// timestamp the later one in the input wins.
func NewBarWindow(bars []Bar) *BarWindow {
	w := &BarWindow{bars: make([]Bar, 0, len(bars))}
	w.Merge(bars)
	return w
}

// Len returns the number of bars.
func (w *BarWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.bars)
}

// Bars returns a copy of the bars, oldest first.
func (w *BarWindow) Bars() []Bar {
	if w == nil {
		return nil
	}
	out := make([]Bar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Last returns the newest bar.
func (w *BarWindow) Last() (Bar, bool) {
	if w.Len() == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// Clone returns an independent copy.
func (w *BarWindow) Clone() *BarWindow {
	return &BarWindow{bars: w.Bars()}
}

// Upsert inserts b at its timestamp position, replacing any bar with the same
// timestamp (last write wins for same-period revisions). It reports whether
// an existing bar was replaced.
func (w *BarWindow) Upsert(b Bar) bool {
	n := len(w.bars)
	// Fast path: in-order delivery appends or revises the newest bar.
	if n == 0 || w.bars[n-1].TS.Before(b.TS) {
		w.bars = append(w.bars, b)
		return false
	}
	i := w.search(b.TS)
	if i < n && w.bars[i].TS.Equal(b.TS) {
		w.bars[i] = b
		return true
	}
	w.bars = append(w.bars, Bar{})
	copy(w.bars[i+1:], w.bars[i:])
	w.bars[i] = b
	return false
}

// Merge upserts every bar in order and returns the added/replaced counts.
func (w *BarWindow) Merge(bars []Bar) (added, replaced int) {
	for _, b := range bars {
		if w.Upsert(b) {
			replaced++
		} else {
			added++
		}
	}
	return added, replaced
}

// Trim drops the oldest bars so that at most max remain. max <= 0 keeps all.
func (w *BarWindow) Trim(max int) int {
	if max <= 0 || len(w.bars) <= max {
		return 0
	}
	drop := len(w.bars) - max
	w.bars = append(w.bars[:0:0], w.bars[drop:]...)
	return drop
}

func (w *BarWindow) search(ts time.Time) int {
	return sort.Search(len(w.bars), func(i int) bool {
		return !w.bars[i].TS.Before(ts)
	})
}
