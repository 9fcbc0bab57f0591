// Package klinecache holds historical bar windows keyed by
// (symbol, granularity, count). Entries are valid for one calendar day:
// a lookup on a later date misses even though the entry is still stored,
// and the next Set overwrites it.
package klinecache

import (
	"strconv"
	"sync"
	"time"

	"masignal/internal/model"
)

// Clock supplies the current time for date comparisons.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type civilDate struct {
	year  int
	month time.Month
	day   int
}

type entry struct {
	window  *model.BarWindow
	created civilDate
}

// Cache is a mutex-guarded in-memory bar cache. There is no eviction
// beyond the daily staleness check.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   Clock
	loc     *time.Location

	// OnLookup is called after every Get with the hit/miss outcome.
	OnLookup func(hit bool)
}

// New creates a cache. Calendar dates are taken in loc (nil = UTC).
func New(clock Clock, loc *time.Location) *Cache {
	if clock == nil {
		clock = SystemClock
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
		loc:     loc,
	}
}

// Key returns the composite cache key, e.g. "HK.00700_K_DAY_40".
func Key(symbol string, g model.Granularity, count int) string {
	return symbol + "_" + string(g) + "_" + strconv.Itoa(count)
}

// Get returns a copy of the cached window when an entry exists and was
// created on today's date.
func (c *Cache) Get(symbol string, g model.Granularity, count int) (*model.BarWindow, bool) {
	key := Key(symbol, g, count)

	c.mu.Lock()
	e, ok := c.entries[key]
	hit := ok && e.created == c.today()
	var w *model.BarWindow
	if hit {
		w = e.window.Clone()
	}
	c.mu.Unlock()

	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
	return w, hit
}

// Set overwrites the entry for the key with a copy of w stamped with today's date.
func (c *Cache) Set(symbol string, g model.Granularity, count int, w *model.BarWindow) {
	key := Key(symbol, g, count)
	snap := w.Clone()

	c.mu.Lock()
	c.entries[key] = entry{window: snap, created: c.today()}
	c.mu.Unlock()
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) today() civilDate {
	y, m, d := c.clock.Now().In(c.loc).Date()
	return civilDate{y, m, d}
}
