// Package markethours is the HKEX securities trading calendar: a morning and
// an afternoon continuous session, Monday to Friday, excluding holidays.
package markethours

import (
	"fmt"
	"time"
)

// HKT is Hong Kong Time (UTC+8, no daylight saving).
var HKT = time.FixedZone("HKT", 8*3600)

// Continuous trading sessions in HKT, as minutes since midnight.
const (
	MorningOpen    = 9*60 + 30
	MorningClose   = 12 * 60
	AfternoonOpen  = 13 * 60
	AfternoonClose = 16 * 60
)

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func at(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, HKT)
}

// IsWeekday returns true if t is Mon–Fri in HKT.
func IsWeekday(t time.Time) bool {
	wd := t.In(HKT).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	hkt := t.In(HKT)
	return IsWeekday(hkt) && !IsHoliday(hkt)
}

// IsMarketOpen returns true inside either continuous session on a trading day.
func IsMarketOpen(t time.Time) bool {
	hkt := t.In(HKT)
	if !IsTradingDay(hkt) {
		return false
	}
	m := minuteOfDay(hkt)
	return (m >= MorningOpen && m < MorningClose) || (m >= AfternoonOpen && m < AfternoonClose)
}

// IsLunchBreak returns true between the morning close and afternoon open.
func IsLunchBreak(t time.Time) bool {
	hkt := t.In(HKT)
	if !IsTradingDay(hkt) {
		return false
	}
	m := minuteOfDay(hkt)
	return m >= MorningClose && m < AfternoonOpen
}

// NextOpen returns the next session open strictly after t, including the
// afternoon reopening after lunch.
func NextOpen(t time.Time) time.Time {
	hkt := t.In(HKT)
	if IsTradingDay(hkt) {
		m := minuteOfDay(hkt)
		if m < MorningOpen {
			return at(hkt, MorningOpen)
		}
		if m < AfternoonOpen {
			return at(hkt, AfternoonOpen)
		}
	}

	d := hkt.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // max 14 days ahead
		if IsTradingDay(d) {
			return at(d, MorningOpen)
		}
		d = d.AddDate(0, 0, 1)
	}
	return at(hkt.AddDate(0, 0, 1), MorningOpen)
}

// TodayClose returns the afternoon close on t's HKT date.
func TodayClose(t time.Time) time.Time {
	return at(t.In(HKT), AfternoonClose)
}

// TimeUntilClose returns the time until the end of the current session, or 0
// when the market is not open.
func TimeUntilClose(t time.Time) time.Duration {
	if !IsMarketOpen(t) {
		return 0
	}
	hkt := t.In(HKT)
	end := at(hkt, AfternoonClose)
	if minuteOfDay(hkt) < MorningClose {
		end = at(hkt, MorningClose)
	}
	return end.Sub(hkt)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("market open, session ends in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	label := "market closed"
	if IsLunchBreak(t) {
		label = "lunch break"
	}
	hkt := next.In(HKT)
	return fmt.Sprintf("%s, opens %s %s (%s)", label, hkt.Weekday().String()[:3], hkt.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
