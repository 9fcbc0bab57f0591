package markethours

import "time"

// HKEX weekday holidays for 2026 (weekend-falling holidays are omitted).
var hkexHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.February, 17}, // Lunar New Year
	{time.February, 18}, // Lunar New Year
	{time.February, 19}, // Lunar New Year
	{time.April, 3},     // Good Friday
	{time.April, 6},     // Easter Monday
	{time.April, 7},     // day following Ching Ming
	{time.May, 1},       // Labour Day
	{time.May, 25},      // day following Buddha's Birthday
	{time.June, 19},     // Tuen Ng
	{time.July, 1},      // HKSAR Establishment Day
	{time.October, 1},   // National Day
	{time.October, 19},  // day following Chung Yeung (tentative)
	{time.December, 25}, // Christmas
}

var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(hkexHolidays2026))
	for _, h := range hkexHolidays2026 {
		holidaySet[dateKey(2026, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the HKT date of t is an exchange holiday.
func IsHoliday(t time.Time) bool {
	hkt := t.In(HKT)
	return holidaySet[dateKey(hkt.Year(), hkt.Month(), hkt.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, HKT).Format(time.DateOnly)
}
