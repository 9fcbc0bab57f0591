package indicator

import "masignal/internal/model"

// Row is one bar plus its indicator values. A value is absent (its OK flag
// false) for the first period-1 bars of the window.
type Row struct {
	Bar      model.Bar
	ShortMA  float64
	LongMA   float64
	VolumeMA float64
	ShortOK  bool
	LongOK   bool
	VolumeOK bool
}

// Defined reports whether both moving averages are present.
func (r Row) Defined() bool {
	return r.ShortOK && r.LongOK
}

// Frame is a bar window with its derived per-bar series.
type Frame struct {
	ShortPeriod int
	LongPeriod  int
	Rows        []Row
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Rows) }

// Compute derives trailing simple means of close over shortPeriod and
// longPeriod bars, and of volume over shortPeriod bars.
//
// It returns ok=false (insufficient data, not an error) when the window holds
// fewer than longPeriod bars or the periods are not positive.
func Compute(bars []model.Bar, shortPeriod, longPeriod int) (Frame, bool) {
	if shortPeriod <= 0 || longPeriod <= 0 || len(bars) < longPeriod {
		return Frame{}, false
	}

	short := NewSMA(shortPeriod)
	long := NewSMA(longPeriod)
	vol := NewSMA(shortPeriod)

	rows := make([]Row, len(bars))
	for i, b := range bars {
		short.Update(b.Close)
		long.Update(b.Close)
		vol.Update(float64(b.Volume))

		rows[i] = Row{
			Bar:      b,
			ShortMA:  short.Value(),
			LongMA:   long.Value(),
			VolumeMA: vol.Value(),
			ShortOK:  short.Ready(),
			LongOK:   long.Ready(),
			VolumeOK: vol.Ready(),
		}
	}

	return Frame{
		ShortPeriod: shortPeriod,
		LongPeriod:  longPeriod,
		Rows:        rows,
	}, true
}
