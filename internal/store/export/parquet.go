// Package export writes backtest signals to Parquet files.
package export

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"masignal/internal/model"
)

// SignalRow is one signal in the export file.
type SignalRow struct {
	Symbol   string  `parquet:"symbol"`
	Action   string  `parquet:"action"`
	BarTS    int64   `parquet:"bar_ts"` // Unix milliseconds
	Close    float64 `parquet:"close"`
	ShortMA  float64 `parquet:"short_ma"`
	LongMA   float64 `parquet:"long_ma"`
	Volume   int64   `parquet:"volume"`
	VolumeMA float64 `parquet:"volume_ma"`
	Reason   string  `parquet:"reason,optional"`
}

// NewSignalRow flattens sig.
func NewSignalRow(sig model.Signal) SignalRow {
	return SignalRow{
		Symbol:   sig.Symbol,
		Action:   string(sig.Action),
		BarTS:    sig.BarTS.UnixMilli(),
		Close:    sig.Close,
		ShortMA:  sig.ShortMA,
		LongMA:   sig.LongMA,
		Volume:   sig.Volume,
		VolumeMA: sig.VolumeMA,
		Reason:   sig.Reason,
	}
}

// Time returns the row's bar timestamp in UTC.
func (r SignalRow) Time() time.Time {
	return time.UnixMilli(r.BarTS).UTC()
}

// WriteSignals writes signals to path, replacing any existing file.
func WriteSignals(path string, signals []model.Signal) error {
	rows := make([]SignalRow, 0, len(signals))
	for _, s := range signals {
		rows = append(rows, NewSignalRow(s))
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("export signals: %w", err)
	}
	return nil
}

// ReadSignals reads a file written by WriteSignals.
func ReadSignals(path string) ([]SignalRow, error) {
	rows, err := parquet.ReadFile[SignalRow](path)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	return rows, nil
}
