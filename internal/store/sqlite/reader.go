package sqlite

import (
	"context"
	"fmt"
	"time"

	"masignal/internal/model"
)

// ReadBars returns bars for (symbol, g) with ts after afterTS, ascending.
// A zero afterTS reads everything.
func (s *Store) ReadBars(ctx context.Context, symbol string, g model.Granularity, afterTS time.Time) ([]model.Bar, error) {
	after := int64(-1 << 62)
	if !afterTS.IsZero() {
		after = afterTS.Unix()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, COALESCE(turnover, 0)
		FROM bars
		WHERE symbol = ? AND ktype = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, string(g), after)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Turnover); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(ts, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// FetchHistory returns the newest maxCount archived bars, ascending. It lets
// the archive stand in for the gateway's history query offline.
func (s *Store) FetchHistory(ctx context.Context, symbol string, g model.Granularity, maxCount int) ([]model.Bar, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("sqlite history: max count must be positive, got %d", maxCount)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, COALESCE(turnover, 0)
		FROM (
			SELECT * FROM bars
			WHERE symbol = ? AND ktype = ?
			ORDER BY ts DESC
			LIMIT ?
		)
		ORDER BY ts ASC
	`, symbol, string(g), maxCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite query history: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Turnover); err != nil {
			return nil, fmt.Errorf("sqlite scan history: %w", err)
		}
		b.TS = time.Unix(ts, 0).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("sqlite history: no bars archived for %s %s", symbol, g)
	}
	return bars, nil
}

// CountBars returns the number of archived bars for (symbol, g).
func (s *Store) CountBars(ctx context.Context, symbol string, g model.Granularity) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE symbol = ? AND ktype = ?`, symbol, string(g)).Scan(&n)
	return n, err
}

var _ model.HistoryFetcher = (*Store)(nil)
