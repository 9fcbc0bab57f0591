// Package sqlite archives bars (fetched history and applied pushes) and
// serves them back for backtests and offline history.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"masignal/internal/model"
)

const (
	defaultBatchSize  = 200
	defaultFlushDelay = 500 * time.Millisecond
)

// Config configures the bar store.
type Config struct {
	DBPath string // e.g. "data/bars.db"; ":memory:" for tests
}

// Store is a single-writer SQLite bar archive.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	// OnFlush is called after every batch commit attempt.
	OnFlush func(rows int, err error)
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "sqlite"))}
	s.log.Info("opened database", slog.String("path", cfg.DBPath))
	return s, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			ktype    TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   INTEGER NOT NULL,
			turnover REAL,
			PRIMARY KEY (symbol, ktype, ts)
		);
	`)
	return err
}

// SaveBars upserts bars of granularity g in one transaction. A later write
// for the same (symbol, ktype, ts) replaces the earlier row.
func (s *Store) SaveBars(g model.Granularity, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, ktype, ts, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(b.Symbol, string(g), b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, b.Turnover); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s %s: %w", b.Symbol, b.TS.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// Run archives bar batches from ch. Batches are coalesced per granularity
// and flushed every defaultBatchSize bars or defaultFlushDelay, whichever
// comes first. Blocks until ctx is cancelled or ch is closed.
func (s *Store) Run(ctx context.Context, ch <-chan model.BarPush) {
	pending := make(map[model.Granularity][]model.Bar)
	count := 0
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if count == 0 {
			return
		}
		for g, bars := range pending {
			err := s.SaveBars(g, bars)
			if err != nil {
				s.log.Warn("batch insert failed", slog.String("ktype", string(g)), slog.Int("bars", len(bars)), slog.Any("error", err))
			}
			if s.OnFlush != nil {
				s.OnFlush(len(bars), err)
			}
			delete(pending, g)
		}
		count = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case p, ok := <-ch:
			if !ok {
				flush()
				return
			}
			pending[p.Granularity] = append(pending[p.Granularity], p.Bars...)
			count += len(p.Bars)
			if count >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
