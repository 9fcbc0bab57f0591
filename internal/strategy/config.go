package strategy

import "fmt"

// Config holds the strategy parameters. It is immutable for the lifetime of
// a running strategy.
type Config struct {
	ShortPeriod     int
	LongPeriod      int
	BuyVolumeRatio  float64 // volume must exceed volumeMA × ratio (> 1)
	SellVolumeRatio float64 // volume must stay under volumeMA × ratio (< 1)
}

// DefaultConfig returns the 5/20 crossover with 1.2 / 0.85 volume ratios.
func DefaultConfig() Config {
	return Config{
		ShortPeriod:     5,
		LongPeriod:      20,
		BuyVolumeRatio:  1.2,
		SellVolumeRatio: 0.85,
	}
}

// Validate checks the parameter relationships.
func (c Config) Validate() error {
	if c.ShortPeriod < 1 {
		return fmt.Errorf("short period must be >= 1, got %d", c.ShortPeriod)
	}
	if c.LongPeriod <= c.ShortPeriod {
		return fmt.Errorf("long period (%d) must exceed short period (%d)", c.LongPeriod, c.ShortPeriod)
	}
	if c.BuyVolumeRatio <= 1 {
		return fmt.Errorf("buy volume ratio must be > 1, got %v", c.BuyVolumeRatio)
	}
	if c.SellVolumeRatio <= 0 || c.SellVolumeRatio >= 1 {
		return fmt.Errorf("sell volume ratio must be in (0, 1), got %v", c.SellVolumeRatio)
	}
	return nil
}

// HistoryCount is the number of bars requested from history and the count
// component of the cache key.
func (c Config) HistoryCount() int {
	return c.LongPeriod * 2
}
