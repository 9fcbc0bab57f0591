package strategy

import "masignal/internal/indicator"

// Cross classifies the moving-average relationship between two bars.
type Cross int

const (
	CrossNone Cross = iota
	CrossGolden
	CrossDeath
)

func (c Cross) String() string {
	switch c {
	case CrossGolden:
		return "golden"
	case CrossDeath:
		return "death"
	default:
		return "none"
	}
}

// LastTwo returns the previous and current rows of the frame. ok is false
// when the frame has fewer than two rows or either row lacks a moving average.
func LastTwo(f indicator.Frame) (prev, cur indicator.Row, ok bool) {
	n := len(f.Rows)
	if n < 2 {
		return indicator.Row{}, indicator.Row{}, false
	}
	prev, cur = f.Rows[n-2], f.Rows[n-1]
	if !prev.Defined() || !cur.Defined() {
		return indicator.Row{}, indicator.Row{}, false
	}
	return prev, cur, true
}

// Detect classifies the crossover on the last two rows of the frame.
func Detect(f indicator.Frame) Cross {
	prev, cur, ok := LastTwo(f)
	if !ok {
		return CrossNone
	}
	return Classify(prev, cur)
}

// Classify compares two consecutive defined rows.
//
// Golden: prev short <= prev long, cur short > cur long.
// Death:  prev short >= prev long, cur short < cur long.
// Equality on the previous bar counts toward the side about to be crossed.
func Classify(prev, cur indicator.Row) Cross {
	switch {
	case prev.ShortMA <= prev.LongMA && cur.ShortMA > cur.LongMA:
		return CrossGolden
	case prev.ShortMA >= prev.LongMA && cur.ShortMA < cur.LongMA:
		return CrossDeath
	default:
		return CrossNone
	}
}
