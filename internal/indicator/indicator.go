// Package indicator derives moving-average series from a bar window.
//
// Compute is stateless: every call rebuilds the full series from the bars it
// is given, so the bar window stays the only source of truth.
package indicator
