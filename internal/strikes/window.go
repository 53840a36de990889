// Package strikes selects the window of option-chain strikes shown around
// the at-the-money strike.
package strikes

import (
	"math"
	"sort"
)

// Window is the computed view of an option chain around the money.
type Window struct {
	ATMStrike int
	HasATM    bool // false when no strikes are available yet
	Displayed []int

	spot     float64
	interval int
}

// SelectWindow finds the strike closest to spot (ties go to the lower strike)
// and returns up to windowSize contiguous strikes centered on it.
//
// available must be sorted ascending without duplicates. An empty list is the
// "no data yet" state and yields an empty window with HasATM false.
func SelectWindow(available []int, spot float64, windowSize, strikeInterval int) Window {
	w := Window{
		Displayed: []int{},
		spot:      spot,
		interval:  strikeInterval,
	}
	if len(available) == 0 {
		return w
	}

	atmIndex := 0
	best := math.Abs(float64(available[0]) - spot)
	for i := 1; i < len(available); i++ {
		// strict less-than keeps the earlier (lower) strike on exact ties
		if d := math.Abs(float64(available[i]) - spot); d < best {
			best = d
			atmIndex = i
		}
	}
	w.ATMStrike = available[atmIndex]
	w.HasATM = true

	if windowSize <= 0 {
		return w
	}

	start := atmIndex - windowSize/2
	if start < 0 {
		start = 0
	}
	end := start + windowSize
	if end > len(available) {
		end = len(available)
	}

	w.Displayed = append(w.Displayed, available[start:end]...)
	return w
}

// IsNearMoney reports whether a strike is within one strike interval of the
// spot price. The band can include more than the ATM strike.
func (w Window) IsNearMoney(strike int) bool {
	return math.Abs(float64(strike)-w.spot) <= float64(w.interval)
}

// Spot returns the spot price the window was computed for.
func (w Window) Spot() float64 {
	return w.spot
}

// NormalizeStrikes rounds raw broker strike prices onto the interval grid,
// drops non-positive and duplicate values, and sorts the result ascending.
func NormalizeStrikes(raw []float64, interval int) []int {
	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, s := range raw {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		k := SnapStrike(s, interval)
		if k <= 0 || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// SnapStrike rounds a raw strike price to the nearest multiple of interval.
// A non-positive interval rounds to the nearest integer.
func SnapStrike(raw float64, interval int) int {
	if interval <= 0 {
		return int(math.Round(raw))
	}
	return int(math.Round(raw/float64(interval))) * interval
}
