package align

import "sort"

// nearestIndex returns the index of the timestamp in stamps closest to target.
// Ties between equidistant neighbors resolve to the earlier sample. stamps
// must be sorted ascending and non-empty.
func nearestIndex(stamps []int64, target int64) int {
	i := sort.Search(len(stamps), func(k int) bool { return stamps[k] >= target })
	if i == 0 {
		return 0
	}
	if i == len(stamps) {
		return len(stamps) - 1
	}
	if target-stamps[i-1] <= stamps[i]-target {
		return i - 1
	}
	return i
}

// windowBounds returns the half-open index range [lo, hi) of stamps that fall
// inside [target-window, target+window]. stamps must be sorted ascending.
func windowBounds(stamps []int64, target, window int64) (lo, hi int) {
	lo = sort.Search(len(stamps), func(k int) bool { return stamps[k] >= target-window })
	hi = sort.Search(len(stamps), func(k int) bool { return stamps[k] > target+window })
	return lo, hi
}

func absDelta(a, b int64) int64 {
	if a >= b {
		return a - b
	}
	return b - a
}
