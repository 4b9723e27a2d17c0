// Package champion picks the best passing run of a solve.
//
// Ranking is lexicographic over (files changed, lines changed, latency,
// temperature), ascending, with missing values ranked last. Ordinal breaks
// exact ties.
package champion

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/solvd/internal/solve"
)

// Select returns the champion among runs, or nil when no run passed tests.
func Select(runs []solve.Run) *solve.Run {
	ranked := Rank(runs)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Rank returns the passing runs best first. The input is not modified.
func Rank(runs []solve.Run) []solve.Run {
	passed := make([]solve.Run, 0, len(runs))
	for _, r := range runs {
		if r.Passed() {
			passed = append(passed, r)
		}
	}
	sort.SliceStable(passed, func(i, j int) bool {
		return less(passed[i], passed[j])
	})
	return passed
}

func less(a, b solve.Run) bool {
	ka, kb := key(a), key(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return a.Ordinal < b.Ordinal
}

func key(r solve.Run) [4]float64 {
	return [4]float64{
		orInf(r.FilesChanged),
		orInf(r.LOCChanged),
		orInf(r.LatencyMS),
		r.Temperature,
	}
}

func orInf[T int | int64](v *T) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return float64(*v)
}
