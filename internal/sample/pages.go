// Package sample selects the unit of work needed to satisfy a quantity
// target: page ranges for the paginated console API and margin-inflated row
// limits for database candidate queries.
package sample

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrInvalidSampleSize is returned when a requested sample exceeds the
// available population.
var ErrInvalidSampleSize = errors.New("sample: requested size exceeds available population")

// Margin is the over-fetch factor applied to database candidate-id queries
// to offset rows lost to later turn-level filtering.
const Margin = 0.1

// FullRange returns every page from current through total inclusive, in
// ascending order.
func FullRange(current, total int) []int {
	if total < current {
		return nil
	}
	pages := make([]int, 0, total-current+1)
	for p := current; p <= total; p++ {
		pages = append(pages, p)
	}
	return pages
}

// SampledRange draws n distinct pages uniformly without replacement from
// [current, total].
func SampledRange(current, total, n int) ([]int, error) {
	if total < current || n <= 0 {
		return nil, nil
	}
	population := total - current + 1
	if n > population {
		return nil, fmt.Errorf("%w: want %d of %d", ErrInvalidSampleSize, n, population)
	}
	pages := make([]int, 0, n)
	for _, offset := range rand.Perm(population)[:n] {
		pages = append(pages, current+offset)
	}
	return pages, nil
}

// PagesToRead returns the minimal unit of work covering n items: the full
// deterministic range when n meets or exceeds the population, otherwise a
// uniform random subset of size n.
func PagesToRead(current, total, n int) ([]int, error) {
	if n <= 0 || total < current {
		return nil, nil
	}
	if n >= total-current+1 {
		return FullRange(current, total), nil
	}
	return SampledRange(current, total, n)
}

// MarginLimit inflates a candidate-row limit by Margin.
func MarginLimit(limit int) int {
	return limit + int(Margin*float64(limit))
}
