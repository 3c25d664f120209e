// Package change flags land-cover loss between the endpoints of a classified
// series.
package change

import (
	"fmt"
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/raster"
)

// Classified is one year's single-band CLASS raster.
type Classified struct {
	Year   int
	Raster *raster.Raster
}

// InsufficientHistoryError reports a series too short to compare.
type InsufficientHistoryError struct {
	Years []int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("change: need at least 2 classified years, have %v", e.Years)
}

// endpoints returns the earliest and latest classified years.
func endpoints(series []Classified) (first, last Classified, err error) {
	years := make([]int, len(series))
	for i, c := range series {
		years[i] = c.Year
	}
	if len(series) < 2 {
		return first, last, &InsufficientHistoryError{Years: years}
	}
	sorted := slices.Clone(series)
	slices.SortStableFunc(sorted, func(a, b Classified) int { return a.Year - b.Year })
	first, last = sorted[0], sorted[len(sorted)-1]
	if first.Year == last.Year {
		return first, last, &InsufficientHistoryError{Years: years}
	}
	if err := first.Raster.CheckGrid(last.Raster); err != nil {
		return first, last, eris.Wrap(err, "change")
	}
	return first, last, nil
}

// DetectLoss returns a single-band LOSS raster that is 1 where the earliest
// year is forestClassID and the latest is not, and 0 elsewhere. Intermediate
// years are ignored. A pixel unclassified in either endpoint is NaN.
func DetectLoss(series []Classified, forestClassID int) (*raster.Raster, error) {
	first, last, err := endpoints(series)
	if err != nil {
		return nil, err
	}
	a, err := first.Raster.Band(raster.Class)
	if err != nil {
		return nil, eris.Wrapf(err, "change: year %d", first.Year)
	}
	b, err := last.Raster.Band(raster.Class)
	if err != nil {
		return nil, eris.Wrapf(err, "change: year %d", last.Year)
	}

	out := first.Raster.EmptyLike(raster.Loss)
	loss := out.Data[0]
	forest := float64(forestClassID)
	for i := range loss {
		switch {
		case math.IsNaN(a[i]) || math.IsNaN(b[i]):
		case a[i] == forest && b[i] != forest:
			loss[i] = 1
		default:
			loss[i] = 0
		}
	}
	if err := raster.RequireValid(out, raster.Loss, "change"); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition counts pixels moving from one class to another.
type Transition struct {
	From  int `json:"from" yaml:"from"`
	To    int `json:"to" yaml:"to"`
	Count int `json:"count" yaml:"count"`
}

// Transitions tallies earliest-year class against latest-year class for
// every pixel classified in both, ordered by (From, To).
func Transitions(series []Classified) ([]Transition, error) {
	first, last, err := endpoints(series)
	if err != nil {
		return nil, err
	}
	a, err := first.Raster.Band(raster.Class)
	if err != nil {
		return nil, eris.Wrapf(err, "change: year %d", first.Year)
	}
	b, err := last.Raster.Band(raster.Class)
	if err != nil {
		return nil, eris.Wrapf(err, "change: year %d", last.Year)
	}

	counts := make(map[[2]int]int)
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		counts[[2]int{int(a[i]), int(b[i])}]++
	}
	out := make([]Transition, 0, len(counts))
	for k, n := range counts {
		out = append(out, Transition{From: k[0], To: k[1], Count: n})
	}
	slices.SortFunc(out, func(x, y Transition) int {
		if x.From != y.From {
			return x.From - y.From
		}
		return x.To - y.To
	})
	return out, nil
}
