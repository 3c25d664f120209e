package composite

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// SeriesRequest describes a multi-year composite build.
type SeriesRequest struct {
	Sensor         string
	StartYear      int
	EndYear        int
	Region         *geometry.Region
	Bands          []string // bands fetched from the source; nil keeps all
	CloudThreshold float64
	// FailFast aborts the series on the first failed year. Otherwise failed
	// years are recorded in Series.Skipped and the remaining years complete.
	FailFast bool
	// Concurrency bounds the number of years built at once. Default: one
	// goroutine per year.
	Concurrency int
	Tiles       raster.TileOptions
}

// SkippedYear records a year dropped from the series.
type SkippedYear struct {
	Year int
	Err  error
}

// Series is the ordered composite series.
type Series struct {
	Composites []*AnnualComposite // ascending by Year
	Skipped    []SkippedYear      // ascending by Year
}

// Years returns the years present in the series.
func (s *Series) Years() []int {
	out := make([]int, len(s.Composites))
	for i, c := range s.Composites {
		out[i] = c.Year
	}
	return out
}

// Last returns the most recent composite, or nil.
func (s *Series) Last() *AnnualComposite {
	if len(s.Composites) == 0 {
		return nil
	}
	return s.Composites[len(s.Composites)-1]
}

// BuildSeries fetches and composites each year in [StartYear, EndYear]
// concurrently. Results are ordered by year regardless of completion order.
func BuildSeries(ctx context.Context, src imagery.Source, req SeriesRequest) (*Series, error) {
	if req.EndYear < req.StartYear {
		return nil, eris.Errorf("composite: end year %d before start year %d", req.EndYear, req.StartYear)
	}
	log := zap.L().With(zap.String("component", "composite.series"), zap.String("sensor", req.Sensor))

	years := req.EndYear - req.StartYear + 1
	limit := req.Concurrency
	if limit <= 0 {
		limit = years
	}

	var (
		mu     sync.Mutex
		series Series
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for year := req.StartYear; year <= req.EndYear; year++ {
		g.Go(func() error {
			c, err := buildYear(gctx, src, req, year)
			if err != nil {
				if req.FailFast || gctx.Err() != nil {
					return err
				}
				log.Warn("skipping year", zap.Int("year", year), zap.Error(err))
				metrics.Composites.WithLabelValues("skipped").Inc()
				mu.Lock()
				series.Skipped = append(series.Skipped, SkippedYear{Year: year, Err: err})
				mu.Unlock()
				return nil
			}
			metrics.Composites.WithLabelValues("built").Inc()
			mu.Lock()
			series.Composites = append(series.Composites, c)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(series.Composites, func(a, b *AnnualComposite) int { return a.Year - b.Year })
	slices.SortFunc(series.Skipped, func(a, b SkippedYear) int { return a.Year - b.Year })

	log.Info("built composite series",
		zap.Ints("years", series.Years()),
		zap.Int("skipped", len(series.Skipped)))
	return &series, nil
}

func buildYear(ctx context.Context, src imagery.Source, req SeriesRequest, year int) (*AnnualComposite, error) {
	coll, err := src.Fetch(ctx, req.Sensor, imagery.Year(year), req.Region, req.Bands)
	if err != nil {
		return nil, eris.Wrapf(err, "composite: fetch year %d", year)
	}
	return BuildAnnualComposite(ctx, coll, year, req.Region, req.CloudThreshold, req.Tiles)
}

// IsEmptyCollection reports whether err wraps an EmptyCollectionError.
func IsEmptyCollection(err error) bool {
	var e *EmptyCollectionError
	return errors.As(err, &e)
}
