// Package composite reduces a year of scenes to a per-pixel median composite
// and assembles the multi-year composite series.
package composite

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/spectral"
)

// DefaultCloudThreshold is the cloudy-pixel percentage at or above which a
// scene is excluded.
const DefaultCloudThreshold = 10.0

// AnnualComposite is the median reduction of one calendar year of scenes.
type AnnualComposite struct {
	Year int
	// Timestamp is January 1 of Year.
	Timestamp time.Time
	// Scenes is the number of scenes that passed the filters.
	Scenes int
	Raster *raster.Raster
}

// EmptyCollectionError reports a year with no scenes left after filtering.
type EmptyCollectionError struct {
	Year   int
	Region string
	Sensor string
}

func (e *EmptyCollectionError) Error() string {
	return fmt.Sprintf("composite: no %s scenes survive filtering for year %d in region %s", e.Sensor, e.Year, e.Region)
}

// BuildAnnualComposite filters coll to scenes acquired in year, intersecting
// region and with CloudyPixelPercentage below cloudThreshold, derives the
// spectral indices for each, and reduces them to a per-pixel, per-band median
// of the non-missing values. All scenes must share one grid.
func BuildAnnualComposite(ctx context.Context, coll *imagery.Collection, year int, region *geometry.Region, cloudThreshold float64, opts raster.TileOptions) (*AnnualComposite, error) {
	log := zap.L().With(zap.String("component", "composite"), zap.Int("year", year))

	dated := coll.FilterDate(imagery.Year(year))
	bounded := dated.FilterBounds(region)
	kept := bounded.FilterCloud(cloudThreshold)
	metrics.ScenesFiltered.WithLabelValues("date").Add(float64(coll.Len() - dated.Len()))
	metrics.ScenesFiltered.WithLabelValues("bounds").Add(float64(dated.Len() - bounded.Len()))
	metrics.ScenesFiltered.WithLabelValues("cloud").Add(float64(bounded.Len() - kept.Len()))
	metrics.ScenesFiltered.WithLabelValues("kept").Add(float64(kept.Len()))

	if kept.Len() == 0 {
		return nil, &EmptyCollectionError{Year: year, Region: region.String(), Sensor: coll.Sensor}
	}

	indexed := make([]*raster.Raster, 0, kept.Len())
	for _, s := range kept.Scenes {
		r, err := spectral.Apply(ctx, s.Raster, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "composite: year %d: scene %s", year, s.ID)
		}
		if len(indexed) > 0 {
			if err := indexed[0].CheckGrid(r); err != nil {
				return nil, eris.Wrapf(err, "composite: year %d: scene %s", year, s.ID)
			}
		}
		indexed = append(indexed, r)
	}

	out, err := Median(ctx, indexed, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "composite: year %d", year)
	}

	log.Debug("built composite",
		zap.Int("scenes", len(indexed)),
		zap.Int("dropped_cloud", bounded.Len()-kept.Len()),
		zap.Strings("bands", out.Bands))

	return &AnnualComposite{
		Year:      year,
		Timestamp: imagery.Year(year).Start,
		Scenes:    len(indexed),
		Raster:    out,
	}, nil
}

// Median reduces pixel-aligned rasters to their per-pixel, per-band median,
// skipping NaN. The band set is taken from the first raster; every raster
// must carry it. A pixel missing from every raster stays NaN.
func Median(ctx context.Context, rasters []*raster.Raster, opts raster.TileOptions) (*raster.Raster, error) {
	if len(rasters) == 0 {
		return nil, eris.New("composite: median of zero rasters")
	}
	first := rasters[0]
	bands := slices.Clone(first.Bands)

	planes := make([][][]float64, len(bands))
	for b, name := range bands {
		planes[b] = make([][]float64, len(rasters))
		for i, r := range rasters {
			p, err := r.Band(name)
			if err != nil {
				return nil, eris.Wrapf(err, "composite: raster %d", i)
			}
			planes[b][i] = p
		}
	}

	out := first.EmptyLike(bands...)
	scratch := make([][]float64, opts.WorkerCount())
	for i := range scratch {
		scratch[i] = make([]float64, 0, len(rasters))
	}

	err := raster.ForEachTile(ctx, first.Width, first.Height, opts, func(_ context.Context, slot int, t raster.Tile) error {
		buf := scratch[slot]
		for y := t.Y0; y < t.Y1; y++ {
			for x := t.X0; x < t.X1; x++ {
				idx := y*first.Width + x
				for b := range bands {
					buf = buf[:0]
					for _, p := range planes[b] {
						if v := p[idx]; !math.IsNaN(v) {
							buf = append(buf, v)
						}
					}
					out.Data[b][idx] = median(buf)
				}
			}
		}
		scratch[slot] = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// median sorts vals in place and returns the middle value, or the mean of
// the two middle values for an even count. Empty input yields NaN.
func median(vals []float64) float64 {
	n := len(vals)
	switch n {
	case 0:
		return math.NaN()
	case 1:
		return vals[0]
	}
	slices.Sort(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
