// Package trend fits a per-pixel least-squares slope of an index against
// year across a composite series.
package trend

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/composite"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// sums accumulates the regression moments of one tile. Years are centered
// on the series mean to keep the normal equations well conditioned.
type sums struct {
	n, sx, sy, sxx, sxy []float64
}

func newSums(pixels int) *sums {
	return &sums{
		n:   make([]float64, pixels),
		sx:  make([]float64, pixels),
		sy:  make([]float64, pixels),
		sxx: make([]float64, pixels),
		sxy: make([]float64, pixels),
	}
}

func (s *sums) reset(pixels int) {
	for _, p := range []*[]float64{&s.n, &s.sx, &s.sy, &s.sxx, &s.sxy} {
		*p = (*p)[:pixels]
		clear(*p)
	}
}

// Fit returns a single-band SLOPE raster holding, per pixel, the ordinary
// least-squares slope of band against year over the composites where the
// pixel is present. Pixels with fewer than 2 observations are NaN. The
// series may be in any order; all composites must share one grid.
func Fit(ctx context.Context, series []*composite.AnnualComposite, band string, opts raster.TileOptions) (*raster.Raster, error) {
	if len(series) == 0 {
		return nil, eris.New("trend: empty composite series")
	}
	base := series[0].Raster
	planes := make([][]float64, len(series))
	mean := 0.0
	for i, c := range series {
		if err := base.CheckGrid(c.Raster); err != nil {
			return nil, eris.Wrapf(err, "trend: year %d", c.Year)
		}
		p, err := c.Raster.Band(band)
		if err != nil {
			return nil, eris.Wrapf(err, "trend: year %d", c.Year)
		}
		planes[i] = p
		mean += float64(c.Year)
	}
	mean /= float64(len(series))
	xs := make([]float64, len(series))
	for i, c := range series {
		xs[i] = float64(c.Year) - mean
	}

	opts = withTileSize(opts)
	out := base.EmptyLike(raster.Slope)
	slope := out.Data[0]

	scratch := make([]*sums, opts.WorkerCount())
	for i := range scratch {
		scratch[i] = newSums(opts.Size * opts.Size)
	}

	err := raster.ForEachTile(ctx, base.Width, base.Height, opts, func(_ context.Context, slot int, t raster.Tile) error {
		s := scratch[slot]
		s.reset(t.Pixels())
		tw := t.X1 - t.X0

		for k, p := range planes {
			x := xs[k]
			for y := t.Y0; y < t.Y1; y++ {
				row := p[y*base.Width+t.X0 : y*base.Width+t.X1]
				off := (y - t.Y0) * tw
				for i, v := range row {
					if math.IsNaN(v) {
						continue
					}
					j := off + i
					s.n[j]++
					s.sx[j] += x
					s.sy[j] += v
					s.sxx[j] += x * x
					s.sxy[j] += x * v
				}
			}
		}

		for y := t.Y0; y < t.Y1; y++ {
			off := (y - t.Y0) * tw
			for i := range tw {
				j := off + i
				n := s.n[j]
				if n < 2 {
					continue
				}
				den := n*s.sxx[j] - s.sx[j]*s.sx[j]
				if den == 0 {
					continue
				}
				slope[y*base.Width+t.X0+i] = (n*s.sxy[j] - s.sx[j]*s.sy[j]) / den
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "trend")
	}
	if err := raster.RequireValid(out, raster.Slope, "trend"); err != nil {
		return nil, err
	}

	zap.L().Debug("fitted trend",
		zap.String("component", "trend"),
		zap.String("band", band),
		zap.Int("years", len(series)))
	return out, nil
}

// withTileSize resolves the tile size so scratch buffers can be sized up front.
func withTileSize(opts raster.TileOptions) raster.TileOptions {
	if opts.Size <= 0 {
		opts.Size = raster.DefaultTileSize
	}
	return opts
}
