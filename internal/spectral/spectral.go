// Package spectral derives vegetation and moisture indices from surface
// reflectance bands.
package spectral

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/raster"
)

// RequiredBands are the reflectance bands Apply reads.
var RequiredBands = []string{raster.Red, raster.Green, raster.Blue, raster.NIR, raster.SWIR1}

// IndexBands are the bands Apply appends, in order.
var IndexBands = []string{raster.NDVI, raster.NDMI, raster.EVI}

var nan = math.NaN()

// NDVI returns (nir - red) / (nir + red).
func NDVI(nir, red float64) float64 {
	return normalizedDifference(nir, red)
}

// NDMI returns (nir - swir1) / (nir + swir1).
func NDMI(nir, swir1 float64) float64 {
	return normalizedDifference(nir, swir1)
}

// EVI returns 2.5 * (nir - red) / (nir + 6*red - 7.5*blue + 1).
func EVI(nir, red, blue float64) float64 {
	return ratio(2.5*(nir-red), nir+6*red-7.5*blue+1)
}

func normalizedDifference(a, b float64) float64 {
	return ratio(a-b, a+b)
}

// ratio divides n by d, yielding NaN for a zero denominator. NaN operands
// propagate through ordinary float arithmetic.
func ratio(n, d float64) float64 {
	if d == 0 {
		return nan
	}
	return n / d
}

// Apply returns r with NDVI, NDMI and EVI bands computed per pixel. Existing
// index bands are recomputed from the reflectance bands, so applying twice
// yields identical values. r itself is not modified.
func Apply(ctx context.Context, r *raster.Raster, opts raster.TileOptions) (*raster.Raster, error) {
	if !r.HasBands(RequiredBands...) {
		return nil, eris.Errorf("spectral: raster bands %v missing one of %v", r.Bands, RequiredBands)
	}
	red, _ := r.Band(raster.Red)     //nolint:errcheck // checked by HasBands
	blue, _ := r.Band(raster.Blue)   //nolint:errcheck
	nir, _ := r.Band(raster.NIR)     //nolint:errcheck
	swir1, _ := r.Band(raster.SWIR1) //nolint:errcheck

	n := r.Len()
	ndvi := make([]float64, n)
	ndmi := make([]float64, n)
	evi := make([]float64, n)

	err := raster.ForEachTile(ctx, r.Width, r.Height, opts, func(_ context.Context, _ int, t raster.Tile) error {
		for y := t.Y0; y < t.Y1; y++ {
			for i := y*r.Width + t.X0; i < y*r.Width+t.X1; i++ {
				ndvi[i] = NDVI(nir[i], red[i])
				ndmi[i] = NDMI(nir[i], swir1[i])
				evi[i] = EVI(nir[i], red[i], blue[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "spectral: apply")
	}

	out := r
	for _, b := range []struct {
		name   string
		values []float64
	}{{raster.NDVI, ndvi}, {raster.NDMI, ndmi}, {raster.EVI, evi}} {
		if out, err = out.WithBand(b.name, b.values); err != nil {
			return nil, eris.Wrap(err, "spectral: append band")
		}
	}
	return out, nil
}
