// Package area converts a boolean pixel mask to hectares.
package area

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// SquareMetersPerHectare converts m² to ha.
const SquareMetersPerHectare = 10_000.0

// PixelAreaProvider returns the ground area of pixel (x, y) of r in m².
type PixelAreaProvider interface {
	PixelArea(r *raster.Raster, x, y int) float64
}

// Flat treats every pixel as a Scale × Scale square. A zero Scale uses the
// raster's own pixel size, which must then be in meters.
type Flat struct {
	Scale float64
}

// PixelArea implements PixelAreaProvider.
func (f Flat) PixelArea(r *raster.Raster, _, _ int) float64 {
	if f.Scale > 0 {
		return f.Scale * f.Scale
	}
	return r.Transform.PixelWidth * r.Transform.PixelHeight
}

// authalicRadius is the radius in meters of the sphere with the WGS84
// ellipsoid's surface area.
const authalicRadius = 6_371_007.181

// Geodesic computes the spherical area of a pixel in a geographic
// (longitude/latitude degree) grid such as EPSG:4326.
type Geodesic struct{}

// PixelArea implements PixelAreaProvider.
func (Geodesic) PixelArea(r *raster.Raster, x, y int) float64 {
	b := r.PixelBounds(x, y)
	dLon := (b.Max(0) - b.Min(0)) * math.Pi / 180
	lat1 := b.Min(1) * math.Pi / 180
	lat2 := b.Max(1) * math.Pi / 180
	return authalicRadius * authalicRadius * dLon * math.Abs(math.Sin(lat2)-math.Sin(lat1))
}

// ProviderFor picks Geodesic for EPSG:4326 rasters and Flat{scale}
// otherwise.
func ProviderFor(crs string, scale float64) PixelAreaProvider {
	if geometry.SRID(crs) == 4326 {
		return Geodesic{}
	}
	return Flat{Scale: scale}
}

// Summary is the flagged area of a mask.
type Summary struct {
	Pixels      int     `json:"pixels" yaml:"pixels"`
	SquareMeter float64 `json:"square_meters" yaml:"square_meters"`
	Hectares    float64 `json:"hectares" yaml:"hectares"`
}

// Sum adds the area of every pixel of band whose value is 1 and whose
// center lies in region (edges included). NaN and 0 pixels contribute
// nothing. A nil region covers the whole grid.
func Sum(mask *raster.Raster, band string, region *geometry.Region, provider PixelAreaProvider) (*Summary, error) {
	p, err := mask.Band(band)
	if err != nil {
		return nil, eris.Wrap(err, "area")
	}
	if provider == nil {
		return nil, eris.New("area: nil pixel area provider")
	}
	if region != nil && !region.Intersects(mask.Bounds()) {
		return &Summary{}, nil
	}

	var s Summary
	for y := range mask.Height {
		for x := range mask.Width {
			if p[y*mask.Width+x] != 1 {
				continue
			}
			if region != nil && !region.Contains(mask.PixelCenter(x, y)) {
				continue
			}
			s.Pixels++
			s.SquareMeter += provider.PixelArea(mask, x, y)
		}
	}
	s.Hectares = s.SquareMeter / SquareMetersPerHectare
	return &s, nil
}
