// Package raster provides the in-memory multi-band pixel grid shared by every
// stage of the land-cover pipeline.
//
// Missing observations are represented as NaN. Every reducer in this module
// treats NaN as "no data": it is skipped by medians and regressions and
// propagates through per-pixel arithmetic.
package raster

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Canonical reflectance and index band names.
const (
	Blue  = "BLUE"
	Green = "GREEN"
	Red   = "RED"
	NIR   = "NIR"
	SWIR1 = "SWIR1"
	SWIR2 = "SWIR2"
	NDVI  = "NDVI"
	NDMI  = "NDMI"
	EVI   = "EVI"

	// Class is the single band of a classified raster.
	Class = "CLASS"
	// Loss is the single boolean band of a change raster (1 = loss, 0 = no loss).
	Loss = "LOSS"
	// Slope is the single band of a trend raster (index units per year).
	Slope = "SLOPE"
)

// GeoTransform maps pixel coordinates to CRS coordinates for a north-up grid.
// OriginX/OriginY is the outer corner of the top-left pixel; rows advance
// southward by PixelHeight.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Raster is a width × height grid of pixels holding one float64 per band.
// Band planes are stored row-major. All planes share the grid's dimensions
// and georeferencing.
type Raster struct {
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	CRS       string       `json:"crs"`
	Transform GeoTransform `json:"transform"`
	Bands     []string     `json:"bands"`
	Data      [][]float64  `json:"-"`
}

// MaxPixels bounds the number of pixels in one band plane.
const MaxPixels = 1 << 28

// New allocates a raster with every band filled with NaN.
func New(width, height int, crs string, gt GeoTransform, bands ...string) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("raster: invalid dimensions %dx%d", width, height)
	}
	if width > MaxPixels/height {
		return nil, eris.Errorf("raster: %dx%d grid exceeds %d pixels", width, height, MaxPixels)
	}
	if gt.PixelWidth <= 0 || gt.PixelHeight <= 0 {
		return nil, eris.Errorf("raster: pixel size must be positive, got %gx%g", gt.PixelWidth, gt.PixelHeight)
	}
	seen := make(map[string]bool, len(bands))
	for _, b := range bands {
		if seen[b] {
			return nil, eris.Errorf("raster: duplicate band %q", b)
		}
		seen[b] = true
	}

	r := &Raster{
		Width:     width,
		Height:    height,
		CRS:       crs,
		Transform: gt,
		Bands:     slices.Clone(bands),
		Data:      make([][]float64, len(bands)),
	}
	for i := range r.Data {
		r.Data[i] = NaNPlane(width * height)
	}
	return r, nil
}

// NaNPlane returns a plane of n NaN values.
func NaNPlane(n int) []float64 {
	p := make([]float64, n)
	nan := math.NaN()
	for i := range p {
		p[i] = nan
	}
	return p
}

// Len returns the number of pixels in one band plane.
func (r *Raster) Len() int { return r.Width * r.Height }

// BandIndex returns the plane index of name, or -1.
func (r *Raster) BandIndex(name string) int {
	return slices.Index(r.Bands, name)
}

// HasBands reports whether every named band is present.
func (r *Raster) HasBands(names ...string) bool {
	for _, n := range names {
		if r.BandIndex(n) < 0 {
			return false
		}
	}
	return true
}

// Band returns the plane for name. The returned slice must not be modified.
func (r *Raster) Band(name string) ([]float64, error) {
	i := r.BandIndex(name)
	if i < 0 {
		return nil, eris.Errorf("raster: band %q not present (have %v)", name, r.Bands)
	}
	return r.Data[i], nil
}

// At returns the value of band b at column x, row y.
func (r *Raster) At(b, x, y int) float64 {
	return r.Data[b][y*r.Width+x]
}

// Index converts column x, row y to a plane offset.
func (r *Raster) Index(x, y int) int { return y*r.Width + x }

// PixelCenter returns the CRS coordinate of the center of pixel (x, y).
func (r *Raster) PixelCenter(x, y int) (float64, float64) {
	gt := r.Transform
	return gt.OriginX + (float64(x)+0.5)*gt.PixelWidth,
		gt.OriginY - (float64(y)+0.5)*gt.PixelHeight
}

// PixelBounds returns the CRS extent of pixel (x, y).
func (r *Raster) PixelBounds(x, y int) *geom.Bounds {
	gt := r.Transform
	minX := gt.OriginX + float64(x)*gt.PixelWidth
	maxY := gt.OriginY - float64(y)*gt.PixelHeight
	return geom.NewBounds(geom.XY).Set(minX, maxY-gt.PixelHeight, minX+gt.PixelWidth, maxY)
}

// Bounds returns the CRS extent of the whole grid.
func (r *Raster) Bounds() *geom.Bounds {
	gt := r.Transform
	return geom.NewBounds(geom.XY).Set(
		gt.OriginX,
		gt.OriginY-float64(r.Height)*gt.PixelHeight,
		gt.OriginX+float64(r.Width)*gt.PixelWidth,
		gt.OriginY,
	)
}

// SameGrid reports whether o shares r's dimensions and georeferencing.
func (r *Raster) SameGrid(o *Raster) bool {
	return r.Width == o.Width && r.Height == o.Height && r.CRS == o.CRS && r.Transform == o.Transform
}

// CheckGrid returns an error when o is not pixel-aligned with r.
func (r *Raster) CheckGrid(o *Raster) error {
	if !r.SameGrid(o) {
		return eris.Errorf("raster: grid mismatch %dx%d %s %+v vs %dx%d %s %+v",
			r.Width, r.Height, r.CRS, r.Transform, o.Width, o.Height, o.CRS, o.Transform)
	}
	return nil
}

// EmptyLike allocates a NaN-filled raster on r's grid with the given bands.
func (r *Raster) EmptyLike(bands ...string) *Raster {
	out, _ := New(r.Width, r.Height, r.CRS, r.Transform, bands...) //nolint:errcheck // r's grid is already valid
	return out
}

// WithBand returns a raster sharing r's planes plus name set to values. An
// existing band of the same name is replaced in place of its position; r is
// not modified.
func (r *Raster) WithBand(name string, values []float64) (*Raster, error) {
	if len(values) != r.Len() {
		return nil, eris.Errorf("raster: band %q has %d values, grid has %d", name, len(values), r.Len())
	}
	out := &Raster{
		Width:     r.Width,
		Height:    r.Height,
		CRS:       r.CRS,
		Transform: r.Transform,
		Bands:     slices.Clone(r.Bands),
		Data:      slices.Clone(r.Data),
	}
	if i := out.BandIndex(name); i >= 0 {
		out.Data[i] = values
		return out, nil
	}
	out.Bands = append(out.Bands, name)
	out.Data = append(out.Data, values)
	return out, nil
}

// Select returns a raster containing only the named bands in the given order.
// Planes are shared with r.
func (r *Raster) Select(names ...string) (*Raster, error) {
	out := &Raster{
		Width:     r.Width,
		Height:    r.Height,
		CRS:       r.CRS,
		Transform: r.Transform,
		Bands:     make([]string, 0, len(names)),
		Data:      make([][]float64, 0, len(names)),
	}
	for _, n := range names {
		p, err := r.Band(n)
		if err != nil {
			return nil, err
		}
		out.Bands = append(out.Bands, n)
		out.Data = append(out.Data, p)
	}
	return out, nil
}

// ValidCount returns the number of non-NaN values in band name.
func (r *Raster) ValidCount(name string) (int, error) {
	p, err := r.Band(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range p {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n, nil
}
