// Package geometry provides the polygon and region primitives used to
// filter scenes, sample training pixels and restrict zonal statistics.
package geometry

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// Region is a named study area. A nil *Region is unbounded: it contains
// every point and intersects every extent.
type Region struct {
	Name  string
	Shape *geom.MultiPolygon
}

// LabeledPolygon is a ground-truth area carrying a land-cover class.
type LabeledPolygon struct {
	ClassID int
	Label   string
	Shape   *geom.MultiPolygon
}

// NewRegion builds a region from a Polygon or MultiPolygon.
func NewRegion(name string, g geom.T) (*Region, error) {
	mp, err := ToMultiPolygon(g)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: region %q", name)
	}
	if err := Validate(name, mp); err != nil {
		return nil, err
	}
	return &Region{Name: name, Shape: mp}, nil
}

// BoxRegion returns the axis-aligned rectangle [minX, maxX] × [minY, maxY].
func BoxRegion(name string, minX, minY, maxX, maxY float64) (*Region, error) {
	return NewRegion(name, Box(minX, minY, maxX, maxY))
}

// Box returns a closed counterclockwise rectangle polygon.
func Box(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY,
		maxX, minY,
		maxX, maxY,
		minX, maxY,
		minX, minY,
	}, []int{10})
}

// ToMultiPolygon normalizes a Polygon or MultiPolygon to a MultiPolygon in
// the XY layout.
func ToMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch v := g.(type) {
	case *geom.MultiPolygon:
		if v.Layout() == geom.XY {
			return v, nil
		}
		out := geom.NewMultiPolygon(geom.XY).SetSRID(v.SRID())
		for i := range v.NumPolygons() {
			if err := out.Push(flatten(v.Polygon(i))); err != nil {
				return nil, eris.Wrap(err, "geometry: push polygon")
			}
		}
		return out, nil
	case *geom.Polygon:
		out := geom.NewMultiPolygon(geom.XY).SetSRID(v.SRID())
		if err := out.Push(flatten(v)); err != nil {
			return nil, eris.Wrap(err, "geometry: push polygon")
		}
		return out, nil
	case nil:
		return nil, eris.New("geometry: nil geometry")
	default:
		return nil, eris.Errorf("geometry: unsupported geometry type %T", g)
	}
}

// flatten drops any Z/M ordinates from p.
func flatten(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	stride := p.Stride()
	src := p.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	ends := make([]int, len(p.Ends()))
	for i, e := range p.Ends() {
		ends[i] = e / stride * 2
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

// Bounds returns the region's extent, or nil for an unbounded region.
func (r *Region) Bounds() *geom.Bounds {
	if r == nil {
		return nil
	}
	return r.Shape.Bounds()
}

// Contains reports whether (x, y) lies inside or on the boundary of r.
func (r *Region) Contains(x, y float64) bool {
	if r == nil {
		return true
	}
	return Contains(r.Shape, x, y)
}

// Intersects reports whether r overlaps the rectangle b.
func (r *Region) Intersects(b *geom.Bounds) bool {
	if r == nil {
		return true
	}
	return IntersectsBounds(r.Shape, b)
}

// String returns the region name, or "unbounded".
func (r *Region) String() string {
	if r == nil {
		return "unbounded"
	}
	return r.Name
}

// Contains reports whether (x, y) lies inside or on the boundary of lp.
func (lp LabeledPolygon) Contains(x, y float64) bool {
	return Contains(lp.Shape, x, y)
}

// Contains reports whether (x, y) lies inside mp or on any of its edges.
// Points inside a hole are outside; points on a hole's edge are inside.
func Contains(mp *geom.MultiPolygon, x, y float64) bool {
	if mp == nil {
		return false
	}
	for i := range mp.NumPolygons() {
		if polygonContains(mp.Polygon(i), x, y) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, x, y float64) bool {
	n := p.NumLinearRings()
	if n == 0 {
		return false
	}
	pt := geom.Coord{x, y}
	switch xy.LocatePointInRing(p.Layout(), pt, p.LinearRing(0).FlatCoords()) {
	case location.Exterior:
		return false
	case location.Boundary:
		return true
	}
	for i := 1; i < n; i++ {
		switch xy.LocatePointInRing(p.Layout(), pt, p.LinearRing(i).FlatCoords()) {
		case location.Boundary:
			return true
		case location.Interior:
			return false
		}
	}
	return true
}

// IntersectsBounds reports whether mp and the rectangle b share any point.
func IntersectsBounds(mp *geom.MultiPolygon, b *geom.Bounds) bool {
	if mp == nil || b == nil || b.IsEmpty() {
		return false
	}
	if !mp.Bounds().Overlaps(geom.XY, b) {
		return false
	}
	minX, minY, maxX, maxY := b.Min(0), b.Min(1), b.Max(0), b.Max(1)

	// A corner of the rectangle inside the shape.
	for _, c := range [][2]float64{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}} {
		if Contains(mp, c[0], c[1]) {
			return true
		}
	}

	rect := [][4]float64{
		{minX, minY, maxX, minY},
		{maxX, minY, maxX, maxY},
		{maxX, maxY, minX, maxY},
		{minX, maxY, minX, minY},
	}
	for i := range mp.NumPolygons() {
		p := mp.Polygon(i)
		stride := p.Stride()
		flat := p.LinearRing(0).FlatCoords()
		// A shape vertex inside the rectangle.
		for k := 0; k < len(flat); k += stride {
			if flat[k] >= minX && flat[k] <= maxX && flat[k+1] >= minY && flat[k+1] <= maxY {
				return true
			}
		}
		// Crossing edges.
		for k := 0; k+stride < len(flat); k += stride {
			for _, e := range rect {
				if segmentsIntersect(
					geom.Coord{flat[k], flat[k+1]}, geom.Coord{flat[k+stride], flat[k+stride+1]},
					geom.Coord{e[0], e[1]}, geom.Coord{e[2], e[3]},
				) {
					return true
				}
			}
		}
	}
	return false
}

// SRID parses an "EPSG:<code>" CRS identifier. Unknown forms yield 0.
func SRID(crs string) int {
	code, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}
