package geometry

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
)

// GeometryError reports a malformed or self-intersecting polygon.
type GeometryError struct {
	Label  string
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %q: %s", e.Label, e.Reason)
}

// Validate checks that every ring of mp is closed, has at least four
// coordinates, does not cross itself and encloses a non-zero area.
func Validate(label string, mp *geom.MultiPolygon) error {
	if mp == nil || mp.NumPolygons() == 0 {
		return &GeometryError{Label: label, Reason: "empty geometry"}
	}
	for i := range mp.NumPolygons() {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			return &GeometryError{Label: label, Reason: fmt.Sprintf("polygon %d has no rings", i)}
		}
		stride := p.Stride()
		for r := range p.NumLinearRings() {
			flat := p.LinearRing(r).FlatCoords()
			if err := validateRing(flat, stride); err != "" {
				return &GeometryError{Label: label, Reason: fmt.Sprintf("polygon %d ring %d: %s", i, r, err)}
			}
		}
	}
	return nil
}

func validateRing(flat []float64, stride int) string {
	n := len(flat) / stride
	if n < 4 {
		return fmt.Sprintf("ring has %d coordinates, need at least 4", n)
	}
	last := (n - 1) * stride
	if flat[0] != flat[last] || flat[1] != flat[last+1] {
		return "ring is not closed"
	}
	pts := distinctVertices(flat, stride)
	if len(pts) < 4 {
		return fmt.Sprintf("ring has %d distinct coordinates, need at least 4", len(pts))
	}
	// Segment k runs from pts[k] to pts[k+1].
	segs := len(pts) - 1
	for a := 0; a < segs; a++ {
		for b := a + 1; b < segs; b++ {
			if b == a+1 || (a == 0 && b == segs-1) {
				continue
			}
			if segmentsIntersect(pts[a], pts[a+1], pts[b], pts[b+1]) {
				return fmt.Sprintf("self-intersection between segments %d and %d", a, b)
			}
		}
	}
	if xy.SignedArea(geom.XY, flatten2D(pts)) == 0 {
		return "ring has zero area"
	}
	return ""
}

// distinctVertices returns the XY vertices of a closed ring with
// consecutive repeats removed. The closing vertex is kept.
func distinctVertices(flat []float64, stride int) []geom.Coord {
	pts := make([]geom.Coord, 0, len(flat)/stride)
	for i := 0; i < len(flat); i += stride {
		c := geom.Coord{flat[i], flat[i+1]}
		if len(pts) > 0 && pts[len(pts)-1].Equal(geom.XY, c) {
			continue
		}
		pts = append(pts, c)
	}
	return pts
}

func flatten2D(pts []geom.Coord) []float64 {
	out := make([]float64, 0, 2*len(pts))
	for _, c := range pts {
		out = append(out, c[0], c[1])
	}
	return out
}

// segmentsIntersect reports whether segments p1-p2 and q1-q2 share a point.
func segmentsIntersect(p1, p2, q1, q2 geom.Coord) bool {
	res := lineintersector.LineIntersectsLine(lineintersector.RobustLineIntersector{}, p1, p2, q1, q2)
	return res.HasIntersection()
}
