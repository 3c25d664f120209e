package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts a region to little-endian EWKB tagged with srid.
// Returns nil, nil for an unbounded region.
func EncodeEWKB(r *Region, srid int) ([]byte, error) {
	if r == nil || r.Shape == nil {
		return nil, nil
	}
	g := geom.NewMultiPolygonFlat(geom.XY, r.Shape.FlatCoords(), r.Shape.Endss()).SetSRID(srid)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: encode WKB for %s", r.Name)
	}
	return data, nil
}

// DecodeEWKB parses EWKB produced by EncodeEWKB back into a region.
func DecodeEWKB(name string, data []byte) (*Region, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode WKB")
	}
	return NewRegion(name, g)
}
