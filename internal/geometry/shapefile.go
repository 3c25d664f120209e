package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// ReadPolygonsShapefile reads labeled polygons from an ESRI shapefile whose
// attribute table carries a CLASS_ID column and an optional LABEL column.
func ReadPolygonsShapefile(path string) ([]LabeledPolygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	classIdx, ok := fieldIdx["class_id"]
	if !ok {
		return nil, eris.Errorf("geometry: shapefile %s has no CLASS_ID field", path)
	}
	labelIdx, hasLabel := fieldIdx["label"]

	var out []LabeledPolygon
	var skipped int
	for reader.Next() {
		row, shape := reader.Shape()

		raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(classIdx), "\x00"))
		id, err := parseShapefileClassID(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: shapefile %s record %d", path, row)
		}
		label := ""
		if hasLabel {
			label = NormalizeLabel(strings.TrimRight(reader.Attribute(labelIdx), "\x00"))
		}
		if label == "" {
			label = fmt.Sprintf("Class %d", id)
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		if err := Validate(label, mp); err != nil {
			return nil, err
		}
		out = append(out, LabeledPolygon{ClassID: id, Label: label, Shape: mp})
	}

	if skipped > 0 {
		zap.L().Debug("geometry: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// parseShapefileClassID accepts dBASE numeric fields, which may be written
// with a decimal part ("3.000").
func parseShapefileClassID(raw string) (int, error) {
	if id, err := strconv.Atoi(raw); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, eris.Errorf("invalid CLASS_ID %q", raw)
	}
	return int(f), nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefile outer rings are clockwise and holes counterclockwise; each hole
// is attached to the most recent outer ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("geometry: skipping malformed polygon part", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		// Holes wind counterclockwise, which xy reports as negative area.
		hole := xy.SignedArea(geom.XY, flat) < 0
		if hole && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("geometry: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}
		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("geometry: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
