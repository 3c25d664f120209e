package geometry

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Property keys searched, in order, for a feature's class id and label.
var (
	classIDKeys = []string{"class_id", "classId", "landcover", "CLASS_ID"}
	labelKeys   = []string{"label", "name", "LABEL"}
)

// NormalizeLabel trims and title-cases a class label ("DENSE forest " →
// "Dense Forest").
func NormalizeLabel(label string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(label), " "))
}

// ReadPolygonsGeoJSON parses a GeoJSON FeatureCollection of Polygon or
// MultiPolygon features carrying a class id property.
func ReadPolygonsGeoJSON(r io.Reader) ([]LabeledPolygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: read geojson")
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "geometry: decode geojson")
	}

	out := make([]LabeledPolygon, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, err := classIDFromProperties(f.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: feature %d", i)
		}
		label := labelFromProperties(f.Properties)
		if label == "" {
			label = fmt.Sprintf("Class %d", id)
		}

		mp, err := ToMultiPolygon(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: feature %d (%s)", i, label)
		}
		if err := Validate(label, mp); err != nil {
			return nil, err
		}
		out = append(out, LabeledPolygon{ClassID: id, Label: label, Shape: mp})
	}
	return out, nil
}

// ReadRegionGeoJSON parses a GeoJSON Feature, FeatureCollection or bare
// geometry and merges every polygon it contains into one region.
func ReadRegionGeoJSON(r io.Reader, name string) (*Region, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: read region")
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrap(err, "geometry: decode region")
	}

	var geoms []geom.T
	switch probe.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "geometry: decode region collection")
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "geometry: decode region feature")
		}
		geoms = append(geoms, f.Geometry)
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "geometry: decode region geometry")
		}
		geoms = append(geoms, g)
	}

	merged := geom.NewMultiPolygon(geom.XY)
	for _, g := range geoms {
		mp, err := ToMultiPolygon(g)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: region %q", name)
		}
		for i := range mp.NumPolygons() {
			if err := merged.Push(mp.Polygon(i)); err != nil {
				return nil, eris.Wrap(err, "geometry: merge region")
			}
		}
	}
	if err := Validate(name, merged); err != nil {
		return nil, err
	}
	return &Region{Name: name, Shape: merged}, nil
}

func classIDFromProperties(props map[string]any) (int, error) {
	for _, k := range classIDKeys {
		v, ok := props[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return 0, eris.Errorf("class id %v is not an integer", n)
			}
			return int(n), nil
		case string:
			id, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return 0, eris.Wrapf(err, "class id %q", n)
			}
			return id, nil
		default:
			return 0, eris.Errorf("class id has unsupported type %T", v)
		}
	}
	return 0, eris.Errorf("missing class id property (one of %v)", classIDKeys)
}

func labelFromProperties(props map[string]any) string {
	for _, k := range labelKeys {
		if s, ok := props[k].(string); ok && strings.TrimSpace(s) != "" {
			return NormalizeLabel(s)
		}
	}
	return ""
}
