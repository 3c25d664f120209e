// Package imagery models raw optical acquisitions and the ImageSource
// boundary through which the pipeline ingests them.
package imagery

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// Scene is one radiometrically corrected acquisition. Scenes are immutable
// once ingested.
type Scene struct {
	ID                    string
	Sensor                string
	Acquired              time.Time
	CloudyPixelPercentage float64
	Raster                *raster.Raster
}

// Collection is a time-ordered set of scenes from a single sensor.
type Collection struct {
	Sensor string
	Scenes []Scene
}

// DateRange is the half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Year returns the range covering calendar year y in UTC.
func Year(y int) DateRange {
	return DateRange{
		Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Years returns the range covering calendar years first..last inclusive.
func Years(first, last int) DateRange {
	return DateRange{Start: Year(first).Start, End: Year(last).End}
}

// Contains reports whether t falls in the range.
func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Source fetches scenes for a sensor, date range and region, restricted to
// the requested bands. Implementations return scenes already ordered by
// acquisition time.
type Source interface {
	Fetch(ctx context.Context, sensorID string, dates DateRange, region *geometry.Region, bands []string) (*Collection, error)
}

// NewCollection returns a collection with scenes sorted by acquisition time.
func NewCollection(sensor string, scenes []Scene) *Collection {
	sorted := slices.Clone(scenes)
	slices.SortStableFunc(sorted, func(a, b Scene) int {
		return a.Acquired.Compare(b.Acquired)
	})
	return &Collection{Sensor: sensor, Scenes: sorted}
}

// Len returns the number of scenes.
func (c *Collection) Len() int { return len(c.Scenes) }

// Filter returns a new collection holding the scenes for which keep is true.
func (c *Collection) Filter(keep func(Scene) bool) *Collection {
	out := &Collection{Sensor: c.Sensor}
	for _, s := range c.Scenes {
		if keep(s) {
			out.Scenes = append(out.Scenes, s)
		}
	}
	return out
}

// FilterDate keeps scenes acquired within d.
func (c *Collection) FilterDate(d DateRange) *Collection {
	return c.Filter(func(s Scene) bool { return d.Contains(s.Acquired) })
}

// FilterBounds keeps scenes whose footprint intersects region.
func (c *Collection) FilterBounds(region *geometry.Region) *Collection {
	return c.Filter(func(s Scene) bool { return region.Intersects(s.Raster.Bounds()) })
}

// FilterCloud keeps scenes with CloudyPixelPercentage strictly below threshold.
func (c *Collection) FilterCloud(threshold float64) *Collection {
	return c.Filter(func(s Scene) bool { return s.CloudyPixelPercentage < threshold })
}

// selectBands returns a copy of s whose raster holds only bands, in order.
// A nil bands slice keeps every band.
func selectBands(s Scene, bands []string) (Scene, error) {
	if bands == nil {
		return s, nil
	}
	r, err := s.Raster.Select(bands...)
	if err != nil {
		return Scene{}, eris.Wrapf(err, "imagery: scene %s", s.ID)
	}
	s.Raster = r
	return s, nil
}
