package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/resilience"
	"github.com/sells-group/landcover-cli/internal/sink"
)

// initStore opens the configured sink and applies its migration.
func initStore(ctx context.Context, c *config.Config) (sink.Store, error) {
	return sink.Open(ctx, sink.Options{
		Driver: c.Sink.Driver,
		DSN:    c.Sink.DSN,
		Dir:    c.Sink.Dir,
		Pool:   c.Sink.Pool,
	})
}

// initSource opens the directory archive wrapped with the configured rate
// limit and retries.
func initSource(c *config.Config) (imagery.Source, error) {
	dir, err := imagery.OpenDir(c.Source.Dir)
	if err != nil {
		return nil, err
	}
	var src imagery.Source = dir
	if c.Source.Retries > 1 {
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = c.Source.Retries
		retry.OnRetry = resilience.RetryLogger("imagery.dir", "fetch")
		src = imagery.Retrying(src, retry)
	}
	if c.Source.RatePerSec > 0 {
		src = imagery.RateLimited(src, rate.NewLimiter(rate.Limit(c.Source.RatePerSec), max(c.Source.Burst, 1)))
	}
	return src, nil
}

// loadPolygons reads training polygons from a GeoJSON or ESRI shapefile.
func loadPolygons(path string) ([]geometry.LabeledPolygon, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return geometry.ReadPolygonsShapefile(path)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open polygons %s", path)
		}
		defer f.Close() //nolint:errcheck
		return geometry.ReadPolygonsGeoJSON(f)
	default:
		return nil, eris.Errorf("unsupported polygon file %s (want .geojson or .shp)", path)
	}
}

// loadRegion reads the study area from a GeoJSON file. An empty path is the
// unbounded region.
func loadRegion(path string) (*geometry.Region, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open region %s", path)
	}
	defer f.Close() //nolint:errcheck
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return geometry.ReadRegionGeoJSON(f, name)
}
