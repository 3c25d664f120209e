package imagery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// CatalogFile is the index file name of a directory archive.
const CatalogFile = "catalog.json"

// Catalog indexes the scenes of a directory archive.
type Catalog struct {
	Scenes []CatalogEntry `json:"scenes"`
}

// CatalogEntry describes one scene file. Bounds, when present, is
// [minX, minY, maxX, maxY] in the scene CRS and lets Fetch skip scenes
// outside the region without reading them.
type CatalogEntry struct {
	ID                    string    `json:"id"`
	Sensor                string    `json:"sensor"`
	Acquired              time.Time `json:"acquired"`
	CloudyPixelPercentage float64   `json:"cloudy_pixel_percentage"`
	File                  string    `json:"file"`
	Bounds                []float64 `json:"bounds,omitempty"`
}

// DirSource serves scenes from a directory holding catalog.json and one
// encoded raster file per scene.
type DirSource struct {
	dir     string
	catalog Catalog
}

// OpenDir reads the catalog of the archive rooted at dir.
func OpenDir(dir string) (*DirSource, error) {
	cat, err := ReadCatalog(filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, err
	}
	return &DirSource{dir: dir, catalog: *cat}, nil
}

// ReadCatalog parses a catalog file.
func ReadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "imagery: read catalog %s", path)
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "imagery: decode catalog %s", path)
	}
	return &cat, nil
}

// Entries returns the catalog entries.
func (d *DirSource) Entries() []CatalogEntry { return d.catalog.Scenes }

// Fetch implements Source.
func (d *DirSource) Fetch(ctx context.Context, sensorID string, dates DateRange, region *geometry.Region, bands []string) (*Collection, error) {
	log := zap.L().With(zap.String("component", "imagery.dir"), zap.String("sensor", sensorID))

	var scenes []Scene
	for _, e := range d.catalog.Scenes {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "imagery: fetch cancelled")
		}
		if e.Sensor != sensorID || !dates.Contains(e.Acquired) {
			continue
		}
		if len(e.Bounds) == 4 {
			b := geom.NewBounds(geom.XY).Set(e.Bounds...)
			if !region.Intersects(b) {
				continue
			}
		}

		r, err := readRaster(filepath.Join(d.dir, e.File))
		if err != nil {
			return nil, eris.Wrapf(err, "imagery: scene %s", e.ID)
		}
		s := Scene{
			ID:                    e.ID,
			Sensor:                e.Sensor,
			Acquired:              e.Acquired,
			CloudyPixelPercentage: e.CloudyPixelPercentage,
			Raster:                r,
		}
		if !region.Intersects(r.Bounds()) {
			continue
		}
		if s, err = selectBands(s, bands); err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}

	log.Debug("fetched scenes", zap.Int("scenes", len(scenes)), zap.String("region", region.String()))
	return NewCollection(sensorID, scenes), nil
}

func readRaster(path string) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open raster")
	}
	defer f.Close() //nolint:errcheck
	return raster.Decode(f)
}

// WriteArchive writes scenes as a directory archive readable by OpenDir.
func WriteArchive(dir string, scenes []Scene) error {
	if err := os.MkdirAll(filepath.Join(dir, "scenes"), 0o755); err != nil {
		return eris.Wrap(err, "imagery: create archive dir")
	}

	var cat Catalog
	for _, s := range scenes {
		rel := filepath.Join("scenes", s.ID+".lcr")
		f, err := os.Create(filepath.Join(dir, rel))
		if err != nil {
			return eris.Wrapf(err, "imagery: create scene %s", s.ID)
		}
		if err := raster.Encode(f, s.Raster); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "imagery: write scene %s", s.ID)
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "imagery: close scene %s", s.ID)
		}

		b := s.Raster.Bounds()
		cat.Scenes = append(cat.Scenes, CatalogEntry{
			ID:                    s.ID,
			Sensor:                s.Sensor,
			Acquired:              s.Acquired.UTC(),
			CloudyPixelPercentage: s.CloudyPixelPercentage,
			File:                  filepath.ToSlash(rel),
			Bounds:                []float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)},
		})
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return eris.Wrap(err, "imagery: encode catalog")
	}
	return eris.Wrap(os.WriteFile(filepath.Join(dir, CatalogFile), data, 0o644), "imagery: write catalog")
}
