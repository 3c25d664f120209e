package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/landcover-cli/internal/raster"
)

// Sidecar and raster file extensions written by DirSink.
const (
	rasterExt  = ".lcr"
	sidecarExt = ".json"
)

// DirSink writes each raster as <root>/<run>/<key>.lcr next to a JSON
// sidecar holding its metadata and region.
type DirSink struct {
	root string
}

// NewDirSink returns a sink rooted at root.
func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

type sidecar struct {
	StoredRaster
	Transform  raster.GeoTransform `json:"transform"`
	RegionName string              `json:"region_name"`
	Region     json.RawMessage     `json:"region,omitempty"`
}

// Persist implements RasterSink. Both files are written to temporary names
// and renamed into place.
func (d *DirSink) Persist(ctx context.Context, r *raster.Raster, dest Destination) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "dir: persist cancelled")
	}
	if dest.RunID == "" || strings.ContainsAny(dest.RunID, `/\`) {
		return eris.Errorf("dir: invalid run id %q", dest.RunID)
	}
	runDir := filepath.Join(d.root, dest.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return eris.Wrapf(err, "dir: create %s", runDir)
	}

	meta := sidecar{
		StoredRaster: StoredRaster{
			ID:        dest.RunID + "/" + dest.Key(),
			RunID:     dest.RunID,
			Key:       dest.Key(),
			Kind:      dest.Kind,
			Year:      dest.Year,
			Width:     r.Width,
			Height:    r.Height,
			CRS:       r.CRS,
			Bands:     slices.Clone(r.Bands),
			CreatedAt: time.Now().UTC(),
		},
		Transform:  r.Transform,
		RegionName: dest.Region.String(),
	}
	if dest.Region != nil && dest.Region.Shape != nil {
		g, err := geojson.Marshal(dest.Region.Shape)
		if err != nil {
			return eris.Wrapf(err, "dir: encode region %s", dest.Region.Name)
		}
		meta.Region = g
	}

	base := filepath.Join(runDir, dest.Key())
	if err := writeAtomic(base+rasterExt, func(f *os.File) error { return raster.Encode(f, r) }); err != nil {
		return eris.Wrapf(err, "dir: write raster %s", dest.Key())
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "dir: encode sidecar")
	}
	if err := writeAtomic(base+sidecarExt, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return eris.Wrapf(err, "dir: write sidecar %s", dest.Key())
	}
	return nil
}

// Load reads back the raster stored under runID and key.
func (d *DirSink) Load(runID, key string) (*raster.Raster, error) {
	f, err := os.Open(filepath.Join(d.root, runID, key+rasterExt))
	if err != nil {
		return nil, eris.Wrapf(err, "dir: open %s/%s", runID, key)
	}
	defer f.Close() //nolint:errcheck
	return raster.Decode(f)
}

// List returns the sidecar metadata of every raster of runID, ordered by key.
// An unknown run yields an empty list.
func (d *DirSink) List(runID string) ([]StoredRaster, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, runID, "*"+sidecarExt))
	if err != nil {
		return nil, eris.Wrap(err, "dir: list")
	}
	slices.Sort(matches)

	out := make([]StoredRaster, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, eris.Wrapf(err, "dir: read %s", m)
		}
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, eris.Wrapf(err, "dir: decode %s", m)
		}
		out = append(out, sc.StoredRaster)
	}
	return out, nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// dirStore persists rasters through a DirSink and records runs in SQLite.
type dirStore struct {
	files    *DirSink
	registry *SQLiteStore
}

func (s *dirStore) Persist(ctx context.Context, r *raster.Raster, dest Destination) error {
	return s.files.Persist(ctx, r, dest)
}

func (s *dirStore) ListRasters(_ context.Context, runID string) ([]StoredRaster, error) {
	return s.files.List(runID)
}

func (s *dirStore) CreateRun(ctx context.Context, config string) (*Run, error) {
	return s.registry.CreateRun(ctx, config)
}

func (s *dirStore) FinishRun(ctx context.Context, id string, status RunStatus, summary, errMsg string) error {
	return s.registry.FinishRun(ctx, id, status, summary, errMsg)
}

func (s *dirStore) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.registry.GetRun(ctx, id)
}

func (s *dirStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.registry.ListRuns(ctx, limit)
}

func (s *dirStore) Migrate(ctx context.Context) error {
	if err := os.MkdirAll(s.files.root, 0o755); err != nil {
		return eris.Wrapf(err, "dir: create %s", s.files.root)
	}
	return s.registry.Migrate(ctx)
}

func (s *dirStore) Close() error { return s.registry.Close() }
