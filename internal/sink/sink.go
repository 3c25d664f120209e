// Package sink persists analysis rasters and records analysis runs.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// ErrRunNotFound is returned by registries for an unknown run id.
var ErrRunNotFound = eris.New("run not found")

// Kind classifies a persisted raster.
type Kind string

// Raster kinds.
const (
	KindComposite  Kind = "composite"
	KindClassified Kind = "classified"
	KindChange     Kind = "change"
	KindTrend      Kind = "trend"
)

// Destination describes where and under what identity a raster is stored.
type Destination struct {
	RunID  string
	Kind   Kind
	Year   int // zero for multi-year products
	Region *geometry.Region
}

// Key is the stable name of the destination within a run, such as
// "classified-2020" or "change".
func (d Destination) Key() string {
	if d.Year != 0 {
		return fmt.Sprintf("%s-%d", d.Kind, d.Year)
	}
	return string(d.Kind)
}

// RasterSink stores rasters. Persisting the same destination twice replaces
// the earlier raster.
type RasterSink interface {
	Persist(ctx context.Context, r *raster.Raster, dest Destination) error
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded analysis. Config and Summary hold YAML documents.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Config    string    `json:"config"`
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredRaster is the metadata of a persisted raster.
type StoredRaster struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Year      int       `json:"year,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CRS       string    `json:"crs"`
	Bands     []string  `json:"bands"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry records runs.
type Registry interface {
	CreateRun(ctx context.Context, config string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, summary, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListRasters(ctx context.Context, runID string) ([]StoredRaster, error)
}

// Store is a raster sink with a run registry.
type Store interface {
	RasterSink
	Registry
	Migrate(ctx context.Context) error
	Close() error
}
