package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/db"
	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// rowsTable holds one row per (raster, band, image row) with the pixel
// values as a float8 array.
const rowsTable = "landcover_raster_rows"

var rowColumns = []string{"raster_id", "band", "y", "vals"}

// PostgresStore implements Store on PostGIS. Pixel rows are bulk loaded with
// COPY; the raster region is stored as a geometry.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to dsn and returns a PostgresStore.
func NewPostgres(ctx context.Context, dsn string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, dsn, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS landcover_runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	config     TEXT NOT NULL,
	summary    TEXT,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS landcover_rasters (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	key         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	year        INTEGER NOT NULL DEFAULT 0,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	crs         TEXT NOT NULL,
	transform   JSONB NOT NULL,
	bands       TEXT[] NOT NULL,
	region      geometry,
	region_name TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, key)
);

CREATE TABLE IF NOT EXISTS landcover_raster_rows (
	raster_id TEXT NOT NULL REFERENCES landcover_rasters(id) ON DELETE CASCADE,
	band      TEXT NOT NULL,
	y         INTEGER NOT NULL,
	vals      DOUBLE PRECISION[] NOT NULL,
	PRIMARY KEY (raster_id, band, y)
);

CREATE INDEX IF NOT EXISTS idx_landcover_runs_status ON landcover_runs(status);
CREATE INDEX IF NOT EXISTS idx_landcover_rasters_run_id ON landcover_rasters(run_id);
CREATE INDEX IF NOT EXISTS idx_landcover_rasters_region ON landcover_rasters USING GIST (region);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Persist implements RasterSink. The raster row is upserted and its pixel
// rows replaced inside one transaction.
func (s *PostgresStore) Persist(ctx context.Context, r *raster.Raster, dest Destination) error {
	transform, err := json.Marshal(r.Transform)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal transform")
	}
	region, err := geometry.EncodeEWKB(dest.Region, geometry.SRID(r.CRS))
	if err != nil {
		return eris.Wrap(err, "postgres: encode region")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	fail := func(err error, msg string) error {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			zap.L().Warn("postgres: rollback failed", zap.Error(rbErr))
		}
		return eris.Wrapf(err, "postgres: %s %s", msg, dest.Key())
	}

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO landcover_rasters (id, run_id, key, kind, year, width, height, crs, transform, bands, region, region_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, ST_GeomFromEWKB($11), $12, $13)
		 ON CONFLICT (run_id, key) DO UPDATE SET
		   kind = EXCLUDED.kind, year = EXCLUDED.year, width = EXCLUDED.width, height = EXCLUDED.height,
		   crs = EXCLUDED.crs, transform = EXCLUDED.transform, bands = EXCLUDED.bands,
		   region = EXCLUDED.region, region_name = EXCLUDED.region_name, created_at = EXCLUDED.created_at
		 RETURNING id`,
		uuid.New().String(), dest.RunID, dest.Key(), string(dest.Kind), dest.Year,
		r.Width, r.Height, r.CRS, transform, r.Bands, region, dest.Region.String(), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return fail(err, "upsert raster")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM landcover_raster_rows WHERE raster_id = $1`, id); err != nil {
		return fail(err, "clear rows of")
	}

	rows := make([][]any, 0, len(r.Bands)*r.Height)
	for b, name := range r.Bands {
		for y := range r.Height {
			rows = append(rows, []any{id, name, y, r.Data[b][y*r.Width : (y+1)*r.Width]})
		}
	}
	n, err := db.CopyFrom(ctx, tx, rowsTable, rowColumns, rows)
	if err != nil {
		return fail(err, "copy rows of")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit %s", dest.Key())
	}
	zap.L().Debug("postgres: persisted raster",
		zap.String("run_id", dest.RunID), zap.String("key", dest.Key()), zap.Int64("rows", n))
	return nil
}

// ListRasters implements Registry.
func (s *PostgresStore) ListRasters(ctx context.Context, runID string) ([]StoredRaster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, key, kind, year, width, height, crs, bands, created_at
		 FROM landcover_rasters WHERE run_id = $1 ORDER BY key`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rasters")
	}
	defer rows.Close()

	var out []StoredRaster
	for rows.Next() {
		var (
			sr   StoredRaster
			kind string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Key, &kind, &sr.Year, &sr.Width, &sr.Height, &sr.CRS, &sr.Bands, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raster")
		}
		sr.Kind = Kind(kind)
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rasters iterate")
}

// CreateRun implements Registry.
func (s *PostgresStore) CreateRun(ctx context.Context, config string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO landcover_runs (id, status, config, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(RunStatusRunning), config, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &Run{ID: id, Status: RunStatusRunning, Config: config, CreatedAt: now, UpdatedAt: now}, nil
}

// FinishRun implements Registry.
func (s *PostgresStore) FinishRun(ctx context.Context, id string, status RunStatus, summary, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE landcover_runs SET status = $1, summary = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(status), nullable(summary), nullable(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: finish run %s", id)
	}
	return nil
}

// GetRun implements Registry.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, config, summary, error, created_at, updated_at FROM landcover_runs WHERE id = $1`, id)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return r, nil
}

// ListRuns implements Registry, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, config, summary, error, created_at, updated_at
		 FROM landcover_runs ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row scannable) (*Run, error) {
	var (
		r               Run
		status          string
		summary, errMsg pgtype.Text
	)
	if err := row.Scan(&r.ID, &status, &r.Config, &summary, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.Summary = summary.String
	r.Error = errMsg.String
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
