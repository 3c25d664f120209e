package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/landcover-cli/internal/geometry"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// SQLiteStore implements Store using modernc.org/sqlite. Rasters are stored
// as encoded blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	config     TEXT NOT NULL,
	summary    TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rasters (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	key         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	year        INTEGER NOT NULL DEFAULT 0,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	crs         TEXT NOT NULL,
	bands       TEXT NOT NULL,
	region      BLOB,
	region_name TEXT NOT NULL DEFAULT '',
	data        BLOB NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, key)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_rasters_run_id ON rasters(run_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Persist implements RasterSink.
func (s *SQLiteStore) Persist(ctx context.Context, r *raster.Raster, dest Destination) error {
	var buf bytes.Buffer
	if err := raster.Encode(&buf, r); err != nil {
		return eris.Wrap(err, "sqlite: encode raster")
	}
	bands, err := json.Marshal(r.Bands)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bands")
	}
	region, err := geometry.EncodeEWKB(dest.Region, geometry.SRID(r.CRS))
	if err != nil {
		return eris.Wrap(err, "sqlite: encode region")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rasters (id, run_id, key, kind, year, width, height, crs, bands, region, region_name, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, key) DO UPDATE SET
		   kind = excluded.kind, year = excluded.year, width = excluded.width, height = excluded.height,
		   crs = excluded.crs, bands = excluded.bands, region = excluded.region, region_name = excluded.region_name,
		   data = excluded.data,
		   created_at = excluded.created_at`,
		uuid.New().String(), dest.RunID, dest.Key(), string(dest.Kind), dest.Year,
		r.Width, r.Height, r.CRS, string(bands), region, dest.Region.String(), buf.Bytes(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: persist raster %s", dest.Key())
	}
	return nil
}

// LoadRaster reads back a persisted raster and its region.
func (s *SQLiteStore) LoadRaster(ctx context.Context, runID, key string) (*raster.Raster, *geometry.Region, error) {
	var (
		data, region []byte
		regionName   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, region, region_name FROM rasters WHERE run_id = ? AND key = ?`, runID, key,
	).Scan(&data, &region, &regionName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, eris.Errorf("sqlite: raster %s/%s not found", runID, key)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: load raster %s/%s", runID, key)
	}
	r, err := raster.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: decode raster %s/%s", runID, key)
	}
	var reg *geometry.Region
	if len(region) > 0 {
		if reg, err = geometry.DecodeEWKB(regionName, region); err != nil {
			return nil, nil, eris.Wrapf(err, "sqlite: decode region %s/%s", runID, key)
		}
	}
	return r, reg, nil
}

// ListRasters implements Registry.
func (s *SQLiteStore) ListRasters(ctx context.Context, runID string) ([]StoredRaster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, key, kind, year, width, height, crs, bands, created_at
		 FROM rasters WHERE run_id = ? ORDER BY key`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rasters")
	}
	defer rows.Close() //nolint:errcheck

	var out []StoredRaster
	for rows.Next() {
		var (
			sr    StoredRaster
			kind  string
			bands string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Key, &kind, &sr.Year, &sr.Width, &sr.Height, &sr.CRS, &bands, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raster")
		}
		sr.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(bands), &sr.Bands); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal bands")
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rasters iterate")
}

// CreateRun implements Registry.
func (s *SQLiteStore) CreateRun(ctx context.Context, config string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(RunStatusRunning), config, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &Run{ID: id, Status: RunStatusRunning, Config: config, CreatedAt: now, UpdatedAt: now}, nil
}

// FinishRun implements Registry.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, summary, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullString(summary), nullString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: finish run %s", id)
	}
	return nil
}

// GetRun implements Registry.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, config, summary, error, created_at, updated_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

// ListRuns implements Registry, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, config, summary, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r               Run
		status          string
		summary, errMsg sql.NullString
	)
	if err := row.Scan(&r.ID, &status, &r.Config, &summary, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.Summary = summary.String
	r.Error = errMsg.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
