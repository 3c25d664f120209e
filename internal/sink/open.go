package sink

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/db"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDir      = "dir"
)

// Options selects and configures a Store.
type Options struct {
	Driver string
	// DSN is the SQLite path or Postgres connection string. For the dir
	// driver it names the SQLite run registry and defaults to
	// <Dir>/runs.db.
	DSN  string
	Dir  string
	Pool *db.PoolConfig
}

// Open constructs the Store for opts.Driver and applies its migration.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		s, err = NewSQLite(opts.DSN)
	case DriverPostgres:
		s, err = NewPostgres(ctx, opts.DSN, opts.Pool)
	case DriverDir:
		if opts.Dir == "" {
			return nil, eris.New("sink: dir driver requires a directory")
		}
		dsn := opts.DSN
		if dsn == "" {
			dsn = filepath.Join(opts.Dir, "runs.db")
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sink: create %s", opts.Dir)
		}
		var reg *SQLiteStore
		if reg, err = NewSQLite(dsn); err == nil {
			s = &dirStore{files: NewDirSink(opts.Dir), registry: reg}
		}
	default:
		return nil, eris.Errorf("sink: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sink: open %s", opts.Driver)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
