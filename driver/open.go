package driver

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	DefaultTableName   = "kiroku_schema_history"
	DefaultLockTimeout = time.Minute
)

type Config struct {
	// Schema defaults to the connection's current schema.
	Schema      string
	Table       string
	LockTimeout time.Duration
	// InstalledBy defaults to the database user.
	InstalledBy string
}

// Driver binds one database connection to a dialect and its history table.
type Driver struct {
	db          *sqlx.DB
	dialect     Dialect
	history     *History
	mutex       *Mutex
	installedBy string
	logger      *zap.Logger
}

// New prepares a driver for db. It queries the database for the defaults
// config leaves open but does not create anything.
func New(ctx context.Context, db *sql.DB, dialect Dialect, config Config, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	xdb := sqlx.NewDb(db, dialect.DriverName())

	table := Table{Schema: config.Schema, Name: config.Table}
	if table.Name == "" {
		table.Name = DefaultTableName
	}

	if table.Schema == "" {
		schema, err := dialect.CurrentSchema(ctx, xdb)
		if err != nil {
			return nil, fmt.Errorf("failed to determine current schema: %w", err)
		}
		table.Schema = schema
	}

	installedBy := config.InstalledBy
	if installedBy == "" {
		var err error
		if installedBy, err = dialect.CurrentUser(ctx, xdb); err != nil {
			return nil, fmt.Errorf("failed to determine current user: %w", err)
		}
	}

	if installedBy == "" {
		if u, err := user.Current(); err == nil {
			installedBy = u.Username
		}
	}

	timeout := config.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	return &Driver{
		db:          xdb,
		dialect:     dialect,
		history:     NewHistory(xdb, dialect, table, logger),
		mutex:       NewMutex(dialect.NewLocker(xdb, table), table.String(), timeout, logger),
		installedBy: installedBy,
		logger:      logger,
	}, nil
}

// Open connects to url using the dialect registered for its scheme.
func Open(ctx context.Context, url string, config Config, logger *zap.Logger) (*Driver, error) {
	dialect, err := ForURL(url)
	if err != nil {
		return nil, err
	}

	dsn, err := dialect.DSN(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s url: %w", dialect.Name(), err)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name(), err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect.Name(), err)
	}

	drv, err := New(ctx, db, dialect, config, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return drv, nil
}

func (d *Driver) DB() *sqlx.DB {
	return d.db
}

func (d *Driver) Dialect() Dialect {
	return d.dialect
}

func (d *Driver) History() *History {
	return d.history
}

func (d *Driver) InstalledBy() string {
	return d.installedBy
}

// Lock takes the schema history lock; see Mutex.Lock.
func (d *Driver) Lock(ctx context.Context) (context.Context, func(), error) {
	return d.mutex.Lock(ctx)
}

func (d *Driver) Close() error {
	return d.db.Close()
}
