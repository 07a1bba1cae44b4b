package repository

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/dealhunter/internal/service"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded migrations. migrationsFS must hold the
// *.sql files under migrations/.
func RunMigrations(databaseURL string, migrationsFS fs.FS, logger *slog.Logger) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

type OpenOptions struct {
	Driver       string
	DataDir      string
	DatabaseURL  string
	MigrationsFS fs.FS
	Logger       *slog.Logger
}

// Open builds the configured store backend.
func Open(ctx context.Context, opts OpenOptions) (service.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case DriverFile, "":
		logger.Info("using file store", "dir", opts.DataDir)
		return NewFileStore(opts.DataDir)
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		if opts.MigrationsFS != nil {
			if err := RunMigrations(opts.DatabaseURL, opts.MigrationsFS, logger); err != nil {
				return nil, err
			}
		}
		pool, err := NewPool(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
