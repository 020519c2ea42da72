// Package store persists scans, sites, organizations and crawl coverage in
// SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/alouette-a11y/alouette/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrScanNotFound         = errors.New("scan not found")
	ErrSiteNotFound         = errors.New("site not found")
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrInvalidTransition is returned for a backward or terminal-leaving
	// status change, or when the scan changed underneath the update.
	ErrInvalidTransition = errors.New("invalid scan status transition")
)

// Config selects the database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

func DefaultConfig() Config {
	return Config{Driver: "sqlite", DSN: "alouette.db"}
}

// Store is safe for concurrent use.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   logging.Logger
}

// Open connects, applies migrations and returns a ready Store.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	var (
		db      *sql.DB
		err     error
		dialect goose.Dialect
	)
	switch cfg.Driver {
	case "", "sqlite":
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection keeps the pragmas in force and serializes writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragmas: %w", err)
		}
		dialect = goose.DialectSQLite3
	case "postgres", "pgx":
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	s := &Store{
		db:       db,
		postgres: dialect == goose.DialectPostgres,
		logger:   logger.With(logging.Field{Key: "component", Value: "store"}),
	}
	if err := s.migrate(ctx, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dialect goose.Dialect) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, s.db, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied", logging.Field{Key: "version", Value: r.Source.Version})
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}
