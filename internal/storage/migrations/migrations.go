// Package migrations embeds the schema for both storage backends and
// drives golang-migrate against whichever one is configured, from either
// a backend's own New constructor or the davserver migrate subcommand.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Postgres applies every pending postgres migration to db, returning
// migrate.ErrNoChange wrapped as a nil error when the schema is current.
func Postgres(db *sql.DB) error {
	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: postgres driver: %w", err)
	}
	return run(drv, postgresFS, "postgres")
}

// SQLite applies every pending sqlite migration to db.
func SQLite(db *sql.DB) error {
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrations: sqlite driver: %w", err)
	}
	return run(drv, sqliteFS, "sqlite")
}

func run(drv database.Driver, fs embed.FS, dialect string) error {
	src, err := iofs.New(fs, dialect)
	if err != nil {
		return fmt.Errorf("migrations: %s source: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return fmt.Errorf("migrations: %s instance: %w", dialect, err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: %s version: %w", dialect, err)
	}
	if dirty {
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("migrations: %s force version %d: %w", dialect, version, err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: %s up: %w", dialect, err)
	}
	return nil
}

// Down rolls back every applied migration for the given dialect ("postgres"
// or "sqlite"). Used by the davserver migrate --down subcommand only; never
// called from a Store constructor.
func Down(dialect string, db *sql.DB) error {
	var (
		drv database.Driver
		fs  embed.FS
		err error
	)
	switch dialect {
	case "postgres":
		drv, err = postgres.WithInstance(db, &postgres.Config{})
		fs = postgresFS
	case "sqlite":
		drv, err = sqlite.WithInstance(db, &sqlite.Config{})
		fs = sqliteFS
	default:
		return fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migrations: %s driver: %w", dialect, err)
	}

	src, err := iofs.New(fs, dialect)
	if err != nil {
		return fmt.Errorf("migrations: %s source: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return fmt.Errorf("migrations: %s instance: %w", dialect, err)
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: %s down: %w", dialect, err)
	}
	return nil
}
