package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// runMigrations brings the schema of dbx up to date using the embedded
// migrations for the given dialect.
func runMigrations(dbx *sqlx.DB, dialect string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("create migrations source: %w", err)
	}

	var driver migratedb.Driver
	switch dialect {
	case dialectSQLite:
		driver, err = migratesqlite.WithInstance(dbx.DB, &migratesqlite.Config{})
	case dialectPostgres:
		driver, err = migratepg.WithInstance(dbx.DB, &migratepg.Config{})
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", dialect, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	version, dirty, _ := migrator.Version()
	slog.Info("database migrated", "dialect", dialect, "version", version, "dirty", dirty)
	return nil
}
