package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every pooled connection.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"

// NewSQLite opens or creates an SQLite database at the given path and
// migrates it to the latest schema.
func NewSQLite(ctx context.Context, path string) (*DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?%s", path, sqlitePragmas))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := dbx.PingContext(ctx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(dbx, dialectSQLite); err != nil {
		dbx.Close()
		return nil, err
	}
	return newDB(dbx, dialectSQLite), nil
}
