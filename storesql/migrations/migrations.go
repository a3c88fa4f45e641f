// Package migrations embeds the per-dialect schema migrations and applies them
// through golang-migrate, the migration runner the rest of the pack standardizes
// on for schema management.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed mysql/*.sql
var mysqlFS embed.FS

// Dialect mirrors storesql.Dialect without importing it, keeping migrations
// dependency-free of the parent package.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Apply runs every pending "up" migration for the given dialect against db.
// migrate.ErrNoChange is swallowed (schema already current).
func Apply(db *sql.DB, dialect Dialect) error {
	fsys, subdir, err := sourceFor(dialect)
	if err != nil {
		return err
	}

	src, err := iofs.New(fsys, subdir)
	if err != nil {
		return fmt.Errorf("migrations: open source for %s: %w", dialect, err)
	}

	driver, err := driverFor(db, dialect)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("migrations: new migrator for %s: %w", dialect, err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrations: apply %s: %w", dialect, err)
	}
	return nil
}

func sourceFor(dialect Dialect) (embed.FS, string, error) {
	switch dialect {
	case SQLite:
		return sqliteFS, "sqlite", nil
	case Postgres:
		return postgresFS, "postgres", nil
	case MySQL:
		return mysqlFS, "mysql", nil
	default:
		return embed.FS{}, "", fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}

func driverFor(db *sql.DB, dialect Dialect) (database.Driver, error) {
	switch dialect {
	case SQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{})
	case Postgres:
		return postgres.WithInstance(db, &postgres.Config{})
	case MySQL:
		return mysql.WithInstance(db, &mysql.Config{})
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}
