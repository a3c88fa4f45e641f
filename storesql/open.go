package storesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql" // registers "mysql"; also used for DSN parsing
	_ "github.com/jackc/pgx/v5/stdlib"           // registers "pgx"
	_ "github.com/mattn/go-sqlite3"              // registers "sqlite3"

	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/storesql/migrations"
)

// DefaultDatabaseName is used when a networked connection URL names no target
// database. The database is auto-created on first open if absent.
const DefaultDatabaseName = "memorigo"

// Open parses a connection URL's scheme to pick a dialect, opens the pool, installs
// the dialect's full-text index, and returns a ready Engine. Supported schemes:
// "sqlite://path/to/file.db" (or a bare path), "postgres://...", "mysql://...".
//
// For the two networked dialects, Open auto-creates the target database if it is
// absent: it connects to the dialect's default administrative
// database, checks the catalog, and issues a validated CREATE DATABASE.
func Open(ctx context.Context, connectURL string) (*Engine, error) {
	dialect, driverName, dsn := parseConnectURL(connectURL)

	if dialect != DialectSQLite {
		normalized, err := ensureDatabaseExists(ctx, dialect, dsn)
		if err != nil {
			return nil, fmt.Errorf("storesql: auto-create database: %w", err)
		}
		dsn = normalized
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storesql: open %s: %w", dialect, err)
	}

	configurePool(db, dialect)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storesql: ping %s: %w", dialect, err)
	}

	if err := migrations.Apply(db, migrationDialect(dialect)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storesql: apply migrations: %w", err)
	}

	fts := newFullTextIndex(dialect)
	if err := fts.Install(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storesql: install full-text index: %w", err)
	}

	return &Engine{
		DB:      db,
		Dialect: dialect,
		FTS:     fts,
		Retry:   DefaultRetryPolicy(dialect),
	}, nil
}

func configurePool(db *sql.DB, d Dialect) {
	if d == DialectSQLite {
		// The SQLite driver serializes writers internally; a single connection
		// avoids "database is locked" churn under concurrent access.
		db.SetMaxOpenConns(1)
		return
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
}

func parseConnectURL(raw string) (dialect Dialect, driverName, dsn string) {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return DialectSQLite, "sqlite3", strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, "pgx", raw
	case strings.HasPrefix(raw, "mysql://"):
		return DialectMySQL, "mysql", strings.TrimPrefix(raw, "mysql://")
	default:
		// Bare filesystem path: treat as SQLite.
		return DialectSQLite, "sqlite3", raw
	}
}

// ensureDatabaseExists connects to the dialect's default administrative database,
// checks the catalog for the target database named in dsn, and issues a validated
// CREATE DATABASE if it is absent. It returns dsn, filling in
// DefaultDatabaseName if the connection URL named none.
func ensureDatabaseExists(ctx context.Context, dialect Dialect, dsn string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return ensurePostgresDatabase(ctx, dsn)
	case DialectMySQL:
		return ensureMySQLDatabase(ctx, dsn)
	default:
		return dsn, nil
	}
}

func ensurePostgresDatabase(ctx context.Context, dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres connection url: %w", err)
	}

	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		name = DefaultDatabaseName
		u.Path = "/" + name
		dsn = u.String()
	}
	if err := validate.Identifier(name); err != nil {
		return "", err
	}

	admin := *u
	admin.Path = "/postgres"
	adminDB, err := sql.Open("pgx", admin.String())
	if err != nil {
		return "", fmt.Errorf("open administrative database: %w", err)
	}
	defer adminDB.Close()

	var exists bool
	err = adminDB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check pg_database catalog: %w", err)
	}
	if exists {
		return dsn, nil
	}
	if _, err := adminDB.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s"`, name)); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}
	return dsn, nil
}

func ensureMySQLDatabase(ctx context.Context, dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}

	name := cfg.DBName
	if name == "" {
		name = DefaultDatabaseName
		cfg.DBName = name
		dsn = cfg.FormatDSN()
	}
	if err := validate.Identifier(name); err != nil {
		return "", err
	}

	admin := *cfg
	admin.DBName = ""
	adminDB, err := sql.Open("mysql", admin.FormatDSN())
	if err != nil {
		return "", fmt.Errorf("open administrative connection: %w", err)
	}
	defer adminDB.Close()

	var schemaName string
	err = adminDB.QueryRowContext(ctx,
		`SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?`, name).Scan(&schemaName)
	switch {
	case err == nil:
		return dsn, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create
	default:
		return "", fmt.Errorf("check information_schema catalog: %w", err)
	}

	if _, err := adminDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}
	return dsn, nil
}

func migrationDialect(d Dialect) migrations.Dialect {
	switch d {
	case DialectPostgres:
		return migrations.Postgres
	case DialectMySQL:
		return migrations.MySQL
	default:
		return migrations.SQLite
	}
}

func newFullTextIndex(d Dialect) FullTextIndex {
	switch d {
	case DialectPostgres:
		return postgresFTS{}
	case DialectMySQL:
		return mysqlFTS{}
	default:
		return sqliteFTS{}
	}
}
