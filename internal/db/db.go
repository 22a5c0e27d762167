package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps *sql.DB with the queries used by the service.
type DB struct {
	*sql.DB
	dialect Dialect
}

// New connects to Postgres when databaseURL is set, otherwise to the SQLite
// file at sqlitePath (created if missing). Migrations are applied before returning.
func New(databaseURL, sqlitePath string) (*DB, error) {
	if databaseURL != "" {
		return open(DialectPostgres, databaseURL)
	}

	if sqlitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}
	return open(DialectSQLite, sqliteDSN(sqlitePath))
}

func open(dialect Dialect, dsn string) (*DB, error) {
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// A single connection serializes writers and keeps :memory: databases alive.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	db := &DB{DB: conn, dialect: dialect}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Migrate applies the embedded goose migrations for the active dialect.
func (db *DB) Migrate(ctx context.Context) error {
	gooseDialect := goose.DialectPostgres
	if db.dialect == DialectSQLite {
		gooseDialect = goose.DialectSQLite3
	}

	fsys, err := fs.Sub(migrationsFS, "migrations/"+string(db.dialect))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		log.Printf("[DB] Applied migration %s (%v)", r.Source.Path, r.Duration)
	}

	return nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
