package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB is a database/sql handle plus the dialect the queries must be rebound to.
type DB struct {
	*sql.DB
	Driver string
	pool   *pgxpool.Pool
}

// Connect builds the postgres pool and fails fast when the server is unreachable.
func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Println("✅ Postgres pool connected")
	return pool, nil
}

// Open picks the backend from the URL scheme: postgres goes through a pgx
// pool, sqlite:// and file: go to go-sqlite3.
func Open(databaseURL string) (*DB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"), strings.HasPrefix(databaseURL, "file:"):
		return OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pool, err := Connect(databaseURL)
		if err != nil {
			return nil, err
		}
		d := &DB{DB: stdlib.OpenDBFromPool(pool), Driver: DriverPostgres, pool: pool}
		if err := d.Migrate(context.Background()); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}

func OpenSQLite(dsn string) (*DB, error) {
	sqlDB, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and a :memory: database only lives
	// as long as its single connection
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, err
	}

	d := &DB{DB: sqlDB, Driver: DriverSQLite}
	if err := d.Migrate(context.Background()); err != nil {
		d.Close()
		return nil, err
	}
	log.Printf("✅ SQLite database opened at %s", dsn)
	return d, nil
}

func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// Rebind rewrites ? placeholders into $n for postgres.
func (d *DB) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
