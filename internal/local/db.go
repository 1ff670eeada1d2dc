// Package local opens the embedded SQLite store, applies its migrations and
// vends the repositories built on it.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/quyen-luc/prices-app/internal/filex"
	"github.com/quyen-luc/prices-app/internal/local/migrations"
	"github.com/quyen-luc/prices-app/internal/local/repositories/metadata"
	"github.com/quyen-luc/prices-app/internal/local/repositories/products"

	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

type Repositories struct {
	DB       *sql.DB
	Products *products.SQLiteRepository
	Metadata *metadata.SQLiteRepository
}

// Close releases the database handle.
func (r *Repositories) Close() error {
	return r.DB.Close()
}

type migrator interface {
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
}

// newMigrator is a seam for testing; it builds a goose provider scoped to db.
var newMigrator = func(db *sql.DB) (migrator, error) {
	return goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
}

// RunMigrations applies the embedded SQLite migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := newMigrator(db)
	if err != nil {
		return fmt.Errorf("failed to create local migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate local database: %w", err)
	}
	return nil
}

// Open opens the SQLite database at path. An in-memory database is pinned to
// a single connection so every statement sees the same data.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryDSN {
		if err := filex.EnsureParentDir(path); err != nil {
			return nil, err
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if path == MemoryDSN {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping local database: %w", err)
	}
	return db, nil
}

// InitDatabase opens the store, migrates it and wires the repositories.
func InitDatabase(ctx context.Context, path string) (*Repositories, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repositories{
		DB:       db,
		Products: products.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}, nil
}
