// Package database owns the PostgreSQL schema of the sales dataset and the
// question history.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Direction selects which way Migrate moves the schema
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Status is the schema version recorded in the database
type Status struct {
	Version uint
	Dirty   bool
	Applied bool // false when no migration has run yet
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies (Up) or rolls back (Down) steps migrations. steps <= 0 means all.
func Migrate(dsn string, dir Direction, steps int) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	defer m.Close()

	switch {
	case dir == Up && steps <= 0:
		err = m.Up()
	case dir == Up:
		err = m.Steps(steps)
	case dir == Down && steps <= 0:
		err = m.Down()
	case dir == Down:
		err = m.Steps(-steps)
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %s: %w", dir, err)
	}
	return nil
}

// Version reports the current schema version
func Version(dsn string) (Status, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return Status{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	defer m.Close()
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return Status{Version: version, Dirty: dirty, Applied: true}, nil
}

// HealthCheck verifies the connection, the pgvector extension and that both
// tables are queryable
func HealthCheck(ctx context.Context, db *sql.DB, table string) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var hasVector bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasVector)
	if err != nil {
		return fmt.Errorf("failed to check vector extension: %w", err)
	}
	if !hasVector {
		return fmt.Errorf("pgvector extension is not installed")
	}

	for _, t := range []string{table, "query_history"} {
		var exists bool
		err := db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", t).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to look up table %s: %w", t, err)
		}
		if !exists {
			return fmt.Errorf("table %s does not exist; run the migrations", t)
		}
	}
	return nil
}
