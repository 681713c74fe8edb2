// Package migrate applies the embedded SQL schema with golang-migrate.
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed sql/*.sql
var migrations embed.FS

// Migrator runs schema migrations against a database handle it does not own.
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// New builds a Migrator over pool. Close releases the database/sql bridge.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Migrator, error) {
	if pool == nil {
		return nil, errors.New("migrate: database pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db := stdlib.OpenDBFromPool(pool)
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: open source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: create driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: create migrator: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	err := m.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	version, _, _ := m.m.Version()
	m.logger.Info("migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	err := m.m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: down: %w", err)
	}
	m.logger.Info("migrations rolled back")
	return nil
}

// Version reports the applied version and whether the last run left it dirty.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the source and the bridge handle. The pool stays open.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
