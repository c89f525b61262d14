// Package migration wraps golang-migrate for the gateway's PostgreSQL schema.
package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrator applies versioned SQL migrations from a directory.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// New creates a Migrator on an existing database handle.
func New(db *sql.DB, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{
		migrate: m,
		logger:  logger,
	}, nil
}

// finish folds golang-migrate's ErrNoChange into a logged no-op and logs the
// resulting schema version otherwise.
func (m *Migrator) finish(err error, op, doneMsg string) error {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No schema changes to apply", zap.String("op", op))
		return nil
	}

	version, dirty, verr := m.migrate.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", verr)
	}

	m.logger.Info(doneMsg,
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	m.logger.Info("Applying pending migrations")
	return m.finish(m.migrate.Up(), "migration up", "Migrations applied")
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	m.logger.Info("Rolling back all migrations")
	return m.finish(m.migrate.Down(), "migration down", "Migrations rolled back")
}

// Steps applies n migrations, negative n rolls back.
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Applying migration steps", zap.Int("steps", n))
	return m.finish(m.migrate.Steps(n), "migration steps", "Migration steps applied")
}

// GoTo migrates the schema to a specific version in either direction.
func (m *Migrator) GoTo(version uint) error {
	m.logger.Info("Migrating to version", zap.Uint("target_version", version))
	return m.finish(m.migrate.Migrate(version), fmt.Sprintf("migration to version %d", version), "Migration to version completed")
}

// Version returns the current schema version. A database with no applied
// migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the recorded schema version without running any SQL. It exists
// to recover from a dirty state after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	m.logger.Info("Migration version forced", zap.Int("version", version))
	return nil
}

// Drop destroys every object in the database, tenants and ledger included.
func (m *Migrator) Drop() error {
	m.logger.Warn("Dropping database - all data will be lost")

	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	m.logger.Info("Database dropped")
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
