// Package integration provides end-to-end tests for the metering gateway.
// It uses testcontainers to run the full stack against a real PostgreSQL
// database.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB is a migrated PostgreSQL database running in a container.
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// NewTestDB starts a fresh PostgreSQL container, connects with GORM and
// applies the gateway schema migrations. The container is terminated on
// test cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gateway_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, sqlDB := connect(t, dsn)
	runMigrations(t, sqlDB)

	tdb := &TestDB{
		DB:        db,
		SqlDB:     sqlDB,
		Container: container,
		DSN:       dsn,
		t:         t,
	}

	t.Cleanup(func() {
		tdb.Close()
	})

	return tdb
}

// Close closes the database connection and terminates the container.
func (tdb *TestDB) Close() {
	if tdb.SqlDB != nil {
		_ = tdb.SqlDB.Close()
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			tdb.t.Logf("failed to terminate container: %v", err)
		}
	}
}

// CleanTables truncates all gateway tables for reuse within a test.
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	tables := []string{
		"usage_events",
		"rate_windows",
		"credit_transactions",
		"credit_balances",
		"credentials",
		"tenants",
	}
	for _, table := range tables {
		err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error
		require.NoError(tdb.t, err, "failed to truncate %s", table)
	}
}

func connect(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	var db *gorm.DB
	var err error

	// The container can accept its first connections a moment before the
	// server is fully up; retry briefly.
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err, "failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")

	return db, sqlDB
}

func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	require.NoError(t, err, "failed to create migrate driver")

	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "failed to locate migrations directory")
	migrationsPath := filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsPath,
		"postgres", driver)
	require.NoError(t, err, "failed to create migrator")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "failed to run migrations")
	}
}
