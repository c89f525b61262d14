package persistence

import (
	"fmt"
	"time"

	"github.com/automna/backend/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database wraps the shared GORM connection pool.
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens a PostgreSQL connection pool sized from the config.
// Default transactions are skipped: every write on the settle path is a
// single statement, and the ledger relies on column constraints rather
// than multi-statement transactions. A nil log falls back to silence.
func NewDatabase(cfg *config.DatabaseConfig, log gormlogger.Interface) (*Database, error) {
	if log == nil {
		log = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 log,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Migrate brings the schema up to date for every persisted model
func (d *Database) Migrate() error {
	return d.DB.AutoMigrate(
		&TenantModel{},
		&CredentialModel{},
		&UsageEventModel{},
		&RateWindowModel{},
		&CreditBalanceModel{},
		&CreditTransactionModel{},
	)
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
