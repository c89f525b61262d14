package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/automna/backend/internal/infrastructure/config"
	"github.com/automna/backend/internal/infrastructure/logger"
	"github.com/automna/backend/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
	)

	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (default: ./migrations)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	migrationsPath, err = resolveMigrationsPath(migrationsPath)
	if err != nil {
		log.Fatal("Failed to resolve migrations path", zap.Error(err))
	}

	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("migrations_path", migrationsPath),
	)

	// create and list work on the filesystem only
	switch command {
	case "create":
		runCreate(log, migrationsPath, args[1:])
		return
	case "list":
		runList(log, migrationsPath)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	m, err := migration.New(db, migrationsPath, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	runSchemaCommand(log, m, command, args[1:])
}

// resolveMigrationsPath finds the migrations directory, first relative to the
// working directory, then relative to the binary (for containerized deploys).
func resolveMigrationsPath(path string) (string, error) {
	if path == "" {
		path = defaultMigrationsPath
		if _, err := os.Stat(path); err != nil {
			if execPath, execErr := os.Executable(); execErr == nil {
				candidate := filepath.Join(filepath.Dir(execPath), "..", "..", defaultMigrationsPath)
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
				}
			}
		}
	}
	return filepath.Abs(path)
}

func runCreate(log *zap.Logger, migrationsPath string, args []string) {
	if len(args) < 1 {
		log.Fatal("Migration name required. Usage: migrate create <name> [description]")
	}
	name := args[0]
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(migrationsPath, name, description)
	if err != nil {
		log.Fatal("Failed to create migration", zap.Error(err))
	}

	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
}

func runList(log *zap.Logger, migrationsPath string) {
	migrations, err := migration.ListMigrations(migrationsPath)
	if err != nil {
		log.Fatal("Failed to list migrations", zap.Error(err))
	}

	if len(migrations) == 0 {
		log.Info("No migrations found")
		return
	}

	log.Info("Available migrations", zap.Int("count", len(migrations)))
	for _, m := range migrations {
		fmt.Println("  -", m)
	}
}

func runSchemaCommand(log *zap.Logger, m *migration.Migrator, command string, args []string) {
	switch command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal("Migration up failed", zap.Error(err))
		}

	case "down":
		if err := m.Down(); err != nil {
			log.Fatal("Migration down failed", zap.Error(err))
		}

	case "step":
		n, err := strconv.Atoi(argOrFatal(log, args, "Step count required. Usage: migrate step <n>"))
		if err != nil {
			log.Fatal("Invalid step count", zap.Strings("args", args))
		}
		if err := m.Steps(n); err != nil {
			log.Fatal("Migration step failed", zap.Error(err))
		}

	case "goto":
		version, err := strconv.ParseUint(argOrFatal(log, args, "Version required. Usage: migrate goto <version>"), 10, 32)
		if err != nil {
			log.Fatal("Invalid version number", zap.Strings("args", args))
		}
		if err := m.GoTo(uint(version)); err != nil {
			log.Fatal("Migration goto failed", zap.Error(err))
		}

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Failed to get version", zap.Error(err))
		}
		if version == 0 {
			log.Info("No migrations applied")
		} else {
			log.Info("Current migration version",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
		}

	case "force":
		version, err := strconv.Atoi(argOrFatal(log, args, "Version required. Usage: migrate force <version>"))
		if err != nil {
			log.Fatal("Invalid version number", zap.Strings("args", args))
		}
		log.Warn("Forcing migration version - use with caution!")
		if err := m.Force(version); err != nil {
			log.Fatal("Force version failed", zap.Error(err))
		}

	case "drop":
		if !hasConfirmFlag(args) {
			log.Fatal("Drop cancelled. Use 'migrate drop -confirm' to confirm.")
		}
		if err := m.Drop(); err != nil {
			log.Fatal("Drop failed", zap.Error(err))
		}

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func argOrFatal(log *zap.Logger, args []string, usage string) string {
	if len(args) < 1 {
		log.Fatal(usage)
	}
	return args[0]
}

// hasConfirmFlag guards drop, which destroys tenants and the full ledger.
func hasConfirmFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-confirm" || arg == "--confirm" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Println(`Automna Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  force <version>       Force set migration version (use with caution)
  drop -confirm         Drop all database objects (DANGEROUS)
  create <name> [desc]  Create a new migration file pair
  list                  List available migrations

Flags:
  -path string          Path to migrations directory (default: ./migrations)
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  AUTOMNA_DATABASE_HOST, AUTOMNA_DATABASE_PORT, AUTOMNA_DATABASE_USER,
  AUTOMNA_DATABASE_PASSWORD, AUTOMNA_DATABASE_DBNAME, AUTOMNA_DATABASE_SSLMODE

Examples:
  # Apply all pending migrations
  migrate up

  # Roll back the last migration
  migrate step -1

  # Create a new migration
  migrate create add_usage_events "Create usage events ledger table"

  # Check current version
  migrate version`)
}
