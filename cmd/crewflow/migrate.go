package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles "crewflow migrate <subcommand> [flags] [arg]".
func runMigrate(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage(stdout)
		if len(args) < 1 {
			return errors.New("missing migrate subcommand")
		}
		return nil
	}
	command := args[0]

	fs := flag.NewFlagSet("migrate "+command, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall timeout")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	m, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return cli.Run(ctx, command, fs.Args())
}

// createMigrator builds a migrator from --db-type/--db-url, or from the
// state section of the config file.
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()

	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.State.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  crewflow migrate <subcommand> [options] [arg]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: state.driver)
  --db-url <url>      Database connection URL (default: from config)
  --timeout <d>       Overall timeout (default 5m)

Examples:
  crewflow migrate up --config /etc/crewflow/config.yaml
  crewflow migrate status --db-type sqlite --db-url sqlite3://crewflow.db
  crewflow migrate goto 1`)
}
