package migration

import (
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/crewflow/config"
)

// NewMigratorFromConfig creates a migrator for the SQL state backend
// selected in cfg.State.
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromStateConfig(cfg.State, logger)
}

// NewMigratorFromStateConfig creates a migrator from the state store
// configuration. Only the SQL drivers have migrations.
func NewMigratorFromStateConfig(stateCfg appconfig.StateConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(stateCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("state driver %q has no SQL migrations: %w", stateCfg.Driver, err)
	}

	db := stateCfg.Database
	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, "")
	case DatabaseTypeSQLite:
		dbURL = BuildDatabaseURL(dbType, "", 0, stateCfg.Path, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
		Logger:       logger,
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
		Logger:       logger,
	})
}
