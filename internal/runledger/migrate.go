package runledger

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/cloudcost/pkg/db"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate brings the ledger schema up to date. Postgres runs the versioned SQL
// migrations; other drivers use gorm AutoMigrate from the models.
func Migrate(conn *gorm.DB, driver string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if driver != db.DriverPostgres && driver != "" {
		return conn.AutoMigrate(&JobRun{}, &FailedWrite{})
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	source, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	target, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: "run_ledger_migrations"})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", target)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Closing the migrator would close the shared *sql.DB.
	return nil
}
