package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"

	"ms-checkin/internal/logger"
)

type MigrateOptions struct {
	// MigrationsDir holds the NNNNNN_name.up.sql / .down.sql pairs.
	MigrationsDir string
	AutoMigrate   bool
}

func DefaultOptions() MigrateOptions {
	return MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
	}
}

// Runner applies the check-in schema through golang-migrate.
type Runner struct {
	bunDB    *bun.DB
	options  MigrateOptions
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts MigrateOptions, log *logger.Logger) *Runner {
	return &Runner{
		bunDB:   bunDB,
		options: opts,
		logger:  log,
	}
}

// Initialize binds golang-migrate to the service's connection pool and the
// file source in MigrationsDir.
func (r *Runner) Initialize() error {
	if _, err := os.Stat(r.options.MigrationsDir); err != nil {
		return fmt.Errorf("migrations dir %s: %w", r.options.MigrationsDir, err)
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+r.options.MigrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	r.migrator = m
	return nil
}

func (r *Runner) ensure() error {
	if r.migrator != nil {
		return nil
	}
	return r.Initialize()
}

// Run applies pending migrations when AutoMigrate is set. A dirty schema
// left by an interrupted run is forced back to its recorded version first.
func (r *Runner) Run() error {
	if !r.options.AutoMigrate {
		r.logger.Info("MIGRATE", "Auto-migration disabled, skipping")
		return nil
	}
	if err := r.ensure(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		r.logger.Warn("MIGRATE", fmt.Sprintf("Schema dirty at version %d, forcing", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("force version %d: %w", version, err)
		}
	}

	if err := r.MigrateUp(); err != nil {
		return err
	}

	version, _, err = r.migrator.Version()
	switch {
	case err == nil:
		r.logger.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("at version %d", version))
	case !errors.Is(err, migrate.ErrNilVersion):
		return fmt.Errorf("read schema version: %w", err)
	}
	return nil
}

func (r *Runner) MigrateUp() error {
	if err := r.ensure(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases the migrator. The postgres driver closes the *sql.DB it
// was given, so only call this when the pool is no longer needed.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	srcErr, dbErr := r.migrator.Close()
	return errors.Join(srcErr, dbErr)
}
