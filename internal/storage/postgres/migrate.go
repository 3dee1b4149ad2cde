package postgres

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// A migrationsPath of "" selects the migrations compiled into the binary;
// anything else is read from that directory.

// MigrateUp applies every pending migration.
func MigrateUp(databaseURL, migrationsPath string) error {
	return withMigrator(databaseURL, migrationsPath, func(m *migrate.Migrate) error {
		return ignoreNoChange("migrate up", m.Up())
	})
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(databaseURL, migrationsPath string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrate down: steps must be > 0, got %d", steps)
	}
	return withMigrator(databaseURL, migrationsPath, func(m *migrate.Migrate) error {
		return ignoreNoChange("migrate down", m.Steps(-steps))
	})
}

// MigrationVersion reports the applied version and the dirty flag. A
// database that was never migrated is version 0.
func MigrationVersion(databaseURL, migrationsPath string) (version uint, dirty bool, err error) {
	err = withMigrator(databaseURL, migrationsPath, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return fmt.Errorf("migration version: %w", verr)
		}
		return nil
	})
	return version, dirty, err
}

// EmbeddedSchemaVersion is the newest migration compiled into the binary.
// Readiness fails while the database is behind it.
func EmbeddedSchemaVersion() (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	defer func() { _ = src.Close() }()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("first embedded migration: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("next embedded migration after %d: %w", version, err)
		}
		version = next
	}
}

func withMigrator(databaseURL, migrationsPath string, fn func(*migrate.Migrate) error) error {
	var (
		m   *migrate.Migrate
		err error
	)
	if migrationsPath != "" {
		m, err = migrate.New("file://"+migrationsPath, databaseURL)
	} else {
		m, err = embeddedMigrator(databaseURL)
	}
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return fn(m)
}

func embeddedMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

func ignoreNoChange(op string, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
