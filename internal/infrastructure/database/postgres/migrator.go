package postgres

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// MigrationState is the schema version recorded by golang-migrate.
type MigrationState struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// Migrator drives schema migrations from the command line, outside the
// connection used by the services.
type Migrator struct {
	dbURL     string
	sourceURL string
}

// NewMigrator returns a Migrator for the database at dbURL and the migration
// files under dir.
func NewMigrator(dbURL, dir string) *Migrator {
	return &Migrator{dbURL: dbURL, sourceURL: sourceURL(dir)}
}

func sourceURL(dir string) string {
	if strings.HasPrefix(dir, "file://") {
		return dir
	}
	return "file://" + filepath.ToSlash(dir)
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	mg, err := migrate.New(m.sourceURL, m.dbURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance")
	}
	return mg, nil
}

// Up applies every pending migration.  An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
	}
	return nil
}

// Down rolls back steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return errors.Validation(fmt.Sprintf("steps must be greater than 0, got %d", steps))
	}
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeDatabaseError, "no migrations to roll back")
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, fmt.Sprintf("failed to roll back %d step(s)", steps))
	}
	return nil
}

// Status reports the applied version.  An empty schema is version 0.
func (m *Migrator) Status() (MigrationState, error) {
	mg, err := m.open()
	if err != nil {
		return MigrationState{}, err
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil {
		if stderrors.Is(err, migrate.ErrNilVersion) {
			return MigrationState{}, nil
		}
		return MigrationState{}, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get migration version")
	}
	return MigrationState{Version: version, Dirty: dirty}, nil
}

// Force records version without running any migration.  It is the recovery
// path for a dirty schema.
func (m *Migrator) Force(version int) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Force(version); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, fmt.Sprintf("failed to force version %d", version))
	}
	return nil
}
