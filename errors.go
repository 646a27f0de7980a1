package kiroku

import (
	"errors"
	"fmt"
)

var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrFailedMigration    = errors.New("schema history contains a failed migration")
	ErrCleanDisabled      = errors.New("clean is disabled; set clean-disabled to false to enable it")
	ErrBaselineNotAllowed = errors.New("cannot baseline a schema history that already holds migrations")
	ErrMixedMigrations    = errors.New("run mixes transactional and non-transactional migrations; set mixed to true to allow it")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// MigrationError reports a migration that failed to execute.
type MigrationError struct {
	Version     string
	Description string
	Script      string
	// RolledBack is true when the database undid the migration and nothing was recorded.
	RolledBack bool
	Err        error
}

func (e *MigrationError) Error() string {
	what := "repeatable migration " + e.Description
	if e.Version != "" {
		what = fmt.Sprintf("migration %s (%s)", e.Version, e.Description)
	}

	state := "recorded as failed"
	if e.RolledBack {
		state = "rolled back"
	}

	return fmt.Sprintf("%s failed and was %s: %s", what, state, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
