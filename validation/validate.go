package validation

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
)

type ErrorCode string

const (
	TypeMismatch                 ErrorCode = "TYPE_MISMATCH"
	ChecksumMismatch             ErrorCode = "CHECKSUM_MISMATCH"
	DescriptionMismatch          ErrorCode = "DESCRIPTION_MISMATCH"
	OutdatedRepeatable           ErrorCode = "OUTDATED_REPEATABLE_MIGRATION"
	AppliedVersionedNotResolved  ErrorCode = "APPLIED_VERSIONED_MIGRATION_NOT_RESOLVED"
	AppliedRepeatableNotResolved ErrorCode = "APPLIED_REPEATABLE_MIGRATION_NOT_RESOLVED"
	FailedVersioned              ErrorCode = "FAILED_VERSIONED_MIGRATION"
	FailedRepeatable             ErrorCode = "FAILED_REPEATABLE_MIGRATION"
	ResolvedVersionedNotApplied  ErrorCode = "RESOLVED_VERSIONED_MIGRATION_NOT_APPLIED"
	ResolvedRepeatableNotApplied ErrorCode = "RESOLVED_REPEATABLE_MIGRATION_NOT_APPLIED"
)

// Error locates one problem precisely enough to fix it without re-running.
type Error struct {
	Code        ErrorCode
	Version     string
	Description string
	Script      string
	Message     string
}

func (e *Error) Error() string {
	return e.Message
}

type Options struct {
	IgnorePatterns []Pattern
	// CherryPick suppresses complaints about skipped lower versions:
	// picking a subset is the point of cherry picking.
	CherryPick bool
}

// check inspects one migration. It only runs for migrations no ignore pattern covers.
type check func(i *info.Info, opts Options) *Error

var checks = []check{ // nolint:gochecknoglobals
	checkType,
	checkChecksum,
	checkDescription,
	checkOutdated,
	checkUnresolved,
	checkFailedVersioned,
	checkFailedRepeatable,
	checkNotApplied,
	checkPending,
}

// Validate runs every check over every migration and returns all problems found,
// grouped by check in a fixed order.
func Validate(infos []*info.Info, opts Options) []*Error {
	result := make([]*Error, 0)

	for _, c := range checks {
		for _, i := range infos {
			if i.State() == migration.AboveTarget || matchesAny(opts.IgnorePatterns, i) {
				continue
			}

			if err := c(i, opts); err != nil {
				result = append(result, err)
			}
		}
	}

	return result
}

// Combine folds validation errors into one error; nil when there are none.
func Combine(errs []*Error) error {
	var result error
	for _, err := range errs {
		result = multierr.Append(result, err)
	}

	return result
}

// ---

func checkType(i *info.Info, _ Options) *Error {
	if !checkable(i) || i.Resolved().Type == i.Applied().Type {
		return nil
	}

	return newError(i, TypeMismatch, fmt.Sprintf(
		"Migration type mismatch for migration %s\n-> Applied to database : %s\n-> Resolved locally    : %s",
		name(i), i.Applied().Type, i.Resolved().Type,
	))
}

func checkChecksum(i *info.Info, _ Options) *Error {
	if !checkable(i) || i.IsRepeatable() {
		return nil
	}

	if migration.ChecksumsEqual(i.Resolved().Checksum, i.Applied().Checksum) {
		return nil
	}

	return newError(i, ChecksumMismatch, fmt.Sprintf(
		"Migration checksum mismatch for migration %s\n-> Applied to database : %s\n-> Resolved locally    : %s\n"+
			"Either revert the changes to the migration, or run repair to update the schema history.",
		name(i), migration.FormatChecksum(i.Applied().Checksum), migration.FormatChecksum(i.Resolved().Checksum),
	))
}

func checkDescription(i *info.Info, _ Options) *Error {
	if !checkable(i) || i.IsRepeatable() || i.Resolved().Description == i.Applied().Description {
		return nil
	}

	return newError(i, DescriptionMismatch, fmt.Sprintf(
		"Migration description mismatch for migration %s\n-> Applied to database : %s\n-> Resolved locally    : %s\n"+
			"Either revert the changes to the migration, or run repair to update the schema history.",
		name(i), i.Applied().Description, i.Resolved().Description,
	))
}

func checkOutdated(i *info.Info, opts Options) *Error {
	if i.State() != migration.Outdated || matchesAnyState(opts.IgnorePatterns, true, migration.Pending) {
		return nil
	}

	return newError(i, OutdatedRepeatable, fmt.Sprintf(
		"Detected outdated resolved repeatable migration that should be re-applied to database: %s. "+
			"Run migrate to execute this migration.",
		i.Description(),
	))
}

func checkUnresolved(i *info.Info, _ Options) *Error {
	state := i.State()
	if !state.IsMissing() && !state.IsFuture() {
		return nil
	}

	if i.Applied().Type.IsSynthetic() {
		return nil
	}

	code := AppliedVersionedNotResolved
	if i.IsRepeatable() {
		code = AppliedRepeatableNotResolved
	}

	return newError(i, code, fmt.Sprintf(
		"Detected applied migration not resolved locally: %s. "+
			"If you removed this migration intentionally, run repair to remove it from the schema history.",
		name(i),
	))
}

func checkFailedVersioned(i *info.Info, _ Options) *Error {
	if !i.State().IsFailed() || i.IsRepeatable() {
		return nil
	}

	return newError(i, FailedVersioned, fmt.Sprintf(
		"Detected failed migration to version %s (%s). "+
			"Please remove any half-completed changes then run repair to fix the schema history.",
		i.Version(), i.Description(),
	))
}

func checkFailedRepeatable(i *info.Info, _ Options) *Error {
	if !i.State().IsFailed() || !i.IsRepeatable() {
		return nil
	}

	return newError(i, FailedRepeatable, fmt.Sprintf(
		"Detected failed repeatable migration: %s. "+
			"Please remove any half-completed changes then run repair to fix the schema history.",
		i.Description(),
	))
}

func checkNotApplied(i *info.Info, opts Options) *Error {
	if i.State() != migration.Ignored || opts.CherryPick {
		return nil
	}

	return newError(i, ResolvedVersionedNotApplied, fmt.Sprintf(
		"Detected resolved migration not applied to database: %s. "+
			"To ignore this migration, set ignore-migration-patterns to '*:ignored'. "+
			"To allow executing this migration, set out-of-order to true.",
		name(i),
	))
}

func checkPending(i *info.Info, _ Options) *Error {
	if i.State() != migration.Pending {
		return nil
	}

	code := ResolvedVersionedNotApplied
	if i.IsRepeatable() {
		code = ResolvedRepeatableNotApplied
	}

	return newError(i, code, fmt.Sprintf(
		"Detected resolved migration not applied to database: %s. "+
			"To fix this error, either run migrate, or set ignore-migration-patterns to '*:pending'.",
		name(i),
	))
}

// ---

// checkable is true for pairs whose stored attributes must agree with the
// source: both sides present, not engine-written, and above the baseline.
func checkable(i *info.Info) bool {
	if i.Resolved() == nil || i.Applied() == nil || i.Applied().Type.IsSynthetic() {
		return false
	}

	switch i.State() {
	case migration.Superseded, migration.Outdated:
		return false
	}

	return i.IsRepeatable() || i.Version().IsNewerThan(i.Context().Baseline())
}

func name(i *info.Info) string {
	if i.IsRepeatable() {
		return i.Description()
	}

	return "version " + i.Version().String()
}

func newError(i *info.Info, code ErrorCode, message string) *Error {
	e := &Error{
		Code:        code,
		Description: i.Description(),
		Script:      i.Script(),
		Message:     message,
	}

	if !i.IsRepeatable() {
		e.Version = i.Version().String()
	}

	return e
}
