package kiroku

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/root-talis/kiroku/driver"
	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/plan"
	"github.com/root-talis/kiroku/validation"
)

// Migrate applies pending migrations under the schema history lock.
func (k *kirokuImpl) Migrate(ctx context.Context) (*MigrateResult, error) {
	started := k.clock.Now()

	ctx, release, err := k.driver.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	history := k.driver.History()
	if err := history.Create(ctx); err != nil {
		return nil, err
	}

	result := &MigrateResult{}

	if k.config.BaselineOnMigrate {
		warnings, err := k.baselineOnMigrate(ctx)
		if err != nil {
			return nil, err
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	set, err := k.load(ctx)
	if err != nil {
		return nil, err
	}

	cherryPick, warnings := k.cherryPick()
	result.Warnings = append(result.Warnings, warnings...)

	if k.config.ValidateOnMigrate {
		patterns := append([]validation.Pattern{validation.MustParsePattern("*:pending")}, k.ignorePatterns...)
		if validated := k.validate(set, patterns, len(cherryPick) > 0); !validated.Valid {
			return nil, k.validationError(validated)
		}
	}

	if failed := k.firstFailed(set); failed != nil {
		return nil, fmt.Errorf("%w: %s (%s); run repair to remove it",
			ErrFailedMigration, describe(failed), failed.State())
	}

	result.InitialSchemaVersion = schemaVersion(set)
	result.TargetSchemaVersion = result.InitialSchemaVersion

	groups := plan.Plan(set.All(), plan.Options{
		Target:     k.target,
		OutOfOrder: k.config.OutOfOrder,
		CherryPick: cherryPick,
	})

	if !k.config.Mixed && plan.Mixed(groups) {
		return nil, ErrMixedMigrations
	}

	if len(set.Resolved()) == 0 {
		result.Warnings = append(result.Warnings, "no migrations found")
		k.logger.Warn("No migrations found; check the configured locations")
	}

	k.logger.Info("Migrating schema",
		k.tableFields(),
		zap.String("current", result.InitialSchemaVersion),
		zap.Int("pending", plan.Count(groups)),
	)

	err = k.execute(ctx, groups, result)
	result.TotalTime = k.clock.Now().Sub(started)

	if err != nil {
		return result, err
	}

	result.Success = true

	if result.MigrationsExecuted == 0 {
		k.logger.Info("Schema is up to date", zap.String("version", result.TargetSchemaVersion))
	} else {
		k.logger.Info("Successfully applied migrations",
			zap.Int("count", result.MigrationsExecuted),
			zap.String("version", result.TargetSchemaVersion),
			zap.Duration("took", result.TotalTime),
		)
	}

	return result, nil
}

// ---

func (k *kirokuImpl) execute(ctx context.Context, groups []plan.Group, result *MigrateResult) error {
	group := k.config.Group
	if group && !k.driver.Dialect().SupportsDDLTransactions() {
		group = false
		result.Warnings = append(result.Warnings, "group is ignored: the database does not roll back DDL")
	}

	for _, g := range groups {
		var err error

		switch {
		case !g.Transactional:
			err = k.runAlone(ctx, g.Migrations[0], result)
		case group:
			err = k.runGroup(ctx, g.Migrations, result)
		default:
			for _, i := range g.Migrations {
				if err = k.runInTransaction(ctx, i, result); err != nil {
					break
				}
			}
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// runInTransaction executes one migration and records it in the same transaction.
func (k *kirokuImpl) runInTransaction(ctx context.Context, i *info.Info, result *MigrateResult) error {
	tx, err := k.driver.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	took, err := k.run(ctx, i, tx.Tx)
	if err != nil {
		_ = tx.Rollback()
		return k.fail(ctx, i, took, err)
	}

	if err := k.record(ctx, tx, i, took, true); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", describe(i), err)
	}

	k.succeeded(i, took, result)

	return nil
}

// runGroup executes migrations in one transaction; a failure undoes all of them.
func (k *kirokuImpl) runGroup(ctx context.Context, infos []*info.Info, result *MigrateResult) error {
	tx, err := k.driver.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	timings := make([]time.Duration, 0, len(infos))
	for _, i := range infos {
		took, err := k.run(ctx, i, tx.Tx)
		if err != nil {
			_ = tx.Rollback()
			return k.fail(ctx, i, took, err)
		}

		if err := k.record(ctx, tx, i, took, true); err != nil {
			_ = tx.Rollback()
			return err
		}

		timings = append(timings, took)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration group: %w", err)
	}

	for n, i := range infos {
		k.succeeded(i, timings[n], result)
	}

	return nil
}

// runAlone executes a non-transactional migration on a dedicated connection.
func (k *kirokuImpl) runAlone(ctx context.Context, i *info.Info, result *MigrateResult) error {
	conn, err := k.driver.DB().Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get a connection: %w", err)
	}
	defer conn.Close()

	took, err := k.run(ctx, i, conn)
	if err != nil {
		return k.recordFailure(ctx, i, took, err)
	}

	if err := k.record(ctx, k.driver.DB(), i, took, true); err != nil {
		return err
	}

	k.succeeded(i, took, result)

	return nil
}

func (k *kirokuImpl) run(ctx context.Context, i *info.Info, conn migration.Conn) (time.Duration, error) {
	k.logger.Info("Migrating", zap.String("version", i.Version().String()), zap.String("description", i.Description()))

	started := k.clock.Now()
	err := i.Resolved().Executor.Execute(ctx, conn)

	return k.clock.Now().Sub(started), err
}

// fail handles a failure inside a rolled back transaction. Databases that
// cannot roll back DDL may have kept part of it, so those get a failed row.
func (k *kirokuImpl) fail(ctx context.Context, i *info.Info, took time.Duration, cause error) error {
	if !k.driver.Dialect().SupportsDDLTransactions() {
		return k.recordFailure(ctx, i, took, cause)
	}

	k.logger.Error("Migration failed and was rolled back", zap.String("script", i.Script()), zap.Error(cause))

	return newMigrationError(i, true, cause)
}

func (k *kirokuImpl) recordFailure(ctx context.Context, i *info.Info, took time.Duration, cause error) error {
	k.logger.Error("Migration failed", zap.String("script", i.Script()), zap.Error(cause))

	if err := k.record(context.WithoutCancel(ctx), k.driver.DB(), i, took, false); err != nil {
		k.logger.Error("Failed to record the failed migration", zap.String("script", i.Script()), zap.Error(err))
	}

	return newMigrationError(i, false, cause)
}

func (k *kirokuImpl) record(ctx context.Context, q sqlx.ExtContext, i *info.Info, took time.Duration, success bool) error {
	resolved := i.Resolved()

	return k.driver.History().Add(ctx, q, &migration.Applied{
		Version:       resolved.Version,
		Description:   resolved.Description,
		Type:          resolved.Type,
		Script:        resolved.Script,
		Checksum:      resolved.Checksum,
		InstalledBy:   k.driver.InstalledBy(),
		InstalledOn:   k.clock.Now(),
		ExecutionTime: int(took.Milliseconds()),
		Success:       success,
	})
}

func (k *kirokuImpl) succeeded(i *info.Info, took time.Duration, result *MigrateResult) {
	result.MigrationsExecuted++
	result.Migrations = append(result.Migrations, newOutput(i, took))

	if !i.IsRepeatable() {
		result.TargetSchemaVersion = i.Version().String()
	}
}

// firstFailed finds a failed migration that no ignore pattern excuses.
func (k *kirokuImpl) firstFailed(set *info.Set) *info.Info {
	for _, i := range set.Failed() {
		ignored := false
		for _, p := range k.ignorePatterns {
			if p.Matches(i.IsRepeatable(), i.State()) {
				ignored = true
				break
			}
		}

		if !ignored {
			return i
		}
	}

	return nil
}

// baselineOnMigrate baselines a schema that has tables but no history.
func (k *kirokuImpl) baselineOnMigrate(ctx context.Context) ([]string, error) {
	history := k.driver.History()

	applied, err := history.All(ctx)
	if err != nil || len(applied) > 0 {
		return nil, err
	}

	table := history.Table()
	except := append([]string{table.Name}, driver.Auxiliary(k.driver.Dialect(), table)...)

	populated, err := k.driver.Dialect().HasUserObjects(ctx, k.driver.DB(), table.Schema, except...)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema %s: %w", table.Schema, err)
	}

	if !populated {
		return nil, nil
	}

	k.logger.Info("Schema has tables but no history; baselining",
		zap.String("schema", table.Schema), zap.String("version", k.baselineVersion.String()))

	if err := k.insertBaseline(ctx); err != nil {
		return nil, err
	}

	return []string{fmt.Sprintf("baselined non-empty schema %s at version %s", table.Schema, k.baselineVersion)}, nil
}

func newMigrationError(i *info.Info, rolledBack bool, cause error) *MigrationError {
	e := &MigrationError{
		Description: i.Description(),
		Script:      i.Script(),
		RolledBack:  rolledBack,
		Err:         cause,
	}

	if !i.IsRepeatable() {
		e.Version = i.Version().String()
	}

	return e
}

func describe(i *info.Info) string {
	if i.IsRepeatable() {
		return fmt.Sprintf("repeatable migration %q", i.Description())
	}

	return fmt.Sprintf("migration %s (%s)", i.Version(), i.Description())
}
