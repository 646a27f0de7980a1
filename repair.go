package kiroku

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
)

// Repair removes failed rows from the schema history and realigns checksums,
// descriptions and types of applied migrations with their sources.
// A history with nothing to repair yields an empty result.
func (k *kirokuImpl) Repair(ctx context.Context) (*RepairResult, error) {
	ctx, release, err := k.driver.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &RepairResult{}
	history := k.driver.History()

	exists, err := history.Exists(ctx)
	if err != nil {
		return nil, err
	}

	if !exists {
		warning := fmt.Sprintf("schema history %s does not exist; nothing to repair", history.Table())
		k.logger.Warn(warning)
		result.Warnings = append(result.Warnings, warning)

		return result, nil
	}

	removed, err := history.RemoveFailed(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range removed {
		k.logger.Info("Removed failed migration", zap.String("script", row.Script), zap.Int("rank", row.InstalledRank))
		result.Removed = append(result.Removed, outputOf(row))
	}

	set, err := k.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, i := range set.All() {
		row, ok := realigned(i)
		if !ok {
			continue
		}

		if err := history.Update(ctx, row); err != nil {
			return nil, err
		}

		k.logger.Info("Realigned migration",
			zap.String("version", row.Version.String()),
			zap.String("description", row.Description),
			zap.String("checksum", migration.FormatChecksum(row.Checksum)),
		)
		result.Aligned = append(result.Aligned, outputOf(row))
	}

	if len(result.Removed) == 0 && len(result.Aligned) == 0 {
		k.logger.Info("Schema history needs no repair", k.tableFields())
	} else {
		k.logger.Info("Successfully repaired schema history",
			k.tableFields(),
			zap.Int("removed", len(result.Removed)),
			zap.Int("aligned", len(result.Aligned)),
		)
	}

	return result, nil
}

// realigned returns the history row of i rewritten to match its resolved
// migration, or false when there is nothing to change.
func realigned(i *info.Info) (*migration.Applied, bool) {
	resolved, applied := i.Resolved(), i.Applied()
	if resolved == nil || applied == nil || !applied.Success || applied.Type.IsSynthetic() {
		return nil, false
	}

	switch i.State() {
	case migration.Superseded, migration.Outdated:
		return nil, false
	}

	if !i.IsRepeatable() && i.Version().Compare(i.Context().Baseline()) <= 0 {
		return nil, false
	}

	if migration.ChecksumsEqual(applied.Checksum, resolved.Checksum) &&
		applied.Description == resolved.Description &&
		applied.Type == resolved.Type {
		return nil, false
	}

	row := *applied
	row.Checksum = resolved.Checksum
	row.Description = resolved.Description
	row.Type = resolved.Type

	return &row, true
}
