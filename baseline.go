package kiroku

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/root-talis/kiroku/migration"
)

// Baseline marks an existing schema as being at the baseline version so that
// only migrations above it get applied.
func (k *kirokuImpl) Baseline(ctx context.Context) (*BaselineResult, error) {
	ctx, release, err := k.driver.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	history := k.driver.History()
	if err := history.Create(ctx); err != nil {
		return nil, err
	}

	applied, err := history.All(ctx)
	if err != nil {
		return nil, err
	}

	result := &BaselineResult{
		Version:     k.baselineVersion.String(),
		Description: k.config.BaselineDescription,
	}

	for _, row := range applied {
		switch {
		case row.Type == migration.TypeSchema:
			continue
		case row.Type.IsBaseline() && row.Version.Equal(k.baselineVersion) && row.Description == k.config.BaselineDescription:
			warning := fmt.Sprintf("schema history %s is already baselined at version %s", history.Table(), row.Version)
			k.logger.Warn(warning)
			result.Warnings = append(result.Warnings, warning)

			return result, nil
		case row.Type.IsBaseline():
			return nil, fmt.Errorf("%w: %s is already baselined at version %s (%s)",
				ErrBaselineNotAllowed, history.Table(), row.Version, row.Description)
		default:
			return nil, fmt.Errorf("%w: %s holds %d rows", ErrBaselineNotAllowed, history.Table(), len(applied))
		}
	}

	if err := k.insertBaseline(ctx); err != nil {
		return nil, err
	}

	result.Created = true

	k.logger.Info("Successfully baselined schema",
		k.tableFields(),
		zap.String("version", result.Version),
	)

	return result, nil
}

func (k *kirokuImpl) insertBaseline(ctx context.Context) error {
	return k.driver.History().Add(ctx, k.driver.DB(), &migration.Applied{
		Version:     k.baselineVersion,
		Description: k.config.BaselineDescription,
		Type:        migration.TypeBaseline,
		Script:      k.config.BaselineDescription,
		InstalledBy: k.driver.InstalledBy(),
		InstalledOn: k.clock.Now(),
		Success:     true,
	})
}
