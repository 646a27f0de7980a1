package kiroku

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/validation"
)

// Validate compares the source with the schema history. When problems are
// found it returns the full result together with an ErrValidationFailed error.
func (k *kirokuImpl) Validate(ctx context.Context) (*ValidateResult, error) {
	set, err := k.load(ctx)
	if err != nil {
		return nil, err
	}

	cherryPick, warnings := k.cherryPick()
	result := k.validate(set, k.ignorePatterns, len(cherryPick) > 0)
	result.Warnings = append(result.Warnings, warnings...)

	if !result.Valid {
		return result, k.validationError(result)
	}

	k.logger.Info("Successfully validated migrations", zap.Int("count", result.ValidationCount))

	return result, nil
}

func (k *kirokuImpl) validate(set *info.Set, patterns []validation.Pattern, cherryPick bool) *ValidateResult {
	all := set.All()
	errs := validation.Validate(all, validation.Options{
		IgnorePatterns: patterns,
		CherryPick:     cherryPick,
	})

	return &ValidateResult{
		Valid:           len(errs) == 0,
		ValidationCount: len(all),
		Errors:          errs,
	}
}

func (k *kirokuImpl) validationError(result *ValidateResult) error {
	for _, e := range result.Errors {
		k.logger.Error("Validation error",
			zap.String("code", string(e.Code)),
			zap.String("version", e.Version),
			zap.String("description", e.Description),
			zap.String("script", e.Script),
		)
	}

	return fmt.Errorf("%w: %w", ErrValidationFailed, validation.Combine(result.Errors))
}
