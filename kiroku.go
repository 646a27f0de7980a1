package kiroku

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/root-talis/kiroku/driver"
	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source"
	"github.com/root-talis/kiroku/validation"
)

// ---

type Kiroku interface {
	Info(ctx context.Context) (*InfoResult, error)
	Validate(ctx context.Context) (*ValidateResult, error)
	Migrate(ctx context.Context) (*MigrateResult, error)
	Baseline(ctx context.Context) (*BaselineResult, error)
	Repair(ctx context.Context) (*RepairResult, error)
	Clean(ctx context.Context) (*CleanResult, error)
}

// ---

type kirokuImpl struct {
	source source.Resolver
	driver *driver.Driver
	config Config

	target          migration.Version
	ignorePatterns  []validation.Pattern
	baselineVersion migration.Version

	logger   *zap.Logger
	clock    clock.Clock
	features FeatureSet
}

// ---

func New(src source.Resolver, drv *driver.Driver, config Config, opts ...Option) (Kiroku, error) {
	k := &kirokuImpl{
		source:   src,
		driver:   drv,
		config:   config,
		logger:   zap.NewNop(),
		clock:    clock.New(),
		features: Features{},
	}

	for _, opt := range opts {
		opt(k)
	}

	var err error
	if k.target, err = migration.ParseTarget(config.Target); err != nil {
		return nil, fmt.Errorf("%w: target: %w", ErrInvalidConfig, err)
	}

	if k.ignorePatterns, err = validation.ParsePatterns(config.IgnoreMigrationPatterns); err != nil {
		return nil, fmt.Errorf("%w: ignore-migration-patterns: %w", ErrInvalidConfig, err)
	}

	baseline := config.BaselineVersion
	if baseline == "" {
		baseline = DefaultBaselineVersion
	}

	if k.baselineVersion, err = migration.ParseVersion(baseline); err != nil {
		return nil, fmt.Errorf("%w: baseline-version: %w", ErrInvalidConfig, err)
	}

	if k.config.BaselineDescription == "" {
		k.config.BaselineDescription = DefaultBaselineDescription
	}

	return k, nil
}

// ---

// load reconciles the source with the schema history.
func (k *kirokuImpl) load(ctx context.Context) (*info.Set, error) {
	resolved, err := k.source.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations: %w", err)
	}

	applied, err := k.driver.History().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema history: %w", err)
	}

	set, err := info.Reconcile(resolved, applied, info.Options{
		Target:     k.target,
		OutOfOrder: k.config.OutOfOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile migrations: %w", err)
	}

	return set, nil
}

// cherryPick returns the configured cherry pick, or nothing when the feature is unavailable.
func (k *kirokuImpl) cherryPick() ([]string, []string) {
	if len(k.config.CherryPick) == 0 {
		return nil, nil
	}

	if !k.features.IsFeatureAvailable(FeatureCherryPick) {
		warning := "cherry-pick is not available and was ignored"
		k.logger.Warn(warning, zap.Strings("cherryPick", k.config.CherryPick))
		return nil, []string{warning}
	}

	return k.config.CherryPick, nil
}

func schemaVersion(set *info.Set) string {
	if current := set.Current(); current != nil && !current.IsRepeatable() {
		return current.Version().String()
	}

	return ""
}

func (k *kirokuImpl) tableFields() zap.Field {
	return zap.Stringer("table", k.driver.History().Table())
}
