package kiroku

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultBaselineVersion     = "1"
	DefaultBaselineDescription = "<< Kiroku Baseline >>"

	// FeatureCherryPick gates Config.CherryPick.
	FeatureCherryPick = "cherryPick"
)

// Config controls the engine. Connection settings live in driver.Config.
type Config struct {
	// Target is a version, or one of "latest", "next" and "current".
	Target     string `mapstructure:"target"`
	OutOfOrder bool   `mapstructure:"out-of-order"`
	// IgnoreMigrationPatterns are "type:state" pairs, such as "*:future" or "repeatable:missing".
	IgnoreMigrationPatterns []string `mapstructure:"ignore-migration-patterns"`
	ValidateOnMigrate       bool     `mapstructure:"validate-on-migrate"`

	BaselineOnMigrate   bool   `mapstructure:"baseline-on-migrate"`
	BaselineVersion     string `mapstructure:"baseline-version"`
	BaselineDescription string `mapstructure:"baseline-description"`

	CleanDisabled bool `mapstructure:"clean-disabled"`
	// Mixed allows one run to combine transactional and non-transactional migrations.
	Mixed bool `mapstructure:"mixed"`
	// Group runs all pending transactional migrations in a single transaction.
	Group bool `mapstructure:"group"`
	// CherryPick limits migrate to these versions or repeatable descriptions.
	CherryPick []string `mapstructure:"cherry-pick"`
}

func DefaultConfig() Config {
	return Config{
		Target:                  "latest",
		IgnoreMigrationPatterns: []string{"*:future"},
		ValidateOnMigrate:       true,
		BaselineVersion:         DefaultBaselineVersion,
		BaselineDescription:     DefaultBaselineDescription,
		CleanDisabled:           true,
	}
}

// ---

// FeatureSet answers whether an optional capability is enabled.
type FeatureSet interface {
	IsFeatureAvailable(name string) bool
}

// Features is a FeatureSet listing enabled features. The zero value enables nothing.
type Features map[string]bool

func (f Features) IsFeatureAvailable(name string) bool {
	return f[name]
}

// ---

type Option func(*kirokuImpl)

func WithLogger(logger *zap.Logger) Option {
	return func(k *kirokuImpl) {
		k.logger = logger
	}
}

// WithClock replaces the clock used for installed_on and execution times.
func WithClock(c clock.Clock) Option {
	return func(k *kirokuImpl) {
		k.clock = c
	}
}

func WithFeatures(features FeatureSet) Option {
	return func(k *kirokuImpl) {
		k.features = features
	}
}
