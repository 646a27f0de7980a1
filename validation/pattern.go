package validation

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
)

var ErrInvalidPattern = errors.New("invalid ignore migration pattern")

// Pattern matches migrations by kind and state, written as "type:state",
// for example "*:future" or "repeatable:missing".
type Pattern struct {
	kind  string
	state string
}

const wildcard = "*"

var ( // nolint:gochecknoglobals
	validKinds  = []string{wildcard, "repeatable", "versioned"}
	validStates = []string{wildcard, "missing", "pending", "ignored", "future"}
)

func ParsePattern(s string) (Pattern, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Pattern{}, fmt.Errorf("%w: %q must be in the form type:state", ErrInvalidPattern, s)
	}

	kind, state := strings.ToLower(parts[0]), strings.ToLower(parts[1])

	if !contains(validKinds, kind) {
		return Pattern{}, fmt.Errorf("%w: %q has unknown type %q, expected one of %s",
			ErrInvalidPattern, s, kind, strings.Join(validKinds, ", "))
	}

	if !contains(validStates, state) {
		return Pattern{}, fmt.Errorf("%w: %q has unknown state %q, expected one of %s",
			ErrInvalidPattern, s, state, strings.Join(validStates, ", "))
	}

	return Pattern{kind: kind, state: state}, nil
}

// MustParsePattern panics on malformed patterns.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}

	return p
}

// ParsePatterns reports every malformed pattern at once.
func ParsePatterns(patterns []string) ([]Pattern, error) {
	result := make([]Pattern, 0, len(patterns))

	var errs error

	for _, s := range patterns {
		if strings.TrimSpace(s) == "" {
			continue
		}

		p, err := ParsePattern(s)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		result = append(result, p)
	}

	return result, errs
}

func (p Pattern) String() string {
	return p.kind + ":" + p.state
}

func (p Pattern) Matches(repeatable bool, state migration.State) bool {
	switch p.kind {
	case "repeatable":
		if !repeatable {
			return false
		}
	case "versioned":
		if repeatable {
			return false
		}
	}

	switch p.state {
	case wildcard:
		return state.IsMissing() || state.IsFuture() || state == migration.Pending || state == migration.Ignored
	case "missing":
		return state.IsMissing()
	case "pending":
		return state == migration.Pending
	case "ignored":
		return state == migration.Ignored
	case "future":
		return state.IsFuture()
	}

	return false
}

func matchesAny(patterns []Pattern, i *info.Info) bool {
	return matchesAnyState(patterns, i.IsRepeatable(), i.State())
}

func matchesAnyState(patterns []Pattern, repeatable bool, state migration.State) bool {
	for _, p := range patterns {
		if p.Matches(repeatable, state) {
			return true
		}
	}

	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
