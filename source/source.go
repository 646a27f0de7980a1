package source

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/root-talis/kiroku/migration"
)

// Resolver discovers migrations. Returned migrations must carry an Executor.
type Resolver interface {
	Resolve(ctx context.Context) ([]*migration.Resolved, error)
}

var ErrMigrationDuplicated = migration.ErrMigrationDuplicated

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) ([]*migration.Resolved, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]*migration.Resolved, error) {
	return f(ctx)
}

// ---

type composite struct {
	resolvers []Resolver
}

// Composite merges resolvers. Duplicates across or within them are reported
// together, one error per clash.
func Composite(resolvers ...Resolver) Resolver {
	return &composite{resolvers: resolvers}
}

func (c *composite) Resolve(ctx context.Context) ([]*migration.Resolved, error) {
	var all []*migration.Resolved

	for _, r := range c.resolvers {
		resolved, err := r.Resolve(ctx)
		if err != nil {
			return nil, err
		}

		all = append(all, resolved...)
	}

	if err := CheckDuplicates(all); err != nil {
		return nil, err
	}

	Sort(all)

	return all, nil
}

// CheckDuplicates reports every pair of migrations sharing a version, or
// sharing a description when repeatable.
func CheckDuplicates(resolved []*migration.Resolved) error {
	seen := make(map[string]*migration.Resolved, len(resolved))

	var errs error
	for _, r := range resolved {
		key := r.Key()

		if prior, dup := seen[key]; dup {
			errs = multierr.Append(errs, duplicateError(prior, r))
			continue
		}

		seen[key] = r
	}

	return errs
}

// Sort orders versioned migrations by version, then repeatables by description.
func Sort(resolved []*migration.Resolved) {
	sort.SliceStable(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]

		switch {
		case a.IsRepeatable() != b.IsRepeatable():
			return !a.IsRepeatable()
		case a.IsRepeatable():
			return a.Description < b.Description
		}

		return a.Version.Compare(b.Version) < 0
	})
}

func duplicateError(a, b *migration.Resolved) error {
	if a.IsRepeatable() {
		return fmt.Errorf("%w: repeatable migration %q is defined by both %s and %s",
			ErrMigrationDuplicated, a.Description, a.PhysicalLocation, b.PhysicalLocation)
	}

	return fmt.Errorf("%w: version %s is defined by both %s and %s",
		ErrMigrationDuplicated, a.Version, a.PhysicalLocation, b.PhysicalLocation)
}
