package info

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/root-talis/kiroku/migration"
)

type Options struct {
	// Target caps which pending migrations apply. The zero value means Latest.
	Target     migration.Version
	OutOfOrder bool
}

// Reconcile merges what the sources know with what the history records.
// applied must be ordered by installed rank; it is never re-sorted by version
// because that order is what reveals out-of-order application.
// Every duplicate among resolved migrations is reported, not just the first.
func Reconcile(resolved []*migration.Resolved, applied []*migration.Applied, opts Options) (*Set, error) {
	ctx := &Context{
		outOfOrder:           opts.OutOfOrder,
		lastResolved:         migration.Empty,
		lastApplied:          migration.Empty,
		baseline:             migration.Empty,
		latestRepeatableRuns: make(map[string]int),
	}

	versioned, repeatable, err := indexResolved(resolved, ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]*Info, 0, len(resolved)+len(applied))
	matched := make(map[string]bool, len(versioned))
	maxSoFar := migration.Empty
	first := true

	for _, row := range applied {
		if row.IsRepeatable() {
			if row.InstalledRank > ctx.latestRepeatableRuns[row.Description] {
				ctx.latestRepeatableRuns[row.Description] = row.InstalledRank
			}

			infos = append(infos, &Info{resolved: repeatable[row.Description], applied: row, context: ctx})
			continue
		}

		if first && row.Type != migration.TypeSchema {
			first = false
			if row.Type.IsBaseline() {
				ctx.baseline = row.Version
			}
		}

		key := row.Version.Canonical()
		info := &Info{resolved: versioned[key], applied: row, context: ctx}
		matched[key] = true

		if row.Version.Compare(maxSoFar) < 0 {
			if !row.Type.IsSynthetic() {
				info.outOfOrder = true
			}
		} else {
			maxSoFar = row.Version
		}

		infos = append(infos, info)
	}

	ctx.lastApplied = maxSoFar

	for key, m := range versioned {
		if !matched[key] {
			infos = append(infos, &Info{resolved: m, context: ctx})
		}
	}

	for description, m := range repeatable {
		if needsRun(m, description, applied, ctx) {
			infos = append(infos, &Info{resolved: m, context: ctx})
		}
	}

	ctx.target = resolveTarget(opts.Target, ctx)

	sort.SliceStable(infos, func(i, j int) bool {
		return compare(infos[i], infos[j]) < 0
	})

	return &Set{infos: infos, context: ctx}, nil
}

func indexResolved(
	resolved []*migration.Resolved,
	ctx *Context,
) (map[string]*migration.Resolved, map[string]*migration.Resolved, error) {
	versioned := make(map[string]*migration.Resolved, len(resolved))
	repeatable := make(map[string]*migration.Resolved)

	var errs error

	for _, m := range resolved {
		index, key := versioned, m.Version.Canonical()
		if m.IsRepeatable() {
			index, key = repeatable, m.Description
		}

		if existing, ok := index[key]; ok {
			errs = multierr.Append(errs, fmt.Errorf(
				"%w: %s found in both %s and %s",
				migration.ErrMigrationDuplicated, describe(m), location(existing), location(m),
			))
			continue
		}

		index[key] = m

		if !m.IsRepeatable() && m.Version.IsNewerThan(ctx.lastResolved) {
			ctx.lastResolved = m.Version
		}
	}

	return versioned, repeatable, errs
}

// needsRun reports whether a repeatable migration has never run or changed
// since its latest run.
func needsRun(m *migration.Resolved, description string, applied []*migration.Applied, ctx *Context) bool {
	latest, ok := ctx.latestRun(description)
	if !ok {
		return true
	}

	for _, row := range applied {
		if row.InstalledRank == latest {
			return !migration.ChecksumsEqual(row.Checksum, m.Checksum)
		}
	}

	return true
}

func resolveTarget(target migration.Version, ctx *Context) migration.Version {
	switch {
	case target.IsZero(), target.IsNext():
		// next is applied by the planner; states see no ceiling
		return migration.Latest
	case target.IsCurrent():
		return ctx.lastApplied
	default:
		return target
	}
}

func describe(m *migration.Resolved) string {
	if m.IsRepeatable() {
		return fmt.Sprintf("repeatable migration %q", m.Description)
	}

	return fmt.Sprintf("version %s", m.Version)
}

func location(m *migration.Resolved) string {
	if m.PhysicalLocation != "" {
		return m.PhysicalLocation
	}

	return m.Script
}
