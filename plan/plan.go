package plan

import (
	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
)

// Group is a run of migrations sharing one transaction boundary.
// A non-transactional group always holds exactly one migration.
type Group struct {
	Migrations    []*info.Info
	Transactional bool
}

type Options struct {
	// Target set to migration.Next limits the plan to one migration.
	Target     migration.Version
	OutOfOrder bool
	// CherryPick restricts the plan to the listed versions or repeatable descriptions.
	CherryPick []string
}

func Plan(infos []*info.Info, opts Options) []Group {
	pending := pendingOf(infos, opts.CherryPick)

	if opts.Target.IsNext() && len(pending) > 1 {
		pending = pending[:1]
	}

	if !opts.OutOfOrder {
		pending = dropStrays(pending)
	}

	return partition(pending)
}

// Mixed reports whether groups combine transactional and non-transactional migrations.
func Mixed(groups []Group) bool {
	var transactional, nonTransactional bool

	for _, g := range groups {
		if g.Transactional {
			transactional = true
		} else {
			nonTransactional = true
		}
	}

	return transactional && nonTransactional
}

// Count is the number of migrations across all groups.
func Count(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Migrations)
	}

	return n
}

// ---

func pendingOf(infos []*info.Info, cherryPick []string) []*info.Info {
	result := make([]*info.Info, 0)

	for _, i := range infos {
		if i.State() != migration.Pending {
			continue
		}

		if len(cherryPick) > 0 && !picked(i, cherryPick) {
			continue
		}

		result = append(result, i)
	}

	return result
}

func picked(i *info.Info, cherryPick []string) bool {
	for _, p := range cherryPick {
		if i.IsRepeatable() {
			if p == i.Description() {
				return true
			}
			continue
		}

		if v, err := migration.ParseVersion(p); err == nil && v.Equal(i.Version()) {
			return true
		}
	}

	return false
}

// dropStrays keeps versioned migrations strictly ascending.
func dropStrays(pending []*info.Info) []*info.Info {
	result := make([]*info.Info, 0, len(pending))
	var last *info.Info

	for _, i := range pending {
		if i.IsRepeatable() {
			result = append(result, i)
			continue
		}

		if last != nil && !i.Version().IsNewerThan(last.Version()) {
			continue
		}

		result = append(result, i)
		last = i
	}

	return result
}

func partition(pending []*info.Info) []Group {
	groups := make([]Group, 0)
	var current *Group

	for _, i := range pending {
		if !i.CanExecuteInTransaction() {
			if current != nil {
				groups = append(groups, *current)
				current = nil
			}

			groups = append(groups, Group{Migrations: []*info.Info{i}})
			continue
		}

		if current == nil {
			current = &Group{Transactional: true}
		}

		current.Migrations = append(current.Migrations, i)
	}

	if current != nil {
		groups = append(groups, *current)
	}

	return groups
}
