package info

import "github.com/root-talis/kiroku/migration"

// Set is the sorted outcome of one reconciliation pass.
type Set struct {
	infos   []*Info
	context *Context
}

func (s *Set) Context() *Context {
	return s.context
}

func (s *Set) All() []*Info {
	result := make([]*Info, len(s.infos))
	copy(result, s.infos)

	return result
}

// Current is the applied versioned migration with the highest version. When no
// versioned migration was applied it falls back to the latest repeatable run.
// It is nil for an empty history.
func (s *Set) Current() *Info {
	var current *Info

	for _, i := range s.infos {
		if !i.State().IsApplied() || i.IsRepeatable() || i.Type() == migration.TypeSchema {
			continue
		}

		if current == nil || i.Version().Compare(current.Version()) >= 0 {
			current = i
		}
	}

	if current != nil {
		return current
	}

	for _, i := range s.infos {
		if !i.State().IsApplied() {
			continue
		}

		if current == nil || i.InstalledRank() > current.InstalledRank() {
			current = i
		}
	}

	return current
}

func (s *Set) Pending() []*Info {
	return s.filter(func(i *Info) bool { return i.State() == migration.Pending })
}

func (s *Set) Applied() []*Info {
	return s.filter(func(i *Info) bool { return i.State().IsApplied() })
}

func (s *Set) Resolved() []*Info {
	return s.filter(func(i *Info) bool { return i.State().IsResolved() })
}

func (s *Set) Failed() []*Info {
	return s.filter(func(i *Info) bool { return i.State().IsFailed() })
}

func (s *Set) Future() []*Info {
	return s.filter(func(i *Info) bool { return i.State().IsFuture() })
}

func (s *Set) OutOfOrder() []*Info {
	return s.filter(func(i *Info) bool { return i.State() == migration.OutOfOrder })
}

func (s *Set) filter(keep func(*Info) bool) []*Info {
	result := make([]*Info, 0)

	for _, i := range s.infos {
		if keep(i) {
			result = append(result, i)
		}
	}

	return result
}
