package info

import (
	"strings"
	"time"

	"github.com/root-talis/kiroku/migration"
)

// Info pairs a resolved migration with its history row. At least one of them is set.
type Info struct {
	resolved *migration.Resolved
	applied  *migration.Applied
	context  *Context

	// set while walking the history in rank order
	outOfOrder bool
}

func (i *Info) Resolved() *migration.Resolved {
	return i.resolved
}

func (i *Info) Applied() *migration.Applied {
	return i.applied
}

func (i *Info) Context() *Context {
	return i.context
}

func (i *Info) IsRepeatable() bool {
	if i.resolved != nil {
		return i.resolved.IsRepeatable()
	}

	return i.applied.IsRepeatable()
}

func (i *Info) Version() migration.Version {
	if i.resolved != nil {
		return i.resolved.Version
	}

	return i.applied.Version
}

func (i *Info) Description() string {
	if i.applied != nil {
		return i.applied.Description
	}

	return i.resolved.Description
}

func (i *Info) Type() migration.Type {
	if i.applied != nil {
		return i.applied.Type
	}

	return i.resolved.Type
}

func (i *Info) Script() string {
	if i.applied != nil {
		return i.applied.Script
	}

	return i.resolved.Script
}

func (i *Info) Checksum() *int32 {
	if i.applied != nil {
		return i.applied.Checksum
	}

	return i.resolved.Checksum
}

// InstalledRank is zero for migrations without a history row.
func (i *Info) InstalledRank() int {
	if i.applied == nil {
		return 0
	}

	return i.applied.InstalledRank
}

func (i *Info) InstalledOn() time.Time {
	if i.applied == nil {
		return time.Time{}
	}

	return i.applied.InstalledOn
}

func (i *Info) InstalledBy() string {
	if i.applied == nil {
		return ""
	}

	return i.applied.InstalledBy
}

// ExecutionTime in milliseconds.
func (i *Info) ExecutionTime() int {
	if i.applied == nil {
		return 0
	}

	return i.applied.ExecutionTime
}

func (i *Info) CanExecuteInTransaction() bool {
	return i.resolved == nil || i.resolved.CanExecuteInTransaction()
}

// ---

// State is derived from the pair and the shared context on every call.
// The order of the rules matters: the first match wins.
func (i *Info) State() migration.State {
	switch {
	case i.applied == nil:
		return i.unappliedState()
	case i.applied.IsRepeatable():
		return i.repeatableState()
	case i.resolved == nil:
		return i.unresolvedState()
	case !i.applied.Success:
		return migration.Failed
	case i.outOfOrder:
		return migration.OutOfOrder
	default:
		return migration.Success
	}
}

func (i *Info) unappliedState() migration.State {
	if i.resolved.IsRepeatable() {
		return migration.Pending
	}

	version := i.resolved.Version
	switch {
	case version.IsNewerThan(i.context.target):
		return migration.AboveTarget
	case version.Compare(i.context.baseline) < 0:
		return migration.PreInit
	case version.Compare(i.context.lastApplied) < 0 && !i.context.outOfOrder:
		return migration.Ignored
	default:
		return migration.Pending
	}
}

func (i *Info) unresolvedState() migration.State {
	if i.applied.Type.IsSynthetic() {
		return migration.Success
	}

	if i.applied.Version.Compare(i.context.lastResolved) < 0 {
		return failedOr(i.applied.Success, migration.MissingSuccess, migration.MissingFailed)
	}

	return failedOr(i.applied.Success, migration.FutureSuccess, migration.FutureFailed)
}

func (i *Info) repeatableState() migration.State {
	if i.resolved == nil {
		return failedOr(i.applied.Success, migration.MissingSuccess, migration.MissingFailed)
	}

	if !i.applied.Success {
		return migration.Failed
	}

	if latest, _ := i.context.latestRun(i.applied.Description); latest != i.applied.InstalledRank {
		return migration.Superseded
	}

	if !migration.ChecksumsEqual(i.applied.Checksum, i.resolved.Checksum) {
		return migration.Outdated
	}

	return migration.Success
}

func failedOr(success bool, ok, failed migration.State) migration.State {
	if success {
		return ok
	}

	return failed
}

// ---

// compare orders versioned migrations by version and puts repeatable ones
// after them by description. Ties fall back to installed rank, unapplied last.
func compare(a, b *Info) int {
	aRepeatable, bRepeatable := a.IsRepeatable(), b.IsRepeatable()

	switch {
	case !aRepeatable && !bRepeatable:
		if c := a.Version().Compare(b.Version()); c != 0 {
			return c
		}
	case aRepeatable != bRepeatable:
		if aRepeatable {
			return 1
		}
		return -1
	default:
		if c := strings.Compare(a.Description(), b.Description()); c != 0 {
			return c
		}
	}

	return compareRanks(a.InstalledRank(), b.InstalledRank())
}

func compareRanks(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}
