package info

import "github.com/root-talis/kiroku/migration"

// Context is the snapshot every Info of one reconciliation pass shares.
// It is built once by Reconcile and never modified afterwards.
type Context struct {
	target       migration.Version
	outOfOrder   bool
	lastResolved migration.Version
	lastApplied  migration.Version
	baseline     migration.Version

	latestRepeatableRuns map[string]int
}

// Target is the version ceiling; Latest when there is none.
func (c *Context) Target() migration.Version {
	return c.target
}

func (c *Context) OutOfOrder() bool {
	return c.outOfOrder
}

// LastResolved is the highest version known to the sources, or Empty.
func (c *Context) LastResolved() migration.Version {
	return c.lastResolved
}

// LastApplied is the highest version present in the history, or Empty.
func (c *Context) LastApplied() migration.Version {
	return c.lastApplied
}

// Baseline is the version of the baseline row opening the history, or Empty.
func (c *Context) Baseline() migration.Version {
	return c.baseline
}

func (c *Context) latestRun(description string) (int, bool) {
	rank, ok := c.latestRepeatableRuns[description]
	return rank, ok
}
