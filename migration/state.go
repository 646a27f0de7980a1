package migration

type State uint

const (
	Pending State = iota
	AboveTarget
	Ignored
	PreInit
	MissingSuccess
	MissingFailed
	FutureSuccess
	FutureFailed
	OutOfOrder
	Success
	Failed
	Outdated
	Superseded
)

type stateTraits struct {
	name     string
	resolved bool
	applied  bool
	failed   bool
}

var states = [...]stateTraits{ // nolint:gochecknoglobals
	Pending:        {name: "Pending", resolved: true},
	AboveTarget:    {name: "Above Target", resolved: true},
	Ignored:        {name: "Ignored", resolved: true},
	PreInit:        {name: "Pre-Init", resolved: true},
	MissingSuccess: {name: "Missing", applied: true},
	MissingFailed:  {name: "Failed (Missing)", applied: true, failed: true},
	FutureSuccess:  {name: "Future", applied: true},
	FutureFailed:   {name: "Failed (Future)", applied: true, failed: true},
	OutOfOrder:     {name: "Out of Order", resolved: true, applied: true},
	Success:        {name: "Success", resolved: true, applied: true},
	Failed:         {name: "Failed", resolved: true, applied: true, failed: true},
	Outdated:       {name: "Outdated", resolved: true, applied: true},
	Superseded:     {name: "Superseded", resolved: true, applied: true},
}

func (s State) String() string {
	if int(s) < len(states) {
		return states[s].name
	}

	return "Unknown"
}

// IsResolved reports whether a migration in this state is known to the sources.
func (s State) IsResolved() bool {
	return int(s) < len(states) && states[s].resolved
}

// IsApplied reports whether a migration in this state has a history row.
func (s State) IsApplied() bool {
	return int(s) < len(states) && states[s].applied
}

func (s State) IsFailed() bool {
	return int(s) < len(states) && states[s].failed
}

func (s State) IsMissing() bool {
	return s == MissingSuccess || s == MissingFailed
}

func (s State) IsFuture() bool {
	return s == FutureSuccess || s == FutureFailed
}
