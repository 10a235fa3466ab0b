package types

// Status is the lifecycle state shared by tasks and jobs
type Status string

const (
	StatusCreated   Status = "created"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusBroken    Status = "broken"
	StatusLocked    Status = "locked"
	StatusRevoked   Status = "revoked"
)

// NonTerminalStatuses lists every status a task can leave
var NonTerminalStatuses = []Status{
	StatusCreated,
	StatusLocked,
	StatusScheduled,
	StatusRunning,
}

// IsTerminal reports whether the status is absorbing
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusAborted, StatusBroken, StatusRevoked:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusScheduled, StatusRunning, StatusSuccess, StatusFailed,
		StatusAborted, StatusBroken, StatusLocked, StatusRevoked:
		return true
	default:
		return false
	}
}

// IsActive reports whether a worker process is expected to exist
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusRunning
}

// created -> running covers a runner that starts before the launcher has
// recorded scheduled. scheduled -> aborted finalizes a cancelled task whose
// runner never reached its first job.
var allowedTransitions = map[Status][]Status{
	StatusCreated:   {StatusScheduled, StatusRunning, StatusLocked, StatusRevoked},
	StatusLocked:    {StatusCreated, StatusRevoked},
	StatusScheduled: {StatusRunning, StatusRevoked, StatusAborted},
	StatusRunning:   {StatusSuccess, StatusFailed, StatusAborted},
}

// CanTransition reports whether from -> to is a legal status change.
// Any non-terminal status may move to broken; terminal statuses never move.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if to == StatusBroken {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a *TransitionError when from -> to is illegal.
// Re-applying the current non-terminal status is a no-op and allowed.
func CheckTransition(entity string, id int64, from, to Status) error {
	if from == to && !from.IsTerminal() {
		return nil
	}
	if !CanTransition(from, to) {
		return &TransitionError{Entity: entity, ID: id, From: from, To: to}
	}
	return nil
}
