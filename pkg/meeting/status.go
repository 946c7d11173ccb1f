package meeting

// Status represents the lifecycle of a meeting record.
type Status string

const (
	// StatusScheduled is the initial status of calendar-discovered meetings.
	StatusScheduled Status = "scheduled"

	// StatusBotJoining is the initial status of bot-launched meetings, and
	// the status a scheduled meeting moves to when a bot is launched
	// against it.
	StatusBotJoining Status = "bot_joining"

	// StatusInProgress means the platform reported the meeting started.
	StatusInProgress Status = "in_progress"

	// StatusProcessing means the meeting ended and transcript delivery is
	// pending.
	StatusProcessing Status = "processing"

	// StatusCompleted means a transcript was stored. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed records an unrecoverable error. Terminal.
	StatusFailed Status = "failed"
)

var allStatuses = []Status{
	StatusScheduled,
	StatusBotJoining,
	StatusInProgress,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var validTransitions = map[Status]map[Status]struct{}{
	StatusScheduled:  {StatusBotJoining: {}, StatusFailed: {}},
	StatusBotJoining: {StatusInProgress: {}, StatusFailed: {}},
	StatusInProgress: {StatusProcessing: {}, StatusFailed: {}},
	StatusProcessing: {StatusCompleted: {}, StatusFailed: {}},
	// completed and failed are terminal.
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
// Redelivered events targeting a terminal meeting must be no-ops.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from one status to another is a valid
// lifecycle step.
func CanTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// TransitionSources returns the statuses from which a transition to the given
// status is valid. Used to build conditional updates that tolerate replayed
// events.
func TransitionSources(to Status) []Status {
	var sources []Status
	for _, from := range allStatuses {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
