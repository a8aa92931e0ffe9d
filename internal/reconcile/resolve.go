package reconcile

// Resolution is the outcome of matching one legacy subtask id against the
// subtask rows already stored.
type Resolution int

const (
	// MatchedDirect: a row with the bare id already belongs to this task.
	MatchedDirect Resolution = iota
	// MatchedComposite: a row with the "{taskId}:{subtaskId}" id exists.
	MatchedComposite
	// NeedsInsert: no row matches; UseCompositeID tells which id to insert.
	NeedsInsert
)

func (r Resolution) String() string {
	switch r {
	case MatchedDirect:
		return "matched-direct"
	case MatchedComposite:
		return "matched-composite"
	case NeedsInsert:
		return "needs-insert"
	}
	return "unknown"
}

// Facts are the lookups Resolve branches on.
type Facts struct {
	// DirectInTask: a subtask with the bare id exists under this task.
	DirectInTask bool
	// CompositeExists: a subtask with the composite id exists.
	CompositeExists bool
	// DirectElsewhere: a subtask with the bare id exists under another task.
	DirectElsewhere bool
}

// Decision is the result of Resolve. UseCompositeID is only meaningful for
// NeedsInsert.
type Decision struct {
	Resolution     Resolution
	UseCompositeID bool
}

// Resolve applies the precedence direct match, composite match, insert.
// A bare id is only replaced by the composite id when it is already taken
// by another task.
func Resolve(f Facts) Decision {
	switch {
	case f.DirectInTask:
		return Decision{Resolution: MatchedDirect}
	case f.CompositeExists:
		return Decision{Resolution: MatchedComposite}
	default:
		return Decision{Resolution: NeedsInsert, UseCompositeID: f.DirectElsewhere}
	}
}

// CompositeID builds the id used to disambiguate subtask ids shared by
// several tasks.
func CompositeID(taskID, subtaskID string) string {
	return taskID + ":" + subtaskID
}

// TargetID returns the row id a decision writes to.
func (d Decision) TargetID(taskID, subtaskID string) string {
	switch d.Resolution {
	case MatchedComposite:
		return CompositeID(taskID, subtaskID)
	case NeedsInsert:
		if d.UseCompositeID {
			return CompositeID(taskID, subtaskID)
		}
	}
	return subtaskID
}
