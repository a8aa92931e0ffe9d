// Package progress derives the UI-facing progress state of a task.
//
// Derive evaluates a fixed decision table top to bottom and returns the first
// matching state. Labels, suggested actions and indicators are lookups keyed by
// that state and live in a single table that must cover every state.
package progress

import (
	"fmt"

	"workopilot/internal/domain"
)

// State is a derived progress state.
type State int

const (
	Idle State = iota
	ReadyToStart
	InExecution
	AIWorking
	NeedsReview
	ReadyToReview
	ReadyToCommit
	Started
	Done

	numStates
)

// Action is the next step suggested for a task in a given state.
type Action string

const (
	ActionExecuteAll          Action = "execute_all"
	ActionExecuteFirstSubtask Action = "execute_first_subtask"
	ActionReview              Action = "review"
	ActionFocusTerminal       Action = "focus_terminal"
	ActionCommit              Action = "commit"
	ActionNone                Action = "none"
)

// Indicator is the visual hint rendered next to a state.
type Indicator string

const (
	IndicatorNone    Indicator = ""
	IndicatorSpinner Indicator = "spinner"
)

type stateInfo struct {
	name      string
	label     string
	action    Action
	indicator Indicator
}

var catalog = [...]stateInfo{
	Idle:          {"idle", "Idle", ActionNone, IndicatorNone},
	ReadyToStart:  {"ready-to-start", "Ready to start", ActionExecuteAll, IndicatorNone},
	InExecution:   {"in-execution", "Executing", ActionFocusTerminal, IndicatorSpinner},
	AIWorking:     {"ai-working", "AI working", ActionFocusTerminal, IndicatorSpinner},
	NeedsReview:   {"needs-review", "Needs review", ActionReview, IndicatorNone},
	ReadyToReview: {"ready-to-review", "Ready to review", ActionReview, IndicatorNone},
	ReadyToCommit: {"ready-to-commit", "Ready to commit", ActionCommit, IndicatorNone},
	Started:       {"started", "Started", ActionExecuteFirstSubtask, IndicatorNone},
	Done:          {"done", "Done", ActionNone, IndicatorNone},
}

// Fails to compile when catalog and the State constants drift apart.
var _ = [1]struct{}{}[len(catalog)-int(numStates)]

// States returns every state in declaration order.
func States() []State {
	out := make([]State, 0, numStates)
	for s := Idle; s < numStates; s++ {
		out = append(out, s)
	}
	return out
}

func (s State) info() stateInfo {
	if s < 0 || s >= numStates {
		return catalog[Idle]
	}
	return catalog[s]
}

// String returns the kebab-case name of the state, e.g. "ready-to-start".
func (s State) String() string { return s.info().name }

// Label returns the display label.
func (s State) Label() string { return s.info().label }

// Action returns the suggested next action.
func (s State) Action() Action { return s.info().action }

// Indicator returns the visual indicator.
func (s State) Indicator() Indicator { return s.info().indicator }

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse converts a state name back to a State.
func Parse(name string) (State, error) {
	for i, info := range catalog {
		if info.name == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown progress state %q", name)
}

// Derive classifies a task. A nil task is idle. The function has no side
// effects and never fails.
func Derive(task *domain.TaskFull, exec *domain.TaskExecution) State {
	if task == nil {
		return Idle
	}
	if task.Status == domain.TaskDone {
		return Done
	}
	if exec != nil && exec.Status == domain.ExecutionRunning {
		return InExecution
	}
	if task.Substatus != nil {
		switch *task.Substatus {
		case domain.SubstatusExecuting:
			return AIWorking
		case domain.SubstatusAwaitingReview:
			return ReadyToReview
		case domain.SubstatusAwaitingUser:
			return NeedsReview
		}
	}
	total, done, pending := countSubtasks(task.Subtasks)
	if total > 0 && done == total {
		return ReadyToCommit
	}
	if task.AIMetadata.StructuringComplete && pending > 0 {
		return ReadyToStart
	}
	if task.Timestamps.StartedAt != nil {
		return Started
	}
	return Idle
}

func countSubtasks(subtasks []domain.Subtask) (total, done, pending int) {
	for _, st := range subtasks {
		total++
		switch st.Status {
		case domain.SubtaskDone:
			done++
		case domain.SubtaskPending:
			pending++
		}
	}
	return total, done, pending
}

// Summary is the classifier result bundled with its lookups.
type Summary struct {
	State         State     `json:"state"`
	Label         string    `json:"label"`
	Action        Action    `json:"action"`
	Indicator     Indicator `json:"indicator,omitempty"`
	SubtasksDone  int       `json:"subtasks_done"`
	SubtasksTotal int       `json:"subtasks_total"`
}

// Summarize derives the state of task and fills in its label, action and
// subtask counts.
func Summarize(task *domain.TaskFull, exec *domain.TaskExecution) Summary {
	s := Derive(task, exec)
	sum := Summary{
		State:     s,
		Label:     s.Label(),
		Action:    s.Action(),
		Indicator: s.Indicator(),
	}
	if task != nil {
		sum.SubtasksTotal, sum.SubtasksDone, _ = countSubtasks(task.Subtasks)
	}
	return sum
}

// IsQuickLink reports whether a task in state s should be surfaced as a quick link.
func IsQuickLink(s State) bool {
	return s.Action() != ActionNone
}
