package domain

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskActive     TaskStatus = "active"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskActive, TaskInProgress, TaskDone:
		return true
	}
	return false
}

// Started reports whether s marks a task that work has begun on.
func (s TaskStatus) Started() bool {
	return s == TaskActive || s == TaskInProgress
}

type Substatus string

const (
	SubstatusStructuring    Substatus = "structuring"
	SubstatusExecuting      Substatus = "executing"
	SubstatusAwaitingUser   Substatus = "awaiting_user"
	SubstatusAwaitingReview Substatus = "awaiting_review"
)

func (s Substatus) Valid() bool {
	switch s {
	case SubstatusStructuring, SubstatusExecuting, SubstatusAwaitingUser, SubstatusAwaitingReview:
		return true
	}
	return false
}

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

func (c Complexity) Valid() bool {
	return c == ComplexitySimple || c == ComplexityMedium || c == ComplexityComplex
}

type ModifiedBy string

const (
	ModifiedByUser ModifiedBy = "user"
	ModifiedByAI   ModifiedBy = "ai"
	ModifiedByCLI  ModifiedBy = "cli"
)

func (m ModifiedBy) Valid() bool {
	return m == ModifiedByUser || m == ModifiedByAI || m == ModifiedByCLI
}

type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskDone       SubtaskStatus = "done"
)

func (s SubtaskStatus) Valid() bool {
	return s == SubtaskPending || s == SubtaskInProgress || s == SubtaskDone
}

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStale     ExecutionStatus = "stale"
)

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskContext struct {
	Description        string   `json:"description"`
	BusinessRules      []string `json:"business_rules"`
	TechnicalNotes     string   `json:"technical_notes"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type AIMetadata struct {
	LastInteraction     *string  `json:"last_interaction"`
	LastCompletedAction *string  `json:"last_completed_action"`
	SessionIDs          []string `json:"session_ids"`
	TokensUsed          int      `json:"tokens_used"`
	StructuringComplete bool     `json:"structuring_complete"`
}

type TaskTimestamps struct {
	CreatedAt   string  `json:"created_at" format:"date-time"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Task struct {
	ID            string         `json:"id"`
	ProjectID     *string        `json:"project_id,omitempty"`
	Title         string         `json:"title"`
	Status        TaskStatus     `json:"status" enum:"pending,active,in_progress,done"`
	Substatus     *Substatus     `json:"substatus,omitempty" enum:"structuring,executing,awaiting_user,awaiting_review"`
	Complexity    *Complexity    `json:"complexity,omitempty" enum:"simple,medium,complex"`
	Priority      int            `json:"priority"`
	Category      string         `json:"category"`
	Initialized   bool           `json:"initialized"`
	SchemaVersion int            `json:"schema_version"`
	Context       TaskContext    `json:"context"`
	AIMetadata    AIMetadata     `json:"ai_metadata"`
	Timestamps    TaskTimestamps `json:"timestamps"`
	ModifiedAt    string         `json:"modified_at" format:"date-time"`
	ModifiedBy    ModifiedBy     `json:"modified_by" enum:"user,ai,cli"`
	ScheduledDate *string        `json:"scheduled_date,omitempty"`
	DueDate       *string        `json:"due_date,omitempty"`
}

type Subtask struct {
	ID                 string        `json:"id"`
	TaskID             string        `json:"task_id"`
	Title              string        `json:"title"`
	Status             SubtaskStatus `json:"status" enum:"pending,in_progress,done"`
	Order              int           `json:"order"`
	Description        string        `json:"description,omitempty"`
	AcceptanceCriteria []string      `json:"acceptance_criteria,omitempty"`
	TechnicalNotes     string        `json:"technical_notes,omitempty"`
	PromptContext      string        `json:"prompt_context,omitempty"`
	CompletedAt        *string       `json:"completed_at,omitempty" format:"date-time"`
}

// TaskFull is a task with its subtasks sorted by order.
type TaskFull struct {
	Task
	Subtasks []Subtask `json:"subtasks"`
}

type TaskExecution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	SubtaskID   *string         `json:"subtask_id,omitempty"`
	Status      ExecutionStatus `json:"status" enum:"running,completed,failed,stale"`
	StartedAt   string          `json:"started_at" format:"date-time"`
	HeartbeatAt string          `json:"heartbeat_at" format:"date-time"`
	FinishedAt  *string         `json:"finished_at,omitempty" format:"date-time"`
	Error       string          `json:"error,omitempty"`
}

type TaskTerminal struct {
	TaskID        string  `json:"task_id"`
	SessionName   string  `json:"session_name"`
	LastSubtaskID *string `json:"last_subtask_id,omitempty"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type LogEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Event      string `json:"event"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Operation  string `json:"operation" enum:"create,update,delete"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload_json"`
}
