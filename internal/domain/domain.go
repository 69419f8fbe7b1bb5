package domain

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task is one unit of work in a project's ordered list. Order is implicit:
// a task's position is its index in the containing slice; the store persists
// it as a position column.
type Task struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id,omitempty"`
	Title            string `json:"title"`
	Action           string `json:"action,omitempty"`
	Details          string `json:"details,omitempty"`
	EstimatedMinutes *int   `json:"estimated_minutes,omitempty"`
	Completed        bool   `json:"completed"`
	CreatedAt        string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt        string `json:"updated_at,omitempty" format:"date-time"`
}

// Modification operation kinds.
const (
	OpUpdate  = "update"
	OpAdd     = "add"
	OpDelete  = "delete"
	OpReorder = "reorder"
)

// Modification is one structured edit against a task list. Exactly the
// fields for its Operation are set; the rest stay zero.
type Modification struct {
	Operation   string       `json:"operation" enum:"update,add,delete,reorder"`
	TaskID      string       `json:"task_id,omitempty"`
	Changes     *TaskChanges `json:"changes,omitempty"`
	NewTask     *Task        `json:"new_task,omitempty"`
	AfterTaskID string       `json:"after_task_id,omitempty"`
	NewOrder    []string     `json:"new_order,omitempty"`
}

// TaskChanges carries the partial field set of an update operation. Nil
// means "leave unchanged". An EstimatedMinutes value <= 0 clears the
// estimate, since JSON gives no way to tell null from absent on a *int.
type TaskChanges struct {
	Title            *string `json:"title,omitempty"`
	Action           *string `json:"action,omitempty"`
	Details          *string `json:"details,omitempty"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	Completed        *bool   `json:"completed,omitempty"`
}

// SessionMetrics accumulates during a focus session and is persisted only at
// a save point.
type SessionMetrics struct {
	CyclesCompleted int    `json:"cycles_completed"`
	FocusedMinutes  int    `json:"focused_minutes"`
	SessionStart    string `json:"session_start" format:"date-time"`
}

// Session is one recorded focus session.
type Session struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	StartedAt       string `json:"started_at" format:"date-time"`
	EndedAt         string `json:"ended_at" format:"date-time"`
	CyclesCompleted int    `json:"cycles_completed"`
	FocusedMinutes  int    `json:"focused_minutes"`
	Trigger         string `json:"trigger" enum:"manual,auto_on_complete,interrupt"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PlanResult is what the AI plan-refinement collaborator returns for a
// command against the current task list.
type PlanResult struct {
	Modifications []Modification `json:"modifications"`
	NewTitle      string         `json:"new_title,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
}
