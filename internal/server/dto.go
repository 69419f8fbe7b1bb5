package server

import (
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

// CreateTasksRequest carries a batch of ephemeral tasks to persist. Ids must
// carry the configured ephemeral prefix.
type CreateTasksRequest struct {
	Tasks []domain.Task `json:"tasks"`
}

type SaveTasksRequest struct {
	Tasks []domain.Task `json:"tasks"`
}

type RefinePlanRequest struct {
	Command string        `json:"command"`
	Tasks   []domain.Task `json:"tasks,omitempty"`
	// Apply runs the returned batch against the stored task list and
	// persists the result.
	Apply bool `json:"apply,omitempty"`
}

type RecordSessionRequest struct {
	TaskUpdates []domain.Task         `json:"task_updates,omitempty"`
	Metrics     domain.SessionMetrics `json:"metrics"`
	Trigger     string                `json:"trigger,omitempty" enum:"manual,auto_on_complete,interrupt"`
}

// Response payloads

type ProjectResponse struct {
	domain.Project
}

type CreateTasksResponse struct {
	Created []domain.Task     `json:"created"`
	IDMap   map[string]string `json:"id_map"`
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type RefinePlanResponse struct {
	domain.PlanResult
	Tasks []domain.Task `json:"tasks,omitempty"`
}

type SessionResponse struct {
	domain.Session
}

type SessionListResponse struct {
	Sessions []domain.Session `json:"sessions"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type StatusResponse struct {
	ProjectID      string         `json:"project_id"`
	Status         string         `json:"status"`
	TaskCounts     map[string]int `json:"task_counts"`
	Cycles         int            `json:"cycles_completed"`
	FocusedMinutes int            `json:"focused_minutes"`
}
