package focusflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Focus-Flow HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	Title            string `json:"title"`
	Action           string `json:"action,omitempty"`
	Details          string `json:"details,omitempty"`
	EstimatedMinutes *int   `json:"estimated_minutes,omitempty"`
	Completed        bool   `json:"completed"`
}

// CreateTasksResult is the batch-create response: durable records plus the
// ephemeral-to-durable id map.
type CreateTasksResult struct {
	Created []Task            `json:"created"`
	IDMap   map[string]string `json:"id_map"`
}

// Session is a recorded focus session.
type Session struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	CyclesCompleted int    `json:"cycles_completed"`
	FocusedMinutes  int    `json:"focused_minutes"`
	Trigger         string `json:"trigger"`
}

// SessionMetrics is the metrics snapshot sent with a save point.
type SessionMetrics struct {
	CyclesCompleted int    `json:"cycles_completed"`
	FocusedMinutes  int    `json:"focused_minutes"`
	SessionStart    string `json:"session_start"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTasks persists a batch of ephemeral tasks.
func (c *Client) CreateTasks(ctx context.Context, tasks []Task) (CreateTasksResult, error) {
	var resp CreateTasksResult
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), map[string]any{"tasks": tasks}, &resp)
	return resp, err
}

// SaveTasks writes current field values and list order.
func (c *Client) SaveTasks(ctx context.Context, tasks []Task) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodPut, c.projectPath("tasks"), map[string]any{"tasks": tasks}, &resp)
	return resp.Tasks, err
}

// ListTasks returns the project's tasks in order.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks"), nil, &resp)
	return resp.Tasks, err
}

// RecordSession persists a session snapshot.
func (c *Client) RecordSession(ctx context.Context, metrics SessionMetrics, trigger string, taskUpdates []Task) (Session, error) {
	body := map[string]any{
		"metrics": metrics,
		"trigger": trigger,
	}
	if len(taskUpdates) > 0 {
		body["task_updates"] = taskUpdates
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, c.projectPath("sessions"), body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// Health checks the API.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
