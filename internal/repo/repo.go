package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/config"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/events"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
	// Actor is stamped on every event this repo writes. The server sets it
	// per request from the authenticated principal; the CLI leaves the
	// local-user default.
	Actor string
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) actor() string {
	if r.Actor != "" {
		return r.Actor
	}
	return "local-user"
}

// --- projects ---

// InitProject creates a project row, seeds its config, and appends the
// project.init event in one transaction.
func (r Repo) InitProject(ctx context.Context, p domain.Project, cfg *config.Config, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if cfg != nil {
		if err := r.upsertProjectConfig(ctx, tx, p.ID, cfg); err != nil {
			return err
		}
	}
	w := events.Writer{DB: r.DB, Now: r.Now}
	if err := w.Append(ctx, tx, events.TypeProjectInit, p.ID, "project", p.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,status,COALESCE(description,''),created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,status,COALESCE(description,''),created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project configs ---

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return r.upsertProjectConfig(ctx, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return r.upsertProjectConfig(ctx, tx, projectID, cfg)
}

func (r Repo) upsertProjectConfig(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := r.now().UTC().Format(time.RFC3339)
	_, err = r.exec(tx)(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// --- tasks ---

// CreateTasks stores a batch of ephemeral tasks and returns the created
// durable records plus the ephemeral-to-durable id map. The whole batch is
// one transaction; on error nothing is persisted.
func (r Repo) CreateTasks(ctx context.Context, projectID string, tasks []domain.Task) ([]domain.Task, map[string]string, error) {
	if len(tasks) == 0 {
		return nil, map[string]string{}, nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := r.now().UTC().Format(time.RFC3339)
	w := events.Writer{DB: r.DB, Now: r.Now}
	idMap := make(map[string]string, len(tasks))
	created := make([]domain.Task, 0, len(tasks))
	var maxPos sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks WHERE project_id=?`, projectID).Scan(&maxPos); err != nil {
		return nil, nil, err
	}
	pos := int(maxPos.Int64)
	for _, t := range tasks {
		pos++
		durable := uuid.New().String()
		idMap[t.ID] = durable
		t.ID = durable
		t.ProjectID = projectID
		t.CreatedAt = now
		t.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,action,details,estimated_minutes,completed,position,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.ProjectID, t.Title, nullable(t.Action), nullable(t.Details), nullableInt(t.EstimatedMinutes), boolInt(t.Completed), pos, t.CreatedAt, t.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("insert task: %w", err)
		}
		if err := w.Append(ctx, tx, events.TypeTaskCreated, projectID, "task", t.ID, r.actor(), events.EventPayload{"title": t.Title}); err != nil {
			return nil, nil, err
		}
		created = append(created, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return created, idMap, nil
}

// SaveTasks writes current field values and list order for every task in
// the slice. Position is the slice index; tasks not in the slice keep their
// rows (delete is explicit).
func (r Repo) SaveTasks(ctx context.Context, projectID string, tasks []domain.Task) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := r.now().UTC().Format(time.RFC3339)
	for i, t := range tasks {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,action=?,details=?,estimated_minutes=?,completed=?,position=?,updated_at=? WHERE id=? AND project_id=?`,
			t.Title, nullable(t.Action), nullable(t.Details), nullableInt(t.EstimatedMinutes), boolInt(t.Completed), i, now, t.ID, projectID); err != nil {
			return fmt.Errorf("update task %s: %w", t.ID, err)
		}
	}
	w := events.Writer{DB: r.DB, Now: r.Now}
	if err := w.Append(ctx, tx, events.TypeTasksSaved, projectID, "task", "", r.actor(), events.EventPayload{"count": len(tasks)}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var est sql.NullInt64
	var completed int
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,COALESCE(action,''),COALESCE(details,''),estimated_minutes,completed,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Action, &t.Details, &est, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if est.Valid {
		v := int(est.Int64)
		t.EstimatedMinutes = &v
	}
	t.Completed = completed != 0
	return t, nil
}

// ListTasks returns the project's tasks in list order.
func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,COALESCE(action,''),COALESCE(details,''),estimated_minutes,completed,created_at,updated_at
FROM tasks WHERE project_id=? ORDER BY position, created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var est sql.NullInt64
		var completed int
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Action, &t.Details, &est, &completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if est.Valid {
			v := int(est.Int64)
			t.EstimatedMinutes = &v
		}
		t.Completed = completed != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
		return err
	}
	w := events.Writer{DB: r.DB, Now: r.Now}
	if err := w.Append(ctx, tx, events.TypeTaskDeleted, t.ProjectID, "task", id, r.actor(), nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CountTasksByStatus groups the project's tasks by completion.
func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT completed, COUNT(*) FROM tasks WHERE project_id=? GROUP BY completed`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{"open": 0, "completed": 0}
	for rows.Next() {
		var completed, n int
		if err := rows.Scan(&completed, &n); err != nil {
			return nil, err
		}
		if completed != 0 {
			counts["completed"] = n
		} else {
			counts["open"] = n
		}
	}
	return counts, rows.Err()
}

// AppendPlanApplied records that a refined modification batch was applied
// and persisted.
func (r Repo) AppendPlanApplied(ctx context.Context, projectID string, opCount int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w := events.Writer{DB: r.DB, Now: r.Now}
	if err := w.Append(ctx, tx, events.TypePlanApplied, projectID, "plan", "", r.actor(), events.EventPayload{"operations": opCount}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- sessions ---

// RecordSession persists a focus-session snapshot: metrics plus trigger.
func (r Repo) RecordSession(ctx context.Context, s domain.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,project_id,started_at,ended_at,cycles_completed,focused_minutes,save_trigger) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.StartedAt, s.EndedAt, s.CyclesCompleted, s.FocusedMinutes, s.Trigger); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	w := events.Writer{DB: r.DB, Now: r.Now}
	if err := w.Append(ctx, tx, events.TypeSessionRecorded, s.ProjectID, "session", s.ID, r.actor(), events.EventPayload{
		"cycles":          s.CyclesCompleted,
		"focused_minutes": s.FocusedMinutes,
		"trigger":         s.Trigger,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ListSessions(ctx context.Context, projectID string) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,started_at,ended_at,cycles_completed,focused_minutes,save_trigger
FROM sessions WHERE project_id=? ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.StartedAt, &s.EndedAt, &s.CyclesCompleted, &s.FocusedMinutes, &s.Trigger); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FocusTotals sums recorded cycles and focused minutes for a project.
func (r Repo) FocusTotals(ctx context.Context, projectID string) (cycles, minutes int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cycles_completed),0), COALESCE(SUM(focused_minutes),0) FROM sessions WHERE project_id=?`, projectID).
		Scan(&cycles, &minutes)
	return cycles, minutes, err
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first; the webhook dispatcher's read model.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE id>? AND project_id=? ORDER BY id LIMIT ?`, cursor, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id.Int64, err
}

// --- helpers ---

func (r Repo) exec(tx *sql.Tx) func(context.Context, string, ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext
	}
	return r.DB.ExecContext
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
