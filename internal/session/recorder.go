// Package session orchestrates the synchronization core: it owns the live
// task list and the session's accumulated metrics, journals applied edits,
// and flushes both to the backing store at explicit save points.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/modify"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/reconcile"
)

// Trigger names the save point that initiated a persistence attempt.
type Trigger string

const (
	TriggerManual         Trigger = "manual"
	TriggerAutoOnComplete Trigger = "auto_on_complete"
	// TriggerInterrupt is fired when the host is about to terminate; the
	// save is best-effort because there is no further chance to retry.
	TriggerInterrupt Trigger = "interrupt"
)

// TaskStore persists task state. CreateTasks is the reconciliation
// collaborator; SaveTasks writes current field values and list order.
type TaskStore interface {
	CreateTasks(ctx context.Context, projectID string, tasks []domain.Task) ([]domain.Task, map[string]string, error)
	SaveTasks(ctx context.Context, projectID string, tasks []domain.Task) error
}

// SessionStore persists the metrics snapshot of a save point.
type SessionStore interface {
	RecordSession(ctx context.Context, s domain.Session) error
}

// Options configure a Recorder.
type Options struct {
	ProjectID       string
	Tasks           []domain.Task
	EphemeralPrefix string
	StrictReorder   bool
	TaskStore       TaskStore
	SessionStore    SessionStore
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Recorder holds the running session's state. All mutation goes through the
// single recorder; saves are serialized against reconciliation by saveMu so
// a save can never observe a half-rewritten id space.
type Recorder struct {
	mu     sync.Mutex
	saveMu sync.Mutex

	projectID string
	tasks     []domain.Task
	metrics   domain.SessionMetrics
	journal   []domain.Modification
	dirty     bool
	version   int // bumped on every mutation; lets a save detect mid-flight edits

	opts     modify.Options
	rec      reconcile.Reconciler
	tasksSt  TaskStore
	sessions SessionStore
	log      zerolog.Logger
	now      func() time.Time
}

// New starts a session over the given task list.
func New(o Options) *Recorder {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	tasks := make([]domain.Task, len(o.Tasks))
	copy(tasks, o.Tasks)
	return &Recorder{
		projectID: o.ProjectID,
		tasks:     tasks,
		metrics: domain.SessionMetrics{
			SessionStart: now().UTC().Format(time.RFC3339),
		},
		opts:     modify.Options{StrictReorder: o.StrictReorder},
		rec:      reconcile.Reconciler{Prefix: o.EphemeralPrefix, Store: o.TaskStore},
		tasksSt:  o.TaskStore,
		sessions: o.SessionStore,
		log:      o.Logger,
		now:      now,
	}
}

// ApplyEdit runs a modification batch against the task list. On success the
// batch is journaled and the session marked dirty; a DuplicateIDError blocks
// the mutation and leaves the list unchanged.
func (r *Recorder) ApplyEdit(ops []domain.Modification) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := modify.ApplyWith(r.tasks, ops, r.opts)
	if err != nil {
		return nil, err
	}
	r.tasks = next
	r.journal = append(r.journal, ops...)
	r.dirty = true
	r.version++
	return r.snapshotLocked(), nil
}

// RecordPomodoro accumulates a completed work phase: one cycle plus its
// wall-clock focused duration.
func (r *Recorder) RecordPomodoro(focused time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.CyclesCompleted++
	r.metrics.FocusedMinutes += int(focused.Round(time.Minute) / time.Minute)
	r.dirty = true
	r.version++
}

// Tasks returns a copy of the current task list.
func (r *Recorder) Tasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() []domain.Task {
	out := make([]domain.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Metrics returns the current metrics snapshot.
func (r *Recorder) Metrics() domain.SessionMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// Dirty reports whether unsaved state exists.
func (r *Recorder) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Journal returns the pending modification batches since the last
// successful save.
func (r *Recorder) Journal() []domain.Modification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Modification, len(r.journal))
	copy(out, r.journal)
	return out
}

// Save reconciles any remaining ephemeral ids, persists task state and the
// metrics snapshot, and clears the journal on confirmed success. Manual and
// AutoOnComplete errors propagate; Interrupt errors are logged and
// swallowed.
func (r *Recorder) Save(ctx context.Context, trigger Trigger) error {
	err := r.save(ctx, trigger)
	if err != nil && trigger == TriggerInterrupt {
		r.log.Warn().Err(err).Str("project_id", r.projectID).Msg("interrupt save failed; state discarded")
		return nil
	}
	return err
}

func (r *Recorder) save(ctx context.Context, trigger Trigger) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	tasks := r.snapshotLocked()
	metrics := r.metrics
	journaled := len(r.journal)
	version := r.version
	r.mu.Unlock()

	// A session record must never reference an ephemeral id, so
	// reconciliation always precedes persistence.
	if r.rec.HasEphemeral(tasks) {
		rewritten, idMap, err := r.rec.Reconcile(ctx, r.projectID, tasks)
		if err != nil {
			return err
		}
		tasks = rewritten
		// Edits may have landed since the snapshot was taken; rewrite the
		// live list's ids in place instead of replacing it wholesale.
		r.mu.Lock()
		for i := range r.tasks {
			if durable, ok := idMap[r.tasks[i].ID]; ok {
				r.tasks[i].ID = durable
			}
		}
		r.journal = reconcile.RewriteModifications(r.journal, idMap)
		r.mu.Unlock()
	}

	if r.tasksSt == nil || r.sessions == nil {
		return fmt.Errorf("recorder has no store configured")
	}
	if err := r.tasksSt.SaveTasks(ctx, r.projectID, tasks); err != nil {
		return reconcile.PersistenceError{Op: "save tasks", Err: err}
	}
	now := r.now().UTC().Format(time.RFC3339)
	s := domain.Session{
		ProjectID:       r.projectID,
		StartedAt:       metrics.SessionStart,
		EndedAt:         now,
		CyclesCompleted: metrics.CyclesCompleted,
		FocusedMinutes:  metrics.FocusedMinutes,
		Trigger:         string(trigger),
	}
	if err := r.sessions.RecordSession(ctx, s); err != nil {
		return reconcile.PersistenceError{Op: "record session", Err: err}
	}

	r.mu.Lock()
	// Drop only what this save captured; entries journaled mid-save stay
	// pending for the next one.
	if rest := r.journal[journaled:]; len(rest) > 0 {
		r.journal = append([]domain.Modification(nil), rest...)
	} else {
		r.journal = nil
	}
	r.dirty = r.version != version || len(r.journal) > 0
	r.mu.Unlock()
	r.log.Debug().Str("project_id", r.projectID).Str("trigger", string(trigger)).
		Int("cycles", metrics.CyclesCompleted).Int("focused_minutes", metrics.FocusedMinutes).
		Msg("session saved")
	return nil
}
