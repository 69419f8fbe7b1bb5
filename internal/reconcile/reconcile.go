// Package reconcile rewrites client-minted ephemeral task ids to durable
// store-assigned ids. Reconciliation is all-or-nothing per batch: on any
// failure the input list is returned untouched so a retry is simply another
// call.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

// DefaultPrefix marks ids minted on the client before the store has seen
// the task.
const DefaultPrefix = "tmp-"

// PersistenceError wraps a failure from the backing store. The task list is
// left fully consistent, so callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persistence failed during %s", e.Op)
	}
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// Creator is the task persistence collaborator: it stores a batch of
// ephemeral tasks and returns the created durable records plus the
// ephemeral-to-durable id mapping.
type Creator interface {
	CreateTasks(ctx context.Context, projectID string, tasks []domain.Task) ([]domain.Task, map[string]string, error)
}

// Reconciler splits a task list into ephemeral and durable tasks, persists
// the ephemeral batch, and rewrites the list with durable ids.
type Reconciler struct {
	Prefix string
	Store  Creator
}

// IsEphemeral reports whether id matches the ephemeral prefix pattern.
func IsEphemeral(id, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.HasPrefix(id, prefix)
}

func (r Reconciler) prefix() string {
	if r.Prefix == "" {
		return DefaultPrefix
	}
	return r.Prefix
}

// HasEphemeral reports whether any task in the list still carries an
// ephemeral id.
func (r Reconciler) HasEphemeral(tasks []domain.Task) bool {
	for _, t := range tasks {
		if IsEphemeral(t.ID, r.prefix()) {
			return true
		}
	}
	return false
}

// Reconcile persists every ephemeral task and returns the list rewritten
// with durable ids plus the id map used. A fully durable list is a no-op.
// No two tasks ever share an id, including transiently: the rewrite is
// validated before it replaces anything.
func (r Reconciler) Reconcile(ctx context.Context, projectID string, tasks []domain.Task) ([]domain.Task, map[string]string, error) {
	var ephemeral []domain.Task
	for _, t := range tasks {
		if IsEphemeral(t.ID, r.prefix()) {
			ephemeral = append(ephemeral, t)
		}
	}
	if len(ephemeral) == 0 {
		return tasks, nil, nil
	}
	if r.Store == nil {
		return tasks, nil, PersistenceError{Op: "create tasks", Err: fmt.Errorf("no store configured")}
	}
	_, idMap, err := r.Store.CreateTasks(ctx, projectID, ephemeral)
	if err != nil {
		return tasks, nil, PersistenceError{Op: "create tasks", Err: err}
	}
	for _, t := range ephemeral {
		if _, ok := idMap[t.ID]; !ok {
			return tasks, nil, PersistenceError{Op: "create tasks", Err: fmt.Errorf("id map missing entry for %s", t.ID)}
		}
	}
	out := make([]domain.Task, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if durable, ok := idMap[t.ID]; ok {
			t.ID = durable
		}
		if seen[t.ID] {
			return tasks, nil, PersistenceError{Op: "rewrite ids", Err: fmt.Errorf("id %s assigned twice", t.ID)}
		}
		seen[t.ID] = true
		out[i] = t
	}
	return out, idMap, nil
}

// RewriteModifications replaces stale ephemeral references in a pending
// journal (task ids, after-task anchors, reorder sequences) with their
// durable counterparts. Operations are copied; the input is not mutated.
func RewriteModifications(ops []domain.Modification, idMap map[string]string) []domain.Modification {
	if len(idMap) == 0 || len(ops) == 0 {
		return ops
	}
	out := make([]domain.Modification, len(ops))
	for i, op := range ops {
		if durable, ok := idMap[op.TaskID]; ok {
			op.TaskID = durable
		}
		if durable, ok := idMap[op.AfterTaskID]; ok {
			op.AfterTaskID = durable
		}
		if op.NewTask != nil {
			nt := *op.NewTask
			if durable, ok := idMap[nt.ID]; ok {
				nt.ID = durable
			}
			op.NewTask = &nt
		}
		if len(op.NewOrder) > 0 {
			order := make([]string, len(op.NewOrder))
			for j, id := range op.NewOrder {
				if durable, ok := idMap[id]; ok {
					id = durable
				}
				order[j] = id
			}
			op.NewOrder = order
		}
		out[i] = op
	}
	return out
}
