// Package modify applies ordered batches of structured edit operations to an
// in-memory task list. Apply is a pure function: inputs are never mutated and
// the same (list, ops) pair always yields the same result.
package modify

import (
	"fmt"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

// DuplicateIDError rejects a batch whose add operation collides with an
// existing task id. The whole batch is discarded.
type DuplicateIDError struct {
	ID string
}

func (e DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task id %s", e.ID)
}

// Options tune batch application.
type Options struct {
	// StrictReorder treats a reorder whose id set is not exactly the
	// current id set as a no-op instead of dropping unlisted tasks.
	StrictReorder bool
}

// Apply runs ops against tasks in order, each operation seeing the result of
// the previous one, and returns the new list. On DuplicateIDError the input
// list is returned unchanged.
func Apply(tasks []domain.Task, ops []domain.Modification) ([]domain.Task, error) {
	return ApplyWith(tasks, ops, Options{})
}

// ApplyWith is Apply with explicit Options.
func ApplyWith(tasks []domain.Task, ops []domain.Modification, opts Options) ([]domain.Task, error) {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	for _, op := range ops {
		var err error
		switch op.Operation {
		case domain.OpUpdate:
			out = applyUpdate(out, op)
		case domain.OpAdd:
			out, err = applyAdd(out, op)
		case domain.OpDelete:
			out = applyDelete(out, op)
		case domain.OpReorder:
			out = applyReorder(out, op, opts)
		default:
			err = fmt.Errorf("unknown operation %q", op.Operation)
		}
		if err != nil {
			return tasks, err
		}
	}
	return out, nil
}

// applyUpdate overwrites only the fields present in Changes. A missing id is
// a deliberate no-op: an earlier op in the same batch may have deleted it.
func applyUpdate(tasks []domain.Task, op domain.Modification) []domain.Task {
	if op.Changes == nil {
		return tasks
	}
	for i := range tasks {
		if tasks[i].ID != op.TaskID {
			continue
		}
		ch := op.Changes
		if ch.Title != nil {
			tasks[i].Title = *ch.Title
		}
		if ch.Action != nil {
			tasks[i].Action = *ch.Action
		}
		if ch.Details != nil {
			tasks[i].Details = *ch.Details
		}
		if ch.EstimatedMinutes != nil {
			if *ch.EstimatedMinutes <= 0 {
				tasks[i].EstimatedMinutes = nil
			} else {
				v := *ch.EstimatedMinutes
				tasks[i].EstimatedMinutes = &v
			}
		}
		if ch.Completed != nil {
			tasks[i].Completed = *ch.Completed
		}
		break
	}
	return tasks
}

// applyAdd inserts the new task after AfterTaskID when that id is present,
// otherwise at the head of the list. Head insertion is intentional: newly
// proposed tasks surface immediately.
func applyAdd(tasks []domain.Task, op domain.Modification) ([]domain.Task, error) {
	if op.NewTask == nil {
		return tasks, nil
	}
	for _, t := range tasks {
		if t.ID == op.NewTask.ID {
			return tasks, DuplicateIDError{ID: t.ID}
		}
	}
	task := *op.NewTask
	task.Completed = false
	at := 0
	if op.AfterTaskID != "" {
		for i, t := range tasks {
			if t.ID == op.AfterTaskID {
				at = i + 1
				break
			}
		}
	}
	out := make([]domain.Task, 0, len(tasks)+1)
	out = append(out, tasks[:at]...)
	out = append(out, task)
	out = append(out, tasks[at:]...)
	return out, nil
}

func applyDelete(tasks []domain.Task, op domain.Modification) []domain.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != op.TaskID {
			out = append(out, t)
		}
	}
	return out
}

// applyReorder replaces the list with exactly the tasks named in NewOrder,
// in that order; unlisted tasks drop and a repeated id keeps only its first
// occurrence, so ids stay unique in the result. With StrictReorder a reorder
// whose id set does not match the current list exactly is ignored.
func applyReorder(tasks []domain.Task, op domain.Modification, opts Options) []domain.Task {
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	if opts.StrictReorder && !isPermutation(byID, op.NewOrder) {
		return tasks
	}
	out := make([]domain.Task, 0, len(op.NewOrder))
	seen := make(map[string]bool, len(op.NewOrder))
	for _, id := range op.NewOrder {
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func isPermutation(byID map[string]domain.Task, order []string) bool {
	if len(order) != len(byID) {
		return false
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			return false
		}
		if _, ok := byID[id]; !ok {
			return false
		}
		seen[id] = true
	}
	return true
}
