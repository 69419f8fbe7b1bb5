// Package plan talks to the AI plan-refinement collaborator: given a user
// command and the current task list it returns a batch of structured
// modifications. The core consumes the batch through the modification
// engine and never interprets model output beyond this parse.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

// Refiner produces a modification batch for a command against the current
// task list.
type Refiner interface {
	Refine(ctx context.Context, command string, tasks []domain.Task) (domain.PlanResult, error)
}

// ParseResult decodes a collaborator response. Models sometimes wrap JSON in
// a markdown fence; strip it before decoding.
func ParseResult(raw string) (domain.PlanResult, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
	}
	var res domain.PlanResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return domain.PlanResult{}, fmt.Errorf("parse plan response: %w", err)
	}
	for i, op := range res.Modifications {
		switch op.Operation {
		case domain.OpUpdate, domain.OpAdd, domain.OpDelete, domain.OpReorder:
		default:
			return domain.PlanResult{}, fmt.Errorf("modification %d has unknown operation %q", i, op.Operation)
		}
	}
	return res, nil
}
