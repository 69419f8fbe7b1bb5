package plan

import (
	"testing"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
)

func TestParseResultPlainJSON(t *testing.T) {
	raw := `{
		"modifications": [
			{"operation": "update", "task_id": "a", "changes": {"title": "New"}},
			{"operation": "add", "new_task": {"id": "tmp-1", "title": "Fresh"}, "after_task_id": "a"},
			{"operation": "reorder", "new_order": ["tmp-1", "a"]}
		],
		"new_title": "Revised plan",
		"explanation": "Renamed and inserted a step."
	}`
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Modifications) != 3 {
		t.Fatalf("expected 3 modifications, got %d", len(res.Modifications))
	}
	if res.Modifications[0].Operation != domain.OpUpdate || *res.Modifications[0].Changes.Title != "New" {
		t.Fatalf("update parsed wrong: %+v", res.Modifications[0])
	}
	if res.Modifications[1].NewTask == nil || res.Modifications[1].NewTask.ID != "tmp-1" {
		t.Fatalf("add parsed wrong: %+v", res.Modifications[1])
	}
	if res.NewTitle != "Revised plan" {
		t.Fatalf("title lost: %q", res.NewTitle)
	}
}

func TestParseResultStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"modifications\":[{\"operation\":\"delete\",\"task_id\":\"a\"}]}\n```"
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Modifications) != 1 || res.Modifications[0].Operation != domain.OpDelete {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseResultRejectsUnknownOperation(t *testing.T) {
	raw := `{"modifications":[{"operation":"merge","task_id":"a"}]}`
	if _, err := ParseResult(raw); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestParseResultRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseResult("not json"); err == nil {
		t.Fatal("expected parse error")
	}
}
