package repo_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/config"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/db"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/migrate"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/repo"
)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Now: func() time.Time {
		return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	}}
	ctx := context.Background()
	p := domain.Project{
		ID:        "proj-1",
		Kind:      "focus-project",
		Status:    "active",
		CreatedAt: "2026-08-24T09:00:00Z",
	}
	if err := r.InitProject(ctx, p, config.Default("proj-1"), "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Repo: r, Ctx: ctx}
}

func TestInitProjectSeedsConfigAndEvent(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Kind != "focus-project" || p.Status != "active" {
		t.Fatalf("unexpected project %+v", p)
	}
	cfg, err := env.Repo.GetProjectConfig(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Timer.WorkMinutes != 25 || cfg.Edits.EphemeralPrefix != "tmp-" {
		t.Fatalf("default config wrong: %+v", cfg)
	}
	events, err := env.Repo.ListEvents(env.Ctx, "proj-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "project.init" {
		t.Fatalf("expected project.init event, got %+v", events)
	}
}

func TestCreateTasksAssignsDurableIDsAndPositions(t *testing.T) {
	env := newTestEnv(t)
	est := 30
	created, idMap, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{
		{ID: "tmp-1", Title: "First", EstimatedMinutes: &est},
		{ID: "tmp-2", Title: "Second", Action: "start"},
	})
	if err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	if len(created) != 2 || len(idMap) != 2 {
		t.Fatalf("unexpected result: %v %v", created, idMap)
	}
	for eph, durable := range idMap {
		if strings.HasPrefix(durable, "tmp-") {
			t.Fatalf("durable id still ephemeral: %s -> %s", eph, durable)
		}
	}
	tasks, err := env.Repo.ListTasks(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != "First" || tasks[1].Title != "Second" {
		t.Fatalf("order wrong: %+v", tasks)
	}
	if tasks[0].EstimatedMinutes == nil || *tasks[0].EstimatedMinutes != 30 {
		t.Fatalf("estimate lost: %+v", tasks[0])
	}

	// A later batch continues positions after the existing tail.
	if _, _, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{{ID: "tmp-3", Title: "Third"}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	tasks, _ = env.Repo.ListTasks(env.Ctx, "proj-1")
	if len(tasks) != 3 || tasks[2].Title != "Third" {
		t.Fatalf("append order wrong: %+v", tasks)
	}
}

func TestSaveTasksRewritesOrderAndFields(t *testing.T) {
	env := newTestEnv(t)
	created, _, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{
		{ID: "tmp-1", Title: "A"},
		{ID: "tmp-2", Title: "B"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Reverse order, complete one, clear the title of the other.
	created[0].Completed = true
	created[1].Title = "B2"
	if err := env.Repo.SaveTasks(env.Ctx, "proj-1", []domain.Task{created[1], created[0]}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tasks, err := env.Repo.ListTasks(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks[0].Title != "B2" || !tasks[1].Completed {
		t.Fatalf("save not applied: %+v", tasks)
	}
	counts, err := env.Repo.CountTasksByStatus(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["open"] != 1 || counts["completed"] != 1 {
		t.Fatalf("counts wrong: %v", counts)
	}
}

func TestDeleteTaskAppendsEvent(t *testing.T) {
	env := newTestEnv(t)
	created, _, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{{ID: "tmp-1", Title: "A"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Repo.DeleteTask(env.Ctx, created[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Repo.GetTask(env.Ctx, created[0].ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	events, _ := env.Repo.ListEvents(env.Ctx, "proj-1", 1)
	if len(events) != 1 || events[0].Type != "task.deleted" {
		t.Fatalf("expected task.deleted, got %+v", events)
	}
}

func TestRecordSessionAndTotals(t *testing.T) {
	env := newTestEnv(t)
	sessions := []domain.Session{
		{ProjectID: "proj-1", StartedAt: "2026-08-24T09:00:00Z", EndedAt: "2026-08-24T10:00:00Z", CyclesCompleted: 2, FocusedMinutes: 50, Trigger: "auto_on_complete"},
		{ProjectID: "proj-1", StartedAt: "2026-08-24T11:00:00Z", EndedAt: "2026-08-24T11:30:00Z", CyclesCompleted: 1, FocusedMinutes: 25, Trigger: "interrupt"},
	}
	for _, s := range sessions {
		if err := env.Repo.RecordSession(env.Ctx, s); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := env.Repo.ListSessions(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Trigger != "interrupt" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	cycles, minutes, err := env.Repo.FocusTotals(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if cycles != 3 || minutes != 75 {
		t.Fatalf("totals wrong: %d cycles, %d minutes", cycles, minutes)
	}
}

func TestEventsAfterCursor(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{
		{ID: "tmp-1", Title: "A"},
		{ID: "tmp-2", Title: "B"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	latest, err := env.Repo.LatestEventID(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == 0 {
		t.Fatal("expected events")
	}
	all, err := env.Repo.EventsAfter(env.Ctx, 100, 0, "proj-1")
	if err != nil {
		t.Fatalf("after 0: %v", err)
	}
	// project.init plus two task.created, oldest first.
	if len(all) != 3 || all[0].Type != "project.init" {
		t.Fatalf("unexpected events %+v", all)
	}
	tail, err := env.Repo.EventsAfter(env.Ctx, 100, all[1].ID, "proj-1")
	if err != nil {
		t.Fatalf("after cursor: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != latest {
		t.Fatalf("cursor read wrong: %+v", tail)
	}
}

func TestMutationEventsCarryActor(t *testing.T) {
	env := newTestEnv(t)
	r := env.Repo
	r.Actor = "alice"
	created, _, err := r.CreateTasks(env.Ctx, "proj-1", []domain.Task{{ID: "tmp-1", Title: "A"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.SaveTasks(env.Ctx, "proj-1", created); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.DeleteTask(env.Ctx, created[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.RecordSession(env.Ctx, domain.Session{
		ProjectID: "proj-1", StartedAt: "2026-08-24T09:00:00Z", EndedAt: "2026-08-24T09:30:00Z", Trigger: "manual",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := r.ListEvents(env.Ctx, "proj-1", 4)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for _, e := range events {
		if e.ActorID != "alice" {
			t.Fatalf("event %s has actor %q", e.Type, e.ActorID)
		}
	}

	// Without an actor configured the local-user default applies.
	if _, _, err := env.Repo.CreateTasks(env.Ctx, "proj-1", []domain.Task{{ID: "tmp-2", Title: "B"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	events, _ = env.Repo.ListEvents(env.Ctx, "proj-1", 1)
	if events[0].ActorID != "local-user" {
		t.Fatalf("default actor wrong: %+v", events[0])
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	plaintext, rec, err := env.Repo.CreateAPIKey(env.Ctx, "tester", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if plaintext == "" || rec.KeyHash == plaintext {
		t.Fatalf("plaintext handling wrong: %q %+v", plaintext, rec)
	}
	found, err := env.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ActorID != "tester" {
		t.Fatalf("unexpected key %+v", found)
	}
	if err := env.Repo.DeleteAPIKey(env.Ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Repo.GetProject(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
