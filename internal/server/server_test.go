package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slavoc-ai/Focus-Flow-sub000/internal/config"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/db"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/domain"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/migrate"
	"github.com/slavoc-ai/Focus-Flow-sub000/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	handler, err := New(Config{
		Repo:      r,
		AppConfig: config.Default("focusflow"),
		BasePath:  "/v0",
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createProject(t *testing.T, srv *testServer, id string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": id}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
}

func TestCreateTasksReturnsIDMap(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv, "focusflow")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/focusflow/tasks", map[string]any{
		"tasks": []map[string]any{
			{"id": "tmp-1", "title": "Write outline"},
			{"id": "tmp-2", "title": "Draft intro"},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create tasks: %d %s", res.StatusCode, string(data))
	}
	var out CreateTasksResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Created) != 2 {
		t.Fatalf("expected 2 created tasks, got %d", len(out.Created))
	}
	if len(out.IDMap) != 2 {
		t.Fatalf("expected id map of 2, got %v", out.IDMap)
	}
	for eph, durable := range out.IDMap {
		if eph == durable {
			t.Fatalf("ephemeral id %s was not rewritten", eph)
		}
	}

	listRes, listData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/focusflow/tasks", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", listRes.StatusCode, string(listData))
	}
	var list TaskListResponse
	if err := json.Unmarshal(listData, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list.Tasks))
	}
	if list.Tasks[0].Title != "Write outline" {
		t.Fatalf("unexpected order: %s first", list.Tasks[0].Title)
	}
}

func TestSaveTasksPersistsOrder(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv, "focusflow")

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/focusflow/tasks", map[string]any{
		"tasks": []map[string]any{
			{"id": "tmp-a", "title": "First"},
			{"id": "tmp-b", "title": "Second"},
		},
	}, nil)
	var created CreateTasksResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Reverse the list and mark the (now) first task done.
	reversed := []domain.Task{created.Created[1], created.Created[0]}
	reversed[0].Completed = true
	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/projects/focusflow/tasks", SaveTasksRequest{Tasks: reversed}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save tasks: %d %s", res.StatusCode, string(body))
	}
	var list TaskListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if list.Tasks[0].Title != "Second" || !list.Tasks[0].Completed {
		t.Fatalf("expected completed 'Second' first, got %+v", list.Tasks[0])
	}
}

func TestRecordSessionRejectsEphemeralUpdates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv, "focusflow")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/focusflow/sessions", RecordSessionRequest{
		TaskUpdates: []domain.Task{{ID: "tmp-1", Title: "Not yet durable"}},
		Metrics:     domain.SessionMetrics{CyclesCompleted: 1, FocusedMinutes: 25, SessionStart: "2026-08-24T09:00:00Z"},
		Trigger:     "manual",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestRecordSessionAndStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv, "focusflow")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/focusflow/sessions", RecordSessionRequest{
		Metrics: domain.SessionMetrics{CyclesCompleted: 2, FocusedMinutes: 50, SessionStart: "2026-08-24T09:00:00Z"},
		Trigger: "auto_on_complete",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record session: %d %s", res.StatusCode, string(data))
	}
	var session SessionResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.CyclesCompleted != 2 || session.Trigger != "auto_on_complete" {
		t.Fatalf("unexpected session %+v", session.Session)
	}

	statusRes, statusData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/focusflow/status", nil, nil)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", statusRes.StatusCode, string(statusData))
	}
	var status StatusResponse
	if err := json.Unmarshal(statusData, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Cycles != 2 || status.FocusedMinutes != 50 {
		t.Fatalf("unexpected totals %+v", status)
	}
}

func TestEventsTail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv, "focusflow")

	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/focusflow/tasks", map[string]any{
		"tasks": []map[string]any{{"id": "tmp-1", "title": "Task"}},
	}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/focusflow/events?limit=10", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var out EventListResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(out.Events) == 0 {
		t.Fatal("expected at least one event")
	}
	if out.Events[0].Type != "task.created" {
		t.Fatalf("expected task.created newest, got %s", out.Events[0].Type)
	}
}

func TestUnknownProjectIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/nope/status", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}
