package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"chantier/internal/config"
	"chantier/internal/db"
	"chantier/internal/engine"
	"chantier/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

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
	e := engine.New(conn, config.Default("ws-test"))
	e.Now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
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

func createTaskHTTP(t *testing.T, srv *testServer, title, start, end string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"site_id":       "site-1",
		"affaire_id":    "aff-1",
		"title":         title,
		"planned_start": start,
		"planned_end":   end,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created.ID
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestTaskLifecycleHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createTaskHTTP(t, srv, "dig trench", "2026-02-01", "2026-02-10")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/suspend", map[string]any{
		"cause": "weather",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("suspend status %d: %s", res.StatusCode, string(data))
	}
	var suspended TaskResponse
	_ = json.Unmarshal(data, &suspended)
	if suspended.Status != "suspended" || suspended.SuspendCause == nil {
		t.Fatalf("suspend body: %s", string(data))
	}

	// invalid transition maps to 409 invalid_state
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_state" {
		t.Fatalf("error code = %q: %s", envelope.Error.Code, string(data))
	}
}

func TestScheduleConflictHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	pred := createTaskHTTP(t, srv, "P", "2026-02-01", "2026-02-10")
	succ := createTaskHTTP(t, srv, "S", "2026-02-15", "2026-02-20")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dependencies", map[string]any{
		"predecessor_id": pred,
		"successor_id":   succ,
		"kind":           "finish_to_start",
		"lag_days":       2,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("dependency status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+succ+"/schedule/preview", map[string]any{
		"new_start": "2026-02-11",
		"new_end":   "2026-02-16",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status %d: %s", res.StatusCode, string(data))
	}
	var preview engine.ValidationResult
	_ = json.Unmarshal(data, &preview)
	if preview.Valid || len(preview.Conflicts) != 1 {
		t.Fatalf("preview body: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+succ+"/schedule", map[string]any{
		"new_start": "2026-02-11",
		"new_end":   "2026-02-16",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on conflicting commit, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+succ+"/schedule", map[string]any{
		"new_start": "2026-02-12",
		"new_end":   "2026-02-17",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid commit status %d: %s", res.StatusCode, string(data))
	}
	var committed ScheduleCommitResponse
	_ = json.Unmarshal(data, &committed)
	if committed.Task.PlannedStart != "2026-02-12" {
		t.Fatalf("commit body: %s", string(data))
	}
}

func TestBlockageAndReportingHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createTaskHTTP(t, srv, "pour slab", "2026-03-06", "2026-03-08")
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/start", nil, actorHeader); res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/blockages", map[string]any{
		"level":     "site",
		"scope_id":  "site-1",
		"cause":     "strike",
		"start_day": "2026-03-05",
		"end_day":   "2026-03-09",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("blockage status %d: %s", res.StatusCode, string(data))
	}
	var cascade CascadeResponse
	_ = json.Unmarshal(data, &cascade)
	if len(cascade.Suspended) != 1 || cascade.Suspended[0] != id {
		t.Fatalf("cascade body: %s", string(data))
	}

	// suspended tasks still take daily reports
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+id+"/reports", map[string]any{
		"day":       "2026-01-15",
		"progress":  30,
		"personnel": 2,
		"hours":     16,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+id+"/reports/2026-01-15", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get report status %d: %s", res.StatusCode, string(data))
	}
	var fetched ReportResponse
	_ = json.Unmarshal(data, &fetched)
	if fetched.Progress != 30 || fetched.TaskID != id {
		t.Fatalf("get report body: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/2026-01-15/confirm", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var confirm engine.ConfirmResult
	_ = json.Unmarshal(data, &confirm)
	if confirm.Confirmed != 1 {
		t.Fatalf("confirm body: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/archive?day=2026-01-15", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(data))
	}
	var archive []ArchiveEntryResponse
	_ = json.Unmarshal(data, &archive)
	if len(archive) != 1 || archive[0].TaskID != id {
		t.Fatalf("archive body: %s", string(data))
	}
}
