package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"modelgen/internal/domain"
	"modelgen/internal/genapi"
	"modelgen/internal/http/handlers"
	"modelgen/internal/jobs"
	"modelgen/internal/mockgen"
	"modelgen/internal/notify"
	"modelgen/internal/storage"
)

type stack struct {
	srv      *httptest.Server
	reg      *jobs.Registry
	sim      *mockgen.Simulator
	client   *genapi.Client
	outputs  *storage.FileStore
	saver    *jobs.Saver
	settings *storage.SettingsFile
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim := mockgen.NewSimulator(mockgen.Options{Rand: rand.New(rand.NewPCG(1, 2))})
	mock := httptest.NewServer(mockgen.NewServer(sim, nil).Routes())
	t.Cleanup(mock.Close)
	client := genapi.NewClient(genapi.Options{BaseURL: mock.URL})

	assets, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	outputs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}

	reg := jobs.NewRegistry(jobs.RegistryOptions{})
	hub := notify.NewHub(0)
	sched := jobs.NewScheduler(ctx, reg, client, jobs.SchedulerOptions{Interval: 10 * time.Millisecond, Notifier: hub})
	t.Cleanup(sched.Stop)
	mgr := jobs.NewManager(ctx, reg, client, assets, outputs, jobs.ManagerOptions{Notifier: hub})
	t.Cleanup(mgr.Close)

	dir := t.TempDir()
	history, err := storage.NewHistoryFile(filepath.Join(dir, "history.json"), nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	saver := jobs.NewSaver(reg, history, jobs.SaverOptions{Debounce: time.Hour})
	t.Cleanup(func() { _ = saver.Close(context.Background()) })
	settings, err := storage.NewSettingsFile(filepath.Join(dir, "settings.json"), nil)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	app := handlers.NewApp(handlers.Deps{
		Registry:  reg,
		Manager:   mgr,
		Scheduler: sched,
		Saver:     saver,
		Hub:       hub,
		Endpoint:  client,
		Settings:  settings,
	})
	t.Cleanup(app.Close)

	srv := httptest.NewServer(NewRouter(ctx, app, Options{Logger: zerolog.Nop()}))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, reg: reg, sim: sim, client: client, outputs: outputs, saver: saver, settings: settings}
}

func (s *stack) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) upload(t *testing.T, filename string, data []byte, fields map[string]string, out any) int {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(data)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := http.Post(s.srv.URL+"/v1/jobs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	var body map[string]any
	if code := s.call(t, http.MethodGet, "/v1/healthz", nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateJobPollsToCompletionAndDownloads(t *testing.T) {
	s := newStack(t)

	var job domain.Job
	code := s.upload(t, "cube.png", pngBytes(t), map[string]string{"settings": `{"seed":7}`}, &job)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if job.Name != "cube" || job.Status != domain.StatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Settings == nil || job.Settings.Seed == nil || *job.Settings.Seed != 7 {
		t.Fatalf("settings not kept: %+v", job.Settings)
	}

	waitFor(t, func() bool {
		s.sim.Step()
		var got domain.Job
		s.call(t, http.MethodGet, "/v1/jobs/"+job.ID, nil, &got)
		return got.Status == domain.StatusCompleted
	})

	var saved jobs.SavedFile
	if code := s.call(t, http.MethodPost, "/v1/jobs/"+job.ID+"/downloads/glb", nil, &saved); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if saved.Filename != "cube.glb" {
		t.Fatalf("unexpected filename %q", saved.Filename)
	}
	if _, err := os.Stat(saved.Path); err != nil {
		t.Fatalf("model not written: %v", err)
	}
}

func TestCreateJobRejectsUnsupportedImage(t *testing.T) {
	s := newStack(t)
	var body errorBody
	code := s.upload(t, "notes.txt", []byte("hello"), nil, &body)
	if code != http.StatusBadRequest || body.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %d %+v", code, body)
	}
	if s.reg.Len() != 0 {
		t.Fatalf("no job should be added")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newStack(t)
	var body errorBody
	if code := s.call(t, http.MethodGet, "/v1/jobs/missing", nil, &body); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if body.Error.Code != "not_found" {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	s := newStack(t)
	for _, id := range []string{"a", "b"} {
		if err := s.reg.Add(domain.Job{ID: id, Status: domain.StatusFailed}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	var body struct {
		Items []domain.Job `json:"items"`
	}
	s.call(t, http.MethodGet, "/v1/jobs", nil, &body)
	if len(body.Items) != 2 || body.Items[0].ID != "b" {
		t.Fatalf("unexpected list: %+v", body.Items)
	}
}

func TestRenameAndDeleteJob(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "j1", Name: "old", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var job domain.Job
	if code := s.call(t, http.MethodPatch, "/v1/jobs/j1", map[string]string{"name": "Chair"}, &job); code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d", code)
	}
	if job.Name != "Chair" || job.Status != domain.StatusCompleted {
		t.Fatalf("unexpected job: %+v", job)
	}

	var body errorBody
	if code := s.call(t, http.MethodPatch, "/v1/jobs/j1", map[string]string{"name": "  "}, &body); code != http.StatusBadRequest {
		t.Fatalf("blank name: expected 400, got %d", code)
	}

	if code := s.call(t, http.MethodDelete, "/v1/jobs/j1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", code)
	}
	if code := s.call(t, http.MethodDelete, "/v1/jobs/j1", nil, &body); code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", code)
	}
}

func TestDownloadErrors(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "p", Status: domain.StatusFailed}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var body errorBody
	if code := s.call(t, http.MethodPost, "/v1/jobs/p/downloads/glb", nil, &body); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if body.Error.Message != "GLB download not available" {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
	if code := s.call(t, http.MethodPost, "/v1/jobs/p/downloads/obj", nil, &body); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestExportJob(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "e", Name: "Lamp", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var saved jobs.SavedFile
	if code := s.call(t, http.MethodPost, "/v1/jobs/e/export", nil, &saved); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if saved.Filename != "Lamp_project.zip" {
		t.Fatalf("default export should bundle assets, got %q", saved.Filename)
	}

	if code := s.call(t, http.MethodPost, "/v1/jobs/e/export", map[string]bool{"includeAssets": false}, &saved); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if saved.Filename != "Lamp_project.json" {
		t.Fatalf("unexpected filename %q", saved.Filename)
	}
}

func TestSelectionClearsWhenJobDeleted(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "sel", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var body struct {
		JobID string      `json:"jobId"`
		Job   *domain.Job `json:"job"`
	}
	if code := s.call(t, http.MethodPut, "/v1/selection", map[string]string{"jobId": "sel"}, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body.JobID != "sel" || body.Job == nil {
		t.Fatalf("unexpected selection: %+v", body)
	}

	if _, err := s.reg.Delete("sel"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	body.JobID, body.Job = "", nil
	s.call(t, http.MethodGet, "/v1/selection", nil, &body)
	if body.JobID != "" || body.Job != nil {
		t.Fatalf("selection should be cleared: %+v", body)
	}

	var errBody errorBody
	if code := s.call(t, http.MethodPut, "/v1/selection", map[string]string{"jobId": "nope"}, &errBody); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", code)
	}
}

func TestSettingsUpdate(t *testing.T) {
	s := newStack(t)
	var body domain.Settings
	in := map[string]any{"autoDownload": true, "apiUrl": "http://gen.internal:9000/", "maxHistory": 5}
	if code := s.call(t, http.MethodPut, "/v1/settings", in, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	want := domain.Settings{APIURL: "http://gen.internal:9000", AutoDownload: true, MaxHistory: 5}
	if body != want {
		t.Fatalf("unexpected settings: %+v", body)
	}
	if s.client.BaseURL() != "http://gen.internal:9000" {
		t.Fatalf("client not updated: %s", s.client.BaseURL())
	}
	if s.saver.MaxHistory() != 5 {
		t.Fatalf("saver limit not updated: %d", s.saver.MaxHistory())
	}

	var errBody errorBody
	if code := s.call(t, http.MethodPut, "/v1/settings", map[string]string{"apiUrl": "ftp://x"}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := s.call(t, http.MethodPut, "/v1/settings", map[string]any{"maxHistory": 0, "autoDownload": false}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for maxHistory 0, got %d", code)
	}
	s.call(t, http.MethodGet, "/v1/settings", nil, &body)
	if body != want {
		t.Fatalf("rejected update must not change anything: %+v", body)
	}
}

func TestSettingsSurviveRestart(t *testing.T) {
	s := newStack(t)
	in := map[string]any{"autoDownload": true, "apiUrl": "https://gen.example.com", "maxHistory": 12}
	if code := s.call(t, http.MethodPut, "/v1/settings", in, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	reopened, err := storage.NewSettingsFile(s.settings.Path(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Load(context.Background(), domain.Settings{APIURL: "http://localhost:8000", MaxHistory: 100})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := domain.Settings{APIURL: "https://gen.example.com", AutoDownload: true, MaxHistory: 12}
	if got != want {
		t.Fatalf("stored settings %+v, want %+v", got, want)
	}
}

func TestPollingReportsActiveJobs(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "done", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("add: %v", err)
	}
	var body struct {
		Running bool     `json:"running"`
		Active  []string `json:"active"`
	}
	s.call(t, http.MethodGet, "/v1/polling", nil, &body)
	if body.Running || len(body.Active) != 0 {
		t.Fatalf("nothing should be polled: %+v", body)
	}
}

func TestEventsStreamsChanges(t *testing.T) {
	s := newStack(t)
	if err := s.reg.Add(domain.Job{ID: "old", Status: domain.StatusFailed}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() handlers.Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var e handlers.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return e
	}

	first := read()
	if first.Type != "snapshot" || len(first.Jobs) != 1 || first.Jobs[0].ID != "old" {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	if _, err := s.reg.Rename("old", "Renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	e := read()
	if e.Type != "job.updated" || e.Job == nil || e.Job.Name != "Renamed" {
		t.Fatalf("unexpected event: %+v", e)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
