package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/jobs"
	"github.com/cwygoda/snapkeeper/internal/logging"
	"github.com/cwygoda/snapkeeper/internal/trigger"
)

// mockStore implements domain.MetadataStore for testing.
type mockStore struct {
	mu    sync.Mutex
	snaps map[domain.Key]domain.Snapshot
}

func newMockStore(snaps ...domain.Snapshot) *mockStore {
	m := &mockStore{snaps: make(map[domain.Key]domain.Snapshot)}
	for _, s := range snaps {
		m.snaps[s.Key()] = s
	}
	return m
}

func (m *mockStore) Add(ctx context.Context, snap *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Key()] = *snap
	return nil
}

func (m *mockStore) RemoveForArtifact(ctx context.Context, artifactID int64) error { return nil }
func (m *mockStore) RemoveSnapshot(ctx context.Context, artifactID int64, date string) error {
	return nil
}

func (m *mockStore) GetAll(ctx context.Context) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Snapshot
	for _, s := range m.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArtifactID != out[j].ArtifactID {
			return out[i].ArtifactID < out[j].ArtifactID
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func (m *mockStore) GetAllLatestPerArtifact(ctx context.Context) ([]domain.Snapshot, error) {
	all, _ := m.GetAll(ctx)
	latest := map[int64]domain.Snapshot{}
	var ids []int64
	for _, s := range all {
		if _, ok := latest[s.ArtifactID]; !ok {
			ids = append(ids, s.ArtifactID)
		}
		latest[s.ArtifactID] = s
	}
	var out []domain.Snapshot
	for _, id := range ids {
		out = append(out, latest[id])
	}
	return out, nil
}

func (m *mockStore) GetForArtifact(ctx context.Context, artifactID int64) ([]domain.Snapshot, error) {
	all, _ := m.GetAll(ctx)
	var out []domain.Snapshot
	for _, s := range all {
		if s.ArtifactID == artifactID {
			out = append(out, s)
		}
	}
	return out, nil
}

// mockCaptures implements Captures for testing.
type mockCaptures struct {
	snaps *domain.SnapshotService
	reg   *jobs.Registry
	err   error

	started   []domain.Key
	created   []domain.Snapshot
	cancelled []domain.Key
	deleted   []domain.Key
}

func (m *mockCaptures) StartCapture(ctx context.Context, artifactID int64, date string) (*domain.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	if date == "" {
		date = "2026-01-01T00-00-00Z"
	}
	m.started = append(m.started, domain.Key{ArtifactID: artifactID, Date: date})
	return &domain.Snapshot{ArtifactID: artifactID, Date: date, Type: domain.ContentBlog, Status: domain.StatusInProgress}, nil
}

func (m *mockCaptures) CreateArtifact(ctx context.Context, template domain.Snapshot) (*domain.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = append(m.created, template)
	template.Status = domain.StatusInProgress
	return &template, nil
}

func (m *mockCaptures) TerminateDownload(ctx context.Context, artifactID int64, date string) error {
	if m.err != nil {
		return m.err
	}
	m.cancelled = append(m.cancelled, domain.Key{ArtifactID: artifactID, Date: date})
	return nil
}

func (m *mockCaptures) DeleteArtifact(ctx context.Context, artifactID int64) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, domain.Key{ArtifactID: artifactID})
	return nil
}

func (m *mockCaptures) DeleteSnapshot(ctx context.Context, key domain.Key) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockCaptures) Snapshots() *domain.SnapshotService { return m.snaps }
func (m *mockCaptures) Jobs() *jobs.Registry               { return m.reg }

// mockScheduler implements Scheduler for testing.
type mockScheduler struct {
	eligible []domain.ScheduledJob
	pending  []trigger.Trigger
	err      error
	forced   []bool
	updates  int
}

func (m *mockScheduler) ComputeEligibleJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	return m.eligible, nil
}

func (m *mockScheduler) Pending() []trigger.Trigger { return m.pending }

func (m *mockScheduler) RunScheduled(ctx context.Context, artifactID int64, force bool) (*domain.Snapshot, error) {
	m.forced = append(m.forced, force)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Snapshot{ArtifactID: artifactID, Date: "2026-01-02T00-00-00Z", Status: domain.StatusInProgress}, nil
}

func (m *mockScheduler) RequestUpdate() { m.updates++ }

type mockSearch struct{ query string }

func (m *mockSearch) Add(ctx context.Context, chunks []domain.Chunk) error            { return nil }
func (m *mockSearch) RemoveForArtifact(ctx context.Context, artifactID int64) error { return nil }
func (m *mockSearch) RemoveForSnapshot(ctx context.Context, artifactID int64, date string) error {
	return nil
}
func (m *mockSearch) Search(ctx context.Context, text string) ([]domain.Chunk, error) {
	m.query = text
	return []domain.Chunk{{ID: "c1", ArtifactID: 1, Date: "2026-01-01T00-00-00Z", Text: "hello " + text}}, nil
}

type mockErrors struct{ unread int }

func (m *mockErrors) UnreadErrors() int                  { return m.unread }
func (m *mockErrors) MarkErrorsRead(ctx context.Context) { m.unread = 0 }

type testServer struct {
	*Server
	captures  *mockCaptures
	scheduler *mockScheduler
	search    *mockSearch
	errors    *mockErrors
}

func setupTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	store := newMockStore(
		domain.Snapshot{ArtifactID: 1, Date: "2026-01-01T00-00-00Z", Title: "Blog", Type: domain.ContentBlog, Status: domain.StatusComplete},
		domain.Snapshot{ArtifactID: 1, Date: "2026-01-02T00-00-00Z", Title: "Blog", Type: domain.ContentBlog, Status: domain.StatusComplete},
		domain.Snapshot{ArtifactID: 2, Date: "2026-01-01T00-00-00Z", Title: "Other", Type: domain.ContentBlog, Status: domain.StatusDownloadFailed},
	)
	reg := jobs.New(logging.Discard())
	t.Cleanup(reg.Close)

	ts := &testServer{
		captures:  &mockCaptures{snaps: domain.NewSnapshotService(store), reg: reg},
		scheduler: &mockScheduler{},
		search:    &mockSearch{},
		errors:    &mockErrors{unread: 2},
	}
	ts.Server = NewServer(Options{
		Addr:      ":8080",
		Secret:    secret,
		Captures:  ts.captures,
		Scheduler: ts.scheduler,
		Search:    ts.search,
		Errors:    ts.errors,
		Logger:    logging.Discard(),
	})
	return ts
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error
}

func TestServer_Health(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestServer_ContentType(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/health", "")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestServer_ListArtifacts(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/artifacts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snaps []domain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
	if snaps[0].Date != "2026-01-02T00-00-00Z" {
		t.Errorf("latest date = %q, want 2026-01-02T00-00-00Z", snaps[0].Date)
	}
}

func TestServer_GetArtifact(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/artifacts/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snaps []domain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("len = %d, want 2", len(snaps))
	}
}

func TestServer_GetArtifact_NotFound(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/artifacts/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_GetArtifact_InvalidID(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/artifacts/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_GetSnapshot(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/snapshots/2/2026-01-01T00-00-00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snap domain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if snap.Status != domain.StatusDownloadFailed {
		t.Errorf("status = %q, want %q", snap.Status, domain.StatusDownloadFailed)
	}

	rec = do(srv, http.MethodGet, "/snapshots/2/2030-01-01T00-00-00Z", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_CreateArtifact(t *testing.T) {
	srv := setupTestServer(t, "")

	body := `{"artifact_id":3,"title":"New","type":"blog","params":{"url":"https://example.com"}}`
	rec := do(srv, http.MethodPost, "/artifacts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if len(srv.captures.created) != 1 || srv.captures.created[0].Params["url"] != "https://example.com" {
		t.Errorf("created = %+v", srv.captures.created)
	}
}

func TestServer_CreateArtifact_InvalidJSON(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodPost, "/artifacts", `{invalid`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rec); msg != "invalid JSON" {
		t.Errorf("error = %q, want %q", msg, "invalid JSON")
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrConcurrentRun, http.StatusConflict},
		{domain.ErrGatingBlocked, http.StatusConflict},
		{domain.ErrNotRunning, http.StatusConflict},
		{domain.ErrSnapshotFinal, http.StatusConflict},
		{domain.ErrArtifactNotFound, http.StatusNotFound},
		{domain.ErrSnapshotNotFound, http.StatusNotFound},
		{domain.ErrInvalidSnapshot, http.StatusBadRequest},
		{domain.ErrUnknownContentType, http.StatusBadRequest},
		{domain.ErrUnknownDestination, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := setupTestServer(t, "")
			srv.captures.err = tt.err

			rec := do(srv, http.MethodPost, "/artifacts/1/captures", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError {
				if msg := decodeError(t, rec); msg != "internal error" {
					t.Errorf("error = %q, want internal error", msg)
				}
			}
		})
	}
}

func TestServer_StartCapture(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodPost, "/artifacts/1/captures", `{"date":"2026-01-01T00-00-00Z"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	want := domain.Key{ArtifactID: 1, Date: "2026-01-01T00-00-00Z"}
	if len(srv.captures.started) != 1 || srv.captures.started[0] != want {
		t.Errorf("started = %v, want [%v]", srv.captures.started, want)
	}
}

func TestServer_StartCapture_EmptyBody(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodPost, "/artifacts/1/captures", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(srv.captures.started) != 1 {
		t.Errorf("started = %v", srv.captures.started)
	}
}

func TestServer_RunScheduled(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodPost, "/artifacts/1/run?force=true", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	srv.scheduler.err = domain.ErrGatingBlocked
	rec = do(srv, http.MethodPost, "/artifacts/1/run", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("blocked status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if len(srv.scheduler.forced) != 2 || !srv.scheduler.forced[0] || srv.scheduler.forced[1] {
		t.Errorf("forced = %v, want [true false]", srv.scheduler.forced)
	}
}

func TestServer_Cancel(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodPost, "/snapshots/1/2026-01-02T00-00-00Z/cancel", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	want := domain.Key{ArtifactID: 1, Date: "2026-01-02T00-00-00Z"}
	if len(srv.captures.cancelled) != 1 || srv.captures.cancelled[0] != want {
		t.Errorf("cancelled = %v", srv.captures.cancelled)
	}
}

func TestServer_Delete_RequestsScheduleUpdate(t *testing.T) {
	srv := setupTestServer(t, "")

	if rec := do(srv, http.MethodDelete, "/snapshots/1/2026-01-02T00-00-00Z", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("snapshot status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := do(srv, http.MethodDelete, "/artifacts/2", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("artifact status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if srv.scheduler.updates != 2 {
		t.Errorf("updates = %d, want 2", srv.scheduler.updates)
	}
	if len(srv.captures.deleted) != 2 {
		t.Errorf("deleted = %v", srv.captures.deleted)
	}
}

func TestServer_ListJobs(t *testing.T) {
	srv := setupTestServer(t, "")
	key := domain.Key{ArtifactID: 1, Date: "2026-01-03T00-00-00Z"}
	srv.captures.reg.Start(key, func() {})
	srv.captures.reg.ReportProgress(key, "page 2")

	rec := do(srv, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out []jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(out) != 1 || out[0].Key != key || out[0].Progress != "page 2" {
		t.Errorf("jobs = %+v", out)
	}
}

func TestServer_Progress_NotRunning(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/jobs/1/2026-01-03T00-00-00Z/progress", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestServer_Progress_StreamsUntilDone(t *testing.T) {
	srv := setupTestServer(t, "")
	reg := srv.captures.reg
	key := domain.Key{ArtifactID: 1, Date: "2026-01-03T00-00-00Z"}
	reg.Start(key, func() {})
	reg.ReportProgress(key, "page 1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/1/2026-01-03T00-00-00Z/progress", nil)
	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	reg.Finish(key)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the job finished")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: page 1") {
		t.Errorf("body missing progress: %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("body missing done event: %q", body)
	}
}

func TestServer_Progress_ConcurrentStreams(t *testing.T) {
	srv := setupTestServer(t, "")
	reg := srv.captures.reg
	key := domain.Key{ArtifactID: 1, Date: "2026-01-03T00-00-00Z"}
	reg.Start(key, func() {})
	reg.ReportProgress(key, "page 0")

	const streams, pages = 2, 50
	recs := make([]*httptest.ResponseRecorder, streams)
	var wg sync.WaitGroup
	for i := range recs {
		recs[i] = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs/1/2026-01-03T00-00-00Z/progress", nil)
		wg.Add(1)
		go func(rec *httptest.ResponseRecorder) {
			defer wg.Done()
			srv.ServeHTTP(rec, req)
		}(recs[i])
	}

	time.Sleep(100 * time.Millisecond)
	for p := 1; p <= pages; p++ {
		reg.ReportProgress(key, fmt.Sprintf("page %d", p))
	}
	time.Sleep(100 * time.Millisecond)
	reg.Finish(key)
	wg.Wait()

	for i, rec := range recs {
		body := rec.Body.String()
		last := -1
		for p := 0; p <= pages; p++ {
			at := strings.Index(body, fmt.Sprintf("data: page %d\n\n", p))
			if at < 0 || at < last {
				t.Fatalf("stream %d: page %d missing or out of order: %q", i, p, body)
			}
			last = at
		}
		if !strings.HasSuffix(body, "event: done\ndata: \n\n") {
			t.Errorf("stream %d: missing done event", i)
		}
	}
}

func TestServer_Schedule(t *testing.T) {
	srv := setupTestServer(t, "")
	srv.scheduler.eligible = []domain.ScheduledJob{{ArtifactID: 1, Title: "Blog", Delay: time.Hour}}

	rec := do(srv, http.MethodGet, "/schedule", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp scheduleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.Eligible) != 1 || resp.Eligible[0].Delay != time.Hour {
		t.Errorf("eligible = %+v", resp.Eligible)
	}
	if resp.Pending == nil {
		t.Error("pending should be an empty list, not null")
	}
}

func TestServer_Search(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/search?q=kittens", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if srv.search.query != "kittens" {
		t.Errorf("query = %q, want kittens", srv.search.query)
	}

	rec = do(srv, http.MethodGet, "/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_Errors(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/errors", "")
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["unread"] != 2 {
		t.Errorf("unread = %d, want 2", resp["unread"])
	}

	if rec := do(srv, http.MethodPost, "/errors/read", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if srv.errors.unread != 0 {
		t.Errorf("unread after mark = %d, want 0", srv.errors.unread)
	}
}

func TestServer_Notifications_Empty(t *testing.T) {
	srv := setupTestServer(t, "")

	rec := do(srv, http.MethodGet, "/notifications", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestServer_Signature(t *testing.T) {
	const secret = "s3cret"
	body := `{"date":"2026-01-01T00-00-00Z"}`

	t.Run("missing headers", func(t *testing.T) {
		srv := setupTestServer(t, secret)
		rec := do(srv, http.MethodPost, "/artifacts/1/captures", body)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if len(srv.captures.started) != 0 {
			t.Error("capture started without a valid signature")
		}
	})

	t.Run("valid", func(t *testing.T) {
		srv := setupTestServer(t, secret)
		ts := time.Now().UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/artifacts/1/captures", bytes.NewBufferString(body))
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", Sign(ts, []byte(body), secret))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
		}
		if len(srv.captures.started) != 1 || srv.captures.started[0].Date != "2026-01-01T00-00-00Z" {
			t.Errorf("body not restored for handler: started = %v", srv.captures.started)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		srv := setupTestServer(t, secret)
		ts := time.Now().UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/artifacts/1/captures", bytes.NewBufferString(body))
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", Sign(ts, []byte(body), "other"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("reads are unsigned", func(t *testing.T) {
		srv := setupTestServer(t, secret)
		if rec := do(srv, http.MethodGet, "/artifacts", ""); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	body := []byte("{}")
	stamp := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339) }
	tests := []struct {
		name  string
		stamp string
		sig   string
		want  error
	}{
		{"within skew", stamp(-4 * time.Minute), Sign(stamp(-4*time.Minute), body, "k"), nil},
		{"future within skew", stamp(4 * time.Minute), Sign(stamp(4*time.Minute), body, "k"), nil},
		{"too old", stamp(-6 * time.Minute), Sign(stamp(-6*time.Minute), body, "k"), errStale},
		{"too new", stamp(6 * time.Minute), Sign(stamp(6*time.Minute), body, "k"), errStale},
		{"not rfc3339", "yesterday", Sign("yesterday", body, "k"), errStale},
		{"no timestamp", "", "abc", errUnsigned},
		{"no signature", stamp(0), "", errUnsigned},
		{"other secret", stamp(0), Sign(stamp(0), body, "x"), errBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.stamp != "" {
				req.Header.Set("X-Timestamp", tt.stamp)
			}
			if tt.sig != "" {
				req.Header.Set("X-Signature", tt.sig)
			}
			err := verifySignature(req, body, "k", now)
			if (tt.want == nil && err != nil) || (tt.want != nil && !errors.Is(err, tt.want)) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServer_Port(t *testing.T) {
	srv := setupTestServer(t, "")
	if srv.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", srv.Port())
	}
}
