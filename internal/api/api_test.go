package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/repo"
)

type memRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[uuid.UUID]*domain.Run)}
}

func (s *memRunStore) Create(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if run.IdempotencyKey != "" && r.IdempotencyKey == run.IdempotencyKey {
			return repo.ErrAlreadyExists
		}
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memRunStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memRunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, r := range s.runs {
		if filter.Status == "" || r.Status == filter.Status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memRunStore) Update(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

type memTaskStore struct {
	tasks []domain.Task
}

func (s *memTaskStore) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range s.tasks {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	pending   []uuid.UUID
	cancelled []uuid.UUID
}

func (p *recordingPublisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	p.pending = append(p.pending, runID)
	return nil
}

func (p *recordingPublisher) PublishRunCancelled(ctx context.Context, runID uuid.UUID) error {
	p.cancelled = append(p.cancelled, runID)
	return nil
}

type testServer struct {
	mux   *http.ServeMux
	runs  *memRunStore
	tasks *memTaskStore
	pub   *recordingPublisher
}

func newTestServer() *testServer {
	s := &testServer{
		mux:   http.NewServeMux(),
		runs:  newMemRunStore(),
		tasks: &memTaskStore{},
		pub:   &recordingPublisher{},
	}
	h := NewHandler(Config{
		RunRepo:   s.runs,
		TaskRepo:  s.tasks,
		Publisher: s.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.RegisterRoutes(s.mux)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error
}

func testParams(names ...string) *domain.Params {
	p := &domain.Params{
		References: domain.References{
			DB:    domain.File{Path: "/ref/db.fmi"},
			Nodes: domain.File{Path: "/ref/nodes.dmp"},
			Names: domain.File{Path: "/ref/names.dmp"},
		},
	}
	for _, n := range names {
		p.Samples = append(p.Samples, domain.Sample{
			Name:  n,
			Read1: domain.File{Path: "/reads/" + n + "_1.fq"},
			Read2: domain.File{Path: "/reads/" + n + "_2.fq"},
		})
	}
	return p
}

func TestCreateRun(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Name: "gut", Params: testParams("S1", "S2")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("response should carry a request id")
	}

	run := decodeData[RunResponse](t, rec)
	if run.Status != string(domain.RunStatusPending) {
		t.Errorf("expected PENDING, got %s", run.Status)
	}
	if run.Params.Rank != domain.RankSpecies {
		t.Errorf("rank should default to species, got %s", run.Params.Rank)
	}
	// organize + 4 шага на образец + aggregate
	if run.Steps != 2+4*2 {
		t.Errorf("expected 10 steps, got %d", run.Steps)
	}
	if len(s.pub.pending) != 1 || s.pub.pending[0] != run.ID {
		t.Errorf("run.pending should be published once, got %v", s.pub.pending)
	}

	stored, err := s.runs.GetByID(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Spec.Steps) != 3 {
		t.Errorf("planned spec should be stored, got %d top-level steps", len(stored.Spec.Steps))
	}
}

func TestCreateRun_FromPreset(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Preset: "crohns", TimeoutSec: 3600})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	run := decodeData[RunResponse](t, rec)
	if len(run.Params.Samples) != 1 || run.Params.Samples[0].Name != "SRR579291" {
		t.Errorf("unexpected samples: %+v", run.Params.Samples)
	}

	stored, _ := s.runs.GetByID(context.Background(), run.ID)
	if stored.Spec.Defaults == nil || stored.Spec.Defaults.TimeoutSec != 3600 {
		t.Errorf("step defaults should carry the timeout, got %+v", stored.Spec.Defaults)
	}
}

func TestCreateRun_Idempotent(t *testing.T) {
	s := newTestServer()
	req := CreateRunRequest{Params: testParams("S1"), IdempotencyKey: "batch-7"}

	first := decodeData[RunResponse](t, s.do(t, http.MethodPost, "/api/v1/runs", req))

	rec := s.do(t, http.MethodPost, "/api/v1/runs", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for repeated key, got %d", rec.Code)
	}
	second := decodeData[RunResponse](t, rec)

	if first.ID != second.ID {
		t.Errorf("repeated key should return the same run")
	}
	if len(s.pub.pending) != 1 {
		t.Errorf("repeated key should not publish again, got %d", len(s.pub.pending))
	}
}

func TestCreateRun_Errors(t *testing.T) {
	s := newTestServer()

	badRank := testParams("S1")
	badRank.Rank = "strain"

	tests := []struct {
		name string
		body any
		code int
		want ErrorCode
	}{
		{name: "invalid body", body: "not an object", code: http.StatusBadRequest, want: ErrCodeBadRequest},
		{name: "no params", body: CreateRunRequest{}, code: http.StatusBadRequest, want: ErrCodeInvalidParams},
		{name: "invalid rank", body: CreateRunRequest{Params: badRank}, code: http.StatusBadRequest, want: ErrCodeInvalidParams},
		{name: "duplicate sample", body: CreateRunRequest{Params: testParams("S1", "S1")}, code: http.StatusBadRequest, want: ErrCodeInvalidParams},
		{name: "unknown preset", body: CreateRunRequest{Preset: "missing"}, code: http.StatusNotFound, want: ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body)
			}
			if got := decodeError(t, rec).Code; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if len(s.pub.pending) != 0 {
		t.Error("rejected runs must not be published")
	}
}

func TestGetRun(t *testing.T) {
	s := newTestServer()
	created := decodeData[RunResponse](t, s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Params: testParams("S1")}))

	rec := s.do(t, http.MethodGet, "/api/v1/runs/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeData[RunResponse](t, rec); got.ID != created.ID {
		t.Errorf("unexpected run %s", got.ID)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestServer()
	s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Params: testParams("S1")})
	s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Params: testParams("S2")})

	rec := s.do(t, http.MethodGet, "/api/v1/runs?status=PENDING&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if runs := decodeData[[]RunResponse](t, rec); len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/runs?limit=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	s := newTestServer()
	created := decodeData[RunResponse](t, s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Params: testParams("S1")}))
	path := "/api/v1/runs/" + created.ID.String() + "/cancel"

	rec := s.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeData[RunResponse](t, rec); got.Status != string(domain.RunStatusCancelled) {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	if len(s.pub.cancelled) != 1 {
		t.Errorf("run.cancelled should be published, got %v", s.pub.cancelled)
	}

	// Повторная отмена завершённого run
	if rec := s.do(t, http.MethodPost, path, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestListRunTasks(t *testing.T) {
	s := newTestServer()
	created := decodeData[RunResponse](t, s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Params: testParams("S1")}))

	s.tasks.tasks = []domain.Task{
		{ID: uuid.New(), RunID: created.ID, StepID: "organize", Type: "organize", Tier: domain.TierLight, Status: domain.TaskStatusSucceeded},
		{ID: uuid.New(), RunID: created.ID, StepID: "taxonomy.s0.classify", Type: "kaiju", Tier: domain.TierHeavy, Status: domain.TaskStatusRunning},
		{ID: uuid.New(), RunID: uuid.New(), StepID: "organize"},
	}

	rec := s.do(t, http.MethodGet, "/api/v1/runs/"+created.ID.String()+"/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tasks := decodeData[[]TaskResponse](t, rec)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[1].Tier != string(domain.TierHeavy) {
		t.Errorf("expected HEAVY tier, got %s", tasks[1].Tier)
	}
}

func TestPlan(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/plan", PlanRequest{Params: testParams("S1", "S2", "S3")})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	plan := decodeData[PlanResponse](t, rec)
	if plan.Steps != 2+4*3 || plan.Heavy != 3 {
		t.Errorf("unexpected plan: steps=%d heavy=%d", plan.Steps, plan.Heavy)
	}
	if len(s.pub.pending) != 0 {
		t.Error("plan must not create runs")
	}
}

func TestPresetsAndParams(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodGet, "/api/v1/presets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if presets := decodeData[[]PresetResponse](t, rec); len(presets) == 0 {
		t.Error("expected embedded presets")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/presets/crohns", nil)
	if got := decodeData[PresetResponse](t, rec); got.Params.References.DB.Path == "" {
		t.Errorf("preset should carry references, got %+v", got)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/presets/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/params", nil)
	params := decodeData[[]ParamResponse](t, rec)
	if len(params) == 0 || params[0].Name != "kaiju_ref_db" {
		t.Errorf("expected sorted params, got %+v", params)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
