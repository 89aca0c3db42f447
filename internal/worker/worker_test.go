package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/engine"
	"github.com/shaiso/megs/internal/mq"
	"github.com/shaiso/megs/internal/repo"
	"github.com/shaiso/megs/internal/steps"
)

// --- Fakes ---

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]domain.Task
	// history — статусы при каждом Update
	history []domain.TaskStatus
}

func newMemTaskStore(tasks ...domain.Task) *memTaskStore {
	s := &memTaskStore{tasks: make(map[uuid.UUID]domain.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (s *memTaskStore) Update(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	s.history = append(s.history, task.Status)
	return nil
}

func (s *memTaskStore) ListQueued(_ context.Context, tier domain.ResourceTier, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusQueued && t.Tier == tier && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

type memRunStore struct {
	run *domain.Run
}

func (s *memRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	if s.run == nil || s.run.ID != id {
		return nil, repo.ErrNotFound
	}
	return s.run, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	completed []mq.TaskCompletedPayload
}

func (p *recordingPublisher) PublishTaskCompleted(_ context.Context, payload mq.TaskCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, payload)
	return nil
}

// scriptedExecutor возвращает результаты по очереди, последний повторяется.
type scriptedExecutor struct {
	results []*ExecutionResult
	calls   int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ *domain.Task, _ time.Duration) (*ExecutionResult, error) {
	r := e.results[min(e.calls, len(e.results)-1)]
	e.calls++
	return r, nil
}

// fakeStep — steps.Step с заданным поведением.
type fakeStep struct {
	fn func(ctx context.Context, req *steps.Request) (*steps.Response, error)
}

func (s *fakeStep) Type() string { return "fake" }

func (s *fakeStep) Execute(ctx context.Context, req *steps.Request) (*steps.Response, error) {
	return s.fn(ctx, req)
}

func newTestWorker(tasks *memTaskStore, runs *memRunStore, pub *recordingPublisher, exec Executor) *Worker {
	registry := &Registry{executors: make(map[string]Executor)}
	registry.Register(steps.TypeClassify, exec)

	return New(Config{
		Tier:      domain.TierHeavy,
		TaskRepo:  tasks,
		RunRepo:   runs,
		Publisher: pub,
		Registry:  registry,
	})
}

func queuedTask(runID uuid.UUID) domain.Task {
	return domain.Task{
		ID:      uuid.New(),
		RunID:   runID,
		StepID:  "taxonomy.s0.classify",
		Type:    steps.TypeClassify,
		Tier:    domain.TierHeavy,
		Status:  domain.TaskStatusQueued,
		Payload: map[string]any{"sample_name": "S1"},
	}
}

// runWithRetry — run, в графе которого classify повторяется до maxAttempts раз.
func runWithRetry(maxAttempts int) *domain.Run {
	return &domain.Run{
		ID: uuid.New(),
		Spec: domain.FlowSpec{Steps: []domain.StepDef{
			{ID: "organize", Type: steps.TypeOrganize},
			{ID: "taxonomy", Type: "map", Branches: []domain.Branch{{
				ID: "s0",
				Steps: []domain.StepDef{{
					ID:   "classify",
					Type: steps.TypeClassify,
					Retry: &domain.RetryPolicy{
						MaxAttempts:    maxAttempts,
						Backoff:        "fixed",
						InitialDelayMs: 1,
					},
					TimeoutSec: 60,
				}},
			}}},
		}},
	}
}

// --- StepExecutor ---

func TestStepExecutor_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantInfra     bool
		wantError     bool
		wantPermanent bool
	}{
		{name: "success"},
		{
			name:      "non-zero exit",
			err:       fmt.Errorf("classify S1: %w", &steps.CommandError{Tool: "kaiju", ExitCode: 1}),
			wantError: true,
		},
		{
			name:      "missing output",
			err:       fmt.Errorf("%w: S1_kaiju.out", steps.ErrMissingOutput),
			wantError: true,
		},
		{
			name:          "bad payload",
			err:           fmt.Errorf("%w: sample_name", steps.ErrInvalidPayload),
			wantError:     true,
			wantPermanent: true,
		},
		{
			name:      "cancelled",
			err:       fmt.Errorf("%w: kaiju", steps.ErrStepCancelled),
			wantInfra: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &StepExecutor{step: &fakeStep{fn: func(ctx context.Context, req *steps.Request) (*steps.Response, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &steps.Response{Outputs: map[string]any{"sample_name": req.Config["sample_name"]}}, nil
			}}}

			task := queuedTask(uuid.New())
			result, err := exec.Execute(context.Background(), &task, 0)

			if tt.wantInfra {
				if err == nil {
					t.Fatal("expected infrastructure error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (result.Error != "") != tt.wantError {
				t.Errorf("Error = %q, wantError %v", result.Error, tt.wantError)
			}
			if result.Permanent != tt.wantPermanent {
				t.Errorf("Permanent = %v, want %v", result.Permanent, tt.wantPermanent)
			}
			if !tt.wantError && result.Outputs["sample_name"] != "S1" {
				t.Errorf("outputs should carry the record, got %v", result.Outputs)
			}
		})
	}
}

func TestStepExecutor_Timeout(t *testing.T) {
	exec := &StepExecutor{step: &fakeStep{fn: func(ctx context.Context, _ *steps.Request) (*steps.Response, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: kaiju: %v", steps.ErrStepCancelled, ctx.Err())
	}}}

	task := queuedTask(uuid.New())
	result, err := exec.Execute(context.Background(), &task, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout should be a logical error, got %v", err)
	}
	if !strings.Contains(result.Error, ErrExecutionTimeout.Error()) {
		t.Errorf("expected timeout error, got %q", result.Error)
	}
}

// --- Registry ---

func TestNewRegistry_PipelineSteps(t *testing.T) {
	tk := steps.NewToolkit(nil, steps.NewLayout(t.TempDir(), ""))
	registry := NewRegistry(steps.DefaultRegistry(tk))

	for _, typ := range steps.Types() {
		if _, err := registry.Get(typ); err != nil {
			t.Errorf("%s should have an executor: %v", typ, err)
		}
	}

	if _, err := registry.Get("map"); !errors.Is(err, ErrUnknownStepType) {
		t.Errorf("map is handled by the orchestrator, got %v", err)
	}
}

func TestRegistry_PlannedOrganizeTask(t *testing.T) {
	params := domain.Params{
		Samples: []domain.Sample{
			{Name: "S2", Read1: domain.File{Path: "/reads/S2_1.fq"}, Read2: domain.File{Path: "/reads/S2_2.fq"}},
			{Name: "S1", Read1: domain.File{Path: "/reads/S1_1.fq"}, Read2: domain.File{Path: "/reads/S1_2.fq"}},
		},
		References: domain.References{
			DB:    domain.File{Path: "/ref/db.fmi"},
			Nodes: domain.File{Path: "/ref/nodes.dmp"},
			Names: domain.File{Path: "/ref/names.dmp"},
		},
		Rank: domain.RankGenus,
	}

	spec, err := engine.BuildTaxonomyFlow(params)
	if err != nil {
		t.Fatalf("BuildTaxonomyFlow: %v", err)
	}
	payload, err := engine.RenderConfig(spec.Steps[0].Config, engine.NewContext(nil))
	if err != nil {
		t.Fatalf("RenderConfig: %v", err)
	}

	tk := steps.NewToolkit(nil, steps.NewLayout(t.TempDir(), ""))
	exec, err := NewRegistry(steps.DefaultRegistry(tk)).Get(steps.TypeOrganize)
	if err != nil {
		t.Fatal(err)
	}

	task := &domain.Task{
		ID:      uuid.New(),
		StepID:  engine.StepOrganize,
		Type:    steps.TypeOrganize,
		Tier:    domain.TierLight,
		Payload: payload,
	}
	result, err := exec.Execute(context.Background(), task, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("organize failed: %s", result.Error)
	}

	var inputs []domain.ClassificationInput
	if err := steps.DecodeField(result.Outputs, "inputs", &inputs); err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 || inputs[0].SampleName != "S2" || inputs[1].SampleName != "S1" {
		t.Fatalf("inputs should follow sample order: %+v", inputs)
	}
	for _, in := range inputs {
		if in.Rank != domain.RankGenus || in.RefDB.Path != "/ref/db.fmi" {
			t.Errorf("unexpected input: %+v", in)
		}
	}
}

func TestRegistry_PlannedEmptyRun(t *testing.T) {
	spec, err := engine.BuildTaxonomyFlow(domain.Params{Rank: domain.RankSpecies})
	if err != nil {
		t.Fatalf("BuildTaxonomyFlow: %v", err)
	}

	tk := steps.NewToolkit(nil, steps.NewLayout(t.TempDir(), ""))
	registry := NewRegistry(steps.DefaultRegistry(tk))

	// organize и aggregate без образцов
	for _, def := range spec.Steps {
		payload, err := engine.RenderConfig(def.Config, engine.NewContext(nil))
		if err != nil {
			t.Fatalf("render %s: %v", def.ID, err)
		}
		exec, err := registry.Get(def.Type)
		if err != nil {
			t.Fatal(err)
		}
		result, err := exec.Execute(context.Background(), &domain.Task{StepID: def.ID, Type: def.Type, Payload: payload}, 0)
		if err != nil || result.Error != "" {
			t.Fatalf("%s: err %v, result %+v", def.ID, err, result)
		}
	}
}

// --- processTask ---

func TestProcessTask_Succeeded(t *testing.T) {
	task := queuedTask(uuid.New())
	tasks := newMemTaskStore(task)
	pub := &recordingPublisher{}
	exec := &scriptedExecutor{results: []*ExecutionResult{{Outputs: map[string]any{"kaiju_out": "x"}}}}

	w := newTestWorker(tasks, &memRunStore{}, pub, exec)
	if err := w.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusSucceeded || got.Attempt != 1 {
		t.Errorf("expected SUCCEEDED on attempt 1, got %s attempt %d", got.Status, got.Attempt)
	}
	if got.Outputs["kaiju_out"] != "x" {
		t.Errorf("outputs should be stored, got %v", got.Outputs)
	}

	if len(pub.completed) != 1 || pub.completed[0].Status != string(domain.TaskStatusSucceeded) {
		t.Errorf("expected one SUCCEEDED completion, got %+v", pub.completed)
	}
}

func TestProcessTask_FailsWithoutRetryPolicy(t *testing.T) {
	task := queuedTask(uuid.New())
	tasks := newMemTaskStore(task)
	pub := &recordingPublisher{}
	exec := &scriptedExecutor{results: []*ExecutionResult{{Error: "kaiju: exited with code 1"}}}

	w := newTestWorker(tasks, &memRunStore{}, pub, exec)
	if err := w.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.calls != 1 {
		t.Errorf("steps are not retried by default, got %d calls", exec.calls)
	}

	got, _ := tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusFailed || got.Error != "kaiju: exited with code 1" {
		t.Errorf("expected FAILED with tool error, got %s %q", got.Status, got.Error)
	}
	if len(pub.completed) != 1 || pub.completed[0].Error == "" {
		t.Errorf("failure should be published with error, got %+v", pub.completed)
	}
}

func TestProcessTask_RetryThenSucceed(t *testing.T) {
	run := runWithRetry(3)
	task := queuedTask(run.ID)
	tasks := newMemTaskStore(task)
	exec := &scriptedExecutor{results: []*ExecutionResult{
		{Error: "kaiju: exited with code 137"},
		{Error: "kaiju: exited with code 137"},
		{Outputs: map[string]any{}},
	}}

	w := newTestWorker(tasks, &memRunStore{run: run}, &recordingPublisher{}, exec)
	if err := w.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusSucceeded || got.Attempt != 3 {
		t.Errorf("expected SUCCEEDED on attempt 3, got %s attempt %d", got.Status, got.Attempt)
	}
}

func TestProcessTask_PermanentErrorNotRetried(t *testing.T) {
	run := runWithRetry(5)
	task := queuedTask(run.ID)
	tasks := newMemTaskStore(task)
	exec := &scriptedExecutor{results: []*ExecutionResult{{Error: "invalid step payload", Permanent: true}}}

	w := newTestWorker(tasks, &memRunStore{run: run}, &recordingPublisher{}, exec)
	if err := w.processTask(context.Background(), task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls != 1 {
		t.Errorf("permanent errors should not be retried, got %d calls", exec.calls)
	}
}

func TestProcessTask_Skips(t *testing.T) {
	running := queuedTask(uuid.New())
	running.Status = domain.TaskStatusRunning

	light := queuedTask(uuid.New())
	light.Tier = domain.TierLight

	tasks := newMemTaskStore(running, light)
	exec := &scriptedExecutor{results: []*ExecutionResult{{}}}
	w := newTestWorker(tasks, &memRunStore{}, &recordingPublisher{}, exec)

	if err := w.processTask(context.Background(), running.ID); !errors.Is(err, ErrTaskNotQueued) {
		t.Errorf("expected ErrTaskNotQueued, got %v", err)
	}
	if err := w.processTask(context.Background(), light.ID); !errors.Is(err, ErrWrongTier) {
		t.Errorf("expected ErrWrongTier, got %v", err)
	}
	if err := w.processTask(context.Background(), uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if exec.calls != 0 {
		t.Errorf("nothing should be executed, got %d calls", exec.calls)
	}
}

func TestPoll_OwnTierOnly(t *testing.T) {
	heavy := queuedTask(uuid.New())
	light := queuedTask(uuid.New())
	light.Tier = domain.TierLight

	tasks := newMemTaskStore(heavy, light)
	exec := &scriptedExecutor{results: []*ExecutionResult{{}}}
	w := newTestWorker(tasks, &memRunStore{}, &recordingPublisher{}, exec)

	w.poll(context.Background())

	got, _ := tasks.GetByID(context.Background(), light.ID)
	if got.Status != domain.TaskStatusQueued {
		t.Errorf("light task should stay queued for the light worker, got %s", got.Status)
	}
	if exec.calls != 1 {
		t.Errorf("expected one heavy task executed, got %d", exec.calls)
	}
}

// --- Settings ---

func TestStepSettings(t *testing.T) {
	run := runWithRetry(4)
	w := New(Config{RunRepo: &memRunStore{run: run}})

	task := queuedTask(run.ID)
	policy, timeout := w.stepSettings(context.Background(), &task)
	if policy == nil || policy.MaxAttempts != 4 {
		t.Errorf("expected branch step retry policy, got %+v", policy)
	}
	if timeout != time.Minute {
		t.Errorf("expected 1m timeout, got %v", timeout)
	}

	run.Spec.Defaults = &domain.StepDefaults{TimeoutSec: 5}
	task.StepID = "organize"
	policy, timeout = w.stepSettings(context.Background(), &task)
	if policy != nil || timeout != 5*time.Second {
		t.Errorf("expected defaults for organize, got %+v %v", policy, timeout)
	}
}

func TestFindStepDef(t *testing.T) {
	run := runWithRetry(2)

	if s := findStepDef(run.Spec.Steps, "taxonomy.s0.classify"); s == nil || s.Type != steps.TypeClassify {
		t.Errorf("branch step not found: %+v", s)
	}
	if s := findStepDef(run.Spec.Steps, "classify"); s != nil {
		t.Errorf("local branch ID should not match, got %+v", s)
	}
	if s := findStepDef(run.Spec.Steps, "taxonomy.join"); s != nil {
		t.Errorf("join is virtual, got %+v", s)
	}
}

// --- Backoff ---

func TestCalculateBackoff_Exponential(t *testing.T) {
	policy := &domain.RetryPolicy{
		Backoff:        "exponential",
		InitialDelayMs: 1000,
		MaxDelayMs:     10000,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped at max
		{6, 10 * time.Second},
	}

	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, policy)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestCalculateBackoff_Fixed(t *testing.T) {
	policy := &domain.RetryPolicy{
		Backoff:        "fixed",
		InitialDelayMs: 2000,
		MaxDelayMs:     10000,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		if got := calculateBackoff(attempt, policy); got != 2*time.Second {
			t.Errorf("attempt %d: expected 2s, got %v", attempt, got)
		}
	}
}

func TestCalculateBackoff_Defaults(t *testing.T) {
	if got := calculateBackoff(1, nil); got != time.Second {
		t.Errorf("expected 1s default, got %v", got)
	}
	if got := calculateBackoff(1, &domain.RetryPolicy{Backoff: "exponential"}); got != time.Second {
		t.Errorf("expected 1s default for zero InitialDelayMs, got %v", got)
	}
}

func TestShouldRetry(t *testing.T) {
	policy := &domain.RetryPolicy{MaxAttempts: 3}

	if !shouldRetry(nil, errors.New("connection reset"), nil) {
		t.Error("infrastructure errors are always retried")
	}
	if shouldRetry(&ExecutionResult{Error: "exit 1"}, nil, nil) {
		t.Error("no policy means no retry")
	}
	if !shouldRetry(&ExecutionResult{Error: "exit 1"}, nil, policy) {
		t.Error("tool failures are retried under a policy")
	}
	if shouldRetry(&ExecutionResult{Error: "bad payload", Permanent: true}, nil, policy) {
		t.Error("permanent errors are never retried")
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})
	if w.tier != domain.TierLight {
		t.Errorf("expected LIGHT tier by default, got %s", w.tier)
	}
	if w.pollInterval != defaultPollInterval || w.batchSize != defaultBatchSize {
		t.Errorf("unexpected defaults: %v %d", w.pollInterval, w.batchSize)
	}
	if w.IsStopped() {
		t.Error("new worker should not be stopped")
	}
	w.Stop()
	if !w.IsStopped() {
		t.Error("worker should be stopped after Stop")
	}
}
