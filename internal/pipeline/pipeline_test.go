package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
)

// fakeRunner записывает вызовы и считает одновременные тяжёлые вызовы.
type fakeRunner struct {
	mu        sync.Mutex
	cmds      []steps.Command
	failTool  string
	failOn    string // образец, на котором падает failTool
	heavyNow  int
	heavyPeak int
	delay     time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, cmd steps.Command) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	if cmd.Tier == domain.TierHeavy {
		f.heavyNow++
		if f.heavyNow > f.heavyPeak {
			f.heavyPeak = f.heavyNow
		}
	}
	f.mu.Unlock()

	defer func() {
		if cmd.Tier == domain.TierHeavy {
			f.mu.Lock()
			f.heavyNow--
			f.mu.Unlock()
		}
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if cmd.Tool == f.failTool && cmd.Sample == f.failOn {
		return &steps.CommandError{Tool: cmd.Tool, ExitCode: 2, Stderr: "database is truncated"}
	}
	return nil
}

func (f *fakeRunner) count(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.cmds {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

func testParams(names ...string) domain.Params {
	p := domain.Params{
		References: domain.References{
			DB:    domain.File{Path: "/ref/kaiju_db_viruses.fmi"},
			Nodes: domain.File{Path: "/ref/virus_nodes.dmp"},
			Names: domain.File{Path: "/ref/virus_names.dmp"},
		},
		Rank: domain.RankSpecies,
	}
	for _, n := range names {
		p.Samples = append(p.Samples, domain.Sample{
			Name:  n,
			Read1: domain.File{Path: "/reads/" + n + "_1.fastq"},
			Read2: domain.File{Path: "/reads/" + n + "_2.fastq"},
		})
	}
	return p
}

func newTestPipeline(t *testing.T, runner *fakeRunner, cfg Config) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	return New(steps.NewToolkit(runner, steps.NewLayout(dir, "")), cfg), dir
}

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}

	got, err := Map(context.Background(), items, 2, func(ctx context.Context, i, item int) (string, error) {
		// Более поздние элементы завершаются раньше
		time.Sleep(time.Duration(len(items)-i) * time.Millisecond)
		return fmt.Sprintf("%d:%d", i, item), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"0:5", "1:1", "2:4", "3:2", "4:3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_Empty(t *testing.T) {
	calls := 0
	got, err := Map(context.Background(), []string(nil), 0, func(ctx context.Context, i int, s string) (int, error) {
		calls++
		return 0, nil
	})
	if err != nil || len(got) != 0 || calls != 0 {
		t.Errorf("expected no calls and empty result, got %v, %d calls, err %v", got, calls, err)
	}
}

func TestMap_FailFast(t *testing.T) {
	boom := errors.New("boom")

	_, err := Map(context.Background(), []int{0, 1, 2}, 0, func(ctx context.Context, i, _ int) (int, error) {
		if i == 1 {
			return 0, boom
		}
		// Остальные ждут отмены
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return 0, errors.New("sibling was not cancelled")
		}
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected first error, got %v", err)
	}
}

func TestPipeline_Run(t *testing.T) {
	runner := &fakeRunner{}
	p, dir := newTestPipeline(t, runner, Config{})

	names := []string{"S3", "S1", "S2"}
	res, err := p.Run(context.Background(), testParams(names...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.KronaPlots) != len(names) || len(res.Tables) != len(names) {
		t.Fatalf("expected %d plots and tables, got %d and %d", len(names), len(res.KronaPlots), len(res.Tables))
	}

	for i, n := range names {
		wantPlot := filepath.Join(dir, "kaiju", n, n+"_krona.html")
		if res.KronaPlots[i].Path != wantPlot {
			t.Errorf("plot %d: got %s, want %s", i, res.KronaPlots[i].Path, wantPlot)
		}
		if res.Tables[i].Remote != "latch:///kaiju/"+n+"/"+n+"_kaiju.tsv" {
			t.Errorf("table %d: unexpected remote %s", i, res.Tables[i].Remote)
		}
	}

	for _, tool := range steps.Tools() {
		if got := runner.count(tool); got != len(names) {
			t.Errorf("%s: expected %d invocations, got %d", tool, len(names), got)
		}
	}
}

func TestPipeline_RunIdempotentNames(t *testing.T) {
	runner := &fakeRunner{}
	p, _ := newTestPipeline(t, runner, Config{})
	params := testParams("S1", "S2")

	first, err := p.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-run should produce the same artifacts (-first +second):\n%s", diff)
	}
}

func TestPipeline_RunEmpty(t *testing.T) {
	runner := &fakeRunner{}
	p, _ := newTestPipeline(t, runner, Config{})

	res, err := p.Run(context.Background(), testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.KronaPlots) != 0 || len(res.Tables) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(runner.cmds) != 0 {
		t.Errorf("expected no invocations, got %d", len(runner.cmds))
	}
}

func TestPipeline_RunSample(t *testing.T) {
	runner := &fakeRunner{}
	p, _ := newTestPipeline(t, runner, Config{})
	params := testParams("S1")

	res, err := p.RunSample(context.Background(), params.Samples[0], params.References, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if filepath.Base(res.Table.Path) != "S1_kaiju.tsv" {
		t.Errorf("unexpected table: %s", res.Table.Path)
	}
	if filepath.Base(res.KronaPlot.Path) != "S1_krona.html" {
		t.Errorf("unexpected plot: %s", res.KronaPlot.Path)
	}

	// Ранг по умолчанию передаётся в kaiju2table
	for _, c := range runner.cmds {
		if c.Tool == "kaiju2table" && !cmp.Equal(c.Args[4:6], []string{"-r", "species"}) {
			t.Errorf("expected species rank, got %v", c.Args)
		}
	}
}

func TestPipeline_CommandFailure(t *testing.T) {
	runner := &fakeRunner{failTool: "kaiju", failOn: "S2"}
	p, _ := newTestPipeline(t, runner, Config{})

	res, err := p.Run(context.Background(), testParams("S1", "S2", "S3"))
	if !errors.Is(err, steps.ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if res != nil {
		t.Errorf("failed run should not return a result")
	}

	// После падения kaiju для S2 его экспорты не запускаются
	for _, c := range runner.cmds {
		if c.Sample == "S2" && c.Tool != "kaiju" {
			t.Errorf("%s should not run for a failed classification", c.Tool)
		}
	}
}

func TestPipeline_HeavySlots(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	p, _ := newTestPipeline(t, runner, Config{HeavySlots: 1, LightSlots: 4})

	if _, err := p.Run(context.Background(), testParams("S1", "S2", "S3", "S4")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if runner.heavyPeak != 1 {
		t.Errorf("expected at most one concurrent kaiju, got %d", runner.heavyPeak)
	}
}

func TestPipeline_InvalidParams(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeRunner{}, Config{})

	params := testParams("S1")
	params.Rank = "strain"
	if _, err := p.Run(context.Background(), params); !errors.Is(err, domain.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidRank, got %v", err)
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	p, _ := newTestPipeline(t, runner, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Run(ctx, testParams("S1", "S2")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
