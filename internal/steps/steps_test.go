package steps

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/megs/internal/domain"
)

// fakeRunner записывает команды вместо запуска процессов.
type fakeRunner struct {
	mu     sync.Mutex
	cmds   []Command
	failOn string
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if cmd.Tool == f.failOn {
		return &CommandError{Tool: cmd.Tool, ExitCode: 1, Stderr: "boom"}
	}
	return nil
}

func testRefs() domain.References {
	return domain.References{
		DB:    domain.File{Path: "/ref/kaiju_db.fmi"},
		Nodes: domain.File{Path: "/ref/nodes.dmp"},
		Names: domain.File{Path: "/ref/names.dmp"},
	}
}

func testSample(name string) domain.Sample {
	return domain.Sample{
		Name:  name,
		Read1: domain.File{Path: "/reads/" + name + "_1.fastq"},
		Read2: domain.File{Path: "/reads/" + name + "_2.fastq"},
	}
}

func newTestToolkit(t *testing.T) (*Toolkit, *fakeRunner, string) {
	t.Helper()
	dir := t.TempDir()
	runner := &fakeRunner{}
	return NewToolkit(runner, NewLayout(dir, "")), runner, dir
}

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register(&OrganizeStep{})
	if r.Count() != 1 {
		t.Errorf("expected 1 step, got %d", r.Count())
	}

	step, err := r.Get(TypeOrganize)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if step.Type() != TypeOrganize {
		t.Errorf("expected organize, got %s", step.Type())
	}

	// Несуществующий тип
	_, err = r.Get("http")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	if !r.Has(TypeOrganize) {
		t.Error("should have organize")
	}
	if r.Has("http") {
		t.Error("should not have http")
	}
}

func TestDefaultRegistry(t *testing.T) {
	tk, _, _ := newTestToolkit(t)
	r := DefaultRegistry(tk)

	if diff := cmp.Diff(Types(), r.Types()); diff != "" {
		t.Errorf("registry types mismatch (-catalog +registry):\n%s", diff)
	}
}

// Catalog Tests

func TestCatalog_Tiers(t *testing.T) {
	for _, typ := range Types() {
		want := domain.TierLight
		if typ == TypeClassify {
			want = domain.TierHeavy
		}
		if got := TierOf(typ); got != want {
			t.Errorf("TierOf(%s) = %s, want %s", typ, got, want)
		}
	}

	if TierOf("unknown") != domain.TierLight {
		t.Error("unknown types should be light")
	}
}

func TestCatalog_Tools(t *testing.T) {
	got := Tools()
	want := []string{"kaiju", "kaiju2krona", "kaiju2table", "ktImportText"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tools() mismatch (-want +got):\n%s", diff)
	}
}

// Layout Tests

func TestLayout_Remote(t *testing.T) {
	tests := []struct {
		namespace string
		want      string
	}{
		{"", "latch:///kaiju/S1/S1_kaiju.tsv"},
		{"latch://", "latch:///kaiju/S1/S1_kaiju.tsv"},
		{"s3://bucket/out", "s3://bucket/out/kaiju/S1/S1_kaiju.tsv"},
		{"s3://bucket/out/", "s3://bucket/out/kaiju/S1/S1_kaiju.tsv"},
	}

	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			l := Layout{WorkDir: ".", Namespace: tt.namespace}
			if got := l.Remote("S1", TableName("S1")); got != tt.want {
				t.Errorf("Remote = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLayout_Artifact(t *testing.T) {
	dir := t.TempDir()
	l := NewLayout(dir, "")

	f, err := l.Artifact("S1", KronaPlotName("S1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPath := filepath.Join(dir, "kaiju", "S1", "S1_krona.html")
	if f.Path != wantPath {
		t.Errorf("Path = %s, want %s", f.Path, wantPath)
	}
	if f.Remote != "latch:///kaiju/S1/S1_krona.html" {
		t.Errorf("Remote = %s", f.Remote)
	}

	info, err := os.Stat(filepath.Dir(f.Path))
	if err != nil || !info.IsDir() {
		t.Errorf("sample dir should exist: %v", err)
	}

	// Имя с разделителем пути отклоняется
	if _, err := l.Artifact("../S1", "x"); !errors.Is(err, domain.ErrInvalidSampleName) {
		t.Errorf("expected ErrInvalidSampleName, got %v", err)
	}
}

// Organize Tests

func TestOrganize(t *testing.T) {
	samples := []domain.Sample{testSample("B"), testSample("A"), testSample("C")}
	inputs := Organize(samples, testRefs(), domain.RankGenus)

	if len(inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(inputs))
	}
	for i, in := range inputs {
		if in.SampleName != samples[i].Name {
			t.Errorf("inputs[%d] = %s, want %s", i, in.SampleName, samples[i].Name)
		}
		if in.RefDB != testRefs().DB || in.Rank != domain.RankGenus {
			t.Errorf("inputs[%d] lost references or rank: %+v", i, in)
		}
	}

	if got := Organize(nil, testRefs(), ""); len(got) != 0 {
		t.Errorf("expected no inputs for empty sample list, got %d", len(got))
	}
}

func TestOrganizeOne_DefaultRank(t *testing.T) {
	in := OrganizeOne(testSample("S1"), testRefs(), "")
	if in.Rank != domain.RankSpecies {
		t.Errorf("expected species, got %s", in.Rank)
	}
}

// Command Construction Tests

func TestToolkit_Classify(t *testing.T) {
	tk, runner, dir := newTestToolkit(t)
	in := OrganizeOne(testSample("S1"), testRefs(), domain.RankSpecies)

	out, err := tk.Classify(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kaijuOut := filepath.Join(dir, "kaiju", "S1", "S1_kaiju.out")
	want := Command{
		Tool: "kaiju",
		Args: []string{
			"-t", "/ref/nodes.dmp",
			"-f", "/ref/kaiju_db.fmi",
			"-i", "/reads/S1_1.fastq",
			"-j", "/reads/S1_2.fastq",
			"-z", "96",
			"-o", kaijuOut,
		},
		Outputs: []string{kaijuOut},
		Tier:    domain.TierHeavy,
		Sample:  "S1",
	}
	if diff := cmp.Diff([]Command{want}, runner.cmds); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}

	if out.SampleName != "S1" || out.KaijuOut.Path != kaijuOut {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.KaijuOut.Remote != "latch:///kaiju/S1/S1_kaiju.out" {
		t.Errorf("unexpected remote: %s", out.KaijuOut.Remote)
	}
	if out.RefNodes != in.RefNodes || out.RefNames != in.RefNames || out.Rank != in.Rank {
		t.Error("classification output should carry references and rank forward")
	}
}

func TestToolkit_Exports(t *testing.T) {
	tk, runner, dir := newTestToolkit(t)
	sampleDir := filepath.Join(dir, "kaiju", "S1")
	classified := domain.ClassificationOutput{
		SampleName: "S1",
		KaijuOut:   domain.File{Path: "/work/S1_kaiju.out"},
		RefNodes:   testRefs().Nodes,
		RefNames:   testRefs().Names,
		Rank:       domain.RankFamily,
	}
	ctx := context.Background()

	table, err := tk.ExportTable(ctx, classified)
	if err != nil {
		t.Fatalf("ExportTable: %v", err)
	}
	krona, err := tk.ConvertKrona(ctx, classified)
	if err != nil {
		t.Fatalf("ConvertKrona: %v", err)
	}
	plot, err := tk.PlotKrona(ctx, krona)
	if err != nil {
		t.Fatalf("PlotKrona: %v", err)
	}

	tsv := filepath.Join(sampleDir, "S1_kaiju.tsv")
	kronaTxt := filepath.Join(sampleDir, "S1_kaiju2krona.out")
	html := filepath.Join(sampleDir, "S1_krona.html")

	want := [][]string{
		{"kaiju2table", "-t", "/ref/nodes.dmp", "-n", "/ref/names.dmp", "-r", "family", "-p", "-e", "-o", tsv, "/work/S1_kaiju.out"},
		{"kaiju2krona", "-t", "/ref/nodes.dmp", "-n", "/ref/names.dmp", "-i", "/work/S1_kaiju.out", "-o", kronaTxt},
		{"ktImportText", "-o", html, kronaTxt},
	}
	got := make([][]string, len(runner.cmds))
	for i, c := range runner.cmds {
		got[i] = append([]string{c.Tool}, c.Args...)
		if c.Tier != domain.TierLight {
			t.Errorf("%s should run on the light tier", c.Tool)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	if filepath.Base(table.Path) != "S1_kaiju.tsv" || filepath.Base(plot.Path) != "S1_krona.html" {
		t.Errorf("unexpected artifact names: %s, %s", table.Path, plot.Path)
	}
	if krona.SampleName != "S1" {
		t.Errorf("krona input lost sample name: %+v", krona)
	}
}

func TestToolkit_CommandFailed(t *testing.T) {
	tk, runner, _ := newTestToolkit(t)
	runner.failOn = "kaiju"

	_, err := tk.Classify(context.Background(), OrganizeOne(testSample("S1"), testRefs(), ""))
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 1 {
		t.Errorf("expected CommandError with exit code 1, got %v", err)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Tool: "ktImportText", Args: []string{"-o", "a.html", "a.txt"}}
	if c.String() != "ktImportText -o a.html a.txt" {
		t.Errorf("unexpected command line: %s", c.String())
	}
}

// ExecRunner Tests

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireShell(t)

	err := NewExecRunner().Run(context.Background(), Command{
		Tool: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
		Tier: domain.TierLight,
	})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Stderr, "boom") {
		t.Errorf("stderr should be captured, got %q", cmdErr.Stderr)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Error("CommandError should unwrap to ErrCommandFailed")
	}
}

func TestExecRunner_MissingOutput(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	err := NewExecRunner().Run(context.Background(), Command{
		Tool:    "sh",
		Args:    []string{"-c", "exit 0"},
		Outputs: []string{filepath.Join(dir, "never.tsv")},
	})
	if !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("expected ErrMissingOutput, got %v", err)
	}
}

func TestExecRunner_CreatesOutput(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "S1_krona.html")

	err := NewExecRunner().Run(context.Background(), Command{
		Tool:    "sh",
		Args:    []string{"-c", "touch " + out},
		Outputs: []string{out},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecRunner_NotFound(t *testing.T) {
	err := NewExecRunner().Run(context.Background(), Command{Tool: "megs-no-such-tool"})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != -1 {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestExecRunner_Cancelled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewExecRunner().Run(ctx, Command{Tool: "sh", Args: []string{"-c", "sleep 5"}})
	if !errors.Is(err, ErrStepCancelled) {
		t.Fatalf("expected ErrStepCancelled, got %v", err)
	}
}

// Step Tests

func TestClassifyStep_Execute(t *testing.T) {
	tk, _, _ := newTestToolkit(t)
	step := &ClassifyStep{tk: tk}

	payload, err := Encode(OrganizeOne(testSample("S1"), testRefs(), domain.RankPhylum))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := step.Execute(context.Background(), NewRequest("taxonomy.s0.classify", map[string]any{"input": payload}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out domain.ClassificationOutput
	if err := DecodeField(map[string]any{"out": resp.Outputs}, "out", &out); err != nil {
		t.Fatal(err)
	}
	if out.SampleName != "S1" || out.Rank != domain.RankPhylum {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.KaijuOut.Remote != "latch:///kaiju/S1/S1_kaiju.out" {
		t.Errorf("unexpected remote: %s", out.KaijuOut.Remote)
	}
}

func TestOrganizeStep_Execute(t *testing.T) {
	samples, _ := Encode(struct {
		S []domain.Sample `json:"s"`
	}{S: []domain.Sample{testSample("S1"), testSample("S2")}})
	refs, _ := Encode(testRefs())

	resp, err := (&OrganizeStep{}).Execute(context.Background(), NewRequest("organize", map[string]any{
		"samples":    samples["s"],
		"references": refs,
		"taxon_rank": "genus",
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var inputs []domain.ClassificationInput
	if err := DecodeField(resp.Outputs, "inputs", &inputs); err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 || inputs[0].SampleName != "S1" || inputs[1].SampleName != "S2" {
		t.Errorf("unexpected inputs: %+v", inputs)
	}
	for _, in := range inputs {
		if in.Rank != domain.RankGenus {
			t.Errorf("%s: expected genus, got %s", in.SampleName, in.Rank)
		}
	}
}

func TestOrganizeStep_DefaultRank(t *testing.T) {
	refs, _ := Encode(testRefs())

	for _, cfg := range []map[string]any{
		{"references": refs},
		{"references": refs, "taxon_rank": ""},
	} {
		resp, err := (&OrganizeStep{}).Execute(context.Background(), NewRequest("organize", cfg, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inputs, ok := resp.Outputs["inputs"].([]any); !ok || len(inputs) != 0 {
			t.Errorf("expected empty inputs, got %v", resp.Outputs["inputs"])
		}
	}

	samples, _ := Encode(struct {
		S []domain.Sample `json:"s"`
	}{S: []domain.Sample{testSample("S1")}})

	resp, err := (&OrganizeStep{}).Execute(context.Background(), NewRequest("organize", map[string]any{
		"samples":    samples["s"],
		"references": refs,
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inputs []domain.ClassificationInput
	if err := DecodeField(resp.Outputs, "inputs", &inputs); err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 1 || inputs[0].Rank != domain.RankSpecies {
		t.Errorf("expected species by default, got %+v", inputs)
	}
}

func TestOrganizeStep_InvalidRank(t *testing.T) {
	refs, _ := Encode(testRefs())

	_, err := (&OrganizeStep{}).Execute(context.Background(), NewRequest("organize", map[string]any{
		"references": refs,
		"taxon_rank": "strain",
	}, 0))
	if !errors.Is(err, ErrInvalidPayload) || !errors.Is(err, domain.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidPayload wrapping ErrInvalidRank, got %v", err)
	}
}

func TestStep_InvalidPayload(t *testing.T) {
	tk, runner, _ := newTestToolkit(t)

	_, err := (&TableStep{tk: tk}).Execute(context.Background(), NewRequest("t", nil, 0))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}

	_, err = (&PlotStep{tk: tk}).Execute(context.Background(), NewRequest("p", map[string]any{"input": 42}, 0))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}

	if len(runner.cmds) != 0 {
		t.Errorf("no tool should run on invalid payload, got %d", len(runner.cmds))
	}
}

func TestAggregateStep_Execute(t *testing.T) {
	results := []any{
		map[string]any{
			"sample_name":     "S1",
			"krona_plot":      map[string]any{"path": "/w/S1_krona.html"},
			"kaiju2table_out": map[string]any{"path": "/w/S1_kaiju.tsv"},
		},
		map[string]any{
			"sample_name":     "S2",
			"krona_plot":      map[string]any{"path": "/w/S2_krona.html"},
			"kaiju2table_out": map[string]any{"path": "/w/S2_kaiju.tsv"},
		},
	}

	resp, err := (&AggregateStep{}).Execute(context.Background(), NewRequest("aggregate", map[string]any{"results": results}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res domain.Result
	if err := DecodeField(map[string]any{"r": resp.Outputs}, "r", &res); err != nil {
		t.Fatal(err)
	}
	want := domain.Result{
		KronaPlots: []domain.File{{Path: "/w/S1_krona.html"}, {Path: "/w/S2_krona.html"}},
		Tables:     []domain.File{{Path: "/w/S1_kaiju.tsv"}, {Path: "/w/S2_kaiju.tsv"}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	// Пустой список образцов
	resp, err = (&AggregateStep{}).Execute(context.Background(), NewRequest("aggregate", nil, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plots, ok := resp.Outputs["krona_plots"].([]any); !ok || len(plots) != 0 {
		t.Errorf("expected empty krona_plots, got %v", resp.Outputs["krona_plots"])
	}
}

func TestDecodeField_JSONString(t *testing.T) {
	var in domain.KronaInput
	err := DecodeField(map[string]any{
		"input": `{"sample_name":"S1","krona_txt":{"path":"/w/S1_kaiju2krona.out"}}`,
	}, "input", &in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.SampleName != "S1" || in.KronaText.Path != "/w/S1_kaiju2krona.out" {
		t.Errorf("unexpected decode: %+v", in)
	}
}

func TestDecodeField_PlainString(t *testing.T) {
	var rank domain.TaxonRank
	if err := DecodeField(map[string]any{"taxon_rank": "species"}, "taxon_rank", &rank); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rank != domain.RankSpecies {
		t.Errorf("expected species, got %s", rank)
	}

	// Строка, похожая на JSON, но не подходящая по типу, остаётся строкой
	var name string
	if err := DecodeField(map[string]any{"sample_name": "123"}, "sample_name", &name); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "123" {
		t.Errorf("expected 123, got %q", name)
	}

	var in domain.KronaInput
	if err := DecodeField(map[string]any{"input": "species"}, "input", &in); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for a plain string record, got %v", err)
	}
}
