package reads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaiso/megs/internal/domain"
)

func writeFastq(t *testing.T, name string, seqs ...string) string {
	t.Helper()

	var b strings.Builder
	for i, s := range seqs {
		b.WriteString("@read")
		b.WriteString(string(rune('a' + i)))
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n+\n")
		b.WriteString(strings.Repeat("I", len(s)))
		b.WriteString("\n")
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCount(t *testing.T) {
	path := writeFastq(t, "S1_1.fastq", "ACGTACGT", "ACG", "ACGTAC")

	stats, err := Count(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Records != 3 {
		t.Errorf("expected 3 records, got %d", stats.Records)
	}
	if stats.Bases != 17 {
		t.Errorf("expected 17 bases, got %d", stats.Bases)
	}
	if stats.MinLen != 3 || stats.MaxLen != 8 {
		t.Errorf("expected lengths 3..8, got %d..%d", stats.MinLen, stats.MaxLen)
	}
}

func TestCount_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := Count(ctx, "s3://latch-public/test-data/4318/SRR579291_1.fastq"); !errors.Is(err, ErrRemoteReads) {
		t.Errorf("expected ErrRemoteReads, got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.fastq")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Count(ctx, empty); err == nil {
		t.Error("expected error for empty file")
	}

	if _, err := Count(ctx, filepath.Join(t.TempDir(), "missing.fastq")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCheckSample(t *testing.T) {
	ctx := context.Background()
	r1 := writeFastq(t, "S1_1.fastq", "ACGT", "ACGT")
	r2 := writeFastq(t, "S1_2.fastq", "TTGCA", "TTGCA")

	stats, err := CheckSample(ctx, domain.Sample{Name: "S1", Read1: domain.File{Path: r1}, Read2: domain.File{Path: r2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Read1.Records != 2 || stats.Read2.Bases != 10 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	short := writeFastq(t, "S1_2.fastq", "TTGCA")
	_, err = CheckSample(ctx, domain.Sample{Name: "S1", Read1: domain.File{Path: r1}, Read2: domain.File{Path: short}})
	if !errors.Is(err, ErrUnpairedReads) {
		t.Errorf("expected ErrUnpairedReads, got %v", err)
	}
}
