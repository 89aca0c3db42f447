// Package reads проверяет входные FASTQ до запуска классификации.
//
// Preflight считает записи и нуклеотиды в каждом файле пары и убеждается,
// что read1 и read2 содержат одинаковое число записей.
package reads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/shaiso/megs/internal/domain"
)

var (
	// ErrRemoteReads — файл лежит в удалённом хранилище и не читается локально.
	ErrRemoteReads = errors.New("remote reads cannot be inspected locally")

	// ErrEmptyReads — файл не содержит ни одной записи.
	ErrEmptyReads = errors.New("reads file is empty")

	// ErrUnpairedReads — в read1 и read2 разное число записей.
	ErrUnpairedReads = errors.New("read pair record counts differ")
)

func init() {
	// Валидация алфавита не нужна для подсчёта
	seq.ValidateSeq = false
}

// FileStats — статистика одного FASTQ файла.
type FileStats struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
	Bases   int64  `json:"bases"`
	MinLen  int    `json:"min_len"`
	MaxLen  int    `json:"max_len"`
}

// SampleStats — статистика пары файлов образца.
type SampleStats struct {
	SampleName string    `json:"sample_name"`
	Read1      FileStats `json:"read1"`
	Read2      FileStats `json:"read2"`
}

// Count читает FASTQ (в том числе .gz) и считает записи.
func Count(ctx context.Context, path string) (FileStats, error) {
	stats := FileStats{Path: path}

	if isRemote(path) {
		return stats, fmt.Errorf("%w: %s", ErrRemoteReads, path)
	}

	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return stats, fmt.Errorf("open %s: %w", path, err)
	}

	for {
		if stats.Records%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", path, err)
		}

		n := rec.Seq.Length()
		if stats.Records == 0 || n < stats.MinLen {
			stats.MinLen = n
		}
		if n > stats.MaxLen {
			stats.MaxLen = n
		}
		stats.Records++
		stats.Bases += int64(n)
	}

	if stats.Records == 0 {
		return stats, fmt.Errorf("%w: %s", ErrEmptyReads, path)
	}
	return stats, nil
}

// CheckSample считает обе половины пары и сверяет число записей.
func CheckSample(ctx context.Context, s domain.Sample) (SampleStats, error) {
	out := SampleStats{SampleName: s.Name}

	var err error
	if out.Read1, err = Count(ctx, s.Read1.Path); err != nil {
		return out, fmt.Errorf("%s read1: %w", s.Name, err)
	}
	if out.Read2, err = Count(ctx, s.Read2.Path); err != nil {
		return out, fmt.Errorf("%s read2: %w", s.Name, err)
	}

	if out.Read1.Records != out.Read2.Records {
		return out, fmt.Errorf("%w: %s has %d and %d records",
			ErrUnpairedReads, s.Name, out.Read1.Records, out.Read2.Records)
	}
	return out, nil
}

func isRemote(path string) bool {
	return strings.Contains(path, "://")
}
