package steps

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shaiso/megs/internal/domain"
)

const (
	// DefaultNamespace — пространство имён публикации по умолчанию.
	DefaultNamespace = "latch://"

	// ToolDir — каталог инструмента в пути артефакта.
	ToolDir = "kaiju"
)

// Имена артефактов зависят только от имени образца: повторный запуск
// на тех же входах даёт те же имена.

// KaijuOutName — per-read вывод kaiju: <sample>_kaiju.out.
func KaijuOutName(sample string) string { return sample + "_kaiju.out" }

// TableName — сводная таблица kaiju2table: <sample>_kaiju.tsv.
func TableName(sample string) string { return sample + "_kaiju.tsv" }

// KronaTextName — текстовый вход Krona от kaiju2krona: <sample>_kaiju2krona.out.
func KronaTextName(sample string) string { return sample + "_kaiju2krona.out" }

// KronaPlotName — HTML-отчёт ktImportText: <sample>_krona.html.
func KronaPlotName(sample string) string { return sample + "_krona.html" }

// Layout раскладывает артефакты по образцам.
//
// Локально: <WorkDir>/kaiju/<sample>/<file>.
// Публикация: <Namespace>/kaiju/<sample>/<file>.
type Layout struct {
	WorkDir   string
	Namespace string
}

// NewLayout создаёт Layout. Пустой namespace заменяется DefaultNamespace.
func NewLayout(workDir, namespace string) Layout {
	if workDir == "" {
		workDir = "."
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Layout{WorkDir: workDir, Namespace: namespace}
}

// Artifact возвращает ссылку на артефакт образца и создаёт его каталог.
func (l Layout) Artifact(sample, file string) (domain.File, error) {
	if err := domain.ValidateSampleName(sample); err != nil {
		return domain.File{}, err
	}

	dir := filepath.Join(l.WorkDir, ToolDir, sample)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.File{}, fmt.Errorf("create sample dir: %w", err)
	}

	return domain.File{
		Path:   filepath.Join(dir, file),
		Remote: l.Remote(sample, file),
	}, nil
}

// Remote возвращает путь публикации артефакта.
func (l Layout) Remote(sample, file string) string {
	rel := path.Join("/", ToolDir, sample, file)

	ns := l.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	// "latch://" + "/kaiju/..." даёт "latch:///kaiju/..."
	if strings.HasSuffix(ns, "://") {
		return ns + rel
	}
	return strings.TrimRight(ns, "/") + rel
}
