// Package launch загружает launch presets: готовые наборы параметров run в YAML.
//
// Встроенные presets лежат в presets/*.yaml и доступны через Presets и Get.
// Пользовательские файлы читаются через LoadFile.
package launch

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/megs/internal/domain"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// Preset — именованный набор параметров для запуска пайплайна.
type Preset struct {
	Name        string        `yaml:"name"`
	DisplayName string        `yaml:"display_name"`
	Description string        `yaml:"description,omitempty"`
	Params      domain.Params `yaml:"params"`
}

// Parse разбирает preset из YAML и валидирует параметры.
func Parse(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPreset)
	}
	if err := p.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPreset, p.Name, err)
	}
	return &p, nil
}

// LoadFile читает preset из файла.
func LoadFile(filename string) (*Preset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read preset: %w", err)
	}
	return Parse(data)
}

// Presets возвращает встроенные presets, отсортированные по имени.
func Presets() ([]Preset, error) {
	entries, err := fs.ReadDir(presetFS, "presets")
	if err != nil {
		return nil, err
	}

	presets := make([]Preset, 0, len(entries))
	for _, e := range entries {
		data, err := presetFS.ReadFile(path.Join("presets", e.Name()))
		if err != nil {
			return nil, err
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		presets = append(presets, *p)
	}

	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// Get возвращает встроенный preset по имени.
func Get(name string) (*Preset, error) {
	presets, err := Presets()
	if err != nil {
		return nil, err
	}
	for i := range presets {
		if presets[i].Name == name {
			return &presets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
}

// Resolve возвращает preset по имени встроенного preset или по пути к файлу.
func Resolve(nameOrPath string) (*Preset, error) {
	p, err := Get(nameOrPath)
	if err == nil {
		return p, nil
	}
	if _, statErr := os.Stat(nameOrPath); statErr == nil {
		return LoadFile(nameOrPath)
	}
	return nil, err
}
