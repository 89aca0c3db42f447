package launch

import "errors"

var (
	// ErrPresetNotFound — preset с таким именем не найден.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrInvalidPreset — файл preset не разбирается или не проходит валидацию.
	ErrInvalidPreset = errors.New("invalid preset")
)
