package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
)

// StepTypeMap — шаг, разворачивающий независимый подграф на каждый образец.
// Сам по себе ничего не выполняет.
const StepTypeMap = "map"

// Validate выполняет полную валидацию FlowSpec.
//
// Проверяет:
//   - наличие шагов
//   - уникальность ID шагов (внутри ветки ID локальны)
//   - корректность типов шагов
//   - валидность зависимостей (depends_on)
//   - валидность веток map
//
// Отсутствие циклов проверяет BuildDAG.
func Validate(spec *domain.FlowSpec) error {
	if spec == nil || len(spec.Steps) == 0 {
		return ErrEmptySteps
	}

	stepIDs := make(map[string]bool)
	for i := range spec.Steps {
		if err := ValidateStep(&spec.Steps[i], stepIDs); err != nil {
			return err
		}
	}

	for i := range spec.Steps {
		step := &spec.Steps[i]
		if err := validateDependencies(step.ID, step.DependsOn, stepIDs); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStep валидирует один шаг верхнего уровня.
// stepIDs — уже встреченные ID шагов (для проверки уникальности).
func ValidateStep(step *domain.StepDef, stepIDs map[string]bool) error {
	if err := validateStepHeader(step.ID, step, stepIDs); err != nil {
		return err
	}

	if step.Type == StepTypeMap {
		return validateMapStep(step)
	}

	return nil
}

// validateStepHeader проверяет ID, тип и self-dependency шага.
// displayID — ID для сообщений об ошибках (полный для шагов в ветках).
func validateStepHeader(displayID string, step *domain.StepDef, seen map[string]bool) error {
	if step.ID == "" {
		return NewValidationError(displayID, "id", "step has empty ID", ErrEmptyStepID)
	}

	if seen[step.ID] {
		return NewValidationError(displayID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	seen[step.ID] = true

	if err := validateStepType(displayID, step.Type); err != nil {
		return err
	}

	for _, dep := range step.DependsOn {
		if dep == step.ID {
			return NewValidationError(displayID, "depends_on",
				"step depends on itself", ErrSelfDependency)
		}
	}

	return nil
}

// validateStepType проверяет, что тип шага известен.
func validateStepType(stepID, stepType string) error {
	if stepType == "" {
		return NewValidationError(stepID, "type",
			"step has empty type", ErrUnknownStepType)
	}

	if !IsValidStepType(stepType) {
		return NewValidationError(stepID, "type",
			fmt.Sprintf("unknown step type: %s", stepType), ErrUnknownStepType)
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на известные ID.
func validateDependencies(stepID string, deps []string, known map[string]bool) error {
	for _, dep := range deps {
		if !known[dep] {
			return NewValidationError(stepID, "depends_on",
				fmt.Sprintf("depends on unknown step: %s", dep), ErrMissingDependency)
		}
	}
	return nil
}

// validateMapStep валидирует map шаг и его ветки.
//
// Map без веток допустим (пустой список образцов): его join
// завершается сразу. Вложенные map не поддерживаются.
func validateMapStep(step *domain.StepDef) error {
	branchIDs := make(map[string]bool)

	for i := range step.Branches {
		branch := &step.Branches[i]

		if branch.ID == "" {
			return NewValidationError(step.ID, "branches",
				fmt.Sprintf("branch %d has empty ID", i), ErrEmptyBranchID)
		}

		if branchIDs[branch.ID] {
			return NewValidationError(step.ID, "branches",
				fmt.Sprintf("duplicate branch ID: %s", branch.ID), ErrDuplicateBranchID)
		}
		branchIDs[branch.ID] = true

		if len(branch.Steps) == 0 {
			return NewValidationError(step.ID, "branches",
				fmt.Sprintf("branch %s has no steps", branch.ID), ErrEmptyBranchSteps)
		}

		// ID шагов локальны для ветки
		local := make(map[string]bool, len(branch.Steps))
		for j := range branch.Steps {
			branchStep := &branch.Steps[j]
			fullID := BranchNodeID(step.ID, branch.ID, branchStep.ID)

			if err := validateStepHeader(fullID, branchStep, local); err != nil {
				return err
			}
			if branchStep.Type == StepTypeMap {
				return NewValidationError(fullID, "type",
					"nested map steps are not supported", ErrNestedMap)
			}
		}

		for j := range branch.Steps {
			branchStep := &branch.Steps[j]
			fullID := BranchNodeID(step.ID, branch.ID, branchStep.ID)
			if err := validateDependencies(fullID, branchStep.DependsOn, local); err != nil {
				return err
			}
		}
	}

	return nil
}

// IsValidStepType проверяет, является ли тип шага допустимым.
func IsValidStepType(stepType string) bool {
	if stepType == StepTypeMap {
		return true
	}
	_, ok := steps.Lookup(stepType)
	return ok
}

// GetValidStepTypes возвращает отсортированный список допустимых типов шагов.
func GetValidStepTypes() []string {
	types := append(steps.Types(), StepTypeMap)
	sort.Strings(types)
	return types
}
