package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/steps"
)

// Node — узел в DAG.
type Node struct {
	// Step — определение шага из FlowSpec (nil для join-узлов).
	Step *domain.StepDef

	// ID — идентификатор узла. Для шагов внутри веток map:
	// "<map_id>.<branch_id>.<step_id>".
	ID string

	// Tier — ресурсный класс, определённый по типу шага при построении графа.
	Tier domain.ResourceTier

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	// IsJoin — true для виртуального узла, закрывающего ветки map.
	IsJoin bool

	// MapID — ID родительского map шага (для шагов внутри веток).
	MapID string

	// BranchID — ID ветки (для шагов внутри map).
	BranchID string

	// Sample — имя образца ветки.
	Sample string
}

// DAG — направленный ациклический граф шагов пайплайна.
type DAG struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// ids — порядок добавления узлов; делает обход детерминированным.
	ids []string
}

// BranchNodeID возвращает полный ID шага внутри ветки map.
func BranchNodeID(mapID, branchID, stepID string) string {
	return mapID + "." + branchID + "." + stepID
}

// JoinNodeID возвращает ID join-узла map шага.
func JoinNodeID(mapID string) string {
	return mapID + ".join"
}

// BuildDAG строит DAG из FlowSpec.
//
// Для map шагов создаются дополнительные узлы:
//   - сам map шаг как "fork" узел
//   - шаги внутри веток с prefixed ID
//   - виртуальный "join" узел, закрывающий все ветки
//
// Tier каждого узла определяется по типу шага через steps.TierOf.
func BuildDAG(spec *domain.FlowSpec) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Steps {
		if err := dag.addNode(&spec.Steps[i]); err != nil {
			return nil, err
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range spec.Steps {
		if err := dag.linkDependencies(&spec.Steps[i]); err != nil {
			return nil, err
		}
	}

	dag.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// put регистрирует узел, сохраняя порядок добавления.
func (d *DAG) put(node *Node) error {
	if _, exists := d.Nodes[node.ID]; exists {
		return NewValidationError(node.ID, "id", "duplicate node", ErrDuplicateStepID)
	}
	d.Nodes[node.ID] = node
	d.ids = append(d.ids, node.ID)
	return nil
}

// addNode добавляет узел в DAG.
func (d *DAG) addNode(step *domain.StepDef) error {
	node := &Node{
		Step:       step,
		ID:         step.ID,
		Tier:       steps.TierOf(step.Type),
		DependsOn:  make([]*Node, 0),
		Dependents: make([]*Node, 0),
	}
	if err := d.put(node); err != nil {
		return err
	}

	if step.Type == StepTypeMap {
		return d.addMapNodes(step)
	}

	return nil
}

// addMapNodes добавляет узлы веток и join-узел для map шага.
func (d *DAG) addMapNodes(mapStep *domain.StepDef) error {
	for _, branch := range mapStep.Branches {
		for i := range branch.Steps {
			branchStep := &branch.Steps[i]

			node := &Node{
				Step:       branchStep,
				ID:         BranchNodeID(mapStep.ID, branch.ID, branchStep.ID),
				Tier:       steps.TierOf(branchStep.Type),
				MapID:      mapStep.ID,
				BranchID:   branch.ID,
				Sample:     branch.Sample,
				DependsOn:  make([]*Node, 0),
				Dependents: make([]*Node, 0),
			}
			if err := d.put(node); err != nil {
				return err
			}
		}
	}

	return d.put(&Node{
		ID:         JoinNodeID(mapStep.ID),
		IsJoin:     true,
		Tier:       domain.TierLight,
		MapID:      mapStep.ID,
		DependsOn:  make([]*Node, 0),
		Dependents: make([]*Node, 0),
	})
}

// linkDependencies связывает узлы по зависимостям.
func (d *DAG) linkDependencies(step *domain.StepDef) error {
	node := d.Nodes[step.ID]

	for _, depID := range step.DependsOn {
		depNode, exists := d.Nodes[depID]
		if exists && depNode.Step != nil && depNode.Step.Type == StepTypeMap {
			// Зависимость от map означает ожидание всех веток
			depNode = d.Nodes[JoinNodeID(depID)]
		}
		if !exists {
			return NewValidationError(step.ID, "depends_on",
				fmt.Sprintf("depends on unknown step: %s", depID), ErrMissingDependency)
		}

		d.addEdge(depNode, node)
	}

	if step.Type == StepTypeMap {
		return d.linkMapDependencies(step)
	}

	return nil
}

// linkMapDependencies связывает зависимости внутри веток map шага.
//
// Шаг с явным depends_on получает только эти рёбра (ID локальны для ветки),
// что позволяет ветке разветвляться. Шаг без depends_on зависит от
// предыдущего шага ветки, первый шаг от самого map. Каждый шаг, от которого
// никто в ветке не зависит, связывается с join.
func (d *DAG) linkMapDependencies(mapStep *domain.StepDef) error {
	mapNode := d.Nodes[mapStep.ID]
	joinNode := d.Nodes[JoinNodeID(mapStep.ID)]

	for _, branch := range mapStep.Branches {
		hasDependents := make(map[string]bool, len(branch.Steps))
		var prevNode *Node

		for i := range branch.Steps {
			branchStep := &branch.Steps[i]
			node := d.Nodes[BranchNodeID(mapStep.ID, branch.ID, branchStep.ID)]

			switch {
			case len(branchStep.DependsOn) > 0:
				for _, depID := range branchStep.DependsOn {
					depNode, exists := d.Nodes[BranchNodeID(mapStep.ID, branch.ID, depID)]
					if !exists {
						return NewValidationError(node.ID, "depends_on",
							fmt.Sprintf("depends on unknown branch step: %s", depID), ErrMissingDependency)
					}
					d.addEdge(depNode, node)
					hasDependents[depNode.ID] = true
				}
			case prevNode != nil:
				d.addEdge(prevNode, node)
				hasDependents[prevNode.ID] = true
			default:
				d.addEdge(mapNode, node)
			}

			prevNode = node
		}

		for i := range branch.Steps {
			id := BranchNodeID(mapStep.ID, branch.ID, branch.Steps[i].ID)
			if !hasDependents[id] {
				d.addEdge(d.Nodes[id], joinNode)
			}
		}
	}

	// Map без веток: join сразу за fork-узлом
	if len(mapStep.Branches) == 0 {
		d.addEdge(mapNode, joinNode)
	}

	return nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты пропускаются, чтобы не учитывать InDegree дважды.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, id := range d.ids {
		if node := d.Nodes[id]; node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetReadyNodes возвращает узлы, готовые к выполнению.
//
// Узел готов, если все его зависимости в completed, а сам он
// не в completed и не в running. Виртуальные узлы (map fork и join)
// не выполняются: они помечаются завершёнными в completed, как только
// готовы их зависимости.
//
// Результат упорядочен топологически.
func (d *DAG) GetReadyNodes(completed, running map[string]bool) []*Node {
	if completed == nil {
		completed = make(map[string]bool)
	}
	if running == nil {
		running = make(map[string]bool)
	}

	ready := make([]*Node, 0)

	for _, node := range d.Order {
		if completed[node.ID] || running[node.ID] {
			continue
		}

		if !dependenciesDone(node, completed) {
			continue
		}

		if node.IsJoin || node.IsFork() {
			completed[node.ID] = true
			continue
		}

		ready = append(ready, node)
	}

	return ready
}

func dependenciesDone(node *Node, completed map[string]bool) bool {
	for _, dep := range node.DependsOn {
		if !completed[dep.ID] {
			return false
		}
	}
	return true
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// GetExecutableNodes возвращает только исполняемые узлы (не join и не map)
// в топологическом порядке.
func (d *DAG) GetExecutableNodes() []*Node {
	nodes := make([]*Node, 0)
	for _, node := range d.Order {
		if node.IsJoin || node.IsFork() {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// IsFork возвращает true для map узла, открывающего ветки.
func (n *Node) IsFork() bool {
	return n.Step != nil && n.Step.Type == StepTypeMap
}

// IsComplete проверяет, все ли узлы завершены.
func (d *DAG) IsComplete(completed map[string]bool) bool {
	for id := range d.Nodes {
		if !completed[id] {
			return false
		}
	}
	return true
}

// GetBranchNodes возвращает все узлы конкретной ветки map в порядке добавления.
func (d *DAG) GetBranchNodes(mapID, branchID string) []*Node {
	nodes := make([]*Node, 0)
	prefix := mapID + "." + branchID + "."

	for _, id := range d.ids {
		if strings.HasPrefix(id, prefix) {
			nodes = append(nodes, d.Nodes[id])
		}
	}

	return nodes
}
