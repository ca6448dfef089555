package engine

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Step — определение шага.
	Step *domain.StepDef

	// ID — идентификатор шага.
	ID string

	// Index — позиция шага в порядке объявления.
	Index int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф шагов workflow.
type DAG struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей в порядке объявления.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	declared []*Node
}

// BuildDAG строит DAG из списка шагов.
//
// Проверяет уникальность ID, существование зависимостей и отсутствие
// циклов. Порядок выполнения детерминирован: среди готовых шагов
// первым идёт объявленный раньше.
func BuildDAG(steps []domain.StepDef) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node, len(steps)),
		RootNodes: make([]*Node, 0),
		declared:  make([]*Node, 0, len(steps)),
	}

	// Первый проход: создаём все узлы
	for i := range steps {
		if err := dag.addNode(&steps[i], i); err != nil {
			return nil, err
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range dag.declared {
		if err := dag.linkDependencies(node); err != nil {
			return nil, err
		}
	}

	for _, node := range dag.declared {
		if node.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, node)
		}
	}

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

func (d *DAG) addNode(step *domain.StepDef, index int) error {
	if step.ID == "" {
		return NewGraphError("", "id",
			fmt.Sprintf("step #%d has empty ID", index), ErrEmptyStepID)
	}
	if _, exists := d.Nodes[step.ID]; exists {
		return NewGraphError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}

	node := &Node{
		Step:       step,
		ID:         step.ID,
		Index:      index,
		DependsOn:  make([]*Node, 0, len(step.DependsOn)),
		Dependents: make([]*Node, 0),
	}
	d.Nodes[step.ID] = node
	d.declared = append(d.declared, node)
	return nil
}

func (d *DAG) linkDependencies(node *Node) error {
	for _, depID := range node.Step.DependsOn {
		depNode, exists := d.Nodes[depID]
		if !exists {
			return NewGraphError(node.ID, "dependsOn",
				fmt.Sprintf("depends on unknown step: %s", depID), ErrMissingDependency)
		}
		d.addEdge(depNode, node)
	}
	return nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
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

// readyQueue — min-heap индексов объявления.
type readyQueue []*Node

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i].Index < q[j].Index }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(*Node)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make(readyQueue, len(d.RootNodes))
	copy(queue, d.RootNodes)
	heap.Init(&queue)

	order := make([]*Node, 0, len(d.Nodes))

	for queue.Len() > 0 {
		node := heap.Pop(&queue).(*Node)
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				heap.Push(&queue, dependent)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		cycle := d.findCycle(inDegree)
		return nil, NewGraphError(cycle[0], "dependsOn",
			"cyclic dependency: "+strings.Join(cycle, " -> "), ErrCyclicDependency)
	}

	return order, nil
}

// findCycle ищет цикл среди узлов, не попавших в порядок.
func (d *DAG) findCycle(inDegree map[string]int) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(d.Nodes))
	stack := make([]string, 0)

	var visit func(n *Node) []string
	visit = func(n *Node) []string {
		color[n.ID] = grey
		stack = append(stack, n.ID)
		for _, dep := range n.DependsOn {
			switch color[dep.ID] {
			case grey:
				for i, id := range stack {
					if id == dep.ID {
						cycle := append([]string{}, stack[i:]...)
						// Направление рёбер: зависимость → зависимый
						for l, r := 0, len(cycle)-1; l < r; l, r = l+1, r-1 {
							cycle[l], cycle[r] = cycle[r], cycle[l]
						}
						return append(cycle, cycle[0])
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n.ID] = black
		return nil
	}

	for _, node := range d.declared {
		if inDegree[node.ID] > 0 && color[node.ID] == white {
			if c := visit(node); c != nil {
				return c
			}
		}
	}
	return []string{"?"}
}

// ExecutionOrder возвращает ID шагов в порядке выполнения.
func (d *DAG) ExecutionOrder() []string {
	ids := make([]string, len(d.Order))
	for i, node := range d.Order {
		ids[i] = node.ID
	}
	return ids
}

// DirectDependencies возвращает прямые зависимости шага.
func (d *DAG) DirectDependencies(id string) []string {
	node := d.Nodes[id]
	if node == nil {
		return nil
	}
	ids := make([]string, len(node.DependsOn))
	for i, dep := range node.DependsOn {
		ids[i] = dep.ID
	}
	return ids
}

// DependenciesOf возвращает транзитивное замыкание зависимостей шага
// в порядке выполнения.
func (d *DAG) DependenciesOf(id string) []string {
	return d.closure(id, func(n *Node) []*Node { return n.DependsOn })
}

// DependentsOf возвращает транзитивное замыкание зависимых шагов
// в порядке выполнения.
func (d *DAG) DependentsOf(id string) []string {
	return d.closure(id, func(n *Node) []*Node { return n.Dependents })
}

func (d *DAG) closure(id string, next func(*Node) []*Node) []string {
	start := d.Nodes[id]
	if start == nil {
		return nil
	}

	seen := make(map[string]bool)
	queue := append([]*Node{}, next(start)...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		queue = append(queue, next(n)...)
	}

	ids := make([]string, 0, len(seen))
	for _, node := range d.Order {
		if seen[node.ID] {
			ids = append(ids, node.ID)
		}
	}
	return ids
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}
