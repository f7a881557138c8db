package workflow

import (
	"fmt"
	"sort"

	"github.com/forgeflow/forgeflow/pkg/errors"
)

// Validate checks the structural invariants of a workflow:
//
//   - step ids are unique and non-empty
//   - step order values are unique within the workflow
//   - every dependency names another step in the same workflow
//   - the dependency graph is acyclic
//   - every fileInputs dependsOn names an existing step with a smaller order
func Validate(w *Workflow) error {
	byID := make(map[string]*Step, len(w.Steps))
	orders := make(map[int]string, len(w.Steps))

	for _, s := range w.Steps {
		if s.ID == "" {
			return &errors.ValidationError{Field: "steps", Message: "step id must not be empty"}
		}
		if _, dup := byID[s.ID]; dup {
			return &errors.ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step id %q", s.ID)}
		}
		if s.Order < 0 {
			return &errors.ValidationError{Field: "order", Message: fmt.Sprintf("step %q has negative order", s.ID)}
		}
		if prev, dup := orders[s.Order]; dup {
			return &errors.ValidationError{Field: "order", Message: fmt.Sprintf("steps %q and %q share order %d", prev, s.ID, s.Order)}
		}
		byID[s.ID] = s
		orders[s.Order] = s.ID
	}

	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				return &errors.ValidationError{Field: "dependencies", Message: fmt.Sprintf("step %q depends on itself", s.ID)}
			}
			if _, ok := byID[dep]; !ok {
				return &errors.ValidationError{Field: "dependencies", Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)}
			}
		}
		for _, f := range s.Config.FileInputs {
			if f.DependsOn == "" {
				continue
			}
			upstream, ok := byID[f.DependsOn]
			if !ok {
				return &errors.ValidationError{Field: "fileInputs", Message: fmt.Sprintf("step %q input %q depends on unknown step %q", s.ID, f.Name, f.DependsOn)}
			}
			if upstream.Order >= s.Order {
				return &errors.ValidationError{Field: "fileInputs", Message: fmt.Sprintf("step %q input %q depends on step %q which does not precede it", s.ID, f.Name, f.DependsOn)}
			}
		}
	}

	if _, err := TopoOrder(w); err != nil {
		return err
	}
	return nil
}

// TopoOrder returns the workflow's steps in execution order: a stable
// topological sort of the dependency graph using Kahn's algorithm, breaking
// ties between ready steps by ascending order. Returns a validation error
// when the graph contains a cycle.
func TopoOrder(w *Workflow) ([]*Step, error) {
	byID := make(map[string]*Step, len(w.Steps))
	inDegree := make(map[string]int, len(w.Steps))
	dependents := make(map[string][]string, len(w.Steps))

	for _, s := range w.Steps {
		byID[s.ID] = s
		inDegree[s.ID] = 0
	}
	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []*Step
	for _, s := range w.Steps {
		if inDegree[s.ID] == 0 {
			ready = append(ready, s)
		}
	}

	out := make([]*Step, 0, len(w.Steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, id := range dependents[next.ID] {
			inDegree[id]--
			if inDegree[id] == 0 {
				ready = append(ready, byID[id])
			}
		}
	}

	if len(out) != len(w.Steps) {
		return nil, &errors.ValidationError{Field: "dependencies", Message: fmt.Sprintf("cycle detected in workflow %q", w.ID)}
	}
	return out, nil
}

// Downstream returns the set of step ids transitively reachable from start
// by following dependency edges forward (dependency → dependent), including
// start itself.
func Downstream(w *Workflow, start string) map[string]bool {
	dependents := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	closure := make(map[string]bool)
	var visit func(string)
	visit = func(id string) {
		if closure[id] {
			return
		}
		closure[id] = true
		for _, next := range dependents[id] {
			visit(next)
		}
	}
	visit(start)
	return closure
}
