package build

import (
	"slices"

	"github.com/fluxbase-eu/assetcache/internal/bundle"
)

const (
	unvisited = iota
	visiting
	done
)

// Plan returns the definitions that building id requires, dependencies
// first and id itself last. Shared dependencies appear once. A dependency
// that names no bundle fails with *bundle.UnresolvedDependencyError and a
// cycle with *bundle.DependencyCycleError, before anything is built.
func Plan(model *bundle.Model, id string) ([]*bundle.Definition, error) {
	var (
		order []*bundle.Definition
		state = make(map[string]int)
		stack []string
	)

	var visit func(from, id string) error
	visit = func(from, id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			start := slices.Index(stack, id)
			cycle := append(slices.Clone(stack[start:]), id)
			return &bundle.DependencyCycleError{Cycle: cycle}
		}

		def, ok := model.Lookup(id)
		if !ok {
			return &bundle.UnresolvedDependencyError{Bundle: from, Dependency: id}
		}

		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range def.Dependencies {
			if err := visit(id, dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		order = append(order, def)
		return nil
	}

	if err := visit("", bundle.CleanPath(id)); err != nil {
		return nil, err
	}
	return order, nil
}
