// SPDX-License-Identifier: MPL-2.0

// Package plan orders the packages to release into publish waves. Packages
// in one wave have no dependency relation between them, and every package
// comes in a later wave than everything it depends on, directly or through
// packages that are not released.
package plan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/bump"
	"smart-release/internal/dag"
)

// ErrExcludedDependency is wrapped by ExcludedDependencyError.
var ErrExcludedDependency = errors.New("package depends on a release that is excluded from the plan")

type (
	// Item is one package release in the plan.
	Item struct {
		Name     string
		Current  *semver.Version
		Next     *semver.Version
		Decision *bump.Decision
	}

	// Plan is an ordered sequence of waves.
	Plan struct {
		Waves [][]Item
	}

	// Options restricts the plan.
	Options struct {
		// Include limits the plan to these packages and the bumped packages
		// they depend on. Empty includes every bumped package.
		Include []string
		// Exclude removes packages from the plan.
		Exclude []string
	}

	// ExcludedDependencyError reports a planned package whose widened
	// requirement points at a release that was excluded.
	ExcludedDependencyError struct {
		Package    string
		Dependency string
	}
)

// Error implements the error interface.
func (e *ExcludedDependencyError) Error() string {
	return fmt.Sprintf("%s requires the new release of %s, which is excluded", e.Package, e.Dependency)
}

// Unwrap returns ErrExcludedDependency for errors.Is() compatibility.
func (e *ExcludedDependencyError) Unwrap() error { return ErrExcludedDependency }

// Build computes the plan of the bumped packages in result over the
// dependency graph g.
func Build(g *dag.Graph, result *bump.Result, opts Options) (*Plan, error) {
	keep := map[string]bool{}
	for _, d := range result.Bumped() {
		keep[d.Package.Name] = true
	}

	if len(opts.Include) > 0 {
		closure := map[string]bool{}
		var stack []string
		for _, name := range opts.Include {
			if keep[name] {
				stack = append(stack, name)
			}
		}
		for len(stack) > 0 {
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if closure[name] {
				continue
			}
			closure[name] = true
			for _, dep := range g.Dependencies(name) {
				stack = append(stack, dep)
			}
		}
		for name := range keep {
			keep[name] = closure[name]
		}
	}
	for _, name := range opts.Exclude {
		delete(keep, name)
	}

	for _, d := range result.Bumped() {
		if !keep[d.Package.Name] {
			continue
		}
		for _, u := range d.Updates {
			if result.IsBumped(u.Dependency.Name) && !keep[u.Dependency.Name] {
				return nil, &ExcludedDependencyError{Package: d.Package.Name, Dependency: u.Dependency.Name}
			}
		}
	}

	waves, err := g.Restrict(func(name string) bool { return keep[name] }).Waves()
	if err != nil {
		return nil, err
	}

	p := &Plan{}
	for _, wave := range waves {
		items := make([]Item, 0, len(wave))
		for _, name := range wave {
			d := result.Decisions[name]
			items = append(items, Item{Name: name, Current: d.Current, Next: d.Next, Decision: d})
		}
		p.Waves = append(p.Waves, items)
	}
	return p, nil
}

// Len returns the number of packages in the plan.
func (p *Plan) Len() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w)
	}
	return n
}

// Names returns the planned packages in wave order.
func (p *Plan) Names() []string {
	var out []string
	for _, w := range p.Waves {
		for _, it := range w {
			out = append(out, it.Name)
		}
	}
	return out
}

// WaveOf returns the wave index of name, or -1.
func (p *Plan) WaveOf(name string) int {
	for i, w := range p.Waves {
		if slices.ContainsFunc(w, func(it Item) bool { return it.Name == name }) {
			return i
		}
	}
	return -1
}
