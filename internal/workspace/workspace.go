// SPDX-License-Identifier: MPL-2.0

// Package workspace loads a Cargo workspace into a normalized, read-only
// in-memory model: its member packages, their declared versions, locations
// and dependency requirements, with internal dependencies (targets that are
// other members) kept apart from external ones.
package workspace

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/dag"
	"smart-release/internal/version"
)

const (
	// KindNormal is a regular [dependencies] entry.
	KindNormal DependencyKind = "dependencies"
	// KindDev is a [dev-dependencies] entry.
	KindDev DependencyKind = "dev-dependencies"
	// KindBuild is a [build-dependencies] entry.
	KindBuild DependencyKind = "build-dependencies"

	// ManifestName is the file name of a package manifest.
	ManifestName = "Cargo.toml"
	// DefaultChangelogName is the changelog file name used unless configured otherwise.
	DefaultChangelogName = "CHANGELOG.md"
)

// ErrConfiguration is the sentinel wrapped by every ConfigurationError.
var ErrConfiguration = errors.New("workspace configuration error")

type (
	// DependencyKind names the manifest table a dependency is declared in.
	DependencyKind string

	// Dependency is one declared dependency of a package.
	Dependency struct {
		// Name is the package name of the target, after any `package = "..."` rename.
		Name string
		// Key is the key under which the dependency is declared in its table.
		Key string
		// Kind is the dependency table kind.
		Kind DependencyKind
		// Table is the full path of the declaring table, e.g.
		// ["target", "cfg(unix)", "dependencies"].
		Table []string
		// Requirement is the declared version requirement. It is unconstrained
		// for path-only dependencies.
		Requirement version.Requirement
		// Path is the declared `path`, if any.
		Path string
		// Optional reports `optional = true`.
		Optional bool
		// Inherited reports `workspace = true`, in which case the requirement
		// lives in [workspace.dependencies] of the root manifest.
		Inherited bool
	}

	// Package is one workspace member.
	Package struct {
		Name    string
		Version *semver.Version
		// ManifestPath is the absolute path of the member's Cargo.toml.
		ManifestPath string
		// Dir is the absolute directory of the member.
		Dir string
		// RelDir is Dir relative to the workspace root, slash separated; "." for
		// a root package.
		RelDir string
		// ChangelogPath is the absolute path of the member's changelog.
		ChangelogPath string
		// VersionInherited reports `version.workspace = true`.
		VersionInherited bool
		// Publish is false when the manifest sets `publish = false` or an empty
		// registry list.
		Publish bool
		// Independent packages may be released without their dependents moving
		// in lockstep.
		Independent bool
		Description string
		License     string
		// Internal holds dependencies on other members, External the rest.
		Internal []Dependency
		External []Dependency
	}

	// Workspace is the loaded workspace model.
	Workspace struct {
		// Root is the absolute workspace root directory.
		Root string
		// ManifestPath is the absolute path of the root Cargo.toml.
		ManifestPath string
		// Packages are sorted by name.
		Packages []*Package
		// InheritedDependencies holds the raw [workspace.dependencies] requirements.
		InheritedDependencies map[string]version.Requirement

		byName map[string]*Package
	}

	// ConfigurationError reports bad or ambiguous workspace metadata. It wraps
	// ErrConfiguration and, when present, the underlying cause.
	ConfigurationError struct {
		// Manifest is the manifest the problem was found in, if any.
		Manifest string
		Reason   string
		Cause    error
	}
)

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid workspace configuration")
	if e.Manifest != "" {
		fmt.Fprintf(&sb, " in %s", e.Manifest)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns ErrConfiguration and the cause for errors.Is() compatibility.
func (e *ConfigurationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Cause}
}

// New builds a Workspace from already constructed packages. It is used by
// Load and by callers that assemble synthetic workspaces.
func New(root string, packages ...*Package) (*Workspace, error) {
	w := &Workspace{
		Root:                  root,
		Packages:              slices.Clone(packages),
		InheritedDependencies: map[string]version.Requirement{},
		byName:                make(map[string]*Package, len(packages)),
	}
	for _, p := range packages {
		if prev, dup := w.byName[p.Name]; dup {
			return nil, &ConfigurationError{
				Manifest: p.ManifestPath,
				Reason:   fmt.Sprintf("package name %q is also declared by %s", p.Name, prev.ManifestPath),
			}
		}
		w.byName[p.Name] = p
	}
	slices.SortFunc(w.Packages, func(a, b *Package) int { return strings.Compare(a.Name, b.Name) })
	return w, nil
}

// Package returns the member with the given name.
func (w *Workspace) Package(name string) (*Package, bool) {
	p, ok := w.byName[name]
	return p, ok
}

// Names returns the member names, sorted.
func (w *Workspace) Names() []string {
	names := make([]string, len(w.Packages))
	for i, p := range w.Packages {
		names[i] = p.Name
	}
	return names
}

// IsMember reports whether name is a workspace member.
func (w *Workspace) IsMember(name string) bool {
	_, ok := w.byName[name]
	return ok
}

// PublishRelevant reports whether the dependency constrains publish order.
// Dev-dependencies without a version requirement are stripped by cargo on
// publish and never need the target to be in the registry first.
func (d Dependency) PublishRelevant() bool {
	return d.Kind != KindDev || !d.Requirement.IsAny()
}

// Graph builds the internal dependency graph: one node per member and an edge
// from each dependency to its dependent for every publish-relevant internal
// dependency. It fails with a *dag.CycleError if the edges form a cycle.
func (w *Workspace) Graph() (*dag.Graph, error) {
	g := dag.New(w.Names()...)
	for _, p := range w.Packages {
		for _, d := range p.Internal {
			if d.PublishRelevant() {
				g.AddEdge(d.Name, p.Name)
			}
		}
	}
	if err := g.DetectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// DependenciesOn returns every internal dependency of p that targets name.
// A package may depend on the same member from several tables.
func (p *Package) DependenciesOn(name string) []Dependency {
	var out []Dependency
	for _, d := range p.Internal {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// TagName returns the release tag of the package at v: "<name>-v<version>".
func (p *Package) TagName(v *semver.Version) string {
	return p.Name + "-v" + v.String()
}
