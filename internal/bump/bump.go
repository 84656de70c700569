// SPDX-License-Identifier: MPL-2.0

// Package bump derives the version bump of every package from its classified
// commits and propagates mandatory bumps to dependents whose requirements no
// longer cover a dependency's new version.
package bump

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/commit"
	"smart-release/internal/version"
	"smart-release/internal/workspace"
)

const (
	// OverrideAuto derives the bump from commits (or from propagation).
	OverrideAuto Override = "auto"
	// OverrideKeep keeps the current version.
	OverrideKeep Override = "keep"
	// OverridePatch forces a patch bump.
	OverridePatch Override = "patch"
	// OverrideMinor forces a minor bump.
	OverrideMinor Override = "minor"
	// OverrideMajor forces a major bump.
	OverrideMajor Override = "major"

	// PolicyExempt never escalates independent packages on propagation alone.
	PolicyExempt IndependentPolicy = "exempt"
	// PolicyPropagate treats independent packages like any other package.
	PolicyPropagate IndependentPolicy = "propagate"

	// ReasonNone means the package keeps its version.
	ReasonNone Reason = ""
	// ReasonCommits means the bump was derived from the package's commits.
	ReasonCommits Reason = "commits"
	// ReasonOverride means the bump was requested explicitly.
	ReasonOverride Reason = "override"
	// ReasonPropagation means the bump is required because a dependency moved
	// outside the package's declared requirement.
	ReasonPropagation Reason = "dependency"
	// ReasonWorkspace means the package shares [workspace.package] version
	// with a package that is bumped.
	ReasonWorkspace Reason = "workspace version"
	// ReasonUnpublished means the current version was prepared by an earlier
	// run that never published it.
	ReasonUnpublished Reason = "unpublished"
)

var (
	// ErrInvalidOverride is returned when an override name is not recognized.
	ErrInvalidOverride = errors.New("invalid bump override")
	// ErrInvalidIndependentPolicy is returned when a policy name is not recognized.
	ErrInvalidIndependentPolicy = errors.New("invalid independent policy")
)

type (
	// Override is a manual bump specification: keep, auto or a fixed level.
	Override string

	// IndependentPolicy governs propagation into independent packages.
	IndependentPolicy string

	// Reason explains why a package is bumped.
	Reason string

	// Options configures Calculate.
	Options struct {
		// Conservative enables pre-1.0 handling: on 0.y.z a Major bump applies
		// as Minor and a Minor bump as Patch.
		Conservative bool
		// Override applies to the Selected packages. Empty means auto.
		Override Override
		// DependencyOverride applies to propagation-only bumps. Empty means auto,
		// which is a Patch bump.
		DependencyOverride Override
		// Selected restricts Override to these packages; empty selects all.
		Selected []string
		// Independent is the policy for independent packages. Empty means exempt.
		Independent IndependentPolicy
		// Unpublished names packages whose current version is already written
		// to disk but missing from the registry. Unless their commits call for
		// a bump, they are released again at their current version.
		Unpublished []string
	}

	// RequirementUpdate is one dependency requirement that must be widened.
	RequirementUpdate struct {
		Dependency workspace.Dependency
		From       version.Requirement
		To         version.Requirement
		// TargetVersion is the dependency's planned version.
		TargetVersion *semver.Version
	}

	// Decision is the computed outcome for one package.
	Decision struct {
		Package *workspace.Package
		// Level is the requested bump; Next already reflects conservative
		// pre-1.0 handling.
		Level   version.Bump
		Reason  Reason
		Current *semver.Version
		Next    *semver.Version
		Commits []commit.Classified
		// Updates are the widened requirements of this package's internal
		// dependencies.
		Updates []RequirementUpdate
		// Resume marks a release of the current version left unpublished by
		// an earlier run. Next equals Current.
		Resume bool
	}

	// Violation is a package left with a requirement that excludes its
	// dependency's new version, because policy prevented its bump.
	Violation struct {
		Package     string
		Dependency  string
		Requirement version.Requirement
		Version     *semver.Version
	}

	// Result holds every decision, keyed by package name.
	Result struct {
		Decisions  map[string]*Decision
		Violations []Violation
		names      []string
	}
)

// ParseOverride parses an override name.
func ParseOverride(s string) (Override, error) {
	o := Override(s)
	if o == "" {
		return OverrideAuto, nil
	}
	if isValid, _ := o.IsValid(); !isValid {
		return "", fmt.Errorf("%w: %q (want keep, auto, patch, minor or major)", ErrInvalidOverride, s)
	}
	return o, nil
}

// IsValid returns whether the override is one of the known values.
func (o Override) IsValid() (bool, []error) {
	switch o {
	case OverrideAuto, OverrideKeep, OverridePatch, OverrideMinor, OverrideMajor, "":
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidOverride, string(o))}
	}
}

// level returns the fixed level of the override and whether it is fixed.
func (o Override) level() (version.Bump, bool) {
	switch o {
	case OverrideKeep:
		return version.None, true
	case OverridePatch:
		return version.Patch, true
	case OverrideMinor:
		return version.Minor, true
	case OverrideMajor:
		return version.Major, true
	default:
		return version.None, false
	}
}

// IsValid returns whether the policy is one of the known values.
func (p IndependentPolicy) IsValid() (bool, []error) {
	switch p {
	case PolicyExempt, PolicyPropagate, "":
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidIndependentPolicy, string(p))}
	}
}

// Releases reports whether the decision publishes a version: a bumped one or
// a resumed one.
func (d *Decision) Releases() bool {
	return d.Level != version.None || d.Resume
}

// moves reports whether dependents may have to follow the decision.
func (d *Decision) moves() bool {
	return d.Next.GreaterThan(d.Current) || d.Resume
}

// Bumped returns the decisions that release a version, sorted by name.
func (r *Result) Bumped() []*Decision {
	var out []*Decision
	for _, name := range r.names {
		if d := r.Decisions[name]; d.Releases() {
			out = append(out, d)
		}
	}
	return out
}

// IsBumped reports whether the named package releases a version.
func (r *Result) IsBumped(name string) bool {
	d, ok := r.Decisions[name]
	return ok && d.Releases()
}

// Planned returns the planned version of every package (current version for
// packages that are not bumped).
func (r *Result) Planned() map[string]*semver.Version {
	out := make(map[string]*semver.Version, len(r.Decisions))
	for name, d := range r.Decisions {
		out[name] = d.Next
	}
	return out
}

// Calculate computes the bump of every package. changes maps package names
// to their classified commits since their last release; missing entries mean
// no commits.
func Calculate(ws *workspace.Workspace, changes map[string][]commit.Classified, opts Options) (*Result, error) {
	if ok, errs := opts.Override.IsValid(); !ok {
		return nil, errors.Join(errs...)
	}
	if ok, errs := opts.DependencyOverride.IsValid(); !ok {
		return nil, errors.Join(errs...)
	}
	if ok, errs := opts.Independent.IsValid(); !ok {
		return nil, errors.Join(errs...)
	}

	r := &Result{Decisions: make(map[string]*Decision, len(ws.Packages)), names: ws.Names()}
	for _, p := range ws.Packages {
		d := &Decision{Package: p, Current: p.Version, Commits: changes[p.Name]}
		d.Level = commit.MaxBump(d.Commits)
		if d.Level != version.None {
			d.Reason = ReasonCommits
		}
		if fixed, ok := opts.Override.level(); ok && opts.selects(p.Name) {
			d.Level = fixed
			d.Reason = ReasonOverride
			if fixed == version.None {
				d.Reason = ReasonNone
			}
		}
		d.Next = version.Apply(p.Version, d.Level, opts.Conservative)
		if d.Level == version.None && slices.Contains(opts.Unpublished, p.Name) {
			d.Resume = true
			d.Reason = ReasonUnpublished
		}
		r.Decisions[p.Name] = d
	}

	r.propagate(opts)
	r.collectUpdates()
	return r, nil
}

func (o Options) selects(name string) bool {
	return len(o.Selected) == 0 || slices.Contains(o.Selected, name)
}

// propagate escalates dependents until a fixed point. Each round can only
// raise levels, and levels are bounded by Major, so the loop terminates.
func (r *Result) propagate(opts Options) {
	depLevel, fixed := opts.DependencyOverride.level()
	if !fixed {
		depLevel = version.Patch
	}

	for changed := true; changed; {
		changed = r.lockstep()
		r.Violations = nil
		for _, name := range r.names {
			d := r.Decisions[name]
			for _, dep := range d.Package.Internal {
				target := r.Decisions[dep.Name]
				if !target.moves() || dep.Requirement.Matches(target.Next) {
					continue
				}
				if d.Level != version.None {
					continue
				}
				exempt := d.Package.Independent && opts.Independent != PolicyPropagate
				if exempt || depLevel == version.None {
					r.Violations = append(r.Violations, Violation{
						Package:     name,
						Dependency:  dep.Name,
						Requirement: dep.Requirement,
						Version:     target.Next,
					})
					continue
				}
				d.Level = depLevel
				d.Reason = ReasonPropagation
				d.Next = version.Apply(d.Current, d.Level, opts.Conservative)
				d.Resume = false
				changed = true
			}
		}
	}
}

// lockstep raises every package inheriting its version from
// [workspace.package] to the highest planned version among them, since they
// share one version field.
func (r *Result) lockstep() bool {
	var top *Decision
	for _, name := range r.names {
		d := r.Decisions[name]
		if d.Package.VersionInherited && d.Level != version.None && (top == nil || d.Next.GreaterThan(top.Next)) {
			top = d
		}
	}
	if top == nil {
		return false
	}

	changed := false
	for _, name := range r.names {
		d := r.Decisions[name]
		if !d.Package.VersionInherited || !d.Next.LessThan(top.Next) {
			continue
		}
		if d.Reason == ReasonNone || d.Reason == ReasonUnpublished {
			d.Reason = ReasonWorkspace
		}
		d.Level = version.Max(d.Level, top.Level)
		d.Next = top.Next
		d.Resume = false
		changed = true
	}
	return changed
}

// collectUpdates records the requirement widening of every bumped package.
func (r *Result) collectUpdates() {
	for _, name := range r.names {
		d := r.Decisions[name]
		d.Updates = nil
		if !d.Releases() {
			continue
		}
		for _, dep := range d.Package.Internal {
			target := r.Decisions[dep.Name]
			if dep.Requirement.Matches(target.Next) {
				continue
			}
			d.Updates = append(d.Updates, RequirementUpdate{
				Dependency:    dep,
				From:          dep.Requirement,
				To:            dep.Requirement.Widen(target.Next),
				TargetVersion: target.Next,
			})
		}
	}
}
