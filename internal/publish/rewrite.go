// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"smart-release/internal/bump"
	"smart-release/internal/changelog"
	"smart-release/internal/manifest"
	"smart-release/internal/version"
	"smart-release/internal/workspace"
)

type (
	// FileDiff is the unified diff of one file rewritten for a package.
	FileDiff struct {
		Path string
		Diff string
	}

	// rootManifest is the workspace root manifest. Several packages edit it:
	// a root package, members inheriting a requirement from
	// [workspace.dependencies] and members inheriting [workspace.package]
	// version. Every edit goes through current under mu, so no edit is lost
	// and the file has a single writer.
	rootManifest struct {
		mu      sync.Mutex
		path    string
		current []byte
	}

	// fileChange is one computed file rewrite.
	fileChange struct {
		path   string
		before []byte
		after  []byte
	}
)

// rewrite computes and, unless dry-running, writes the manifest and changelog
// of the package. It returns the requirements it wrote, by manifest key.
func (e *Executor) rewrite(d *bump.Decision, out *Outcome) (map[string]version.Requirement, error) {
	p := d.Package
	if err := e.verifyRequirements(d); err != nil {
		return nil, err
	}
	written := make(map[string]version.Requirement, len(d.Updates))
	for _, u := range d.Updates {
		written[u.Dependency.Key] = u.To
	}

	var changes []fileChange
	if p.ManifestPath != e.root.path {
		doc, err := manifest.Load(p.ManifestPath)
		if err != nil {
			return nil, &ManifestWriteError{Package: p.Name, Path: p.ManifestPath, Err: err}
		}
		inherited, err := editManifest(doc, d)
		if err != nil {
			return nil, &ManifestWriteError{Package: p.Name, Path: p.ManifestPath, Err: err}
		}
		changes = append(changes, fileChange{path: p.ManifestPath, before: doc.Original(), after: doc.Bytes()})

		if len(inherited) > 0 || p.VersionInherited {
			if err := e.rewriteRoot(p, out, func(root *manifest.Document) error {
				return editRoot(root, d, inherited)
			}); err != nil {
				return nil, err
			}
		}
	} else if err := e.rewriteRoot(p, out, func(root *manifest.Document) error {
		inherited, err := editManifest(root, d)
		if err != nil {
			return err
		}
		return editRoot(root, d, inherited)
	}); err != nil {
		return nil, err
	}

	// A resumed release keeps the changelog section written when its version
	// was prepared.
	if !d.Resume {
		existing, err := os.ReadFile(p.ChangelogPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ChangelogWriteError{Package: p.Name, Path: p.ChangelogPath, Err: err}
		}
		section := ChangelogSection(d, e.date())
		changes = append(changes, fileChange{path: p.ChangelogPath, before: existing, after: changelog.Merge(existing, section, d.Current)})
	}

	for _, c := range changes {
		if err := e.apply(c, out); err != nil {
			if c.path == p.ChangelogPath {
				return nil, &ChangelogWriteError{Package: p.Name, Path: c.path, Err: err}
			}
			return nil, &ManifestWriteError{Package: p.Name, Path: c.path, Err: err}
		}
	}
	return written, nil
}

// editManifest sets the package version, unless inherited, and the widened
// requirements declared in doc. It returns the updates whose requirement is
// inherited from [workspace.dependencies].
func editManifest(doc *manifest.Document, d *bump.Decision) ([]bump.RequirementUpdate, error) {
	if !d.Package.VersionInherited {
		if err := doc.SetPackageVersion(d.Next.String()); err != nil {
			return nil, err
		}
	}
	var inherited []bump.RequirementUpdate
	for _, u := range d.Updates {
		err := doc.SetDependencyRequirement(u.Dependency.Table, u.Dependency.Key, u.To.String())
		switch {
		case errors.Is(err, manifest.ErrInherited):
			inherited = append(inherited, u)
		case err != nil:
			return nil, err
		}
	}
	return inherited, nil
}

// editRoot applies the workspace-level edits of d to the root manifest: the
// shared [workspace.package] version and inherited requirements.
func editRoot(root *manifest.Document, d *bump.Decision, inherited []bump.RequirementUpdate) error {
	if d.Package.VersionInherited {
		if err := root.SetWorkspacePackageVersion(d.Next.String()); err != nil {
			return err
		}
	}
	for _, u := range inherited {
		if err := root.SetDependencyRequirement([]string{"workspace", "dependencies"}, u.Dependency.Key, u.To.String()); err != nil {
			return err
		}
	}
	return nil
}

// rewriteRoot applies edit to the root manifest as left by earlier edits of
// this run and writes the result. A failed edit leaves the shared state
// untouched.
func (e *Executor) rewriteRoot(p *workspace.Package, out *Outcome, edit func(*manifest.Document) error) error {
	r := e.root
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		src, err := os.ReadFile(r.path)
		if err != nil {
			return &ManifestWriteError{Package: p.Name, Path: r.path, Err: err}
		}
		r.current = src
	}
	doc, err := manifest.Parse(slices.Clone(r.current))
	if err != nil {
		return &ManifestWriteError{Package: p.Name, Path: r.path, Err: err}
	}
	if err := edit(doc); err != nil {
		return &ManifestWriteError{Package: p.Name, Path: r.path, Err: err}
	}
	after := doc.Bytes()
	if err := e.apply(fileChange{path: r.path, before: r.current, after: after}, out); err != nil {
		return &ManifestWriteError{Package: p.Name, Path: r.path, Err: err}
	}
	r.current = after
	return nil
}

// verifyRequirements checks that every publish-relevant internal requirement,
// after widening, accepts the planned version of its dependency.
func (e *Executor) verifyRequirements(d *bump.Decision) error {
	for _, dep := range d.Package.Internal {
		if !dep.PublishRelevant() {
			continue
		}
		req := dep.Requirement
		if i := slices.IndexFunc(d.Updates, func(u bump.RequirementUpdate) bool {
			return u.Dependency.Key == dep.Key && slices.Equal(u.Dependency.Table, dep.Table)
		}); i >= 0 {
			req = d.Updates[i].To
		}
		planned, ok := e.planned[dep.Name]
		if !ok || req.Matches(planned) {
			continue
		}
		return &RequirementMismatchError{
			Package:     d.Package.Name,
			Dependency:  dep.Name,
			Requirement: req,
			Version:     planned,
		}
	}
	return nil
}

// apply records the diff of c and writes it unless dry-running.
func (e *Executor) apply(c fileChange, out *Outcome) error {
	if bytes.Equal(c.before, c.after) {
		return nil
	}
	rel, err := filepath.Rel(e.ws.Root, c.path)
	if err != nil {
		rel = c.path
	}
	rel = filepath.ToSlash(rel)
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(c.before),
		B:        splitLines(c.after),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return fmt.Errorf("computing diff: %w", err)
	}
	out.Diffs = append(out.Diffs, FileDiff{Path: rel, Diff: diff})

	if e.settings.DryRun {
		return nil
	}
	if err := WriteFile(c.path, c.after); err != nil {
		return err
	}
	out.written = append(out.written, c.path)
	return nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return difflib.SplitLines(string(b))
}

// ChangelogSection builds the changelog section released for d: its commits
// and one entry per internal dependency whose requirement was widened.
func ChangelogSection(d *bump.Decision, date time.Time) changelog.Section {
	return changelog.NewSection(d.Package.Name, d.Next, date, d.Commits, dependencyUpdates(d.Updates))
}

func dependencyUpdates(updates []bump.RequirementUpdate) []changelog.DependencyUpdate {
	var out []changelog.DependencyUpdate
	for _, u := range updates {
		if slices.ContainsFunc(out, func(d changelog.DependencyUpdate) bool { return d.Name == u.Dependency.Name }) {
			continue
		}
		out = append(out, changelog.DependencyUpdate{Name: u.Dependency.Name, Version: u.TargetVersion.String()})
	}
	return out
}

// WriteFile replaces path with data through a temporary file in the same
// directory, so readers never observe a partially written file. The mode of an
// existing file is kept.
func WriteFile(path string, data []byte) (err error) {
	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".smart-release-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("setting mode of %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
