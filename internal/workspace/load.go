// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"

	"smart-release/internal/version"
)

// metadataKey is the [package.metadata.<key>] table read for per-package settings.
const metadataKey = "smart-release"

type (
	// Option configures Load.
	Option func(*loadOptions)

	loadOptions struct {
		changelogName string
		independent   []string
	}

	manifestFile struct {
		Package           *packageSection          `toml:"package"`
		Workspace         *workspaceSection        `toml:"workspace"`
		Dependencies      map[string]any           `toml:"dependencies"`
		DevDependencies   map[string]any           `toml:"dev-dependencies"`
		BuildDependencies map[string]any           `toml:"build-dependencies"`
		Target            map[string]targetSection `toml:"target"`
	}

	packageSection struct {
		Name        string         `toml:"name"`
		Version     any            `toml:"version"`
		Publish     any            `toml:"publish"`
		Description any            `toml:"description"`
		License     any            `toml:"license"`
		Metadata    map[string]any `toml:"metadata"`
	}

	workspaceSection struct {
		Members      []string       `toml:"members"`
		Exclude      []string       `toml:"exclude"`
		Package      map[string]any `toml:"package"`
		Dependencies map[string]any `toml:"dependencies"`
	}

	targetSection struct {
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	}

	// loader carries the root manifest state while members are read.
	loader struct {
		root      string
		opts      loadOptions
		wsPackage map[string]any
		wsDeps    map[string]rawDependency
	}

	rawDependency struct {
		name     string
		req      string
		path     string
		optional bool
	}
)

// WithChangelogName sets the changelog file name looked up in every member
// directory. Defaults to CHANGELOG.md.
func WithChangelogName(name string) Option {
	return func(o *loadOptions) {
		if name != "" {
			o.changelogName = name
		}
	}
}

// WithIndependent marks the named packages independent regardless of their
// manifest metadata.
func WithIndependent(names ...string) Option {
	return func(o *loadOptions) {
		o.independent = append(o.independent, names...)
	}
}

// Load reads the workspace rooted at root. It never modifies any file.
// Errors are *ConfigurationError values.
func Load(root string, opts ...Option) (*Workspace, error) {
	o := loadOptions{changelogName: DefaultChangelogName}
	for _, opt := range opts {
		opt(&o)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ConfigurationError{Reason: "cannot resolve workspace root", Cause: err}
	}
	rootManifest := filepath.Join(absRoot, ManifestName)
	rootFile, err := readManifest(rootManifest)
	if err != nil {
		return nil, err
	}
	if rootFile.Package == nil && rootFile.Workspace == nil {
		return nil, &ConfigurationError{Manifest: rootManifest, Reason: "neither [package] nor [workspace] is declared"}
	}

	l := &loader{root: absRoot, opts: o, wsDeps: map[string]rawDependency{}}
	var memberDirs []string
	if ws := rootFile.Workspace; ws != nil {
		l.wsPackage = ws.Package
		for _, key := range sortedKeys(ws.Dependencies) {
			raw, err := parseRawDependency(key, ws.Dependencies[key])
			if err != nil {
				return nil, &ConfigurationError{Manifest: rootManifest, Reason: "invalid [workspace.dependencies] entry " + key, Cause: err}
			}
			l.wsDeps[key] = raw
		}
		memberDirs, err = l.expandMembers(ws.Members, ws.Exclude)
		if err != nil {
			return nil, &ConfigurationError{Manifest: rootManifest, Reason: "invalid workspace member pattern", Cause: err}
		}
	}
	if rootFile.Package != nil && !slices.Contains(memberDirs, ".") {
		memberDirs = append([]string{"."}, memberDirs...)
	}

	packages := make([]*Package, 0, len(memberDirs))
	files := make(map[*Package]*manifestFile, len(memberDirs))
	for _, rel := range memberDirs {
		manifestPath := filepath.Join(absRoot, filepath.FromSlash(rel), ManifestName)
		mf := rootFile
		if rel != "." {
			if mf, err = readManifest(manifestPath); err != nil {
				return nil, err
			}
		}
		p, err := l.newPackage(rel, manifestPath, mf)
		if err != nil {
			return nil, err
		}
		packages = append(packages, p)
		files[p] = mf
	}

	w, err := New(absRoot, packages...)
	if err != nil {
		return nil, err
	}
	w.ManifestPath = rootManifest
	for name, raw := range l.wsDeps {
		req, err := version.ParseRequirement(raw.req)
		if err != nil {
			return nil, &ConfigurationError{Manifest: rootManifest, Reason: "invalid requirement for " + name, Cause: err}
		}
		w.InheritedDependencies[name] = req
	}

	for _, p := range w.Packages {
		if err := l.collectDependencies(w, p, files[p]); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func readManifest(manifestPath string) (*manifestFile, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "cannot read manifest", Cause: err}
	}
	var mf manifestFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, &ConfigurationError{
				Manifest: manifestPath,
				Reason:   fmt.Sprintf("unparsable manifest at line %d, column %d", row, col),
				Cause:    err,
			}
		}
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "unparsable manifest", Cause: err}
	}
	return &mf, nil
}

// expandMembers resolves member glob patterns to member directories relative
// to the root, excluding directories matched by an exclude pattern and
// directories without a manifest.
func (l *loader) expandMembers(members, exclude []string) ([]string, error) {
	fsys := os.DirFS(l.root)
	seen := map[string]bool{}
	var dirs []string
	for _, pattern := range members {
		pattern = path.Clean(strings.TrimPrefix(filepath.ToSlash(pattern), "./"))
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || l.excluded(m, exclude) {
				continue
			}
			if _, err := fs.Stat(fsys, path.Join(m, ManifestName)); err != nil {
				continue
			}
			seen[m] = true
			dirs = append(dirs, m)
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

func (l *loader) excluded(dir string, exclude []string) bool {
	for _, pattern := range exclude {
		pattern = path.Clean(strings.TrimPrefix(filepath.ToSlash(pattern), "./"))
		if pattern == dir || strings.HasPrefix(dir, pattern+"/") {
			return true
		}
		if ok, _ := doublestar.Match(pattern, dir); ok {
			return true
		}
	}
	return false
}

func (l *loader) newPackage(rel, manifestPath string, mf *manifestFile) (*Package, error) {
	ps := mf.Package
	if ps == nil {
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "member has no [package] section"}
	}
	if ps.Name == "" {
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "package.name is missing"}
	}

	dir := filepath.Join(l.root, filepath.FromSlash(rel))
	p := &Package{
		Name:          ps.Name,
		ManifestPath:  manifestPath,
		Dir:           dir,
		RelDir:        rel,
		ChangelogPath: filepath.Join(dir, l.opts.changelogName),
		Publish:       true,
	}

	rawVersion, inherited := l.inherit(ps.Version, "version")
	p.VersionInherited = inherited
	versionStr, ok := rawVersion.(string)
	if !ok || versionStr == "" {
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "package.version is missing"}
	}
	v, err := version.Parse(versionStr)
	if err != nil {
		return nil, &ConfigurationError{Manifest: manifestPath, Reason: "package.version is not a semantic version", Cause: err}
	}
	p.Version = v

	publish, _ := l.inherit(ps.Publish, "publish")
	switch pv := publish.(type) {
	case bool:
		p.Publish = pv
	case []any:
		p.Publish = len(pv) > 0
	}
	if desc, _ := l.inherit(ps.Description, "description"); desc != nil {
		p.Description, _ = desc.(string)
	}
	if lic, _ := l.inherit(ps.License, "license"); lic != nil {
		p.License, _ = lic.(string)
	}

	if meta, ok := ps.Metadata[metadataKey].(map[string]any); ok {
		if indep, ok := meta["independent"].(bool); ok {
			p.Independent = indep
		}
	}
	if slices.Contains(l.opts.independent, p.Name) {
		p.Independent = true
	}
	return p, nil
}

// inherit resolves a `field.workspace = true` value against [workspace.package].
func (l *loader) inherit(value any, field string) (any, bool) {
	table, ok := value.(map[string]any)
	if !ok {
		return value, false
	}
	if ws, _ := table["workspace"].(bool); ws {
		return l.wsPackage[field], true
	}
	return nil, false
}

func (l *loader) collectDependencies(w *Workspace, p *Package, mf *manifestFile) error {
	add := func(table []string, kind DependencyKind, deps map[string]any) error {
		for _, key := range sortedKeys(deps) {
			d, err := l.dependency(key, deps[key])
			if err != nil {
				return &ConfigurationError{
					Manifest: p.ManifestPath,
					Reason:   fmt.Sprintf("invalid dependency %q in [%s]", key, strings.Join(table, ".")),
					Cause:    err,
				}
			}
			d.Kind = kind
			d.Table = table
			if w.IsMember(d.Name) && d.Name != p.Name {
				p.Internal = append(p.Internal, d)
			} else {
				p.External = append(p.External, d)
			}
		}
		return nil
	}

	if err := add([]string{string(KindNormal)}, KindNormal, mf.Dependencies); err != nil {
		return err
	}
	if err := add([]string{string(KindDev)}, KindDev, mf.DevDependencies); err != nil {
		return err
	}
	if err := add([]string{string(KindBuild)}, KindBuild, mf.BuildDependencies); err != nil {
		return err
	}
	for _, cfg := range sortedKeys(mf.Target) {
		ts := mf.Target[cfg]
		for _, kt := range []struct {
			kind DependencyKind
			deps map[string]any
		}{
			{KindNormal, ts.Dependencies},
			{KindDev, ts.DevDependencies},
			{KindBuild, ts.BuildDependencies},
		} {
			if err := add([]string{"target", cfg, string(kt.kind)}, kt.kind, kt.deps); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) dependency(key string, value any) (Dependency, error) {
	d := Dependency{Key: key}
	if table, ok := value.(map[string]any); ok {
		if ws, _ := table["workspace"].(bool); ws {
			raw, ok := l.wsDeps[key]
			if !ok {
				return d, fmt.Errorf("inherits from [workspace.dependencies] but %q is not declared there", key)
			}
			d.Inherited = true
			d.Name = raw.name
			d.Path = raw.path
			d.Optional = raw.optional
			if opt, ok := table["optional"].(bool); ok {
				d.Optional = opt
			}
			req, err := version.ParseRequirement(raw.req)
			if err != nil {
				return d, err
			}
			d.Requirement = req
			return d, nil
		}
	}

	raw, err := parseRawDependency(key, value)
	if err != nil {
		return d, err
	}
	req, err := version.ParseRequirement(raw.req)
	if err != nil {
		return d, err
	}
	d.Name = raw.name
	d.Path = raw.path
	d.Optional = raw.optional
	d.Requirement = req
	return d, nil
}

// parseRawDependency reads a dependency in string form ("1.0") or table form
// ({ version = "1.0", path = "../b", package = "real-name" }).
func parseRawDependency(key string, value any) (rawDependency, error) {
	raw := rawDependency{name: key}
	switch v := value.(type) {
	case string:
		raw.req = v
	case map[string]any:
		if s, ok := v["version"]; ok {
			str, ok := s.(string)
			if !ok {
				return raw, errors.New("version must be a string")
			}
			raw.req = str
		}
		raw.path, _ = v["path"].(string)
		raw.optional, _ = v["optional"].(bool)
		if pkg, ok := v["package"].(string); ok && pkg != "" {
			raw.name = pkg
		}
	default:
		return raw, fmt.Errorf("unsupported dependency value of type %T", value)
	}
	return raw, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
