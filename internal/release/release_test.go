// SPDX-License-Identifier: MPL-2.0

package release

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/config"
	"smart-release/internal/history"
	"smart-release/internal/issue"
	"smart-release/internal/publish"
	"smart-release/internal/registry"
	"smart-release/internal/testutil"
)

var releaseDate = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

// memRegistry accepts every upload not listed in fail and lists it in its
// index immediately.
type memRegistry struct {
	mu        sync.Mutex
	published []string
	fail      map[string]error
}

func (r *memRegistry) Publish(_ context.Context, a registry.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[a.Name]; err != nil {
		return err
	}
	r.published = append(r.published, a.Name+"@"+a.Version.String())
	return nil
}

func (r *memRegistry) IsVisible(_ context.Context, name string, v *semver.Version) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.published, name+"@"+v.String()), nil
}

// newRepo commits a workspace where a depends on b ^1.0, tags both as
// released, then commits a breaking change to b.
func newRepo(t *testing.T) (string, *testutil.GitRepo) {
	t.Helper()
	dir := t.TempDir()
	g := testutil.NewGitRepo(t, dir)
	initial := g.Commit(t, "chore: initial import", map[string]string{
		"Cargo.toml": "[workspace]\nmembers = [\"a\", \"b\"]\n",
		"a/Cargo.toml": `[package]
name = "a"
version = "0.9.1"

[dependencies]
b = { version = "^1.0", path = "../b" }
`,
		"a/src/lib.rs": "pub fn a() {}\n",
		"b/Cargo.toml": `[package]
name = "b"
version = "1.0.0"
`,
		"b/src/lib.rs": "pub fn b() {}\n",
	})
	g.Tag(t, "a-v0.9.1", initial)
	g.Tag(t, "b-v1.0.0", initial)
	g.Commit(t, "feat!: rename b to b2", map[string]string{"b/src/lib.rs": "pub fn b2() {}\n"})
	return dir, g
}

func TestPipeline_ReleasesDependencyThenDependent(t *testing.T) {
	t.Parallel()
	dir, g := newRepo(t)
	reg := &memRegistry{}

	p := New(Options{Root: dir, Execute: true, Tag: true, Date: releaseDate},
		WithRegistry(reg),
		WithClock(testutil.NewFakeClock(releaseDate, testutil.WithAutoAdvance())),
		WithRunID("run-1"),
	)
	prep, report, err := p.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := prep.Plan.Names(); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("plan = %v, want [b a]", got)
	}
	if report.RunID != "run-1" || !report.OK() {
		t.Fatalf("report = %+v", report)
	}
	if !slices.Equal(reg.published, []string{"b@2.0.0", "a@0.9.2"}) {
		t.Errorf("published = %v", reg.published)
	}

	manifest := testutil.MustReadFile(t, filepath.Join(dir, "a", "Cargo.toml"))
	if !strings.Contains(manifest, `version = "0.9.2"`) || !strings.Contains(manifest, `b = { version = "^2.0", path = "../b" }`) {
		t.Errorf("a/Cargo.toml =\n%s", manifest)
	}
	changes := testutil.MustReadFile(t, filepath.Join(dir, "b", "CHANGELOG.md"))
	if !strings.Contains(changes, "## 2.0.0 (2024-04-02)") || !strings.Contains(changes, "rename b to b2") {
		t.Errorf("b/CHANGELOG.md =\n%s", changes)
	}

	for _, tag := range []string{"b-v2.0.0", "a-v0.9.2"} {
		if _, err := g.Repo.Tag(tag); err != nil {
			t.Errorf("tag %s: %v", tag, err)
		}
	}
	// Tags point at the commit holding the released manifests.
	if got := fileAtTag(t, g, "a-v0.9.2", "a/Cargo.toml"); got != manifest {
		t.Errorf("a/Cargo.toml at a-v0.9.2 =\n%s", got)
	}
	if got := fileAtTag(t, g, "b-v2.0.0", "b/Cargo.toml"); !strings.Contains(got, `version = "2.0.0"`) {
		t.Errorf("b/Cargo.toml at b-v2.0.0 =\n%s", got)
	}
	repo, err := history.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if dirty, err := repo.DirtyFiles(); err != nil || len(dirty) != 0 {
		t.Errorf("DirtyFiles() = %v, %v; release files should be committed", dirty, err)
	}

	// Released packages are not planned again.
	again, err := New(Options{Root: dir}).Prepare(t.Context())
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if again.Plan.Len() != 0 {
		t.Errorf("second plan = %v, want empty", again.Plan.Names())
	}
}

// fileAtTag returns the content of path in the commit tag points at.
func fileAtTag(t *testing.T, g *testutil.GitRepo, tag, path string) string {
	t.Helper()
	ref, err := g.Repo.Tag(tag)
	if err != nil {
		t.Fatalf("tag %s: %v", tag, err)
	}
	c, err := g.Repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("commit of %s: %v", tag, err)
	}
	f, err := c.File(path)
	if err != nil {
		t.Fatalf("%s at %s: %v", path, tag, err)
	}
	content, err := f.Contents()
	if err != nil {
		t.Fatal(err)
	}
	return content
}

func TestPipeline_ResumesAfterFailedUpload(t *testing.T) {
	t.Parallel()
	dir, g := newRepo(t)
	reg := &memRegistry{fail: map[string]error{"b": registry.ErrUnauthorized}}
	run := func() (*Prepared, *publish.Report) {
		t.Helper()
		p := New(Options{Root: dir, Execute: true, Tag: true, Date: releaseDate},
			WithRegistry(reg),
			WithClock(testutil.NewFakeClock(releaseDate, testutil.WithAutoAdvance())),
		)
		prep, report, err := p.Run(t.Context())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return prep, report
	}

	_, first := run()
	if first.Outcome("b").State != publish.Failed || first.Outcome("a").State != publish.Skipped {
		t.Fatalf("first run: b %s, a %s", first.Outcome("b").State, first.Outcome("a").State)
	}
	if got := testutil.MustReadFile(t, filepath.Join(dir, "b", "Cargo.toml")); !strings.Contains(got, `version = "2.0.0"`) {
		t.Fatalf("b/Cargo.toml after the failed run =\n%s", got)
	}

	reg.fail = nil
	prep, second := run()
	if got := prep.Plan.Names(); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("resumed plan = %v, want [b a]", got)
	}
	if b := prep.Result.Decisions["b"]; !b.Resume || b.Next.String() != "2.0.0" {
		t.Errorf("b = %+v, want 2.0.0 resumed", b)
	}
	if !second.OK() || !slices.Equal(reg.published, []string{"b@2.0.0", "a@0.9.2"}) {
		t.Fatalf("second run: ok %v, published %v", second.OK(), reg.published)
	}
	if got := testutil.MustReadFile(t, filepath.Join(dir, "a", "Cargo.toml")); !strings.Contains(got, `b = { version = "^2.0", path = "../b" }`) {
		t.Errorf("a/Cargo.toml =\n%s", got)
	}
	if changes := testutil.MustReadFile(t, filepath.Join(dir, "b", "CHANGELOG.md")); strings.Count(changes, "## 2.0.0") != 1 {
		t.Errorf("b/CHANGELOG.md =\n%s", changes)
	}
	if _, err := g.Repo.Tag("b-v2.0.0"); err != nil {
		t.Errorf("tag b-v2.0.0: %v", err)
	}

	again, err := New(Options{Root: dir}, WithRegistry(reg)).Prepare(t.Context())
	if err != nil {
		t.Fatalf("third Prepare: %v", err)
	}
	if again.Plan.Len() != 0 {
		t.Errorf("third plan = %v, want empty", again.Plan.Names())
	}
}

func TestPipeline_DirtyWorktree(t *testing.T) {
	t.Parallel()
	dir, _ := newRepo(t)
	testutil.MustWriteFiles(t, dir, map[string]string{"a/src/lib.rs": "pub fn a() { todo!() }\n"})

	tests := []struct {
		name       string
		allowDirty bool
		execute    bool
		wantErr    bool
	}{
		{name: "refused", execute: true, wantErr: true},
		{name: "dry run ignores the tree"},
		{name: "allowed", execute: true, allowDirty: true},
	}
	// Subtests share the repository, so they run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &memRegistry{}
			p := New(Options{Root: dir, Execute: tt.execute, AllowDirty: tt.allowDirty, Date: releaseDate}, WithRegistry(reg))
			_, _, err := p.Run(t.Context())
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				return
			}
			if !errors.Is(err, history.ErrDirtyWorktree) || !strings.Contains(err.Error(), "a/src/lib.rs") {
				t.Fatalf("err = %v, want ErrDirtyWorktree naming a/src/lib.rs", err)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || !ae.HasSuggestions() {
				t.Errorf("err is not actionable: %v", err)
			}
			if len(reg.published) != 0 {
				t.Errorf("published %v", reg.published)
			}
		})
	}
}

func TestPipeline_SkipDependencies(t *testing.T) {
	t.Parallel()
	dir, _ := newRepo(t)

	prep, err := New(Options{Root: dir, Packages: []string{"a"}, Bump: "patch", SkipDependencies: true}).Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := prep.Plan.Names(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("plan = %v, want [a] without b's breaking change", got)
	}
	if a := prep.Result.Decisions["a"]; a.Next.String() != "0.9.2" {
		t.Errorf("a next = %s, want 0.9.2", a.Next)
	}
}

func TestPipeline_DryRunWritesNothing(t *testing.T) {
	t.Parallel()
	dir, _ := newRepo(t)
	before := testutil.MustReadFile(t, filepath.Join(dir, "a", "Cargo.toml"))

	p := New(Options{Root: dir, Date: releaseDate})
	_, report, err := p.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.DryRun || report.Count(publish.Pending) != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Outcome("a").Diffs) == 0 {
		t.Error("dry run should record diffs")
	}
	if after := testutil.MustReadFile(t, filepath.Join(dir, "a", "Cargo.toml")); after != before {
		t.Errorf("dry run modified a/Cargo.toml:\n%s", after)
	}
}

func TestPipeline_SelectionAndOverrides(t *testing.T) {
	t.Parallel()
	dir, _ := newRepo(t)

	cfg := config.DefaultConfig()
	cfg.ConservativePreRelease = false
	prep, err := New(Options{Root: dir, Config: cfg, Packages: []string{"a"}, Bump: "minor"}).Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	a := prep.Result.Decisions["a"]
	if a.Next.String() != "0.10.0" {
		t.Errorf("a next = %s, want 0.10.0", a.Next)
	}
	if got := prep.Plan.Names(); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("plan = %v, want b pulled in as a dependency of a", got)
	}
}

func TestPipeline_PrepareErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) Options
		is    error
	}{
		{
			name: "unknown package",
			setup: func(t *testing.T) Options {
				dir, _ := newRepo(t)
				return Options{Root: dir, Packages: []string{"zzz"}}
			},
			is: ErrUnknownPackage,
		},
		{
			name: "detached head",
			setup: func(t *testing.T) Options {
				dir, g := newRepo(t)
				head, err := g.Repo.Head()
				if err != nil {
					t.Fatal(err)
				}
				g.Detach(t, head.Hash().String())
				return Options{Root: dir}
			},
			is: history.ErrDetachedHead,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.setup(t)).Prepare(t.Context())
			if !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || !ae.HasSuggestions() {
				t.Errorf("err is not actionable: %v", err)
			}
		})
	}
}

func TestPipeline_Changelogs(t *testing.T) {
	t.Parallel()
	dir, _ := newRepo(t)
	p := New(Options{Root: dir, Date: releaseDate})
	prep, err := p.Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	previews, err := p.Changelogs(prep)
	if err != nil {
		t.Fatalf("Changelogs: %v", err)
	}
	if len(previews) != 2 || previews[0].Package != "b" || !previews[0].Changed {
		t.Fatalf("previews = %+v", previews)
	}
	if !strings.Contains(previews[1].Section, "Update `b` to 2.0.0") {
		t.Errorf("a section =\n%s", previews[1].Section)
	}

	written, err := WriteChangelogs(previews)
	if err != nil || len(written) != 2 {
		t.Fatalf("WriteChangelogs = %v, %v", written, err)
	}
	again, err := p.Changelogs(prep)
	if err != nil {
		t.Fatalf("Changelogs: %v", err)
	}
	for _, pv := range again {
		if pv.Changed {
			t.Errorf("%s changed on the second pass", pv.Package)
		}
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	env := func(token string) func(string) string {
		return func(string) string { return token }
	}
	cfg := config.DefaultConfig().Registry

	reg, err := NewRegistry(cfg, env("secret"), nil, nil)
	if _, ok := reg.(*registry.HTTPClient); err != nil || !ok {
		t.Errorf("http: %T, %v", reg, err)
	}

	badPackage := cfg
	badPackage.PackageCommand = "cargo package ("
	if _, err := NewRegistry(badPackage, env("secret"), nil, nil); err == nil {
		t.Error("an unparsable package command should fail")
	}

	if _, err := NewRegistry(cfg, env(""), nil, nil); !errors.Is(err, registry.ErrUnauthorized) {
		t.Errorf("http without token: %v", err)
	}

	shell := cfg
	shell.Kind = config.RegistryShell
	reg, err = NewRegistry(shell, env(""), nil, nil)
	if _, ok := reg.(*registry.ShellPublisher); err != nil || !ok {
		t.Errorf("shell: %T, %v", reg, err)
	}

	shell.PublishCommand = "cargo publish ("
	if _, err := NewRegistry(shell, env(""), nil, nil); err == nil {
		t.Error("an unparsable command should fail")
	}

	bad := cfg
	bad.Kind = "ftp"
	if _, err := NewRegistry(bad, env("x"), nil, nil); !errors.Is(err, config.ErrInvalidRegistryKind) {
		t.Errorf("unknown kind: %v", err)
	}
}
