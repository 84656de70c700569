// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/bump"
	"smart-release/internal/commit"
	"smart-release/internal/dag"
	"smart-release/internal/history"
	"smart-release/internal/plan"
	"smart-release/internal/registry"
	"smart-release/internal/testutil"
	"smart-release/internal/workspace"
)

var releaseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// standardFiles is a workspace with waves [b c] [a e] [d]: b gets a breaking
// change, a depends on b ^1.0 and is bumped only by propagation, d depends
// on a, e depends on c.
var standardFiles = map[string]string{
	"Cargo.toml": "[workspace]\nmembers = [\"a\", \"b\", \"c\", \"d\", \"e\"]\n",
	"b/Cargo.toml": `[package]
name = "b"
version = "1.0.0"
`,
	"a/Cargo.toml": `[package]
name = "a"
version = "0.9.1"

[dependencies]
# keep this comment
b = { version = "^1.0", path = "../b" }
`,
	"c/Cargo.toml": `[package]
name = "c"
version = "0.1.0"
`,
	"d/Cargo.toml": `[package]
name = "d"
version = "1.0.0"

[dependencies]
a = { version = "0.9", path = "../a" }
`,
	"e/Cargo.toml": `[package]
name = "e"
version = "1.0.0"

[dependencies]
c = { version = "0.1", path = "../c" }
`,
	"b/CHANGELOG.md": "# Changelog\n\n## 1.0.0 (2023-01-01)\n\n- initial release\n",
}

var standardCommits = map[string][]string{
	"b": {"feat!: new api"},
	"c": {"fix: c bug"},
	"d": {"fix: d bug"},
	"e": {"fix: e bug"},
}

type fixture struct {
	root   string
	ws     *workspace.Workspace
	graph  *dag.Graph
	plan   *plan.Plan
	result *bump.Result
}

func newFixture(t *testing.T, files map[string]string, messages map[string][]string) *fixture {
	t.Helper()
	root := t.TempDir()
	testutil.MustWriteFiles(t, root, files)

	ws, err := workspace.Load(root)
	if err != nil {
		t.Fatalf("workspace.Load: %v", err)
	}
	g, err := ws.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	changes := map[string][]commit.Classified{}
	i := 0
	for name, msgs := range messages {
		var hs []history.Commit
		for _, m := range msgs {
			i++
			hs = append(hs, history.Commit{Hash: fmt.Sprintf("%040d", i), Message: m})
		}
		changes[name] = commit.Classify(hs)
	}
	r, err := bump.Calculate(ws, changes, bump.Options{Conservative: true})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	p, err := plan.Build(g, r, plan.Options{})
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return &fixture{root: root, ws: ws, graph: g, plan: p, result: r}
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	return testutil.MustReadFile(t, filepath.Join(f.root, filepath.FromSlash(rel)))
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Date = releaseDate
	s.Retry = RetryPolicy{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, Multiplier: 2}
	s.Visibility = VisibilityPolicy{InitialInterval: 5 * time.Second, MaxInterval: time.Minute, MaxWait: 10 * time.Minute}
	return s
}

// fakeRegistry publishes into memory. Uploads succeed unless failures lists
// errors to return first; uploaded versions are visible unless hidden.
type fakeRegistry struct {
	mu        sync.Mutex
	failures  map[string][]error
	always    map[string]error
	hidden    map[string]bool
	published []string
	queries   map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		failures: map[string][]error{},
		always:   map[string]error{},
		hidden:   map[string]bool{},
		queries:  map[string]int{},
	}
}

func (r *fakeRegistry) Publish(_ context.Context, a registry.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.always[a.Name]; err != nil {
		return err
	}
	if errs := r.failures[a.Name]; len(errs) > 0 {
		r.failures[a.Name] = errs[1:]
		return errs[0]
	}
	r.published = append(r.published, a.Name+"@"+a.Version.String())
	return nil
}

func (r *fakeRegistry) IsVisible(_ context.Context, name string, v *semver.Version) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[name]++
	if r.hidden[name] {
		return false, nil
	}
	return slices.Contains(r.published, name+"@"+v.String()), nil
}

func (r *fakeRegistry) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.published)
}

type fakeTagger struct {
	mu   sync.Mutex
	tags []string
}

func (f *fakeTagger) CreateTag(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, name)
	return nil
}

func states(r *Report) map[string]State {
	out := map[string]State{}
	for _, o := range r.Outcomes {
		out[o.Package] = o.State
	}
	return out
}

func TestRun_PublishesWaveByWave(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)
	reg := newFakeRegistry()
	tagger := &fakeTagger{}
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	report, err := New(f.ws, f.graph, reg, testSettings(), WithClock(clock), WithTagger(tagger)).
		Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() || report.Count(Published) != 5 {
		t.Fatalf("states = %v", states(report))
	}

	order := reg.order()
	pos := func(s string) int { return slices.Index(order, s) }
	for _, edge := range [][2]string{{"b@2.0.0", "a@0.9.2"}, {"a@0.9.2", "d@1.0.1"}, {"c@0.1.1", "e@1.0.1"}} {
		if pos(edge[0]) < 0 || pos(edge[1]) < 0 || pos(edge[0]) > pos(edge[1]) {
			t.Errorf("publish order %v: want %s before %s", order, edge[0], edge[1])
		}
	}

	if got := f.read(t, "b/Cargo.toml"); !strings.Contains(got, `version = "2.0.0"`) {
		t.Errorf("b manifest not rewritten:\n%s", got)
	}
	wantA := `[package]
name = "a"
version = "0.9.2"

[dependencies]
# keep this comment
b = { version = "^2.0", path = "../b" }
`
	if got := f.read(t, "a/Cargo.toml"); got != wantA {
		t.Errorf("a manifest:\n%s\nwant:\n%s", got, wantA)
	}

	bLog := f.read(t, "b/CHANGELOG.md")
	if !strings.Contains(bLog, "## 2.0.0 (2024-03-01)") || !strings.Contains(bLog, "## 1.0.0 (2023-01-01)") {
		t.Errorf("b changelog:\n%s", bLog)
	}
	if aLog := f.read(t, "a/CHANGELOG.md"); !strings.Contains(aLog, "- Update `b` to 2.0.0.") {
		t.Errorf("a changelog:\n%s", aLog)
	}

	slices.Sort(tagger.tags)
	if want := []string{"a-v0.9.2", "b-v2.0.0", "c-v0.1.1", "d-v1.0.1", "e-v1.0.1"}; !slices.Equal(tagger.tags, want) {
		t.Errorf("tags = %v, want %v", tagger.tags, want)
	}
}

func TestRun_VisibilityTimeoutSkipsDependents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)
	reg := newFakeRegistry()
	reg.hidden["a"] = true
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	s := testSettings()
	s.BestEffort = true
	report, err := New(f.ws, f.graph, reg, s, WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]State{"b": Published, "c": Published, "a": Failed, "e": Published, "d": Skipped}
	if got := states(report); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	a := report.Outcome("a")
	var vte *VisibilityTimeoutError
	if !errors.As(a.Err, &vte) || !a.Uploaded || errors.Is(a.Err, ErrPublish) {
		t.Errorf("a: err = %v, uploaded = %v", a.Err, a.Uploaded)
	}
	if vte != nil && vte.Waited != 10*time.Minute {
		t.Errorf("waited %s, want exactly the maximum wait", vte.Waited)
	}
	var skip *SkippedError
	if d := report.Outcome("d"); !errors.As(d.Err, &skip) || skip.Dependency != "a" || !errors.Is(d.Err, ErrSkippedDueToDependencyFailure) {
		t.Errorf("d: err = %v", d.Err)
	}
	if report.OK() {
		t.Error("report should not be OK")
	}
	if slices.Contains(reg.order(), "d@1.0.1") {
		t.Error("d must not be uploaded")
	}
}

func TestRun_StrictAbortsAfterFailedWave(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		bestEffort bool
		want       map[string]State
	}{
		{
			name: "strict",
			want: map[string]State{"b": Failed, "c": Published, "a": Skipped, "e": Skipped, "d": Skipped},
		},
		{
			name:       "best effort",
			bestEffort: true,
			want:       map[string]State{"b": Failed, "c": Published, "a": Skipped, "e": Published, "d": Skipped},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, standardFiles, standardCommits)
			reg := newFakeRegistry()
			reg.always["b"] = errors.New("connection reset")
			clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

			s := testSettings()
			s.BestEffort = tt.bestEffort
			report, err := New(f.ws, f.graph, reg, s, WithClock(clock)).Run(context.Background(), f.plan, f.result)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := states(report); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("states = %v, want %v", got, tt.want)
			}

			b := report.Outcome("b")
			var pe *PublishError
			if !errors.As(b.Err, &pe) || pe.Attempts != 3 || b.Uploaded {
				t.Errorf("b: err = %v", b.Err)
			}
			if !tt.bestEffort && !errors.Is(report.Outcome("e").Err, ErrAborted) {
				t.Errorf("e: err = %v, want ErrAborted", report.Outcome("e").Err)
			}
			if !errors.Is(report.Outcome("a").Err, ErrSkippedDueToDependencyFailure) {
				t.Errorf("a: err = %v, want dependency failure", report.Outcome("a").Err)
			}
		})
	}
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, map[string][]string{"b": {"fix: x"}})
	reg := newFakeRegistry()
	reg.failures["b"] = []error{errors.New("502"), errors.New("503")}
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	s := testSettings()
	s.Concurrency = 1
	report, err := New(f.ws, f.graph, reg, s, WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b := report.Outcome("b")
	if b.State != Published || b.Attempts != 3 {
		t.Fatalf("b: state %s attempts %d err %v", b.State, b.Attempts, b.Err)
	}
	if waits := clock.Waits(); len(waits) < 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Errorf("waits = %v, want [2s 4s ...]", waits)
	}
}

func TestRun_UploadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantState    State
		wantAttempts int
	}{
		{name: "already published counts as success", err: fmt.Errorf("b 1.0.1: %w", registry.ErrAlreadyPublished), wantState: Published, wantAttempts: 1},
		{name: "unauthorized is not retried", err: registry.ErrUnauthorized, wantState: Failed, wantAttempts: 1},
		{name: "missing archive is not retried", err: fmt.Errorf("%w: reading packaged crate: no such file", registry.ErrArtifact), wantState: Failed, wantAttempts: 1},
		{name: "transient errors exhaust attempts", err: errors.New("timeout"), wantState: Failed, wantAttempts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, standardFiles, map[string][]string{"b": {"fix: x"}})
			reg := newFakeRegistry()
			reg.always["b"] = tt.err
			if tt.wantState == Published {
				reg.published = append(reg.published, "b@1.0.1")
			}
			clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

			report, err := New(f.ws, f.graph, reg, testSettings(), WithClock(clock)).Run(context.Background(), f.plan, f.result)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			b := report.Outcome("b")
			if b.State != tt.wantState || b.Attempts != tt.wantAttempts {
				t.Errorf("b: state %s attempts %d err %v", b.State, b.Attempts, b.Err)
			}
		})
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)

	report, err := New(f.ws, f.graph, nil, Settings{DryRun: true, Date: releaseDate}).
		Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for rel, content := range standardFiles {
		if got := f.read(t, rel); got != content {
			t.Errorf("%s changed in a dry run", rel)
		}
	}
	if report.Count(Pending) != 5 || !report.OK() || !report.DryRun {
		t.Fatalf("states = %v", states(report))
	}

	a := report.Outcome("a")
	if len(a.Diffs) != 2 || a.Diffs[0].Path != "a/Cargo.toml" || a.Diffs[1].Path != "a/CHANGELOG.md" {
		t.Fatalf("a diffs = %+v", a.Diffs)
	}
	for _, line := range []string{`-b = { version = "^1.0", path = "../b" }`, `+b = { version = "^2.0", path = "../b" }`, `+version = "0.9.2"`} {
		if !strings.Contains(a.Diffs[0].Diff, line) {
			t.Errorf("manifest diff lacks %q:\n%s", line, a.Diffs[0].Diff)
		}
	}
	if !strings.HasPrefix(a.Diffs[1].Diff, "--- a/a/CHANGELOG.md\n+++ b/a/CHANGELOG.md\n") {
		t.Errorf("changelog diff:\n%s", a.Diffs[1].Diff)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)
	reg := newFakeRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(f.ws, f.graph, reg, testSettings()).Run(ctx, f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(Skipped) != 5 || len(reg.order()) != 0 {
		t.Fatalf("states = %v, uploads = %v", states(report), reg.order())
	}
	if !errors.Is(report.Outcome("b").Err, context.Canceled) {
		t.Errorf("b: err = %v", report.Outcome("b").Err)
	}
	if got := f.read(t, "b/Cargo.toml"); got != standardFiles["b/Cargo.toml"] {
		t.Error("cancelled run must not touch files")
	}
}

func TestRun_RequirementMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)
	f.result.Decisions["a"].Updates = nil

	report, err := New(f.ws, f.graph, nil, Settings{DryRun: true, BestEffort: true}).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	a := report.Outcome("a")
	var rme *RequirementMismatchError
	if a.State != Failed || !errors.As(a.Err, &rme) || rme.Dependency != "b" || rme.Version.String() != "2.0.0" {
		t.Errorf("a: state %s err %v", a.State, a.Err)
	}
	if len(a.Diffs) != 0 {
		t.Error("a mismatch must be caught before any rewrite")
	}
}

func TestRun_InheritedRequirementAndUnpublished(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"Cargo.toml": `[workspace]
members = ["a", "b"]

[workspace.dependencies]
b = { version = "1.0", path = "b" }
`,
		"b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"1.0.0\"\n",
		"a/Cargo.toml": `[package]
name = "a"
version = "0.3.0"
publish = false

[dependencies]
b.workspace = true
`,
	}
	f := newFixture(t, files, map[string][]string{"b": {"feat!: break"}})
	reg := newFakeRegistry()
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	report, err := New(f.ws, f.graph, reg, testSettings(), WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("states = %v, a err = %v", states(report), report.Outcome("a").Err)
	}
	if got := f.read(t, "Cargo.toml"); !strings.Contains(got, `b = { version = "2.0", path = "b" }`) {
		t.Errorf("root manifest:\n%s", got)
	}
	if got := f.read(t, "a/Cargo.toml"); !strings.Contains(got, `version = "0.3.1"`) || !strings.Contains(got, "b.workspace = true") {
		t.Errorf("a manifest:\n%s", got)
	}
	if order := reg.order(); !slices.Equal(order, []string{"b@2.0.0"}) {
		t.Errorf("uploads = %v, a has publish = false", order)
	}
}

func TestRun_NeedsRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, standardFiles, standardCommits)
	if _, err := New(f.ws, f.graph, nil, testSettings()).Run(context.Background(), f.plan, f.result); err == nil {
		t.Error("expected an error without a registry")
	}
}

func TestRun_WorkspaceVersionMovesInLockstep(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"Cargo.toml": `[workspace]
members = ["a", "b"]

[workspace.package]
version = "1.0.0"
`,
		"a/Cargo.toml": "[package]\nname = \"a\"\nversion.workspace = true\n",
		"b/Cargo.toml": "[package]\nname = \"b\"\nversion.workspace = true\n",
	}
	f := newFixture(t, files, map[string][]string{"a": {"fix: a bug"}})
	reg := newFakeRegistry()
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	report, err := New(f.ws, f.graph, reg, testSettings(), WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() || report.Count(Published) != 2 {
		t.Fatalf("states = %v, a err = %v", states(report), report.Outcome("a").Err)
	}
	if got := f.read(t, "Cargo.toml"); !strings.Contains(got, `version = "1.0.1"`) {
		t.Errorf("root manifest:\n%s", got)
	}
	for _, rel := range []string{"a/Cargo.toml", "b/Cargo.toml"} {
		if got := f.read(t, rel); got != files[rel] {
			t.Errorf("%s changed:\n%s", rel, got)
		}
	}
	order := reg.order()
	slices.Sort(order)
	if want := []string{"a@1.0.1", "b@1.0.1"}; !slices.Equal(order, want) {
		t.Errorf("uploads = %v, want %v", order, want)
	}
}

func TestRun_RootPackageKeepsEveryRootEdit(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"Cargo.toml": `[package]
name = "app"
version = "0.1.0"

[workspace]
members = ["b"]

[workspace.dependencies]
b = { version = "1.0", path = "b" }

[dependencies]
b.workspace = true
`,
		"b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"1.0.0\"\n",
	}
	f := newFixture(t, files, map[string][]string{"b": {"feat!: break"}})
	reg := newFakeRegistry()
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	report, err := New(f.ws, f.graph, reg, testSettings(), WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("states = %v, app err = %v", states(report), report.Outcome("app").Err)
	}
	root := f.read(t, "Cargo.toml")
	for _, want := range []string{`version = "0.1.1"`, `b = { version = "2.0", path = "b" }`, "b.workspace = true"} {
		if !strings.Contains(root, want) {
			t.Errorf("root manifest lacks %q:\n%s", want, root)
		}
	}
	if order := reg.order(); !slices.Equal(order, []string{"b@2.0.0", "app@0.1.1"}) {
		t.Errorf("uploads = %v", order)
	}
}

// gaugeRegistry records the largest number of uploads in flight at once.
// Uploads block until a second one starts, or for at most a second.
type gaugeRegistry struct {
	*fakeRegistry
	mu       sync.Mutex
	inFlight int
	peak     int
	full     chan struct{}
	once     sync.Once
}

func (r *gaugeRegistry) Publish(ctx context.Context, a registry.Artifact) error {
	r.mu.Lock()
	r.inFlight++
	r.peak = max(r.peak, r.inFlight)
	if r.inFlight == 2 {
		r.once.Do(func() { close(r.full) })
	}
	r.mu.Unlock()

	select {
	case <-r.full:
	case <-time.After(time.Second):
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return r.fakeRegistry.Publish(ctx, a)
}

func TestRun_ConcurrencyBoundsUploads(t *testing.T) {
	t.Parallel()
	files := map[string]string{"Cargo.toml": "[workspace]\nmembers = [\"p1\", \"p2\", \"p3\", \"p4\"]\n"}
	commits := map[string][]string{}
	for _, name := range []string{"p1", "p2", "p3", "p4"} {
		files[name+"/Cargo.toml"] = "[package]\nname = \"" + name + "\"\nversion = \"1.0.0\"\n"
		commits[name] = []string{"fix: " + name + " bug"}
	}
	f := newFixture(t, files, commits)
	reg := &gaugeRegistry{fakeRegistry: newFakeRegistry(), full: make(chan struct{})}
	clock := testutil.NewFakeClock(time.Time{}, testutil.WithAutoAdvance())

	s := testSettings()
	s.Concurrency = 2
	report, err := New(f.ws, f.graph, reg, s, WithClock(clock)).Run(context.Background(), f.plan, f.result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(Published) != 4 {
		t.Fatalf("states = %v", states(report))
	}
	if reg.peak != 2 {
		t.Errorf("uploads in flight peaked at %d, want 2", reg.peak)
	}
}
