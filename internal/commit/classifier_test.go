// SPDX-License-Identifier: MPL-2.0

package commit

import (
	"context"
	"slices"
	"testing"

	"smart-release/internal/history"
	"smart-release/internal/version"
	"smart-release/internal/workspace"
)

// fakeSource serves a fixed log; Commits(since) returns the prefix of the log
// that precedes since.
type fakeSource struct {
	log     []history.Commit
	markers map[string]history.Marker
	calls   int
}

func (f *fakeSource) Commits(_ context.Context, since string) ([]history.Commit, error) {
	f.calls++
	var out []history.Commit
	for _, c := range f.log {
		if c.Hash == since {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeSource) Markers(context.Context, []string) (map[string]history.Marker, error) {
	return f.markers, nil
}

func testWorkspace(t *testing.T, dirs map[string]string) *workspace.Workspace {
	t.Helper()
	var pkgs []*workspace.Package
	for name, dir := range dirs {
		pkgs = append(pkgs, &workspace.Package{Name: name, RelDir: dir, Version: version.MustParse("1.0.0")})
	}
	ws, err := workspace.New("/ws", pkgs...)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return ws
}

func hashes(cs []Classified) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Hash
	}
	return out
}

func TestAttribute_PathPrefixes(t *testing.T) {
	t.Parallel()
	ws := testWorkspace(t, map[string]string{
		"root":    ".",
		"core":    "crates/core",
		"core-io": "crates/core-io",
	})
	commits := []history.Commit{
		{Hash: "c1", Paths: []string{"crates/core/src/lib.rs"}},
		{Hash: "c2", Paths: []string{"crates/core-io/src/lib.rs"}},
		{Hash: "c3", Paths: []string{"README.md"}},
		{Hash: "c4", Paths: []string{"crates/core/Cargo.toml", "crates/core-io/Cargo.toml"}},
	}

	tests := []struct {
		pkg  string
		want []string
	}{
		{"core", []string{"c1", "c4"}},
		{"core-io", []string{"c2", "c4"}},
		{"root", []string{"c3"}},
	}
	for _, tt := range tests {
		p, _ := ws.Package(tt.pkg)
		var got []string
		for _, c := range Attribute(commits, ws, p) {
			got = append(got, c.Hash)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Attribute(%s) = %v, want %v", tt.pkg, got, tt.want)
		}
	}
}

func TestClassifier_Classify(t *testing.T) {
	t.Parallel()
	ws := testWorkspace(t, map[string]string{"a": "a", "b": "b"})
	src := &fakeSource{
		log: []history.Commit{
			{Hash: "h4", Message: "feat(b): shiny", Paths: []string{"b/lib.rs"}},
			{Hash: "h3", Message: "fix: both", Paths: []string{"a/lib.rs", "b/lib.rs"}},
			{Hash: "h2", Message: "feat!: a breaks", Paths: []string{"a/lib.rs"}},
			{Hash: "h1", Message: "chore: init", Paths: []string{"a/Cargo.toml", "b/Cargo.toml"}},
		},
		markers: map[string]history.Marker{
			"a": {Tag: "a-v1.0.0", Hash: "h1", Version: version.MustParse("1.0.0")},
			"b": {Tag: "b-v1.0.0", Hash: "h1", Version: version.MustParse("1.0.0")},
		},
	}
	c := &Classifier{
		Source:   src,
		Released: map[string]map[string]bool{"a": {"h2": true}},
	}

	changes, err := c.Classify(context.Background(), ws)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("packages sharing a marker should share one log walk, got %d walks", src.calls)
	}

	a := changes["a"]
	if !slices.Equal(hashes(a.Commits), []string{"h3"}) {
		t.Errorf("a commits = %v (released h2 must be excluded)", hashes(a.Commits))
	}
	if got := MaxBump(a.Commits); got != version.Patch {
		t.Errorf("a bump = %v, want patch", got)
	}
	b := changes["b"]
	if !slices.Equal(hashes(b.Commits), []string{"h4", "h3"}) {
		t.Errorf("b commits = %v", hashes(b.Commits))
	}
	if b.Marker.Tag != "b-v1.0.0" {
		t.Errorf("b marker = %+v", b.Marker)
	}
	if got := MaxBump(b.Commits); got != version.Minor {
		t.Errorf("b bump = %v, want minor", got)
	}
}

func TestClassifier_NeverReleased(t *testing.T) {
	t.Parallel()
	ws := testWorkspace(t, map[string]string{"a": "a"})
	src := &fakeSource{
		log: []history.Commit{
			{Hash: "h2", Message: "fix: x", Paths: []string{"a/lib.rs"}},
			{Hash: "h1", Message: "chore: init", Paths: []string{"a/Cargo.toml"}},
		},
	}
	changes, err := (&Classifier{Source: src}).Classify(context.Background(), ws)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := hashes(changes["a"].Commits); !slices.Equal(got, []string{"h2", "h1"}) {
		t.Errorf("a commits = %v", got)
	}
	if !changes["a"].Marker.IsZero() {
		t.Errorf("expected zero marker, got %+v", changes["a"].Marker)
	}
}
