// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type (
	// GitRepo is a throwaway git repository for tests, created with go-git so
	// no git binary is needed.
	GitRepo struct {
		Dir  string
		Repo *git.Repository
		// when advances by one minute per commit so log order is stable.
		when time.Time
	}
)

// NewGitRepo initializes an empty repository in dir.
func NewGitRepo(t testing.TB, dir string) *GitRepo {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init git repository: %v", err)
	}
	return &GitRepo{
		Dir:  dir,
		Repo: repo,
		when: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Commit writes files (slash-separated paths relative to the repository
// root) and commits all of them with message. It returns the commit hash.
func (g *GitRepo) Commit(t testing.TB, message string, files map[string]string) string {
	t.Helper()
	MustWriteFiles(t, g.Dir, files)

	wt, err := g.Repo.Worktree()
	if err != nil {
		t.Fatalf("failed to open worktree: %v", err)
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if _, err := wt.Add(filepath.ToSlash(p)); err != nil {
			t.Fatalf("failed to stage %s: %v", p, err)
		}
	}

	g.when = g.when.Add(time.Minute)
	sig := &object.Signature{Name: "Release Bot", Email: "release@example.com", When: g.when}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig, AllowEmptyCommits: true})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// Tag creates a lightweight tag at hash.
func (g *GitRepo) Tag(t testing.TB, name, hash string) {
	t.Helper()
	if _, err := g.Repo.CreateTag(name, plumbing.NewHash(hash), nil); err != nil {
		t.Fatalf("failed to create tag %s: %v", name, err)
	}
}

// Detach checks out hash without a branch.
func (g *GitRepo) Detach(t testing.TB, hash string) {
	t.Helper()
	wt, err := g.Repo.Worktree()
	if err != nil {
		t.Fatalf("failed to open worktree: %v", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(hash)}); err != nil {
		t.Fatalf("failed to detach HEAD: %v", err)
	}
}
