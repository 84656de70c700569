// SPDX-License-Identifier: MPL-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/mod/semver"

	"smart-release/internal/version"
)

type (
	// Repository is a Source backed by a git repository read with go-git.
	Repository struct {
		repo *git.Repository
		// prefix is the workspace root relative to the repository root,
		// slash separated with a trailing slash, or empty when they match.
		prefix string
		single bool
		logger *log.Logger
	}

	// Option configures a Repository.
	Option func(*Repository)
)

// WithLogger sets the logger used for warnings about skipped commits.
func WithLogger(l *log.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSinglePackage makes markers use the bare "v<version>" tag form.
func WithSinglePackage(single bool) Option {
	return func(r *Repository) { r.single = single }
}

// Open opens the repository containing workspaceRoot, searching parent
// directories for the .git directory.
func Open(workspaceRoot string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repository at %s: %w", abs, err)
	}

	r := &Repository{
		repo:   repo,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "history"}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if wt, err := repo.Worktree(); err == nil {
		repoRoot, _ := filepath.EvalSymlinks(wt.Filesystem.Root())
		wsRoot, _ := filepath.EvalSymlinks(abs)
		if rel, err := filepath.Rel(repoRoot, wsRoot); err == nil && rel != "." {
			r.prefix = filepath.ToSlash(rel) + "/"
		}
	}
	return r, nil
}

// head returns the HEAD commit, nil for an unborn HEAD, or ErrDetachedHead.
func (r *Repository) head() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return nil, ErrDetachedHead
	}
	return r.repo.CommitObject(ref.Hash())
}

// Commits implements Source.
func (r *Repository) Commits(ctx context.Context, since string) ([]Commit, error) {
	head, err := r.head()
	if err != nil || head == nil {
		return nil, err
	}

	excluded := map[plumbing.Hash]bool{}
	if since != "" {
		iter, err := r.repo.Log(&git.LogOptions{From: plumbing.NewHash(since)})
		if err != nil {
			return nil, fmt.Errorf("walk history from %s: %w", ShortHash(since), err)
		}
		err = iter.ForEach(func(c *object.Commit) error {
			excluded[c.Hash] = true
			return ctx.Err()
		})
		if err != nil {
			return nil, err
		}
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk history: %w", err)
		}
		if excluded[c.Hash] {
			continue
		}
		if !utf8.ValidString(c.Message) {
			r.logger.Warn("skipping commit with non-UTF-8 message", "commit", ShortHash(c.Hash.String()))
			continue
		}
		paths, err := r.touchedPaths(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("diff commit %s: %w", ShortHash(c.Hash.String()), err)
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Paths:   paths,
			Time:    c.Committer.When,
		})
	}
	return commits, nil
}

// touchedPaths diffs c against its first parent. A root commit touches all
// of its files. Paths outside the workspace are dropped.
func (r *Repository) touchedPaths(ctx context.Context, c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	var paths []string
	add := func(p string) {
		if p == "" {
			return
		}
		if r.prefix != "" {
			if !strings.HasPrefix(p, r.prefix) {
				return
			}
			p = strings.TrimPrefix(p, r.prefix)
		}
		paths = append(paths, p)
	}

	if c.NumParents() == 0 {
		err := tree.Files().ForEach(func(f *object.File) error {
			add(f.Name)
			return nil
		})
		return paths, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := parentTree.DiffContext(ctx, tree)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		add(ch.From.Name)
		if ch.To.Name != ch.From.Name {
			add(ch.To.Name)
		}
	}
	return paths, nil
}

// Markers implements Source. For each package the tag with the highest
// version among those reachable from HEAD wins.
func (r *Repository) Markers(ctx context.Context, names []string) (map[string]Marker, error) {
	head, err := r.head()
	if err != nil || head == nil {
		return map[string]Marker{}, err
	}

	refs, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer refs.Close()

	markers := map[string]Marker{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tag := ref.Name().Short()
		pkg, v, ok := r.parseTag(tag, names)
		if !ok {
			return nil
		}
		if prev, seen := markers[pkg]; seen && semver.Compare("v"+prev.Version.String(), "v"+v) >= 0 {
			return nil
		}
		c, err := r.peel(ref)
		if err != nil {
			r.logger.Warn("ignoring tag that does not point to a commit", "tag", tag, "error", err)
			return nil
		}
		reachable, err := c.IsAncestor(head)
		if err != nil {
			return err
		}
		if !reachable {
			return nil
		}
		parsed, err := version.Parse(v)
		if err != nil {
			return nil
		}
		markers[pkg] = Marker{Tag: tag, Hash: c.Hash.String(), Version: parsed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markers, nil
}

// parseTag matches a tag against the marker naming scheme and returns the
// package and the version without its "v" prefix.
func (r *Repository) parseTag(tag string, names []string) (string, string, bool) {
	if r.single && len(names) == 1 {
		rest, ok := strings.CutPrefix(tag, "v")
		if ok && validFull(rest) {
			return names[0], rest, true
		}
	}
	for _, name := range names {
		rest, ok := strings.CutPrefix(tag, name+"-v")
		if ok && validFull(rest) {
			return name, rest, true
		}
	}
	return "", "", false
}

// validFull accepts only complete major.minor.patch versions; x/mod/semver
// also accepts "v1" and "v1.2" shorthands, which are not release markers.
func validFull(v string) bool {
	core, _, _ := strings.Cut(v, "-")
	core, _, _ = strings.Cut(core, "+")
	return semver.IsValid("v"+v) && strings.Count(core, ".") == 2
}

// peel resolves a tag reference, annotated or lightweight, to its commit.
func (r *Repository) peel(ref *plumbing.Reference) (*object.Commit, error) {
	if tagObj, err := r.repo.TagObject(ref.Hash()); err == nil {
		return tagObj.Commit()
	}
	return r.repo.CommitObject(ref.Hash())
}

// CreateTag creates a lightweight tag pointing at HEAD. An existing tag that
// already points at HEAD is not an error.
func (r *Repository) CreateTag(_ context.Context, name string) error {
	head, err := r.head()
	if err != nil {
		return err
	}
	if head == nil {
		return errors.New("cannot tag an unborn HEAD")
	}
	if _, err := r.repo.CreateTag(name, head.Hash, nil); err != nil {
		if errors.Is(err, git.ErrTagExists) {
			ref, refErr := r.repo.Tag(name)
			if refErr == nil {
				if c, peelErr := r.peel(ref); peelErr == nil && c.Hash == head.Hash {
					return nil
				}
			}
		}
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// DirtyFiles lists the tracked files, relative to the repository root, whose
// content differs from HEAD in the index or the working tree. Untracked files
// are ignored.
func (r *Repository) DirtyFiles() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("read worktree status: %w", err)
	}
	var dirty []string
	for path, s := range status {
		if s.Worktree == git.Untracked || (s.Worktree == git.Unmodified && s.Staging == git.Unmodified) {
			continue
		}
		dirty = append(dirty, path)
	}
	slices.Sort(dirty)
	return dirty, nil
}

// CommitFiles stages the files at paths and commits them on the current
// branch. Paths are absolute or relative to the working directory. Nothing is
// committed when the paths hold no change.
func (r *Repository) CommitFiles(_ context.Context, message string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := r.head(); err != nil {
		return err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return fmt.Errorf("resolve worktree root: %w", err)
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%s is outside the repository", p)
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	staged := false
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: r.signature()})
	if err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	r.logger.Debug("committed release files", "commit", hash.String()[:7], "files", len(paths))
	return nil
}

// signature is the author of release commits: the configured git user, or a
// fixed identity when none is configured.
func (r *Repository) signature() *object.Signature {
	sig := &object.Signature{Name: "smart-release", Email: "smart-release@localhost", When: time.Now()}
	cfg, err := r.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}
