// SPDX-License-Identifier: MPL-2.0

// Package history reads the commit log and release markers of the
// repository holding a workspace. Release markers are tags named
// "<package>-v<version>", or "v<version>" in single-package workspaces.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrDetachedHead is returned when HEAD does not point at a branch.
	ErrDetachedHead = errors.New("HEAD is detached; check out a branch first")
	// ErrDirtyWorktree is returned when tracked files have uncommitted
	// changes before a release.
	ErrDirtyWorktree = errors.New("working tree has uncommitted changes")
)

type (
	// Commit is one commit of the log with the paths it touched, relative to
	// the workspace root and slash separated.
	Commit struct {
		Hash    string
		Message string
		Paths   []string
		Time    time.Time
	}

	// Marker is the last release of a package: the tag naming it and the
	// commit it points to. The zero Marker means "never released".
	Marker struct {
		Tag     string
		Hash    string
		Version *semver.Version
	}

	// Source yields the commit log and release markers. It is read-only.
	Source interface {
		// Commits returns the commits reachable from HEAD but not from the
		// since commit, newest first. An empty since returns the whole log.
		Commits(ctx context.Context, since string) ([]Commit, error)
		// Markers returns the latest release marker of each named package
		// that is an ancestor of HEAD. Packages never released are absent.
		Markers(ctx context.Context, names []string) (map[string]Marker, error)
	}
)

// IsZero reports whether the marker denotes "never released".
func (m Marker) IsZero() bool { return m.Hash == "" }

// ShortHash returns the first seven characters of a commit hash.
func ShortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(subject)
}

// Touches reports whether the commit touched any path under dir. The root
// director "." matches every path.
func (c Commit) Touches(dir string) bool {
	if dir == "." || dir == "" {
		return len(c.Paths) > 0
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for _, p := range c.Paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// TagName returns the release tag for a package version. Single-package
// workspaces use the bare "v<version>" form.
func TagName(pkg string, v *semver.Version, single bool) string {
	if single {
		return "v" + v.String()
	}
	return fmt.Sprintf("%s-v%s", pkg, v)
}
