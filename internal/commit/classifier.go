// SPDX-License-Identifier: MPL-2.0

package commit

import (
	"context"
	"fmt"
	"strings"

	"smart-release/internal/history"
	"smart-release/internal/workspace"
)

type (
	// Classifier collects the classified commits of every package since its
	// last release marker.
	Classifier struct {
		// Source provides the log and the release markers.
		Source history.Source
		// Released maps package names to commit ids already recorded in a
		// released changelog section. Such commits are excluded so re-runs
		// never count them twice.
		Released map[string]map[string]bool
	}

	// Changes is the classifier output for one package.
	Changes struct {
		Package string
		// Marker is the last release, zero when the package was never released.
		Marker history.Marker
		// Commits are newest first.
		Commits []Classified
	}
)

// Classify returns the changes of every workspace package, keyed by name.
func (c *Classifier) Classify(ctx context.Context, ws *workspace.Workspace) (map[string]*Changes, error) {
	markers, err := c.Source.Markers(ctx, ws.Names())
	if err != nil {
		return nil, fmt.Errorf("load release markers: %w", err)
	}

	// Packages sharing a marker (typically "never released") share one log walk.
	logs := map[string][]history.Commit{}
	result := make(map[string]*Changes, len(ws.Packages))
	for _, p := range ws.Packages {
		marker := markers[p.Name]
		log, ok := logs[marker.Hash]
		if !ok {
			if log, err = c.Source.Commits(ctx, marker.Hash); err != nil {
				return nil, fmt.Errorf("read commits of %s: %w", p.Name, err)
			}
			logs[marker.Hash] = log
		}

		released := c.Released[p.Name]
		var selected []history.Commit
		for _, commit := range Attribute(log, ws, p) {
			if !released[commit.Hash] {
				selected = append(selected, commit)
			}
		}
		result[p.Name] = &Changes{
			Package: p.Name,
			Marker:  marker,
			Commits: Classify(selected),
		}
	}
	return result, nil
}

// Attribute selects the commits that touched a file of p. A package at the
// workspace root owns every path not owned by another member, so nested
// members do not leak their commits into it.
func Attribute(commits []history.Commit, ws *workspace.Workspace, p *workspace.Package) []history.Commit {
	var out []history.Commit
	for _, c := range commits {
		if owns(ws, p, c) {
			out = append(out, c)
		}
	}
	return out
}

func owns(ws *workspace.Workspace, p *workspace.Package, c history.Commit) bool {
	for _, path := range c.Paths {
		if owner(ws, path) == p {
			return true
		}
	}
	return false
}

// owner returns the member with the longest directory prefix of path, or nil.
func owner(ws *workspace.Workspace, path string) *workspace.Package {
	var best *workspace.Package
	bestLen := -1
	for _, p := range ws.Packages {
		dir := p.RelDir
		switch {
		case dir == "." || dir == "":
			if bestLen < 0 {
				best, bestLen = p, 0
			}
		case path == dir || strings.HasPrefix(path, dir+"/"):
			if len(dir) > bestLen {
				best, bestLen = p, len(dir)
			}
		}
	}
	return best
}
