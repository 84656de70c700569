// SPDX-License-Identifier: MPL-2.0

// Package changelog renders per-package changelog sections from classified
// commits and merges them into existing changelog files without touching
// hand-written content.
package changelog

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/commit"
	"smart-release/internal/history"
)

const (
	// DateLayout is the date format used in section headings.
	DateLayout = "2006-01-02"

	// DefaultPreamble starts a changelog that does not exist yet.
	DefaultPreamble = "# Changelog\n\n" +
		"All notable changes to this package are documented in this file.\n\n" +
		"The format follows [Keep a Changelog](https://keepachangelog.com/en/1.1.0/), " +
		"and this package adheres to [Semantic Versioning](https://semver.org/spec/v2.0.0.html).\n"

	commitsMarkerPrefix = "<!-- smart-release:commits"
	// generatedMarker separates a hand-written section from the entries
	// generated for the same version below it.
	generatedMarker = "<!-- smart-release:generated -->"
)

// groups lists the rendered kinds in order with their headings.
var groups = []struct {
	kind    commit.Kind
	heading string
}{
	{commit.Breaking, "### ⚠ BREAKING CHANGES"},
	{commit.Feature, "### Features"},
	{commit.Fix, "### Bug Fixes"},
}

type (
	// Entry is one rendered changelog line.
	Entry struct {
		Kind        commit.Kind
		Scope       string
		Description string
		Note        string
		Hash        string
	}

	// DependencyUpdate is an internal dependency moving to a new version.
	DependencyUpdate struct {
		Name    string
		Version string
	}

	// Section is the changelog section of one package release.
	Section struct {
		Package string
		Version *semver.Version
		Date    time.Time
		// Entries are the visible entries, in commit order.
		Entries []Entry
		// Commits records every commit id of the release, including the ones
		// that are not rendered.
		Commits      []string
		Dependencies []DependencyUpdate
	}
)

// NewSection builds the section of pkg at v from its classified commits.
// Commits classified as Other are recorded but not rendered.
func NewSection(pkg string, v *semver.Version, date time.Time, commits []commit.Classified, deps []DependencyUpdate) Section {
	s := Section{Package: pkg, Version: v, Date: date, Dependencies: deps}
	for _, c := range commits {
		s.Commits = append(s.Commits, c.Hash)
		if c.Kind == commit.Other {
			continue
		}
		s.Entries = append(s.Entries, Entry{
			Kind:        c.Kind,
			Scope:       c.Scope,
			Description: c.Description,
			Note:        c.BreakingNote,
			Hash:        c.Hash,
		})
	}
	return s
}

// Heading returns the section heading line without its trailing newline.
func (s Section) Heading() string {
	return fmt.Sprintf("## %s (%s)", s.Version, s.Date.Format(DateLayout))
}

// Render returns the Markdown of the section. The output depends only on
// the section fields, so rendering the same release twice yields identical
// bytes.
func (s Section) Render() string {
	var sb strings.Builder
	sb.WriteString(s.Heading())
	sb.WriteString("\n")

	visible := false
	for _, g := range groups {
		var lines []string
		for _, e := range s.Entries {
			if e.Kind == g.kind {
				lines = append(lines, e.line())
			}
		}
		if len(lines) == 0 {
			continue
		}
		visible = true
		fmt.Fprintf(&sb, "\n%s\n\n", g.heading)
		for _, l := range lines {
			sb.WriteString(l)
		}
	}

	if len(s.Dependencies) > 0 {
		visible = true
		sb.WriteString("\n### Dependencies\n\n")
		for _, d := range s.Dependencies {
			fmt.Fprintf(&sb, "- Update `%s` to %s.\n", d.Name, d.Version)
		}
	}
	if !visible {
		sb.WriteString("\n- No user-facing changes.\n")
	}

	// The marker identifies generated sections, so it is written even when
	// no commit is recorded.
	if len(s.Commits) > 0 {
		fmt.Fprintf(&sb, "\n%s %s -->\n", commitsMarkerPrefix, strings.Join(s.Commits, " "))
	} else {
		fmt.Fprintf(&sb, "\n%s -->\n", commitsMarkerPrefix)
	}
	return sb.String()
}

// body returns the rendered section without its heading.
func (s Section) body() string {
	return strings.TrimPrefix(strings.TrimPrefix(s.Render(), s.Heading()+"\n"), "\n")
}

func (e Entry) line() string {
	var sb strings.Builder
	sb.WriteString("- ")
	if e.Scope != "" {
		fmt.Fprintf(&sb, "**%s:** ", e.Scope)
	}
	sb.WriteString(e.Description)
	if e.Hash != "" {
		fmt.Fprintf(&sb, " (%s)", history.ShortHash(e.Hash))
	}
	sb.WriteString("\n")
	if e.Kind == commit.Breaking && e.Note != "" && e.Note != e.Description {
		fmt.Fprintf(&sb, "  %s\n", e.Note)
	}
	return sb.String()
}
