// SPDX-License-Identifier: MPL-2.0

package changelog

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"smart-release/internal/version"
)

var (
	headingPattern = regexp.MustCompile(`^\[?v?([0-9][^\s\]]*)\]?(?:\s*[-(]\s*(\d{4}-\d{2}-\d{2})\)?)?`)
	commitsPattern = regexp.MustCompile(`<!--\s*smart-release:commits(?:\s+([^>]*?))?\s*-->`)
)

type (
	// Document is a parsed changelog. Only level-one and level-two headings
	// outside of code blocks delimit sections; everything before the first
	// level-two heading is the preamble.
	Document struct {
		src      []byte
		Sections []ParsedSection
	}

	// ParsedSection is a level-two section found in an existing changelog.
	ParsedSection struct {
		// Heading is the heading text without the leading "## ".
		Heading string
		// Version is nil for "Unreleased" and for headings that are not versions.
		Version *semver.Version
		// Date is the heading date, zero when absent.
		Date       time.Time
		Unreleased bool
		// Start and End delimit the section bytes, heading included, up to the
		// next section heading.
		Start, End int
		// Commits are the ids recorded by a generated section.
		Commits []string
		// Generated reports a commits marker, left by a merge.
		Generated bool
		// GeneratedStart is the offset where generated entries start inside a
		// hand-written section, zero when the section has none.
		GeneratedStart int
	}
)

// Parse reads the sections of a changelog.
func Parse(src []byte) *Document {
	d := &Document{src: src}
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	type boundary struct {
		start   int
		level   int
		heading string
	}
	var bounds []boundary
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		bounds = append(bounds, boundary{
			start:   start,
			level:   h.Level,
			heading: strings.TrimSpace(string(seg.Value(src))),
		})
	}

	for i, b := range bounds {
		if b.level != 2 {
			continue
		}
		end := len(src)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		ps := ParsedSection{Heading: b.heading, Start: b.start, End: end}
		if strings.EqualFold(strings.Trim(b.heading, "[]"), "unreleased") {
			ps.Unreleased = true
		} else if m := headingPattern.FindStringSubmatch(b.heading); m != nil {
			if v, err := version.Parse(m[1]); err == nil {
				ps.Version = v
			}
			if m[2] != "" {
				ps.Date, _ = time.Parse(DateLayout, m[2])
			}
		}
		if m := commitsPattern.FindSubmatch(src[b.start:end]); m != nil {
			ps.Generated = true
			ps.Commits = strings.Fields(string(m[1]))
		}
		if i := bytes.Index(src[b.start:end], []byte(generatedMarker)); i > 0 {
			ps.GeneratedStart = b.start + i
		}
		d.Sections = append(d.Sections, ps)
	}
	return d
}

// Bytes returns the parsed input.
func (d *Document) Bytes() []byte { return d.src }

// Find returns the section for v.
func (d *Document) Find(v *semver.Version) (ParsedSection, bool) {
	for _, s := range d.Sections {
		if s.Version != nil && s.Version.Equal(v) {
			return s, true
		}
	}
	return ParsedSection{}, false
}

// ReleasedCommits returns the commit ids recorded in sections of versions up
// to and including current. Sections above current describe releases that
// were prepared but not yet made, so their commits still count.
func (d *Document) ReleasedCommits(current *semver.Version) map[string]bool {
	out := map[string]bool{}
	for _, s := range d.Sections {
		if s.Version == nil || s.Version.GreaterThan(current) {
			continue
		}
		for _, id := range s.Commits {
			out[id] = true
		}
	}
	return out
}

// Merge inserts the section into the changelog and returns the new content.
//
// A generated section for the same version is replaced in place, keeping its
// date, so regenerating an unchanged release is byte-identical. A
// hand-written section for the same version is kept as written and the
// generated entries are appended to it below a marker; later merges replace
// only what follows the marker. A generated section for a version above
// released (a prepared release that was superseded) is replaced as well.
// Otherwise the section is inserted right after the preamble, before any
// "Unreleased" or versioned section. Bytes outside the replaced range are
// never changed. Empty input starts from DefaultPreamble.
func Merge(existing []byte, s Section, released *semver.Version) []byte {
	if len(bytes.TrimSpace(existing)) == 0 {
		existing = []byte(DefaultPreamble)
	}
	doc := Parse(existing)

	target, found := doc.Find(s.Version)
	if !found && released != nil {
		for _, ps := range doc.Sections {
			if ps.Version != nil && ps.Generated && ps.GeneratedStart == 0 && ps.Version.GreaterThan(released) {
				target, found = ps, true
				break
			}
		}
	}

	if found && (!target.Generated || target.GeneratedStart > 0) {
		var out bytes.Buffer
		if target.GeneratedStart > 0 {
			out.Write(existing[:target.GeneratedStart])
		} else {
			out.Write(bytes.TrimRight(existing[:target.End], " \t\n"))
			out.WriteString("\n\n")
		}
		out.WriteString(generatedMarker)
		out.WriteString("\n")
		out.WriteString(s.body())
		if target.End < len(existing) {
			out.WriteString("\n")
		}
		out.Write(existing[target.End:])
		return out.Bytes()
	}

	if found {
		if target.Version != nil && target.Version.Equal(s.Version) && !target.Date.IsZero() {
			s.Date = target.Date
		}
		var out bytes.Buffer
		out.Write(existing[:target.Start])
		out.WriteString(s.Render())
		if target.End < len(existing) {
			out.WriteString("\n")
		}
		out.Write(existing[target.End:])
		return out.Bytes()
	}

	var out bytes.Buffer
	if len(doc.Sections) > 0 {
		at := doc.Sections[0].Start
		out.Write(existing[:at])
		out.WriteString(s.Render())
		out.WriteString("\n")
		out.Write(existing[at:])
		return out.Bytes()
	}
	out.Write(existing)
	switch {
	case bytes.HasSuffix(existing, []byte("\n\n")):
	case bytes.HasSuffix(existing, []byte("\n")):
		out.WriteString("\n")
	default:
		out.WriteString("\n\n")
	}
	out.WriteString(s.Render())
	return out.Bytes()
}
