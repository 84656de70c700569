// SPDX-License-Identifier: MPL-2.0

// Package commit classifies commit messages written in the conventional
// commit style and attributes commits to the workspace packages whose files
// they touch.
package commit

import (
	"regexp"
	"strings"

	cc "github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"

	"smart-release/internal/history"
	"smart-release/internal/version"
)

const (
	// Other is any commit that is not a feature, fix or breaking change,
	// including messages that do not parse.
	Other Kind = iota
	// Fix is a `fix:` commit.
	Fix
	// Feature is a `feat:` commit.
	Feature
	// Breaking is any commit marked with `!` or a BREAKING CHANGE footer.
	Breaking
)

// breakingFooter matches the breaking change footer anywhere in the message
// body, in both spellings the convention allows.
var breakingFooter = regexp.MustCompile(`(?im)^BREAKING[ -]CHANGE:\s*(.*)$`)

type (
	// Kind is the classification of a commit, ordered by the bump it implies.
	Kind int

	// Classification is the parsed form of a commit message.
	Classification struct {
		Kind Kind
		// Type is the conventional type as written ("feat", "docs", ...); empty
		// when the message did not parse.
		Type string
		// Scope is the optional scope; empty when absent.
		Scope string
		// Description is the header description, or the subject line for
		// messages that did not parse.
		Description string
		// BreakingNote is the text of a BREAKING CHANGE footer, if any.
		BreakingNote string
	}

	// Classified is a commit together with its classification.
	Classified struct {
		history.Commit
		Classification
	}
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Breaking:
		return "breaking"
	case Feature:
		return "feature"
	case Fix:
		return "fix"
	default:
		return "other"
	}
}

// Bump returns the version bump the kind implies on its own.
func (k Kind) Bump() version.Bump {
	switch k {
	case Breaking:
		return version.Major
	case Feature:
		return version.Minor
	case Fix:
		return version.Patch
	default:
		return version.None
	}
}

func newMachine() cc.Machine {
	return parser.NewMachine(
		parser.WithTypes(cc.TypesFreeForm),
		parser.WithBestEffort(),
	)
}

// Parse classifies a commit message. It never fails: anything that does not
// follow `<type>[(scope)][!]: <description>` is Other and is not examined for
// breaking changes.
func Parse(message string) Classification {
	trimmed := strings.TrimSpace(message)
	subject, _, _ := strings.Cut(trimmed, "\n")
	fallback := Classification{Kind: Other, Description: strings.TrimSpace(subject)}
	if trimmed == "" {
		return fallback
	}

	msg, _ := newMachine().Parse([]byte(trimmed))
	conv, ok := msg.(*cc.ConventionalCommit)
	if !ok || conv == nil || !conv.Ok() {
		return fallback
	}

	c := Classification{
		Kind:        Other,
		Type:        strings.ToLower(conv.Type),
		Description: strings.TrimSpace(conv.Description),
	}
	if conv.Scope != nil {
		c.Scope = strings.TrimSpace(*conv.Scope)
	}

	switch c.Type {
	case "feat":
		c.Kind = Feature
	case "fix":
		c.Kind = Fix
	}

	if m := breakingFooter.FindStringSubmatch(trimmed); m != nil {
		c.Kind = Breaking
		c.BreakingNote = strings.TrimSpace(m[1])
	}
	if conv.IsBreakingChange() {
		c.Kind = Breaking
		if c.BreakingNote == "" {
			c.BreakingNote = breakingNoteFromFooters(conv.Footers)
		}
	}
	return c
}

func breakingNoteFromFooters(footers map[string][]string) string {
	for key, values := range footers {
		k := strings.ToUpper(strings.ReplaceAll(key, "-", " "))
		if k == "BREAKING CHANGE" && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// Classify parses every commit.
func Classify(commits []history.Commit) []Classified {
	out := make([]Classified, len(commits))
	for i, c := range commits {
		out[i] = Classified{Commit: c, Classification: Parse(c.Message)}
	}
	return out
}

// MaxBump returns the highest bump implied by the commits.
func MaxBump(commits []Classified) version.Bump {
	b := version.None
	for _, c := range commits {
		b = version.Max(b, c.Kind.Bump())
	}
	return b
}
