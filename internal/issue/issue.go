// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const docsURL = "https://doc.rust-lang.org/cargo/reference/"

// Issue kinds, one per failure a release run can report.
const (
	ConfigLoadFailedId Id = iota + 1
	WorkspaceInvalidId
	DependencyCycleId
	DetachedHeadId
	ExcludedDependencyId
	ManifestWriteFailedId
	ChangelogWriteFailedId
	RequirementMismatchId
	PublishFailedId
	UnauthorizedId
	VisibilityTimeoutId
	DependencySkippedId
	RunAbortedId
	DirtyWorktreeId
)

type (
	// Id identifies an issue kind.
	Id int

	// MarkdownMsg is guidance text in Markdown.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string

	// Issue is the guidance shown for one failure kind.
	Issue struct {
		id       Id
		title    string
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the issue kind.
func (i *Issue) Id() Id { return i.id }

// Title returns a one-line summary.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the guidance text.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Markdown returns the full guidance document.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(i.title)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(string(i.mdMsg)))
	if len(i.docLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("\n- <")
			sb.WriteString(string(link))
			sb.WriteString(">")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// Render renders the guidance with a glamour style such as "dark", "light",
// "notty" or "auto".
func (i *Issue) Render(style string) (string, error) {
	return render(i.Markdown(), style)
}

// Get returns the issue of kind id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// Values returns every issue ordered by kind.
func Values() []*Issue {
	ids := slices.Sorted(maps.Keys(issues))
	out := make([]*Issue, len(ids))
	for i, id := range ids {
		out[i] = issues[id]
	}
	return out
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{}
)

func register(i *Issue) {
	issues[i.id] = i
}

func init() {
	register(&Issue{
		id:    ConfigLoadFailedId,
		title: "Configuration could not be loaded",
		mdMsg: `
The configuration file is not valid CUE or does not match the schema.

## Things you can try
- Print the effective configuration:
~~~
$ smart-release config show
~~~
- Remove unknown fields; every field of ` + "`smart-release.cue`" + ` is optional.
- Durations are strings such as ` + "`\"2s\"`" + ` or ` + "`\"10m\"`" + `.`,
	})
	register(&Issue{
		id:    WorkspaceInvalidId,
		title: "Workspace metadata is invalid",
		mdMsg: `
A manifest could not be read, or the workspace declares the same package twice.

## Things you can try
- Run ` + "`cargo metadata --no-deps`" + ` to see how cargo reads the workspace.
- Check that every member has a ` + "`[package]`" + ` table with a name and a version.
- Make sure ` + "`workspace.members`" + ` globs do not match the same package twice.`,
		docLinks: []HttpLink{docsURL + "workspaces.html"},
	})
	register(&Issue{
		id:    DependencyCycleId,
		title: "Packages depend on each other in a cycle",
		mdMsg: `
Packages that form a cycle cannot be published in any order. Nothing was written.

## Things you can try
- Break the cycle by moving shared code into a new package.
- A dev-dependency declared with only a ` + "`path`" + ` is not part of the
  publish order; drop its ` + "`version`" + ` if it is only needed for tests.`,
		docLinks: []HttpLink{docsURL + "specifying-dependencies.html#development-dependencies"},
	})
	register(&Issue{
		id:    DetachedHeadId,
		title: "HEAD is detached",
		mdMsg: `
Release tags and changelog entries are derived from the checked-out branch.

## Things you can try
~~~
$ git switch main
~~~`,
	})
	register(&Issue{
		id:    DirtyWorktreeId,
		title: "The working tree has uncommitted changes",
		mdMsg: `
Each wave commits the manifests and changelogs it rewrote before tagging its
packages. Uncommitted changes would end up in or next to that commit.

## Things you can try
~~~
$ git stash
~~~
- Or rerun with ` + "`--allow-dirty`" + ` to release anyway.`,
	})
	register(&Issue{
		id:    ExcludedDependencyId,
		title: "A selected package depends on an excluded release",
		mdMsg: `
The package needs its dependency's new version, but the dependency was excluded.

## Things you can try
- Drop the ` + "`--exclude`" + ` for the dependency.
- Exclude the dependent package as well.`,
	})
	register(&Issue{
		id:    ManifestWriteFailedId,
		title: "A manifest could not be updated",
		mdMsg: `
The new version or a widened requirement could not be written to ` + "`Cargo.toml`" + `.

## Things you can try
- Check file permissions in the package directory.
- A version inherited with ` + "`version.workspace = true`" + ` is set in the root manifest's
  ` + "`[workspace.package]`" + ` table; release such packages together.`,
		docLinks: []HttpLink{docsURL + "workspaces.html#the-package-table"},
	})
	register(&Issue{
		id:    ChangelogWriteFailedId,
		title: "A changelog could not be updated",
		mdMsg: `
## Things you can try
- Check file permissions of the changelog.
- Preview the generated section:
~~~
$ smart-release changelog <package>
~~~`,
	})
	register(&Issue{
		id:    RequirementMismatchId,
		title: "A requirement excludes the planned version",
		mdMsg: `
After widening, a dependency requirement still does not accept the version
about to be published, so the package would not build against it.

## Things you can try
- Relax the requirement in ` + "`Cargo.toml`" + ` (for example ` + "`=1.2.0`" + ` to ` + "`1.2`" + `).
- Use ` + "`--bump-dependencies keep`" + ` only when the requirement is already correct.`,
		docLinks: []HttpLink{docsURL + "specifying-dependencies.html"},
	})
	register(&Issue{
		id:    PublishFailedId,
		title: "Upload failed",
		mdMsg: `
The registry did not accept the package after every retry.

## Things you can try
- Check the registry status page and retry the run; published packages are skipped.
- Increase ` + "`retry.max_attempts`" + ` or ` + "`retry.max_delay`" + ` in ` + "`smart-release.cue`" + `.`,
		docLinks: []HttpLink{docsURL + "publishing.html"},
	})
	register(&Issue{
		id:    UnauthorizedId,
		title: "The registry rejected the credentials",
		mdMsg: `
## Things you can try
- Export the token named by ` + "`registry.token_env`" + ` (default ` + "`CARGO_REGISTRY_TOKEN`" + `).
- Make sure the token has the ` + "`publish-update`" + ` scope for existing crates.`,
		docLinks: []HttpLink{docsURL + "publishing.html#before-your-first-publish"},
	})
	register(&Issue{
		id:    VisibilityTimeoutId,
		title: "Published version did not appear in the index",
		mdMsg: `
The upload succeeded but the index did not list the version in time, so
dependent packages were not published.

## Things you can try
- Wait for the index to catch up, then run the release again.
- Increase ` + "`visibility.max_wait`" + ` in ` + "`smart-release.cue`" + `.`,
	})
	register(&Issue{
		id:    DependencySkippedId,
		title: "Packages were skipped",
		mdMsg: `
A package was not released because one of its dependencies failed or was skipped.
Fix the failed dependency and run the release again.`,
	})
	register(&Issue{
		id:    RunAbortedId,
		title: "Release stopped after a failed wave",
		mdMsg: `
In strict mode no later wave starts once a package fails.

## Things you can try
- Fix the failure and run the release again.
- Use ` + "`--best-effort`" + ` to keep releasing packages unaffected by the failure.`,
	})
}
