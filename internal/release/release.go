// SPDX-License-Identifier: MPL-2.0

package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"smart-release/internal/bump"
	"smart-release/internal/changelog"
	"smart-release/internal/commit"
	"smart-release/internal/config"
	"smart-release/internal/dag"
	"smart-release/internal/history"
	"smart-release/internal/issue"
	"smart-release/internal/plan"
	"smart-release/internal/publish"
	"smart-release/internal/registry"
	"smart-release/internal/workspace"
)

// ErrUnknownPackage is returned when a selected or excluded name is not a
// workspace member.
var ErrUnknownPackage = errors.New("unknown package")

type (
	// Options are the inputs of one run.
	Options struct {
		// Root is the workspace root directory.
		Root   string
		Config *config.Config
		// Packages restricts the release to these packages and the
		// dependencies they need; empty selects every changed package.
		Packages []string
		Exclude  []string
		// Bump overrides the bump of the selected packages.
		Bump bump.Override
		// BumpDependencies overrides propagation-only bumps.
		BumpDependencies bump.Override
		// Execute performs the release; otherwise the run is a dry run.
		Execute     bool
		SkipPublish bool
		// Tag creates a release tag per published package.
		Tag bool
		// AllowDirty releases from a working tree with uncommitted changes.
		AllowDirty bool
		// SkipDependencies ignores the commits of packages outside Packages,
		// so only the selected packages release on their own changes.
		SkipDependencies bool
		// Date is the changelog date; zero means today.
		Date time.Time
	}

	// Pipeline chains the loader, the graph, the classifier, the bump
	// calculator, the planner and the executor.
	Pipeline struct {
		opts     Options
		runID    string
		logger   *log.Logger
		source    history.Source
		tagger    publish.Tagger
		committer publish.Committer
		registry registry.Registry
		clock    publish.Clock
		getenv   func(string) string
		stdout   io.Writer
		stderr   io.Writer
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)

	// dirtyChecker reports uncommitted changes to tracked files.
	dirtyChecker interface {
		DirtyFiles() ([]string, error)
	}

	// Prepared is everything computed before any file is touched.
	Prepared struct {
		RunID     string
		Workspace *workspace.Workspace
		Graph     *dag.Graph
		Changes   map[string]*commit.Changes
		Result    *bump.Result
		Plan      *plan.Plan
	}
)

// WithLogger sets the logger; logging is discarded by default.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithSource replaces the git repository of the workspace as commit source.
// When src can create tags or commits it is also used for those.
func WithSource(src history.Source) Option {
	return func(p *Pipeline) {
		p.source = src
		if t, ok := src.(publish.Tagger); ok {
			p.tagger = t
		}
		if c, ok := src.(publish.Committer); ok {
			p.committer = c
		}
	}
}

// WithRegistry replaces the registry built from the configuration.
func WithRegistry(r registry.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithClock replaces the system clock of the executor.
func WithClock(c publish.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithEnv replaces os.Getenv for token lookup.
func WithEnv(getenv func(string) string) Option {
	return func(p *Pipeline) { p.getenv = getenv }
}

// WithOutput receives the output of shell publish commands.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Pipeline) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// WithRunID replaces the generated run id.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New creates a Pipeline. A nil Config means config.DefaultConfig().
func New(opts Options, options ...Option) *Pipeline {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	p := &Pipeline{
		opts:   opts,
		runID:  uuid.NewString(),
		logger: log.New(io.Discard),
		getenv: os.Getenv,
		stdout: io.Discard,
		stderr: io.Discard,
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.With("run", p.runID)
	return p
}

// RunID identifies the run in logs and reports.
func (p *Pipeline) RunID() string { return p.runID }

// Prepare computes the plan. It never writes to the workspace, so any error
// it returns leaves the repository untouched.
func (p *Pipeline) Prepare(ctx context.Context) (*Prepared, error) {
	cfg := p.opts.Config
	ws, err := workspace.Load(p.opts.Root,
		workspace.WithChangelogName(cfg.Changelog),
		workspace.WithIndependent(cfg.Independent...),
	)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load workspace").
			WithResource(p.opts.Root).
			WithSuggestion("Run from the directory holding the workspace Cargo.toml or pass --workspace").
			Wrap(err).
			BuildError()
	}
	if err := p.checkNames(ws); err != nil {
		return nil, err
	}

	graph, err := ws.Graph()
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("order packages").
			WithResource(ws.ManifestPath).
			WithSuggestion("Break the dependency cycle between the listed packages").
			Wrap(err).
			BuildError()
	}

	if p.source == nil {
		repo, err := history.Open(ws.Root,
			history.WithLogger(p.logger),
			history.WithSinglePackage(len(ws.Packages) == 1),
		)
		if err != nil {
			return nil, issue.WrapWithContext(err, "open repository", ws.Root)
		}
		p.source = repo
		if p.tagger == nil {
			p.tagger = repo
		}
		if p.committer == nil {
			p.committer = repo
		}
	}

	released, err := releasedCommits(ws)
	if err != nil {
		return nil, err
	}
	classifier := &commit.Classifier{Source: p.source, Released: released}
	changes, err := classifier.Classify(ctx, ws)
	if err != nil {
		ec := issue.NewErrorContext().WithOperation("read commit history").WithResource(ws.Root)
		if errors.Is(err, history.ErrDetachedHead) {
			ec = ec.WithSuggestion("Check out the release branch, e.g. 'git switch main'")
		}
		return nil, ec.Wrap(err).BuildError()
	}

	byName := make(map[string][]commit.Classified, len(changes))
	for name, c := range changes {
		if p.opts.SkipDependencies && len(p.opts.Packages) > 0 && !slices.Contains(p.opts.Packages, name) {
			continue
		}
		byName[name] = c.Commits
	}
	unpublished, err := p.unpublished(ctx, ws, changes)
	if err != nil {
		return nil, err
	}
	result, err := bump.Calculate(ws, byName, bump.Options{
		Unpublished:        unpublished,
		Conservative:       cfg.ConservativePreRelease,
		Override:           p.opts.Bump,
		DependencyOverride: p.opts.BumpDependencies,
		Selected:           p.opts.Packages,
		Independent:        bump.IndependentPolicy(cfg.IndependentPolicy),
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("compute version bumps").
			WithSuggestion("Valid levels are keep, auto, patch, minor and major").
			Wrap(err).
			BuildError()
	}
	for _, v := range result.Violations {
		p.logger.Warn("independent package keeps a requirement excluding the new version",
			"package", v.Package, "dependency", v.Dependency,
			"requirement", v.Requirement.String(), "version", v.Version)
	}

	pl, err := plan.Build(graph, result, plan.Options{Include: p.opts.Packages, Exclude: p.opts.Exclude})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("plan publish order").
			WithSuggestion("Exclude the dependent package too, or release the dependency").
			Wrap(err).
			BuildError()
	}
	p.logger.Debug("plan ready", "packages", pl.Len(), "waves", len(pl.Waves))

	return &Prepared{
		RunID:     p.runID,
		Workspace: ws,
		Graph:     graph,
		Changes:   changes,
		Result:    result,
		Plan:      pl,
	}, nil
}

func (p *Pipeline) checkNames(ws *workspace.Workspace) error {
	for _, name := range slices.Concat(p.opts.Packages, p.opts.Exclude) {
		if !ws.IsMember(name) {
			return issue.NewErrorContext().
				WithOperation("select packages").
				WithResource(name).
				WithSuggestion("Run 'smart-release plan' to list the workspace packages").
				Wrap(fmt.Errorf("%w: %s", ErrUnknownPackage, name)).
				BuildError()
		}
	}
	return nil
}

// releasedCommits collects, per package, the commits its changelog records
// for the current or earlier versions.
func releasedCommits(ws *workspace.Workspace) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool, len(ws.Packages))
	for _, pkg := range ws.Packages {
		src, err := os.ReadFile(pkg.ChangelogPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, issue.WrapWithContext(err, "read changelog", pkg.ChangelogPath)
		}
		out[pkg.Name] = changelog.Parse(src).ReleasedCommits(pkg.Version)
	}
	return out, nil
}

// unpublished lists the packages whose current version was prepared by an
// earlier run but never made it to the registry: the changelog holds a
// generated section for it, no release tag names it and the index does not
// list it. Index errors are logged and the package is left out.
func (p *Pipeline) unpublished(ctx context.Context, ws *workspace.Workspace, changes map[string]*commit.Changes) ([]string, error) {
	var index registry.Index = p.registry
	var names []string
	for _, pkg := range ws.Packages {
		if !pkg.Publish {
			continue
		}
		if c := changes[pkg.Name]; c != nil && c.Marker.Version != nil && c.Marker.Version.Equal(pkg.Version) {
			continue
		}
		src, err := os.ReadFile(pkg.ChangelogPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, issue.WrapWithContext(err, "read changelog", pkg.ChangelogPath)
		}
		if s, ok := changelog.Parse(src).Find(pkg.Version); !ok || !s.Generated {
			continue
		}

		if index == nil {
			index = registry.NewHTTPClient(
				registry.WithIndexURL(p.opts.Config.Registry.IndexURL),
				registry.WithUserAgent(UserAgent),
			)
		}
		visible, err := index.IsVisible(ctx, pkg.Name, pkg.Version)
		if err != nil {
			p.logger.Warn("cannot tell whether the current version was published",
				"package", pkg.Name, "version", pkg.Version, "err", err)
			continue
		}
		if !visible {
			p.logger.Info("resuming unpublished version", "package", pkg.Name, "version", pkg.Version)
			names = append(names, pkg.Name)
		}
	}
	return names, nil
}

// Execute runs the executor over a prepared plan.
func (p *Pipeline) Execute(ctx context.Context, prep *Prepared) (*publish.Report, error) {
	cfg := p.opts.Config
	settings := publish.Settings{
		DryRun:      !p.opts.Execute,
		BestEffort:  cfg.BestEffort(),
		SkipPublish: p.opts.SkipPublish,
		Concurrency: cfg.Concurrency,
		Date:        p.opts.Date,
		Retry: publish.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		Visibility: publish.VisibilityPolicy{
			InitialInterval: cfg.Visibility.InitialInterval,
			MaxInterval:     cfg.Visibility.MaxInterval,
			MaxWait:         cfg.Visibility.MaxWait,
		},
	}

	if !settings.DryRun && !p.opts.AllowDirty && prep.Plan.Len() > 0 {
		if err := p.checkClean(); err != nil {
			return nil, err
		}
	}

	reg := p.registry
	if reg == nil && !settings.DryRun && !settings.SkipPublish && prep.Plan.Len() > 0 {
		var err error
		if reg, err = NewRegistry(cfg.Registry, p.getenv, p.stdout, p.stderr); err != nil {
			return nil, err
		}
	}

	opts := []publish.Option{publish.WithLogger(p.logger)}
	if p.clock != nil {
		opts = append(opts, publish.WithClock(p.clock))
	}
	if p.opts.Tag && p.tagger != nil {
		opts = append(opts, publish.WithTagger(p.tagger))
	}
	if p.committer != nil {
		opts = append(opts, publish.WithCommitter(p.committer))
	}

	p.logger.Info("starting release", "packages", prep.Plan.Len(), "dry-run", settings.DryRun)
	report, err := publish.New(prep.Workspace, prep.Graph, reg, settings, opts...).Run(ctx, prep.Plan, prep.Result)
	if err != nil {
		return nil, err
	}
	report.RunID = prep.RunID
	return report, nil
}

// checkClean refuses to release over uncommitted changes, which the release
// commit would otherwise mix with the rewritten files.
func (p *Pipeline) checkClean() error {
	dc, ok := p.source.(dirtyChecker)
	if !ok {
		return nil
	}
	dirty, err := dc.DirtyFiles()
	if err != nil {
		return issue.WrapWithContext(err, "read worktree status", p.opts.Root)
	}
	if len(dirty) == 0 {
		return nil
	}
	shown := dirty
	if len(shown) > 5 {
		shown = append(slices.Clone(shown[:5]), fmt.Sprintf("and %d more", len(dirty)-5))
	}
	return issue.NewErrorContext().
		WithOperation("check working tree").
		WithResource(p.opts.Root).
		WithSuggestion("Commit or stash the changes, or pass --allow-dirty").
		Wrap(fmt.Errorf("%w: %s", history.ErrDirtyWorktree, strings.Join(shown, ", "))).
		BuildError()
}

// Run prepares and executes in one step.
func (p *Pipeline) Run(ctx context.Context) (*Prepared, *publish.Report, error) {
	prep, err := p.Prepare(ctx)
	if err != nil {
		return nil, nil, err
	}
	report, err := p.Execute(ctx, prep)
	return prep, report, err
}
