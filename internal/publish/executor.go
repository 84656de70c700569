// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"smart-release/internal/bump"
	"smart-release/internal/dag"
	"smart-release/internal/history"
	"smart-release/internal/plan"
	"smart-release/internal/registry"
	"smart-release/internal/workspace"
)

type (
	// Settings configures a run.
	Settings struct {
		// DryRun computes every rewrite as a diff and neither writes files nor
		// contacts the registry.
		DryRun bool
		// BestEffort keeps releasing packages unaffected by a failure. The
		// default (strict) stops after the first wave with a failure.
		BestEffort bool
		// SkipPublish rewrites files without uploading.
		SkipPublish bool
		// Concurrency bounds parallel releases within a wave.
		Concurrency int
		// TargetDir holds packaged crates (target/package/*.crate).
		TargetDir string
		// Date is the changelog date; zero means the clock's current day.
		Date       time.Time
		Retry      RetryPolicy
		Visibility VisibilityPolicy
	}

	// Tagger creates release tags after a package is published.
	Tagger interface {
		CreateTag(ctx context.Context, name string) error
	}

	// Committer records the files rewritten by a wave in one commit, so the
	// release tags of the wave point at the released manifests.
	Committer interface {
		CommitFiles(ctx context.Context, message string, paths []string) error
	}

	// Executor drives a plan against a registry.
	Executor struct {
		ws        *workspace.Workspace
		graph     *dag.Graph
		registry  registry.Registry
		settings  Settings
		clock     Clock
		logger    *log.Logger
		tagger    Tagger
		committer Committer
		root      *rootManifest
		planned   map[string]*semver.Version
	}

	// Option configures an Executor.
	Option func(*Executor)
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Concurrency: 4,
		Retry: RetryPolicy{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
		Visibility: VisibilityPolicy{
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxWait:         10 * time.Minute,
		},
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger; logging is discarded by default.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTagger enables release tags for published packages.
func WithTagger(t Tagger) Option {
	return func(e *Executor) { e.tagger = t }
}

// WithCommitter commits the files rewritten by each wave before its
// packages are tagged.
func WithCommitter(c Committer) Option {
	return func(e *Executor) { e.committer = c }
}

// New creates an Executor for ws. graph is the workspace dependency graph;
// reg may be nil for dry runs and runs that skip publishing.
func New(ws *workspace.Workspace, graph *dag.Graph, reg registry.Registry, s Settings, opts ...Option) *Executor {
	e := &Executor{
		ws:       ws,
		graph:    graph,
		registry: reg,
		settings: s.normalized(ws.Root),
		clock:    systemClock{},
		logger:   log.New(io.Discard),
		root:     &rootManifest{path: ws.ManifestPath},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (s Settings) normalized(root string) Settings {
	d := DefaultSettings()
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.TargetDir == "" {
		s.TargetDir = filepath.Join(root, "target")
	}
	if s.Retry.MaxAttempts < 1 {
		s.Retry.MaxAttempts = 1
	}
	if s.Retry.InitialDelay <= 0 {
		s.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if s.Retry.MaxDelay < s.Retry.InitialDelay {
		s.Retry.MaxDelay = max(d.Retry.MaxDelay, s.Retry.InitialDelay)
	}
	if s.Visibility.InitialInterval <= 0 {
		s.Visibility.InitialInterval = d.Visibility.InitialInterval
	}
	if s.Visibility.MaxInterval < s.Visibility.InitialInterval {
		s.Visibility.MaxInterval = max(d.Visibility.MaxInterval, s.Visibility.InitialInterval)
	}
	if s.Visibility.MaxWait <= 0 {
		s.Visibility.MaxWait = d.Visibility.MaxWait
	}
	return s
}

func (e *Executor) date() time.Time {
	if !e.settings.Date.IsZero() {
		return e.settings.Date
	}
	return e.clock.Now()
}

// Run executes the plan. Waves run in order and a wave starts only once every
// package of the previous waves is terminal. Packages that depend on a failed
// or skipped package are skipped. Cancelling ctx skips every package whose
// upload has not begun; uploads in flight run to completion. The returned
// error is non-nil only when the run could not start; package failures are
// reported in the Report.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, result *bump.Result) (*Report, error) {
	if e.registry == nil && !e.settings.DryRun && !e.settings.SkipPublish && p.Len() > 0 {
		return nil, fmt.Errorf("a registry is required to publish")
	}
	e.planned = result.Planned()
	report := newReport(p, e.settings.DryRun)

	var broken []string
	aborted := false
	for wi, wave := range p.Waves {
		var g errgroup.Group
		g.SetLimit(e.settings.Concurrency)

		for _, item := range wave {
			out := report.Outcome(item.Name)
			switch dep := e.brokenDependency(item.Name, broken); {
			case dep != "":
				out.skip(ErrSkippedDueToDependencyFailure, dep)
			case aborted:
				out.skip(ErrAborted, "")
			case ctx.Err() != nil:
				out.skip(ctx.Err(), "")
			default:
				g.Go(func() error {
					e.release(ctx, item, out)
					return nil
				})
			}
		}
		_ = g.Wait()
		e.finishWave(ctx, wave, report)

		failed := false
		for _, item := range wave {
			out := report.Outcome(item.Name)
			switch out.State {
			case Failed:
				failed = true
				broken = append(broken, item.Name)
			case Skipped:
				broken = append(broken, item.Name)
			}
		}
		if failed && !e.settings.BestEffort && !aborted {
			aborted = true
			e.logger.Error("stopping after failed wave", "wave", wi)
		}
	}
	return report, nil
}

// brokenDependency returns a failed or skipped package name depends on.
func (e *Executor) brokenDependency(name string, broken []string) string {
	for _, b := range broken {
		if e.graph.DependsOn(name, b) {
			return b
		}
	}
	return ""
}

// release runs the state machine of one package.
func (e *Executor) release(ctx context.Context, item plan.Item, out *Outcome) {
	d := item.Decision
	logger := e.logger.With("package", item.Name, "version", item.Next)

	out.transition(Rewriting)
	requirements, err := e.rewrite(d, out)
	if err != nil {
		logger.Error("rewrite failed", "error", err)
		out.fail(err)
		return
	}
	if e.settings.DryRun {
		// Nothing past rewriting happens in a dry run.
		out.State = Pending
		return
	}

	if !d.Package.Publish || e.settings.SkipPublish {
		out.transition(Published)
		return
	}

	if err := ctx.Err(); err != nil {
		out.skip(err, "")
		return
	}
	// The upload cannot be abandoned half way.
	ctx = context.WithoutCancel(ctx)

	out.transition(Uploading)
	artifact := registry.NewArtifact(e.settings.TargetDir, d.Package, item.Next, requirements)
	if err := e.upload(ctx, artifact, out); err != nil {
		logger.Error("upload failed", "attempts", out.Attempts, "error", err)
		out.fail(err)
		return
	}
	out.Uploaded = true

	out.transition(AwaitingVisibility)
	if err := e.awaitVisibility(ctx, item.Name, item.Next); err != nil {
		logger.Error("not visible in index", "error", err)
		out.fail(err)
		return
	}
	out.transition(Published)
	logger.Info("published")
}

// finishWave commits the files the wave rewrote, failed packages included so
// a rerun starts from a clean worktree, then tags the published packages.
// Neither step can fail a package: errors are kept in Outcome.TagErr.
func (e *Executor) finishWave(ctx context.Context, wave []plan.Item, report *Report) {
	if e.settings.DryRun {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var paths, released []string
	for _, item := range wave {
		out := report.Outcome(item.Name)
		if len(out.written) == 0 {
			continue
		}
		paths = append(paths, out.written...)
		released = append(released, fmt.Sprintf("%s v%s", item.Name, item.Next))
	}
	if e.committer != nil && len(paths) > 0 {
		msg := "chore: release " + strings.Join(released, ", ")
		if err := e.committer.CommitFiles(ctx, msg, paths); err != nil {
			e.logger.Error("committing release failed", "error", err)
			for _, item := range wave {
				if out := report.Outcome(item.Name); out.State == Published && e.tagger != nil {
					out.TagErr = fmt.Errorf("release commit failed, tag not created: %w", err)
				}
			}
			return
		}
	}

	if e.tagger == nil {
		return
	}
	for _, item := range wave {
		out := report.Outcome(item.Name)
		if out.State != Published {
			continue
		}
		name := history.TagName(item.Name, item.Next, len(e.ws.Packages) == 1)
		if err := e.tagger.CreateTag(ctx, name); err != nil {
			e.logger.Warn("creating tag failed", "package", item.Name, "tag", name, "error", err)
			out.TagErr = err
			continue
		}
		out.Tag = name
	}
}
