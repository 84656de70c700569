// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"smart-release/internal/config"
	"smart-release/internal/publish"
)

// releaseParams are the flags of the release command.
type releaseParams struct {
	selection   selectionFlags
	execute     bool
	bestEffort  bool
	concurrency int
	skipPublish bool
	tag         bool
	tagSet      bool
	allowDirty  bool
	reportPath  string
}

func newReleaseCommand(app *App, flags *rootFlags) *cobra.Command {
	p := &releaseParams{}
	cmd := &cobra.Command{
		Use:   "release [packages...]",
		Short: "Release the changed packages wave by wave",
		Long: `Release the changed packages wave by wave.

Without --execute nothing is written: the manifest and changelog rewrites
are printed as diffs. With --execute each package is rewritten, published
and awaited in the registry index before any dependent starts. The files
rewritten by a wave are committed before its packages are tagged, so the
working tree must be clean unless --allow-dirty is given.

The exit code is 1 when any package failed or was skipped.`,
		Example: `  # Preview the release of everything that changed
  smart-release release

  # Release one package and the dependencies it needs
  smart-release release my-crate --execute

  # Keep releasing unaffected packages after a failure
  smart-release release --execute --best-effort --report report.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			p.tagSet = cmd.Flags().Changed("tag")
			return runRelease(cmd.Context(), app, flags, p, args)
		},
	}
	p.selection.bind(cmd)
	cmd.Flags().BoolVar(&p.execute, "execute", false, "perform the release instead of a dry run")
	cmd.Flags().BoolVar(&p.bestEffort, "best-effort", false, "keep releasing packages that do not depend on a failure")
	cmd.Flags().IntVar(&p.concurrency, "concurrency", 0, "packages released at once within a wave (default from config)")
	cmd.Flags().BoolVar(&p.skipPublish, "skip-publish", false, "rewrite manifests and changelogs without uploading")
	cmd.Flags().BoolVar(&p.tag, "tag", true, "tag each released package (default from config)")
	cmd.Flags().BoolVar(&p.allowDirty, "allow-dirty", false, "release even if tracked files have uncommitted changes")
	cmd.Flags().StringVar(&p.reportPath, "report", "", "write the run report to FILE (.json for JSON, YAML otherwise)")
	return cmd
}

func runRelease(ctx context.Context, app *App, flags *rootFlags, p *releaseParams, packages []string) error {
	s, err := app.open(ctx, flags)
	if err != nil {
		return app.fail(err, flags.verbose)
	}
	if p.concurrency < 0 {
		return app.fail(fmt.Errorf("--concurrency must be at least 1, got %d", p.concurrency), s.verbose)
	}
	opts, err := p.selection.options(s, packages)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	if p.bestEffort {
		opts.Config.Mode = config.ModeBestEffort
	}
	if p.concurrency > 0 {
		opts.Config.Concurrency = p.concurrency
	}
	opts.Execute = p.execute
	opts.SkipPublish = p.skipPublish
	opts.AllowDirty = p.allowDirty
	opts.Tag = opts.Config.Tags
	if p.tagSet {
		opts.Tag = p.tag
	}

	pipe := app.pipeline(s, opts)
	prep, err := pipe.Prepare(ctx)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	if prep.Plan.Len() == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("Nothing to release."))
	}
	report, err := pipe.Execute(ctx, prep)
	if err != nil {
		return app.fail(err, s.verbose)
	}

	if report.DryRun {
		writeDiffs(app.stdout, report)
	}
	fmt.Fprintln(app.stdout, reportTable(report))
	fmt.Fprintln(app.stdout, summary(report))

	if p.reportPath != "" {
		if err := writeReport(p.reportPath, report); err != nil {
			return app.fail(err, s.verbose)
		}
		s.logger.Info("wrote report", "file", p.reportPath)
	}

	if !report.OK() {
		for _, id := range reportIssues(report) {
			renderIssue(app.stderr, id)
		}
		return incompleteRelease(report)
	}
	return nil
}

// writeReport exports report as JSON when path ends in .json and as YAML
// otherwise.
func writeReport(path string, report *publish.Report) error {
	var buf bytes.Buffer
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = report.WriteJSON(&buf)
	} else {
		err = report.WriteYAML(&buf)
	}
	if err != nil {
		return err
	}
	if err := publish.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
