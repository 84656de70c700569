// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"smart-release/internal/release"
)

func newChangelogCommand(app *App, flags *rootFlags) *cobra.Command {
	sel := &selectionFlags{}
	var write bool
	cmd := &cobra.Command{
		Use:   "changelog [packages...]",
		Short: "Preview or write the changelog sections of the next release",
		Long: `Preview or write the changelog sections of the next release.

Without --write the sections are rendered to the terminal. With --write
they are merged into each package's changelog; running it again for the
same release leaves the files unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return runChangelog(cmd.Context(), app, flags, sel, args, write)
		},
	}
	sel.bind(cmd)
	cmd.Flags().BoolVar(&write, "write", false, "write the changelogs instead of previewing them")
	return cmd
}

func runChangelog(ctx context.Context, app *App, flags *rootFlags, sel *selectionFlags, packages []string, write bool) error {
	s, err := app.open(ctx, flags)
	if err != nil {
		return app.fail(err, flags.verbose)
	}
	opts, err := sel.options(s, packages)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	pipe := app.pipeline(s, opts)
	prep, err := pipe.Prepare(ctx)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	previews, err := pipe.Changelogs(prep)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	if len(previews) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("Nothing to release."))
		return nil
	}

	if write {
		written, err := release.WriteChangelogs(previews)
		for _, path := range written {
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Updated"), CmdStyle.Render(path))
		}
		if err != nil {
			return app.fail(err, s.verbose)
		}
		if len(written) == 0 {
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("Changelogs are up to date."))
		}
		return nil
	}

	for _, pv := range previews {
		fmt.Fprintf(app.stdout, "%s %s\n", TitleStyle.Render(pv.Package), CmdStyle.Render(pv.Path))
		if !pv.Changed {
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("(up to date)"))
			continue
		}
		rendered, err := glamour.Render(pv.Section, app.mdStyle)
		if err != nil {
			s.logger.Warn("failed to render changelog preview", "package", pv.Package, "error", err)
			rendered = pv.Section
		}
		fmt.Fprint(app.stdout, rendered)
	}
	return nil
}
