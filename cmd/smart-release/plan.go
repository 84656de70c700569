// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPlanCommand(app *App, flags *rootFlags) *cobra.Command {
	sel := &selectionFlags{}
	cmd := &cobra.Command{
		Use:   "plan [packages...]",
		Short: "Show the packages that would be released, in publish order",
		Long: `Show the packages that would be released, in publish order.

Packages in the same wave do not depend on each other and are published
concurrently. Naming packages restricts the plan to them and the
dependencies they need.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return runPlan(cmd.Context(), app, flags, sel, args)
		},
	}
	sel.bind(cmd)
	return cmd
}

func runPlan(ctx context.Context, app *App, flags *rootFlags, sel *selectionFlags, packages []string) error {
	s, err := app.open(ctx, flags)
	if err != nil {
		return app.fail(err, flags.verbose)
	}
	opts, err := sel.options(s, packages)
	if err != nil {
		return app.fail(err, s.verbose)
	}
	prep, err := app.pipeline(s, opts).Prepare(ctx)
	if err != nil {
		return app.fail(err, s.verbose)
	}

	if prep.Plan.Len() == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("Nothing to release."))
		return nil
	}
	fmt.Fprintln(app.stdout, TitleStyle.Render(fmt.Sprintf("Release plan (%d package(s), %d wave(s))", prep.Plan.Len(), len(prep.Plan.Waves))))
	fmt.Fprintln(app.stdout, planTable(prep.Plan))
	return nil
}
