// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"smart-release/internal/config"
	"smart-release/internal/issue"
)

// newConfigCommand creates the `smart-release config` command tree.
func newConfigCommand(app *App, flags *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage smart-release configuration",
		Long: `Manage smart-release configuration.

Settings are layered, later sources winning:
  1. built-in defaults
  2. the user file (~/.config/smart-release/config.cue on Linux)
  3. smart-release.cue in the workspace root
  4. SMART_RELEASE_* environment variables, e.g. SMART_RELEASE_CONCURRENCY

--config replaces both files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return showConfig(cmd.Context(), app, flags)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to smart-release.cue in the workspace root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return initConfig(app, flags, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, flags *rootFlags) error {
	s, err := app.open(ctx, flags)
	if err != nil {
		return app.fail(err, flags.verbose)
	}
	if len(s.sources) == 0 {
		fmt.Fprintln(app.stdout, "// no config files found, using defaults")
	}
	for _, src := range s.sources {
		fmt.Fprintf(app.stdout, "// source: %s\n", src)
	}
	fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
	return nil
}

func initConfig(app *App, flags *rootFlags, force bool) error {
	root := flags.workspace
	if root == "" {
		root = "."
	}
	path := filepath.Join(root, config.WorkspaceFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return app.fail(issue.NewErrorContext().
			WithOperation("create configuration").
			WithResource(path).
			WithSuggestion("Pass --force to overwrite it").
			Wrap(fmt.Errorf("%s already exists", path)).
			BuildError(), flags.verbose)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return app.fail(err, flags.verbose)
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Created"), CmdStyle.Render(path))
	return nil
}
