// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the smart-release CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"smart-release/internal/issue"
	"smart-release/internal/release"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand creates the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "smart-release",
		Short: "Release the changed packages of a Cargo workspace in dependency order",
		Long: TitleStyle.Render("smart-release") + SubtitleStyle.Render(" - release Cargo workspaces in dependency order") + `

smart-release reads the conventional commits since each package's last
release tag, computes the version bumps, widens the requirements of
dependent packages and publishes everything wave by wave, waiting for each
version to appear in the registry index before its dependents go out.

Every command is a dry run unless asked to act.

` + SubtitleStyle.Render("Examples:") + `
  smart-release plan                   Show what would be released
  smart-release changelog --write      Update the changelogs only
  smart-release release                Preview the release as diffs
  smart-release release --execute      Release, publish and tag`,
	}

	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (replaces the user and workspace config files)")
	root.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "", "workspace root (default is the current directory)")

	root.AddCommand(newPlanCommand(app, flags))
	root.AddCommand(newChangelogCommand(app, flags))
	root.AddCommand(newReleaseCommand(app, flags))
	root.AddCommand(newConfigCommand(app, flags))
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	release.UserAgent = "smart-release/" + Version
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(NewApp(Dependencies{})),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
