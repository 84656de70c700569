// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"smart-release/internal/config"
	"smart-release/internal/issue"
	"smart-release/internal/publish"
	"smart-release/internal/registry"
	"smart-release/internal/release"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reaches the engine through it.
	App struct {
		Config   config.Provider
		stdout   io.Writer
		stderr   io.Writer
		getenv   func(string) string
		registry registry.Registry
		clock    publish.Clock
		mdStyle  string
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
		// Getenv looks up registry tokens; os.Getenv when nil.
		Getenv func(string) string
		// Registry replaces the registry built from the configuration.
		Registry registry.Registry
		// Clock replaces the system clock of the executor.
		Clock publish.Clock
		// MarkdownStyle is the glamour style of changelog previews; "auto"
		// when empty.
		MarkdownStyle string
	}

	// rootFlags are the persistent flags shared by every command.
	rootFlags struct {
		verbose    bool
		configPath string
		workspace  string
	}

	// session is the configuration and logger of one workspace command.
	session struct {
		root    string
		cfg     *config.Config
		sources []string
		logger  *log.Logger
		verbose bool
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	if deps.MarkdownStyle == "" {
		deps.MarkdownStyle = "auto"
	}
	return &App{
		Config:   deps.Config,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
		getenv:   deps.Getenv,
		registry: deps.Registry,
		clock:    deps.Clock,
		mdStyle:  deps.MarkdownStyle,
	}
}

// open resolves the workspace root, loads the layered configuration and
// creates the logger of the invocation.
func (a *App) open(ctx context.Context, flags *rootFlags) (*session, error) {
	root := flags.workspace
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	loaded, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath, WorkspaceRoot: abs})
	if err != nil {
		_, msg := classifyError(err, flags.verbose)
		return nil, newServiceError(err, issue.ConfigLoadFailedId, msg)
	}

	verbose := flags.verbose || loaded.Config.Verbose
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: config.AppName,
		Level:  level,
	})
	for _, src := range loaded.Sources {
		logger.Debug("loaded configuration", "file", src)
	}
	return &session{root: abs, cfg: loaded.Config, sources: loaded.Sources, logger: logger, verbose: verbose}, nil
}

// pipeline creates the release pipeline of s.
func (a *App) pipeline(s *session, opts release.Options) *release.Pipeline {
	opts.Root = s.root
	if opts.Config == nil {
		opts.Config = s.cfg
	}
	options := []release.Option{
		release.WithLogger(s.logger),
		release.WithEnv(a.getenv),
		release.WithOutput(a.stdout, a.stderr),
	}
	if a.registry != nil {
		options = append(options, release.WithRegistry(a.registry))
	}
	if a.clock != nil {
		options = append(options, release.WithClock(a.clock))
	}
	return release.New(opts, options...)
}

// fail renders err with its guidance and returns the exit error for it.
func (a *App) fail(err error, verbose bool) error {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		id, msg := classifyError(err, verbose)
		svcErr = newServiceError(err, id, msg)
	}
	renderServiceError(a.stderr, svcErr)
	return &ExitError{Code: exitFailure, Err: err}
}
