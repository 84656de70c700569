// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// DefaultPublishCommand publishes one package with cargo. The rewritten
	// manifests are committed only once their wave is done, hence
	// --allow-dirty.
	DefaultPublishCommand = `cargo publish --no-verify --allow-dirty --package "$PACKAGE_NAME"`
	// DefaultPackageCommand builds the archive uploaded by the HTTP client.
	DefaultPackageCommand = `cargo package --no-verify --allow-dirty --package "$PACKAGE_NAME"`
)

type (
	// ShellPublisher uploads by running a shell command in the package
	// directory through an in-process POSIX shell interpreter. The command
	// sees PACKAGE_NAME, PACKAGE_VERSION, PACKAGE_DIR and PACKAGE_CRATE.
	// Visibility checks are delegated to an index client.
	ShellPublisher struct {
		command string
		prog    *syntax.File
		env     []string
		index   Index
		stdout  io.Writer
		stderr  io.Writer
	}

	// ShellOption configures a ShellPublisher or a ShellPackager.
	ShellOption func(*ShellPublisher)

	// ShellPackager builds archives by running a shell command, `cargo
	// package` by default, the same way ShellPublisher runs its command.
	ShellPackager struct {
		sh *ShellPublisher
	}

	// CommandError reports a shell command that exited non-zero.
	CommandError struct {
		Command  string
		ExitCode int
		Stderr   string
	}
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// WithEnv replaces the base environment, os.Environ() by default.
func WithEnv(env []string) ShellOption {
	return func(s *ShellPublisher) {
		s.env = env
	}
}

// WithOutput mirrors the command's output to the given writers. A nil
// writer discards.
func WithOutput(stdout, stderr io.Writer) ShellOption {
	return func(s *ShellPublisher) {
		if stdout != nil {
			s.stdout = stdout
		}
		if stderr != nil {
			s.stderr = stderr
		}
	}
}

// WithIndex sets the client answering IsVisible, an HTTPClient for the
// crates.io sparse index by default.
func WithIndex(index Index) ShellOption {
	return func(s *ShellPublisher) {
		s.index = index
	}
}

// NewShellPublisher parses command and returns a publisher running it. An
// empty command means DefaultPublishCommand.
func NewShellPublisher(command string, opts ...ShellOption) (*ShellPublisher, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultPublishCommand
	}
	return newShell(command, "publish-command", opts...)
}

// NewShellPackager parses command and returns a packager running it. An
// empty command means DefaultPackageCommand.
func NewShellPackager(command string, opts ...ShellOption) (*ShellPackager, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultPackageCommand
	}
	sh, err := newShell(command, "package-command", opts...)
	if err != nil {
		return nil, err
	}
	return &ShellPackager{sh: sh}, nil
}

func newShell(command, name string, opts ...ShellOption) (*ShellPublisher, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", strings.ReplaceAll(name, "-", " "), err)
	}
	s := &ShellPublisher{
		command: command,
		prog:    prog,
		env:     os.Environ(),
		index:   NewHTTPClient(),
		stdout:  io.Discard,
		stderr:  io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Publish runs the command for the artifact. A failure whose output says the
// version already exists yields ErrAlreadyPublished.
func (s *ShellPublisher) Publish(ctx context.Context, a Artifact) error {
	out, err := s.run(ctx, a)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && isAlreadyPublished([]string{out}) {
		return fmt.Errorf("%s %s: %w", a.Name, a.Version, ErrAlreadyPublished)
	}
	return err
}

// Package runs the command for the artifact.
func (p *ShellPackager) Package(ctx context.Context, a Artifact) error {
	_, err := p.sh.run(ctx, a)
	return err
}

// run executes the command in the package directory and returns its trimmed
// standard error. A non-zero exit yields a *CommandError.
func (s *ShellPublisher) run(ctx context.Context, a Artifact) (string, error) {
	env := append(append([]string{}, s.env...),
		"PACKAGE_NAME="+a.Name,
		"PACKAGE_VERSION="+a.Version.String(),
		"PACKAGE_DIR="+a.Dir,
		"PACKAGE_CRATE="+a.CratePath,
	)
	var stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(a.Dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, s.stdout, io.MultiWriter(s.stderr, &stderr)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create interpreter: %w", err)
	}

	err = runner.Run(ctx, s.prog)
	out := strings.TrimSpace(stderr.String())
	if err == nil {
		return out, nil
	}
	var exitStatus interp.ExitStatus
	if !errors.As(err, &exitStatus) {
		return out, fmt.Errorf("command %q failed: %w", s.command, err)
	}
	return out, &CommandError{Command: s.command, ExitCode: int(exitStatus), Stderr: lastLine(out)}
}

// IsVisible asks the configured index.
func (s *ShellPublisher) IsVisible(ctx context.Context, name string, v *semver.Version) (bool, error) {
	return s.index.IsVisible(ctx, name, v)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
