// SPDX-License-Identifier: MPL-2.0

package release

import (
	"fmt"
	"io"

	"smart-release/internal/config"
	"smart-release/internal/issue"
	"smart-release/internal/registry"
)

// UserAgent identifies registry requests.
var UserAgent = "smart-release/dev"

// NewRegistry builds the registry client selected by cfg. The HTTP client
// needs a token from the environment variable named by cfg.TokenEnv and
// builds each archive with cfg.PackageCommand before uploading it; the shell
// publisher leaves both to its command.
func NewRegistry(cfg config.RegistryConfig, getenv func(string) string, stdout, stderr io.Writer) (registry.Registry, error) {
	token := getenv(cfg.TokenEnv)
	clientOpts := []registry.ClientOption{
		registry.WithAPIURL(cfg.APIURL),
		registry.WithIndexURL(cfg.IndexURL),
		registry.WithToken(token),
		registry.WithUserAgent(UserAgent),
	}
	index := registry.NewHTTPClient(clientOpts...)

	switch cfg.Kind {
	case config.RegistryShell:
		pub, err := registry.NewShellPublisher(cfg.PublishCommand,
			registry.WithIndex(index),
			registry.WithOutput(stdout, stderr),
		)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("configure publish command").
				WithResource(cfg.PublishCommand).
				WithSuggestion("registry.publish_command must be a valid POSIX shell command").
				Wrap(err).
				BuildError()
		}
		return pub, nil
	case config.RegistryHTTP:
		if token == "" {
			return nil, issue.NewErrorContext().
				WithOperation("configure registry").
				WithResource(cfg.APIURL).
				WithSuggestion(fmt.Sprintf("Export %s with a registry API token", cfg.TokenEnv)).
				WithSuggestion("Or set registry.kind to \"shell\" to publish with cargo").
				Wrap(registry.ErrUnauthorized).
				BuildError()
		}
		packager, err := registry.NewShellPackager(cfg.PackageCommand, registry.WithOutput(stdout, stderr))
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("configure package command").
				WithResource(cfg.PackageCommand).
				WithSuggestion("registry.package_command must be a valid POSIX shell command").
				Wrap(err).
				BuildError()
		}
		return registry.NewHTTPClient(append(clientOpts, registry.WithPackager(packager))...), nil
	default:
		return nil, &config.InvalidRegistryKindError{Value: cfg.Kind}
	}
}
