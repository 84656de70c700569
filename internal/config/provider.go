// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLoadOptions is the sentinel error wrapped by InvalidLoadOptionsError.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the user config directory lookup when set.
		ConfigDirPath string
		// WorkspaceRoot is searched for smart-release.cue when set.
		WorkspaceRoot string
	}

	// InvalidLoadOptionsError is returned when LoadOptions has whitespace-only
	// paths. It wraps ErrInvalidLoadOptions for errors.Is() compatibility.
	InvalidLoadOptionsError struct {
		Fields []string
	}

	// Loaded is a configuration together with the files it was read from.
	Loaded struct {
		Config  *Config
		Sources []string
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Loaded, error)
	}

	fileProvider struct{}
)

// Validate rejects whitespace-only paths; empty paths mean "not set".
func (o LoadOptions) Validate() error {
	var fields []string
	for _, f := range []struct {
		name, value string
	}{
		{"config file path", o.ConfigFilePath},
		{"config dir path", o.ConfigDirPath},
		{"workspace root", o.WorkspaceRoot},
	} {
		if f.value != "" && strings.TrimSpace(f.value) == "" {
			fields = append(fields, f.name)
		}
	}
	if len(fields) > 0 {
		return &InvalidLoadOptionsError{Fields: fields}
	}
	return nil
}

// Error implements the error interface for InvalidLoadOptionsError.
func (e *InvalidLoadOptionsError) Error() string {
	return fmt.Sprintf("invalid load options: whitespace-only %s", strings.Join(e.Fields, ", "))
}

// Unwrap returns ErrInvalidLoadOptions for errors.Is() compatibility.
func (e *InvalidLoadOptionsError) Unwrap() error { return ErrInvalidLoadOptions }

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested sources.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Loaded, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg, sources, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Sources: sources}, nil
}
