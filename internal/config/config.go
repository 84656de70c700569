// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"smart-release/internal/cueutil"
	"smart-release/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "smart-release"
	// ConfigFileName is the name of the user config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// WorkspaceFileName is the config file looked up in the workspace root.
	WorkspaceFileName = AppName + "." + ConfigFileExt
	// EnvPrefix prefixes environment overrides, e.g. SMART_RELEASE_CONCURRENCY.
	EnvPrefix = "SMART_RELEASE"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the user configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions layers, from lowest to highest precedence: defaults, the
// user config file, the workspace config file, then SMART_RELEASE_*
// environment variables. An explicit ConfigFilePath replaces both files.
// It returns the files that were read.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, []string, error) {
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var sources []string
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'smart-release config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		sources = append(sources, opts.ConfigFilePath)
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, nil, err
		}
		candidates := []string{filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)}
		if opts.WorkspaceRoot != "" {
			candidates = append(candidates, filepath.Join(opts.WorkspaceRoot, WorkspaceFileName))
		}
		for _, path := range candidates {
			if fileExists(path) {
				sources = append(sources, path)
			}
		}
	}

	for _, path := range sources {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if valid, errs := cfg.IsValid(); !valid {
		return nil, nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(strings.Join(sources, ", ")).
			WithSuggestion("Check environment overrides prefixed with " + EnvPrefix + "_").
			WithSuggestion("Ensure max delays are not shorter than initial delays").
			Wrap(errs[0]).
			BuildError()
	}
	return &cfg, sources, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("registry.kind", string(d.Registry.Kind))
	v.SetDefault("registry.api_url", d.Registry.APIURL)
	v.SetDefault("registry.index_url", d.Registry.IndexURL)
	v.SetDefault("registry.token_env", d.Registry.TokenEnv)
	v.SetDefault("registry.publish_command", d.Registry.PublishCommand)
	v.SetDefault("registry.package_command", d.Registry.PackageCommand)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("visibility.initial_interval", d.Visibility.InitialInterval)
	v.SetDefault("visibility.max_interval", d.Visibility.MaxInterval)
	v.SetDefault("visibility.max_wait", d.Visibility.MaxWait)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("independent", d.Independent)
	v.SetDefault("independent_policy", string(d.IndependentPolicy))
	v.SetDefault("conservative_pre_release", d.ConservativePreRelease)
	v.SetDefault("changelog", d.Changelog)
	v.SetDefault("tags", d.Tags)
	v.SetDefault("verbose", d.Verbose)
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// Viper. Every schema field is optional, so the document is decoded into a map
// without requiring concrete values.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.Decode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// Save writes cfg as CUE to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// smart-release configuration\n\n")

	sb.WriteString("registry: {\n")
	fmt.Fprintf(&sb, "\tkind:            %q\n", cfg.Registry.Kind)
	fmt.Fprintf(&sb, "\tapi_url:         %q\n", cfg.Registry.APIURL)
	fmt.Fprintf(&sb, "\tindex_url:       %q\n", cfg.Registry.IndexURL)
	fmt.Fprintf(&sb, "\ttoken_env:       %q\n", cfg.Registry.TokenEnv)
	fmt.Fprintf(&sb, "\tpublish_command: %q\n", cfg.Registry.PublishCommand)
	fmt.Fprintf(&sb, "\tpackage_command: %q\n", cfg.Registry.PackageCommand)
	sb.WriteString("}\n")

	sb.WriteString("\nretry: {\n")
	fmt.Fprintf(&sb, "\tmax_attempts:  %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(&sb, "\tinitial_delay: %q\n", cfg.Retry.InitialDelay)
	fmt.Fprintf(&sb, "\tmax_delay:     %q\n", cfg.Retry.MaxDelay)
	fmt.Fprintf(&sb, "\tmultiplier:    %g\n", cfg.Retry.Multiplier)
	sb.WriteString("}\n")

	sb.WriteString("\nvisibility: {\n")
	fmt.Fprintf(&sb, "\tinitial_interval: %q\n", cfg.Visibility.InitialInterval)
	fmt.Fprintf(&sb, "\tmax_interval:     %q\n", cfg.Visibility.MaxInterval)
	fmt.Fprintf(&sb, "\tmax_wait:         %q\n", cfg.Visibility.MaxWait)
	sb.WriteString("}\n\n")

	fmt.Fprintf(&sb, "concurrency: %d\n", cfg.Concurrency)
	fmt.Fprintf(&sb, "mode: %q\n", cfg.Mode)
	if len(cfg.Independent) > 0 {
		quoted := make([]string, len(cfg.Independent))
		for i, name := range cfg.Independent {
			quoted[i] = fmt.Sprintf("%q", name)
		}
		fmt.Fprintf(&sb, "independent: [%s]\n", strings.Join(quoted, ", "))
	}
	fmt.Fprintf(&sb, "independent_policy: %q\n", cfg.IndependentPolicy)
	fmt.Fprintf(&sb, "conservative_pre_release: %v\n", cfg.ConservativePreRelease)
	fmt.Fprintf(&sb, "changelog: %q\n", cfg.Changelog)
	fmt.Fprintf(&sb, "tags: %v\n", cfg.Tags)
	fmt.Fprintf(&sb, "verbose: %v\n", cfg.Verbose)

	return sb.String()
}
