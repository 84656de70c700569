// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"smart-release/internal/platform"
)

const (
	// RegistryHTTP publishes through the registry web API.
	RegistryHTTP RegistryKind = "http"
	// RegistryShell publishes by running a shell command per package.
	RegistryShell RegistryKind = "shell"

	// ModeStrict stops after the first wave with a failed package.
	ModeStrict ExecutionMode = "strict"
	// ModeBestEffort keeps releasing packages unaffected by failures.
	ModeBestEffort ExecutionMode = "best-effort"

	// IndependentExempt never bumps independent packages on propagation alone.
	// Defined locally to avoid coupling config to internal/bump.
	IndependentExempt IndependentPolicy = "exempt"
	// IndependentPropagate treats independent packages like any other package.
	IndependentPropagate IndependentPolicy = "propagate"

	// DefaultPublishCommand is the shell registry command.
	DefaultPublishCommand = `cargo publish --no-verify --allow-dirty --package "$PACKAGE_NAME"`
	// DefaultPackageCommand builds the archive uploaded by the http registry.
	DefaultPackageCommand = `cargo package --no-verify --allow-dirty --package "$PACKAGE_NAME"`
)

var (
	// ErrInvalidRegistryKind is returned when a RegistryKind value is not recognized.
	ErrInvalidRegistryKind = errors.New("invalid registry kind")
	// ErrInvalidExecutionMode is returned when an ExecutionMode value is not recognized.
	ErrInvalidExecutionMode = errors.New("invalid execution mode")
	// ErrInvalidIndependentPolicy is returned when an IndependentPolicy value is not recognized.
	ErrInvalidIndependentPolicy = errors.New("invalid independent policy")
	// ErrInvalidRetryConfig is the sentinel error wrapped by InvalidRetryConfigError.
	ErrInvalidRetryConfig = errors.New("invalid retry config")
	// ErrInvalidVisibilityConfig is the sentinel error wrapped by InvalidVisibilityConfigError.
	ErrInvalidVisibilityConfig = errors.New("invalid visibility config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// RegistryKind selects the registry client.
	RegistryKind string

	// InvalidRegistryKindError is returned when a RegistryKind value is not recognized.
	// It wraps ErrInvalidRegistryKind for errors.Is() compatibility.
	InvalidRegistryKindError struct {
		Value RegistryKind
	}

	// ExecutionMode decides what happens to later waves after a failure.
	ExecutionMode string

	// InvalidExecutionModeError is returned when an ExecutionMode value is not recognized.
	// It wraps ErrInvalidExecutionMode for errors.Is() compatibility.
	InvalidExecutionModeError struct {
		Value ExecutionMode
	}

	// IndependentPolicy governs version propagation into independent packages.
	IndependentPolicy string

	// InvalidIndependentPolicyError is returned when an IndependentPolicy value is not recognized.
	// It wraps ErrInvalidIndependentPolicy for errors.Is() compatibility.
	InvalidIndependentPolicyError struct {
		Value IndependentPolicy
	}

	// InvalidRetryConfigError is returned when a RetryConfig has invalid fields.
	// It wraps ErrInvalidRetryConfig for errors.Is() compatibility.
	InvalidRetryConfigError struct {
		FieldErrors []error
	}

	// InvalidVisibilityConfigError is returned when a VisibilityConfig has invalid fields.
	// It wraps ErrInvalidVisibilityConfig for errors.Is() compatibility.
	InvalidVisibilityConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the release configuration.
	Config struct {
		// Registry selects and configures the registry client.
		Registry RegistryConfig `json:"registry" mapstructure:"registry"`
		// Retry configures upload retries.
		Retry RetryConfig `json:"retry" mapstructure:"retry"`
		// Visibility configures index polling after an upload.
		Visibility VisibilityConfig `json:"visibility" mapstructure:"visibility"`
		// Concurrency bounds parallel releases within a wave.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
		// Mode is "strict" or "best-effort".
		Mode ExecutionMode `json:"mode" mapstructure:"mode"`
		// Independent names packages released on their own cadence.
		Independent []string `json:"independent" mapstructure:"independent"`
		// IndependentPolicy governs propagation into Independent packages.
		IndependentPolicy IndependentPolicy `json:"independent_policy" mapstructure:"independent_policy"`
		// ConservativePreRelease applies breaking bumps of 0.y.z versions as minor.
		ConservativePreRelease bool `json:"conservative_pre_release" mapstructure:"conservative_pre_release"`
		// Changelog is the changelog file name inside each package directory.
		Changelog string `json:"changelog" mapstructure:"changelog"`
		// Tags creates a release tag per published package.
		Tags bool `json:"tags" mapstructure:"tags"`
		// Verbose enables debug logging.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// RegistryConfig configures the registry client.
	RegistryConfig struct {
		Kind RegistryKind `json:"kind" mapstructure:"kind"`
		// APIURL is the registry web API base URL.
		APIURL string `json:"api_url" mapstructure:"api_url"`
		// IndexURL is the sparse index base URL used for visibility checks.
		IndexURL string `json:"index_url" mapstructure:"index_url"`
		// TokenEnv names the environment variable holding the API token.
		TokenEnv string `json:"token_env" mapstructure:"token_env"`
		// PublishCommand is run per package by the shell registry.
		PublishCommand string `json:"publish_command" mapstructure:"publish_command"`
		// PackageCommand is run per package by the http registry to write
		// the archive at $PACKAGE_CRATE before uploading it.
		PackageCommand string `json:"package_command" mapstructure:"package_command"`
	}

	// RetryConfig configures upload retries.
	RetryConfig struct {
		MaxAttempts  int           `json:"max_attempts" mapstructure:"max_attempts"`
		InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
		MaxDelay     time.Duration `json:"max_delay" mapstructure:"max_delay"`
		Multiplier   float64       `json:"multiplier" mapstructure:"multiplier"`
	}

	// VisibilityConfig configures index polling.
	VisibilityConfig struct {
		InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
		MaxInterval     time.Duration `json:"max_interval" mapstructure:"max_interval"`
		MaxWait         time.Duration `json:"max_wait" mapstructure:"max_wait"`
	}
)

// String returns the string representation of the RegistryKind.
func (k RegistryKind) String() string { return string(k) }

// IsValid returns whether the RegistryKind is one of the defined kinds.
func (k RegistryKind) IsValid() (bool, []error) {
	switch k {
	case RegistryHTTP, RegistryShell:
		return true, nil
	default:
		return false, []error{&InvalidRegistryKindError{Value: k}}
	}
}

// Error implements the error interface for InvalidRegistryKindError.
func (e *InvalidRegistryKindError) Error() string {
	return fmt.Sprintf("invalid registry kind %q (valid: http, shell)", e.Value)
}

// Unwrap returns ErrInvalidRegistryKind for errors.Is() compatibility.
func (e *InvalidRegistryKindError) Unwrap() error { return ErrInvalidRegistryKind }

// String returns the string representation of the ExecutionMode.
func (m ExecutionMode) String() string { return string(m) }

// IsValid returns whether the ExecutionMode is one of the defined modes.
func (m ExecutionMode) IsValid() (bool, []error) {
	switch m {
	case ModeStrict, ModeBestEffort:
		return true, nil
	default:
		return false, []error{&InvalidExecutionModeError{Value: m}}
	}
}

// Error implements the error interface for InvalidExecutionModeError.
func (e *InvalidExecutionModeError) Error() string {
	return fmt.Sprintf("invalid execution mode %q (valid: strict, best-effort)", e.Value)
}

// Unwrap returns ErrInvalidExecutionMode for errors.Is() compatibility.
func (e *InvalidExecutionModeError) Unwrap() error { return ErrInvalidExecutionMode }

// String returns the string representation of the IndependentPolicy.
func (p IndependentPolicy) String() string { return string(p) }

// IsValid returns whether the IndependentPolicy is one of the defined policies.
func (p IndependentPolicy) IsValid() (bool, []error) {
	switch p {
	case IndependentExempt, IndependentPropagate:
		return true, nil
	default:
		return false, []error{&InvalidIndependentPolicyError{Value: p}}
	}
}

// Error implements the error interface for InvalidIndependentPolicyError.
func (e *InvalidIndependentPolicyError) Error() string {
	return fmt.Sprintf("invalid independent policy %q (valid: exempt, propagate)", e.Value)
}

// Unwrap returns ErrInvalidIndependentPolicy for errors.Is() compatibility.
func (e *InvalidIndependentPolicyError) Unwrap() error { return ErrInvalidIndependentPolicy }

// IsValid returns whether the RetryConfig describes a usable schedule.
func (c RetryConfig) IsValid() (bool, []error) {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial_delay must be positive, got %s", c.InitialDelay))
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, fmt.Errorf("max_delay %s is shorter than initial_delay %s", c.MaxDelay, c.InitialDelay))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", c.Multiplier))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidRetryConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRetryConfigError.
func (e *InvalidRetryConfigError) Error() string {
	return "invalid retry config: " + joinErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidRetryConfig for errors.Is() compatibility.
func (e *InvalidRetryConfigError) Unwrap() error { return ErrInvalidRetryConfig }

// IsValid returns whether the VisibilityConfig describes a usable schedule.
func (c VisibilityConfig) IsValid() (bool, []error) {
	var errs []error
	if c.InitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("initial_interval must be positive, got %s", c.InitialInterval))
	}
	if c.MaxInterval < c.InitialInterval {
		errs = append(errs, fmt.Errorf("max_interval %s is shorter than initial_interval %s", c.MaxInterval, c.InitialInterval))
	}
	if c.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("max_wait must be positive, got %s", c.MaxWait))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidVisibilityConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidVisibilityConfigError.
func (e *InvalidVisibilityConfigError) Error() string {
	return "invalid visibility config: " + joinErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidVisibilityConfig for errors.Is() compatibility.
func (e *InvalidVisibilityConfigError) Unwrap() error { return ErrInvalidVisibilityConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to the enum and sub-config validators and checks the
// constraints the schema cannot express.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Registry.Kind.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Mode.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.IndependentPolicy.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Retry.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Visibility.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if !platform.IsPortableFileName(c.Changelog) {
		errs = append(errs, fmt.Errorf("changelog must be a plain file name, got %q", c.Changelog))
	}
	seen := make(map[string]bool, len(c.Independent))
	for i, name := range c.Independent {
		if seen[name] {
			errs = append(errs, fmt.Errorf("independent[%d]: duplicate package %q", i, name))
		}
		seen[name] = true
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return "invalid config: " + joinErrors(e.FieldErrors)
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// BestEffort reports whether the configured mode is best-effort.
func (c *Config) BestEffort() bool { return c.Mode == ModeBestEffort }

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Kind:           RegistryHTTP,
			APIURL:         "https://crates.io",
			IndexURL:       "https://index.crates.io",
			TokenEnv:       "CARGO_REGISTRY_TOKEN",
			PublishCommand: DefaultPublishCommand,
			PackageCommand: DefaultPackageCommand,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
		Visibility: VisibilityConfig{
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxWait:         10 * time.Minute,
		},
		Concurrency:            4,
		Mode:                   ModeStrict,
		Independent:            []string{},
		IndependentPolicy:      IndependentExempt,
		ConservativePreRelease: true,
		Changelog:              "CHANGELOG.md",
		Tags:                   true,
	}
}
