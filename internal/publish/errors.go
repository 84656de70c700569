// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"smart-release/internal/version"
)

var (
	// ErrManifestWrite is wrapped by ManifestWriteError.
	ErrManifestWrite = errors.New("manifest could not be updated")
	// ErrChangelogWrite is wrapped by ChangelogWriteError.
	ErrChangelogWrite = errors.New("changelog could not be updated")
	// ErrRequirementMismatch is wrapped by RequirementMismatchError.
	ErrRequirementMismatch = errors.New("dependency requirement excludes the planned version")
	// ErrPublish is wrapped by PublishError.
	ErrPublish = errors.New("publish failed")
	// ErrVisibilityTimeout is wrapped by VisibilityTimeoutError.
	ErrVisibilityTimeout = errors.New("published version did not become visible in time")
	// ErrSkippedDueToDependencyFailure marks packages skipped because a
	// package they depend on failed or was skipped.
	ErrSkippedDueToDependencyFailure = errors.New("skipped due to dependency failure")
	// ErrAborted marks packages skipped after a strict run stopped.
	ErrAborted = errors.New("run aborted after an earlier failure")
)

type (
	// ManifestWriteError reports a manifest that could not be parsed, edited
	// or written.
	ManifestWriteError struct {
		Package string
		Path    string
		Err     error
	}

	// ChangelogWriteError reports a changelog that could not be written.
	ChangelogWriteError struct {
		Package string
		Path    string
		Err     error
	}

	// RequirementMismatchError reports an internal dependency requirement that
	// does not cover the version the dependency is released at.
	RequirementMismatchError struct {
		Package     string
		Dependency  string
		Requirement version.Requirement
		Version     *semver.Version
	}

	// PublishError reports an upload that failed after all attempts.
	PublishError struct {
		Package  string
		Version  *semver.Version
		Attempts int
		Err      error
	}

	// VisibilityTimeoutError reports an upload that succeeded but never
	// showed up in the index within the allowed wait. The version is
	// published: re-running the upload is not the fix.
	VisibilityTimeoutError struct {
		Package string
		Version *semver.Version
		Waited  time.Duration
		// LastErr is the last index query error, if any.
		LastErr error
	}

	// SkippedError explains why a package was not started.
	SkippedError struct {
		Package string
		// Dependency is the failed package that caused the skip, if any.
		Dependency string
		Err        error
	}
)

// Error implements the error interface.
func (e *ManifestWriteError) Error() string {
	return fmt.Sprintf("%s: updating manifest %s: %v", e.Package, e.Path, e.Err)
}

// Unwrap returns ErrManifestWrite and the cause for errors.Is() compatibility.
func (e *ManifestWriteError) Unwrap() []error { return []error{ErrManifestWrite, e.Err} }

// Error implements the error interface.
func (e *ChangelogWriteError) Error() string {
	return fmt.Sprintf("%s: updating changelog %s: %v", e.Package, e.Path, e.Err)
}

// Unwrap returns ErrChangelogWrite and the cause for errors.Is() compatibility.
func (e *ChangelogWriteError) Unwrap() []error { return []error{ErrChangelogWrite, e.Err} }

// Error implements the error interface.
func (e *RequirementMismatchError) Error() string {
	return fmt.Sprintf("%s: requirement %q on %s does not match %s", e.Package, e.Requirement, e.Dependency, e.Version)
}

// Unwrap returns ErrRequirementMismatch for errors.Is() compatibility.
func (e *RequirementMismatchError) Unwrap() error { return ErrRequirementMismatch }

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %s: publish failed after %d attempt(s): %v", e.Package, e.Version, e.Attempts, e.Err)
}

// Unwrap returns ErrPublish and the last upload error for errors.Is() compatibility.
func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Err} }

// Error implements the error interface.
func (e *VisibilityTimeoutError) Error() string {
	return fmt.Sprintf("%s %s was uploaded but not visible in the index after %s", e.Package, e.Version, e.Waited)
}

// Unwrap returns ErrVisibilityTimeout for errors.Is() compatibility.
func (e *VisibilityTimeoutError) Unwrap() error { return ErrVisibilityTimeout }

// Error implements the error interface.
func (e *SkippedError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Package, e.Err, e.Dependency)
	}
	return fmt.Sprintf("%s: %v", e.Package, e.Err)
}

// Unwrap returns the skip reason.
func (e *SkippedError) Unwrap() error { return e.Err }
