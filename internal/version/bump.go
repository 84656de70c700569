// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// None means the version stays as it is.
	None Bump = iota
	// Patch increments the patch component.
	Patch
	// Minor increments the minor component and resets patch.
	Minor
	// Major increments the major component and resets minor and patch.
	Major
)

var (
	// ErrInvalidBump is returned when a bump level name is not recognized.
	ErrInvalidBump = errors.New("invalid bump level")
	// ErrInvalidVersion is returned when a version string is not valid semver.
	ErrInvalidVersion = errors.New("invalid semantic version")
)

type (
	// Bump is an ordered semantic version increment: None < Patch < Minor < Major.
	Bump int

	// InvalidVersionError is returned when a version string cannot be parsed.
	// It wraps ErrInvalidVersion for errors.Is() compatibility.
	InvalidVersionError struct {
		Value string
		Cause error
	}
)

// String returns the lower-case name of the bump level.
func (b Bump) String() string {
	switch b {
	case None:
		return "none"
	case Patch:
		return "patch"
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return fmt.Sprintf("bump(%d)", int(b))
	}
}

// IsValid reports whether b is one of the four known levels.
func (b Bump) IsValid() bool {
	return b >= None && b <= Major
}

// Max returns the higher of two bump levels. Bumps only ever escalate, so
// every merge of bump information goes through Max.
func Max(a, b Bump) Bump {
	if a > b {
		return a
	}
	return b
}

// ParseBump parses a bump level name (none, patch, minor, major).
func ParseBump(s string) (Bump, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, nil
	case "patch":
		return Patch, nil
	case "minor":
		return Minor, nil
	case "major":
		return Major, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrInvalidBump, s)
	}
}

// Error implements the error interface for InvalidVersionError.
func (e *InvalidVersionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid semantic version %q: %v", e.Value, e.Cause)
	}
	return fmt.Sprintf("invalid semantic version %q", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Parse parses a full major.minor.patch[-pre][+build] version.
func Parse(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, &InvalidVersionError{Value: s, Cause: err}
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) *semver.Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Effective returns the bump that is actually applied to v. With conservative
// pre-1.0 handling, a 0.y.z version treats the minor component as its
// compatibility boundary, so a Major bump becomes Minor and a Minor bump
// becomes Patch.
func Effective(v *semver.Version, b Bump, conservative bool) Bump {
	if !conservative || v.Major() != 0 {
		return b
	}
	switch b {
	case Major:
		return Minor
	case Minor:
		return Patch
	default:
		return b
	}
}

// Apply returns v incremented by b. A pre-release version is released by
// dropping its pre-release tag, whatever the bump level, as long as the bump
// is not None. Build metadata is always dropped on a bump.
func Apply(v *semver.Version, b Bump, conservative bool) *semver.Version {
	b = Effective(v, b, conservative)
	if b == None {
		return v
	}
	if v.Prerelease() != "" {
		return semver.New(v.Major(), v.Minor(), v.Patch(), "", "")
	}
	switch b {
	case Major:
		return semver.New(v.Major()+1, 0, 0, "", "")
	case Minor:
		return semver.New(v.Major(), v.Minor()+1, 0, "", "")
	default:
		return semver.New(v.Major(), v.Minor(), v.Patch()+1, "", "")
	}
}

// Between returns the smallest bump that moves from to to. It returns None
// when to is not greater than from.
func Between(from, to *semver.Version) Bump {
	switch {
	case !to.GreaterThan(from):
		return None
	case to.Major() != from.Major():
		return Major
	case to.Minor() != from.Minor():
		return Minor
	default:
		return Patch
	}
}
