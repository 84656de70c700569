// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidRequirement is returned when a dependency requirement cannot be parsed.
var ErrInvalidRequirement = errors.New("invalid version requirement")

// simpleReq matches a single Cargo comparator: optional operator, one to three
// numeric (or wildcard) components and an optional pre-release suffix.
var simpleReq = regexp.MustCompile(`^(\^|~|=|>=|<=|>|<)?\s*(\d+)(?:\.(\d+|\*|x|X))?(?:\.(\d+|\*|x|X))?(-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

type (
	// Requirement is a Cargo dependency version requirement.
	//
	// The zero value is the unconstrained requirement, which matches every
	// version (path-only dependencies and "*").
	Requirement struct {
		raw         string
		constraints *semver.Constraints
		op          string
		parts       int
		wildcard    bool
		simple      bool
	}

	// InvalidRequirementError is returned when a requirement string cannot be
	// parsed. It wraps ErrInvalidRequirement for errors.Is() compatibility.
	InvalidRequirementError struct {
		Value string
		Cause error
	}
)

// Error implements the error interface for InvalidRequirementError.
func (e *InvalidRequirementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid version requirement %q: %v", e.Value, e.Cause)
	}
	return fmt.Sprintf("invalid version requirement %q", e.Value)
}

// Unwrap returns ErrInvalidRequirement for errors.Is() compatibility.
func (e *InvalidRequirementError) Unwrap() error { return ErrInvalidRequirement }

// ParseRequirement parses a Cargo requirement string. An empty string or "*"
// yields the unconstrained requirement.
func ParseRequirement(s string) (Requirement, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw == "*" {
		return Requirement{raw: raw}, nil
	}

	req := Requirement{raw: raw}
	expr := raw
	if m := simpleReq.FindStringSubmatch(raw); m != nil {
		req.simple = true
		req.op = m[1]
		req.parts = 1
		for _, c := range m[3:5] {
			if c == "" {
				break
			}
			if c == "*" || c == "x" || c == "X" {
				req.wildcard = true
				break
			}
			req.parts++
		}
		expr = cargoToConstraint(req, strings.TrimSpace(strings.TrimPrefix(raw, req.op)))
	}

	c, err := semver.NewConstraint(expr)
	if err != nil {
		return Requirement{}, &InvalidRequirementError{Value: s, Cause: err}
	}
	req.constraints = c
	return req, nil
}

// MustParseRequirement is like ParseRequirement but panics on error.
func MustParseRequirement(s string) Requirement {
	r, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return r
}

// cargoToConstraint translates a single Cargo comparator into the constraint
// dialect understood by semver.NewConstraint.
func cargoToConstraint(req Requirement, body string) string {
	switch {
	case req.wildcard:
		return body
	case req.op == "":
		return "^" + body
	case req.op == "=" && req.parts < 3:
		// Cargo's partial "=1.2" means ">=1.2.0, <1.3.0", which is tilde.
		return "~" + body
	default:
		return req.op + body
	}
}

// String returns the requirement as it would be written to a manifest.
func (r Requirement) String() string { return r.raw }

// IsAny reports whether the requirement is unconstrained.
func (r Requirement) IsAny() bool { return r.constraints == nil }

// Matches reports whether v satisfies the requirement.
func (r Requirement) Matches(v *semver.Version) bool {
	if r.IsAny() {
		return true
	}
	return r.constraints.Check(v)
}

// Widen returns a requirement that covers v, preserving the operator and the
// precision of r where possible: "^1.0" becomes "^2.0", "1.2.3" becomes
// "2.0.0", "~1.2" becomes "~2.0" and "=1.2.3" becomes "=2.0.0". Upper-bounded
// and compound requirements are replaced by a caret requirement on v. When r
// already matches v it is returned unchanged.
func (r Requirement) Widen(v *semver.Version) Requirement {
	if r.Matches(v) {
		return r
	}

	if r.simple {
		switch r.op {
		case "", "^", "~", "=", ">=", ">":
			candidate := r.op + truncate(v, r.parts)
			if r.wildcard {
				candidate += ".*"
			}
			if w, err := ParseRequirement(candidate); err == nil && w.Matches(v) {
				return w
			}
		}
	}

	w, err := ParseRequirement("^" + v.String())
	if err != nil {
		// v is a valid version, so a caret on it always parses.
		panic(err)
	}
	return w
}

// truncate renders the first n components of v, with the pre-release suffix
// only when all three components are kept.
func truncate(v *semver.Version, n int) string {
	comps := []uint64{v.Major(), v.Minor(), v.Patch()}
	out := make([]string, 0, n)
	for i := range min(n, 3) {
		out = append(out, strconv.FormatUint(comps[i], 10))
	}
	s := strings.Join(out, ".")
	if n >= 3 && v.Prerelease() != "" {
		s += "-" + v.Prerelease()
	}
	return s
}
