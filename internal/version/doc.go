// SPDX-License-Identifier: MPL-2.0

// Package version provides the semantic version primitives used by release
// planning: the ordered Bump level, bump application to a version, and
// Cargo-style dependency requirements that can be matched against a version
// and widened to cover a newer one.
//
// Requirements follow Cargo's rules: a bare version ("1.2") is a caret
// requirement, "=1.2" matches every 1.2.x patch release, and comma-separated
// comparators are intersected.
package version
