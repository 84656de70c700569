// SPDX-License-Identifier: MPL-2.0

// Package release runs the release pipeline of a workspace: load the
// manifests, build the dependency graph, classify the commits since each
// package's last release, compute the version bumps, plan the publish waves
// and hand the plan to the executor.
package release
