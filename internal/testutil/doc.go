// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by the test suites: a controllable
// FakeClock for retry and polling loops, file fixtures written into temporary
// directories, and throwaway git repositories built with go-git.
package testutil
