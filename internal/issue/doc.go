// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and Markdown guidance for the
// failure kinds of a release run. Guidance is rendered for the terminal with
// glamour.
package issue
