// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"smart-release/internal/publish"
)

// exitFailure is the status of a run that could not start or that left a
// package failed or skipped.
const exitFailure = 1

// ExitError carries the process exit status of a command back to main, so
// handlers return instead of calling os.Exit. Err is the reason, already
// rendered to the user by the time it is returned.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the reason, or the bare status when there is none.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("smart-release exited with status %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap exposes the reason to errors.Is and errors.As.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// incompleteRelease is the exit error of a run whose report is not OK.
func incompleteRelease(r *publish.Report) *ExitError {
	return &ExitError{Code: exitFailure, Err: fmt.Errorf("%d package(s) failed, %d skipped",
		r.Count(publish.Failed), r.Count(publish.Skipped))}
}
