// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"smart-release/internal/issue"
)

// ServiceError carries the rendering of a failure to the CLI layer: an
// optional styled message and an optional guidance entry.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID selects the guidance to render; zero renders none.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message, then the guidance entry.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	renderIssue(stderr, svcErr.IssueID)
}

// renderIssue prints the guidance of id, if any.
func renderIssue(stderr io.Writer, id issue.Id) {
	if id == 0 {
		return
	}
	if entry := issue.Get(id); entry != nil {
		rendered, err := entry.Render("dark")
		if err != nil {
			log.Warn("failed to render issue guidance", "issueID", id, "error", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}
