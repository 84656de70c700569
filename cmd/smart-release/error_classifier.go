// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"smart-release/internal/config"
	"smart-release/internal/dag"
	"smart-release/internal/history"
	"smart-release/internal/issue"
	"smart-release/internal/plan"
	"smart-release/internal/publish"
	"smart-release/internal/registry"
	"smart-release/internal/workspace"
)

// classifyError maps a failure to its guidance entry and returns a styled
// message for CLI rendering. Errors without guidance map to zero.
func classifyError(err error, verbose bool) (issueID issue.Id, styledMsg string) {
	return issueFor(err), fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
}

// issueFor returns the guidance entry of err. Credentials are checked before
// upload failures because a PublishError wraps the registry's cause.
func issueFor(err error) issue.Id {
	switch {
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, config.ErrInvalidLoadOptions):
		return issue.ConfigLoadFailedId
	case errors.Is(err, dag.ErrCyclicDependency):
		return issue.DependencyCycleId
	case errors.Is(err, history.ErrDetachedHead):
		return issue.DetachedHeadId
	case errors.Is(err, history.ErrDirtyWorktree):
		return issue.DirtyWorktreeId
	case errors.Is(err, plan.ErrExcludedDependency):
		return issue.ExcludedDependencyId
	case errors.Is(err, workspace.ErrConfiguration):
		return issue.WorkspaceInvalidId
	case errors.Is(err, registry.ErrUnauthorized):
		return issue.UnauthorizedId
	case errors.Is(err, publish.ErrManifestWrite):
		return issue.ManifestWriteFailedId
	case errors.Is(err, publish.ErrChangelogWrite):
		return issue.ChangelogWriteFailedId
	case errors.Is(err, publish.ErrRequirementMismatch):
		return issue.RequirementMismatchId
	case errors.Is(err, publish.ErrVisibilityTimeout):
		return issue.VisibilityTimeoutId
	case errors.Is(err, publish.ErrPublish):
		return issue.PublishFailedId
	case errors.Is(err, publish.ErrSkippedDueToDependencyFailure):
		return issue.DependencySkippedId
	case errors.Is(err, publish.ErrAborted):
		return issue.RunAbortedId
	}

	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.Operation == "load configuration" || ae.Operation == "validate configuration") {
		return issue.ConfigLoadFailedId
	}
	return 0
}

// reportIssues returns the distinct guidance entries of the failed and
// skipped packages, in report order.
func reportIssues(report *publish.Report) []issue.Id {
	var ids []issue.Id
	seen := map[issue.Id]bool{}
	for _, o := range report.Outcomes {
		if o.Err == nil {
			continue
		}
		id := issueFor(o.Err)
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
