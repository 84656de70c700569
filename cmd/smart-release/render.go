// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"smart-release/internal/bump"
	"smart-release/internal/plan"
	"smart-release/internal/publish"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtitleStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

// planTable renders one row per planned package, in publish order.
func planTable(p *plan.Plan) string {
	t := newTable("WAVE", "PACKAGE", "CURRENT", "NEXT", "REASON")
	for wi, wave := range p.Waves {
		for _, it := range wave {
			t.Row(strconv.Itoa(wi+1), it.Name, it.Current.String(), it.Next.String(), reasonText(it.Decision))
		}
	}
	return t.Render()
}

func reasonText(d *bump.Decision) string {
	switch d.Reason {
	case bump.ReasonCommits:
		return fmt.Sprintf("%d commit(s)", len(d.Commits))
	case bump.ReasonPropagation:
		deps := make([]string, 0, len(d.Updates))
		for _, u := range d.Updates {
			deps = append(deps, u.Dependency.Name)
		}
		return "dependency " + strings.Join(deps, ", ")
	case bump.ReasonUnpublished:
		return "resume, not in the registry"
	default:
		return string(d.Reason)
	}
}

// reportTable renders the status of every package of a run.
func reportTable(r *publish.Report) string {
	t := newTable("PACKAGE", "FROM", "TO", "STATUS", "ATTEMPTS", "TAG", "ERROR")
	for _, o := range r.Outcomes {
		attempts := ""
		if o.Attempts > 0 {
			attempts = strconv.Itoa(o.Attempts)
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		} else if o.TagErr != nil {
			errText = "tag: " + o.TagErr.Error()
		}
		t.Row(o.Package, o.From.String(), o.To.String(), stateText(o.State, r.DryRun), attempts, o.Tag, errText)
	}
	return t.Render()
}

func stateText(s publish.State, dryRun bool) string {
	switch s {
	case publish.Published:
		return SuccessStyle.Render(s.String())
	case publish.Failed:
		return ErrorStyle.Render(s.String())
	case publish.Skipped:
		return WarningStyle.Render(s.String())
	case publish.Pending:
		if dryRun {
			return SubtitleStyle.Render("planned")
		}
	}
	return s.String()
}

// summary returns the one-line tally of a run.
func summary(r *publish.Report) string {
	if r.DryRun {
		return WarningStyle.Render(fmt.Sprintf("Dry run: %d package(s) planned, nothing written. Pass --execute to release.", len(r.Outcomes)))
	}
	line := fmt.Sprintf("%d published, %d failed, %d skipped", r.Count(publish.Published), r.Count(publish.Failed), r.Count(publish.Skipped))
	if r.OK() {
		return SuccessStyle.Render(line)
	}
	return ErrorStyle.Render(line)
}

// writeDiffs prints the file rewrites a dry run computed.
func writeDiffs(w io.Writer, r *publish.Report) {
	for _, o := range r.Outcomes {
		for _, d := range o.Diffs {
			fmt.Fprintf(w, "%s %s\n%s\n", TitleStyle.Render(o.Package), CmdStyle.Render(d.Path), d.Diff)
		}
	}
}
