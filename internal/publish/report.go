// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"smart-release/internal/plan"
)

type (
	// Outcome is the execution record of one package. Each outcome is owned
	// by the worker releasing its package until the run returns.
	Outcome struct {
		Package  string
		Wave     int
		From     *semver.Version
		To       *semver.Version
		State    State
		Attempts int
		// Uploaded is set once the registry accepted the upload, including
		// when the package later fails with a VisibilityTimeoutError.
		Uploaded bool
		Tag      string
		TagErr   error
		Err      error
		// Diffs are the file rewrites of the package, in write order.
		Diffs []FileDiff
		// written lists the files replaced on disk.
		written []string
	}

	// Report is the result of a run, in plan order.
	Report struct {
		RunID    string
		DryRun   bool
		Outcomes []*Outcome
		byName   map[string]*Outcome
	}

	// reportDoc is the export format of a Report.
	reportDoc struct {
		Run      string       `json:"run,omitempty" yaml:"run,omitempty"`
		DryRun   bool         `json:"dry_run" yaml:"dry_run"`
		Packages []outcomeDoc `json:"packages" yaml:"packages"`
	}

	outcomeDoc struct {
		Name     string `json:"name" yaml:"name"`
		Wave     int    `json:"wave" yaml:"wave"`
		From     string `json:"from" yaml:"from"`
		To       string `json:"to" yaml:"to"`
		State    string `json:"state" yaml:"state"`
		Attempts int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
		Uploaded bool   `json:"uploaded" yaml:"uploaded"`
		Tag      string `json:"tag,omitempty" yaml:"tag,omitempty"`
		Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	}
)

func newReport(p *plan.Plan, dryRun bool) *Report {
	r := &Report{DryRun: dryRun, byName: map[string]*Outcome{}}
	for wi, wave := range p.Waves {
		for _, it := range wave {
			o := &Outcome{Package: it.Name, Wave: wi, From: it.Current, To: it.Next}
			r.Outcomes = append(r.Outcomes, o)
			r.byName[it.Name] = o
		}
	}
	return r
}

// Outcome returns the record of the named package, or nil.
func (r *Report) Outcome(name string) *Outcome {
	return r.byName[name]
}

// Count returns the number of packages in state s.
func (r *Report) Count(s State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// OK reports whether no package failed or was skipped.
func (r *Report) OK() bool {
	return r.Count(Failed) == 0 && r.Count(Skipped) == 0
}

// WriteYAML exports the report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.doc()); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// WriteJSON exports the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.doc())
}

func (r *Report) doc() reportDoc {
	d := reportDoc{Run: r.RunID, DryRun: r.DryRun, Packages: []outcomeDoc{}}
	for _, o := range r.Outcomes {
		od := outcomeDoc{
			Name:     o.Package,
			Wave:     o.Wave,
			From:     o.From.String(),
			To:       o.To.String(),
			State:    o.State.String(),
			Attempts: o.Attempts,
			Uploaded: o.Uploaded,
			Tag:      o.Tag,
		}
		if o.Err != nil {
			od.Error = o.Err.Error()
		}
		d.Packages = append(d.Packages, od)
	}
	return d
}

// transition moves the outcome to next. An impossible transition is a bug in
// the executor.
func (o *Outcome) transition(next State) {
	if !o.State.CanTransition(next) {
		panic(fmt.Sprintf("publish: %s cannot move from %s to %s", o.Package, o.State, next))
	}
	o.State = next
}

func (o *Outcome) fail(err error) {
	o.transition(Failed)
	o.Err = err
}

func (o *Outcome) skip(reason error, dependency string) {
	o.transition(Skipped)
	o.Err = &SkippedError{Package: o.Package, Dependency: dependency, Err: reason}
}
