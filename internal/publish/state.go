// SPDX-License-Identifier: MPL-2.0

// Package publish executes a release plan wave by wave: it rewrites each
// package's manifest and changelog, uploads it to the registry with retries
// and waits until the registry index shows the new version before any
// dependent is released.
package publish

import (
	"fmt"
)

const (
	// Pending packages have not started.
	Pending State = iota
	// Rewriting packages are having their manifest and changelog updated.
	Rewriting
	// Uploading packages are being submitted to the registry.
	Uploading
	// AwaitingVisibility packages were uploaded and are polled for in the index.
	AwaitingVisibility
	// Published packages are released and visible.
	Published
	// Failed packages hit an error; see Outcome.Err.
	Failed
	// Skipped packages were never started, because a dependency failed, the
	// run was aborted or it was cancelled.
	Skipped
)

// State is the execution state of one package.
type State int

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	Pending:            {Rewriting, Skipped},
	Rewriting:          {Uploading, Published, Failed, Skipped},
	Uploading:          {AwaitingVisibility, Failed},
	AwaitingVisibility: {Published, Failed},
}

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Rewriting:
		return "rewriting"
	case Uploading:
		return "uploading"
	case AwaitingVisibility:
		return "awaiting-visibility"
	case Published:
		return "published"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Published || s == Failed || s == Skipped
}

// CanTransition reports whether the state machine allows moving to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
