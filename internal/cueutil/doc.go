// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against an embedded schema.
//
// Decoding follows three steps: compile the schema, unify the user document
// with a root definition of the schema, then validate and decode the result.
// Errors carry the file name and the JSON-style path of the offending field:
//
//	res, err := cueutil.Decode[map[string]any](schema, data, "#Config",
//	    cueutil.WithFilename("smart-release.cue"),
//	    cueutil.WithConcrete(false),
//	)
package cueutil
