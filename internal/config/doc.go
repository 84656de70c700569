// SPDX-License-Identifier: MPL-2.0

// Package config loads release settings using Viper with CUE as the file format.
//
// Settings are layered: built-in defaults, the user file
// (~/.config/smart-release/config.cue or the platform equivalent), the
// workspace file (<workspace>/smart-release.cue), then SMART_RELEASE_*
// environment variables. A --config path replaces both files.
//
// Files are validated against an embedded CUE schema (config_schema.cue) before
// they are merged, so a typo in a field name is reported with its path.
package config
