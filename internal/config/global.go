// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to override the user config directory,
// because os.UserHomeDir() does not honor HOME on every platform.
var configDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets a custom user config directory for tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
