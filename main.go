// SPDX-License-Identifier: MPL-2.0

package main

import cmd "smart-release/cmd/smart-release"

func main() {
	cmd.Execute()
}
