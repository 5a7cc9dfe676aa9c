// linearstage is a command-line tool for controlling Zaber LST linear
// stages over their ASCII protocol, with a built-in device simulator for
// running without hardware.
package main

import (
	"os"

	"github.com/caliblab/linearstage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
