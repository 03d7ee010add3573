// Command osmcore runs the OSM element store and spatial materializer: a
// single binary with serve, materialize, and sweep-changesets subcommands.
package main

import (
	"fmt"
	"os"

	"osmcore.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
