// The main package for the pagevault executable.
package main

import (
	"os"

	"github.com/pagevault/pagevault/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
