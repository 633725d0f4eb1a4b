// The main package for the secheresse executable.
package main

import (
	"github.com/AlaingToul/mybinder-arrete-secheresse/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
