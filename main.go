// The main package for the racepipe executable.
package main

import (
	"github.com/paddockdata/racepipe/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
