// The main package for the yargisalzeka executable.
package main

import (
	"github.com/vlikcc/yargisalzekav2/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
